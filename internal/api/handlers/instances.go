// Copyright © 2026 the aemstarter authors
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/dfoerderreuther/aemstarter/internal/instance"
	"github.com/dfoerderreuther/aemstarter/internal/project"
)

// InstanceHandler handles per-instance API requests.
type InstanceHandler struct {
	proj *project.Project
	reg  *instance.Registry
}

// NewInstanceHandler creates a new instance handler.
func NewInstanceHandler(proj *project.Project, reg *instance.Registry) *InstanceHandler {
	return &InstanceHandler{proj: proj, reg: reg}
}

// instanceType resolves the {type} path variable.
func (h *InstanceHandler) instanceType(w http.ResponseWriter, r *http.Request) (project.InstanceType, bool) {
	typ := project.InstanceType(mux.Vars(r)["type"])
	if !typ.Valid() {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "unknown instance type: "+string(typ))
		return "", false
	}
	return typ, true
}

// List returns the status of all instances.
func (h *InstanceHandler) List(w http.ResponseWriter, r *http.Request) {
	statuses := make([]instance.Status, 0, 3)
	for _, typ := range project.AllTypes() {
		statuses = append(statuses, h.reg.Supervisor(h.proj, typ).Status())
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"instances": statuses})
}

// Get returns one instance's status.
func (h *InstanceHandler) Get(w http.ResponseWriter, r *http.Request) {
	typ, ok := h.instanceType(w, r)
	if !ok {
		return
	}
	WriteJSON(w, http.StatusOK, h.reg.Supervisor(h.proj, typ).Status())
}

// Start starts one instance. ?debug=1 selects remote-debug mode.
func (h *InstanceHandler) Start(w http.ResponseWriter, r *http.Request) {
	typ, ok := h.instanceType(w, r)
	if !ok {
		return
	}

	mode := instance.ModeNormal
	if r.URL.Query().Get("debug") == "1" {
		mode = instance.ModeDebug
	}

	if err := h.reg.Supervisor(h.proj, typ).Start(r.Context(), mode); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, instance.ErrAlreadyStarting) {
			status = http.StatusConflict
		}
		WriteError(w, status, ErrInstanceError, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, h.reg.Supervisor(h.proj, typ).Status())
}

// Stop stops one instance. Best-effort; the result carries partial failures.
func (h *InstanceHandler) Stop(w http.ResponseWriter, r *http.Request) {
	typ, ok := h.instanceType(w, r)
	if !ok {
		return
	}
	res := h.reg.Supervisor(h.proj, typ).Stop(r.Context())
	WriteJSON(w, http.StatusOK, res)
}

// KillAll sweeps the whole machine for launcher processes.
func (h *InstanceHandler) KillAll(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.reg.KillAll(r.Context()))
}

// Health returns the latest health status; ?probe=1 forces a fresh check.
func (h *InstanceHandler) Health(w http.ResponseWriter, r *http.Request) {
	typ, ok := h.instanceType(w, r)
	if !ok {
		return
	}
	checker := h.reg.Supervisor(h.proj, typ).Health()
	if checker == nil {
		WriteError(w, http.StatusNotFound, ErrNotFound, "instance has no health checker")
		return
	}
	if r.URL.Query().Get("probe") == "1" {
		WriteJSON(w, http.StatusOK, checker.CheckHealth(r.Context()))
		return
	}
	WriteJSON(w, http.StatusOK, checker.Latest())
}

// GetLogSelection returns the currently tailed files of one instance.
func (h *InstanceHandler) GetLogSelection(w http.ResponseWriter, r *http.Request) {
	typ, ok := h.instanceType(w, r)
	if !ok {
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"files": h.reg.Supervisor(h.proj, typ).Streamer().Selection(),
	})
}

// SetLogSelection replaces the tailed file set of one instance.
func (h *InstanceHandler) SetLogSelection(w http.ResponseWriter, r *http.Request) {
	typ, ok := h.instanceType(w, r)
	if !ok {
		return
	}

	var body struct {
		Files []string `json:"files"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, err.Error())
		return
	}

	streamer := h.reg.Supervisor(h.proj, typ).Streamer()
	streamer.SetSelection(body.Files)
	WriteJSON(w, http.StatusOK, map[string]interface{}{"files": streamer.Selection()})
}
