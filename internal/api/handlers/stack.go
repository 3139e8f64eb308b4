// Copyright © 2026 the aemstarter authors
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/dfoerderreuther/aemstarter/internal/orchestrate"
)

// StackHandler handles whole-stack orchestration requests.
type StackHandler struct {
	coord *orchestrate.Coordinator
	tasks *orchestrate.TaskRunner
}

// NewStackHandler creates a new stack handler.
func NewStackHandler(coord *orchestrate.Coordinator, tasks *orchestrate.TaskRunner) *StackHandler {
	return &StackHandler{coord: coord, tasks: tasks}
}

// Start brings the whole stack up. ?debug=1 starts the app servers in
// remote-debug mode.
func (h *StackHandler) Start(w http.ResponseWriter, r *http.Request) {
	var err error
	if r.URL.Query().Get("debug") == "1" {
		err = h.coord.StartDebug(r.Context())
	} else {
		err = h.coord.Start(r.Context())
	}
	if err != nil {
		WriteError(w, http.StatusInternalServerError, ErrInstanceError, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"started": true})
}

// Stop stops every running component concurrently.
func (h *StackHandler) Stop(w http.ResponseWriter, r *http.Request) {
	results := h.coord.Stop(r.Context())
	WriteJSON(w, http.StatusOK, map[string]interface{}{"results": results})
}

// Await blocks until the whole stack is confirmed ready or the bound elapses.
func (h *StackHandler) Await(w http.ResponseWriter, r *http.Request) {
	ready := h.coord.AwaitAllRunning(r.Context())
	WriteJSON(w, http.StatusOK, map[string]interface{}{"ready": ready})
}

// Tasks lists the available automation tasks.
func (h *StackHandler) Tasks(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]interface{}{"tasks": h.tasks.Names()})
}

// RunTask executes a named automation task.
func (h *StackHandler) RunTask(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if _, ok := h.tasks.Lookup(name); !ok {
		WriteError(w, http.StatusNotFound, ErrNotFound, "unknown task: "+name)
		return
	}
	if err := h.tasks.Run(r.Context(), name); err != nil {
		WriteError(w, http.StatusInternalServerError, ErrInternalError, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"task": name, "done": true})
}
