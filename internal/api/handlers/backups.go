// Copyright © 2026 the aemstarter authors
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/dfoerderreuther/aemstarter/internal/backup"
	"github.com/dfoerderreuther/aemstarter/internal/project"
)

// BackupHandler handles backup and compaction API requests.
type BackupHandler struct {
	engine *backup.Engine
}

// NewBackupHandler creates a new backup handler.
func NewBackupHandler(engine *backup.Engine) *BackupHandler {
	return &BackupHandler{engine: engine}
}

// List returns all backups, newest first.
func (h *BackupHandler) List(w http.ResponseWriter, r *http.Request) {
	records, err := h.engine.List()
	if err != nil {
		WriteError(w, http.StatusInternalServerError, ErrBackupError, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"backups": records})
}

// Create runs compaction and writes a new archive.
func (h *BackupHandler) Create(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name     string `json:"name"`
		Compress bool   `json:"compress"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, err.Error())
		return
	}
	if body.Name == "" {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "name is required")
		return
	}

	rec, err := h.engine.Backup(r.Context(), body.Name, body.Compress)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, backup.ErrBackupInProgress) {
			status = http.StatusConflict
		}
		WriteError(w, status, ErrBackupError, err.Error())
		return
	}
	WriteJSON(w, http.StatusCreated, rec)
}

// Restore extracts a named archive over the project folder. The caller is
// expected to have stopped the stack first.
func (h *BackupHandler) Restore(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if err := h.engine.Restore(r.Context(), name); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, backup.ErrNotFound) {
			status = http.StatusNotFound
		}
		WriteError(w, status, ErrBackupError, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"restored": name})
}

// Delete removes a named archive.
func (h *BackupHandler) Delete(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if err := h.engine.Delete(name); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, backup.ErrNotFound) {
			status = http.StatusNotFound
		}
		WriteError(w, status, ErrBackupError, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"deleted": name})
}

// Compact runs an offline compaction pass for one app-server instance.
func (h *BackupHandler) Compact(w http.ResponseWriter, r *http.Request) {
	typ := project.InstanceType(mux.Vars(r)["type"])
	if !typ.Valid() || typ == project.Dispatcher {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "compaction targets author or publish")
		return
	}
	if err := h.engine.Compact(r.Context(), typ); err != nil {
		WriteError(w, http.StatusInternalServerError, ErrBackupError, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"compacted": typ})
}
