// Copyright © 2026 the aemstarter authors
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/dfoerderreuther/aemstarter/internal/events"
	"github.com/dfoerderreuther/aemstarter/internal/terminal"
)

// terminalMessage represents a control message from the terminal frontend.
type terminalMessage struct {
	Type string `json:"type"` // "input" or "resize"
	Data string `json:"data"`
	Rows int    `json:"rows"`
	Cols int    `json:"cols"`
}

// TerminalHandler handles terminal-related API requests.
type TerminalHandler struct {
	mux *terminal.Multiplexer
	bus events.EventBus
}

// NewTerminalHandler creates a new terminal handler.
func NewTerminalHandler(m *terminal.Multiplexer, bus events.EventBus) *TerminalHandler {
	return &TerminalHandler{mux: m, bus: bus}
}

// List returns all live sessions.
func (h *TerminalHandler) List(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]interface{}{"sessions": h.mux.List()})
}

// Create spawns a new pty session.
func (h *TerminalHandler) Create(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Cwd   string `json:"cwd"`
		Shell string `json:"shell"`
	}
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&body)
	}

	info, err := h.mux.Create(terminal.Options{Cwd: body.Cwd, Shell: body.Shell})
	if err != nil {
		WriteError(w, http.StatusInternalServerError, ErrTerminalError, err.Error())
		return
	}
	WriteJSON(w, http.StatusCreated, info)
}

// Kill terminates a session.
func (h *TerminalHandler) Kill(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !h.mux.Kill(id) {
		WriteError(w, http.StatusNotFound, ErrNotFound, "unknown session: "+id)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"killed": id})
}

// ClearAll force-kills every live session.
func (h *TerminalHandler) ClearAll(w http.ResponseWriter, r *http.Request) {
	h.mux.ClearAll()
	WriteJSON(w, http.StatusOK, map[string]interface{}{"cleared": true})
}

// WebSocket attaches a client to one session: pty output flows out via the
// event bus subscription, input and resize messages flow in.
func (h *TerminalHandler) WebSocket(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	outCh := make(chan events.Event, 256)
	done := make(chan struct{})
	defer close(done)

	subID, err := h.bus.SubscribeAsync(events.EventTerminalData, func(_ context.Context, ev events.Event) error {
		if ev.Payload["id"] != id {
			return nil
		}
		select {
		case outCh <- ev:
		case <-done:
		default:
		}
		return nil
	}, 256)
	if err != nil {
		conn.WriteJSON(map[string]string{"error": err.Error()})
		return
	}
	defer h.bus.Unsubscribe(subID)

	exitCh := make(chan struct{})
	exitSub, err := h.bus.SubscribeAsync(events.EventTerminalExit, func(_ context.Context, ev events.Event) error {
		if ev.Payload["id"] == id {
			select {
			case exitCh <- struct{}{}:
			default:
			}
		}
		return nil
	}, 1)
	if err == nil {
		defer h.bus.Unsubscribe(exitSub)
	}

	// Reader: frontend input and resize
	disconnect := make(chan struct{})
	go func() {
		defer close(disconnect)
		for {
			var msg terminalMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			switch msg.Type {
			case "input":
				if !h.mux.Write(id, []byte(msg.Data)) {
					log.Printf("Terminal ws: write to unknown session %s", id)
				}
			case "resize":
				h.mux.Resize(id, msg.Cols, msg.Rows)
			}
		}
	}()

	for {
		select {
		case <-disconnect:
			return
		case <-exitCh:
			conn.WriteJSON(map[string]string{"type": "exit"})
			return
		case ev := <-outCh:
			data, _ := ev.Payload["data"].(string)
			if err := conn.WriteJSON(map[string]string{"type": "data", "data": data}); err != nil {
				return
			}
		}
	}
}
