// Copyright © 2026 the aemstarter authors
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"net/http"

	"github.com/dfoerderreuther/aemstarter/internal/proxy"
)

// ProxyHandler controls the TLS front proxy.
type ProxyHandler struct {
	proxy *proxy.FrontProxy
}

// NewProxyHandler creates a new proxy handler.
func NewProxyHandler(p *proxy.FrontProxy) *ProxyHandler {
	return &ProxyHandler{proxy: p}
}

// Status reports the listener state.
func (h *ProxyHandler) Status(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"running": h.proxy.Running(),
		"port":    h.proxy.Port(),
	})
}

// Start opens the TLS listener.
func (h *ProxyHandler) Start(w http.ResponseWriter, r *http.Request) {
	if err := h.proxy.Start(r.Context()); err != nil {
		WriteError(w, http.StatusInternalServerError, ErrInternalError, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"running": true})
}

// Stop closes the TLS listener.
func (h *ProxyHandler) Stop(w http.ResponseWriter, r *http.Request) {
	if err := h.proxy.Stop(r.Context()); err != nil {
		WriteError(w, http.StatusInternalServerError, ErrInternalError, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"running": false})
}
