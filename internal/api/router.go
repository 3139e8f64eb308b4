// Copyright © 2026 the aemstarter authors
// SPDX-License-Identifier: Apache-2.0

// Package api exposes the orchestrator over HTTP: REST for control
// operations, WebSocket for event and terminal streams.
package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/dfoerderreuther/aemstarter/internal/api/handlers"
	"github.com/dfoerderreuther/aemstarter/internal/api/middleware"
	"github.com/dfoerderreuther/aemstarter/internal/backup"
	"github.com/dfoerderreuther/aemstarter/internal/events"
	"github.com/dfoerderreuther/aemstarter/internal/instance"
	"github.com/dfoerderreuther/aemstarter/internal/orchestrate"
	"github.com/dfoerderreuther/aemstarter/internal/project"
	"github.com/dfoerderreuther/aemstarter/internal/proxy"
	"github.com/dfoerderreuther/aemstarter/internal/terminal"
)

// ServerConfig holds configuration for the API server.
type ServerConfig struct {
	Host    string
	Port    int
	TLSCert string // Path to TLS certificate file
	TLSKey  string // Path to TLS private key file
}

// Dependencies holds all dependencies for API handlers.
type Dependencies struct {
	Project     *project.Project
	Registry    *instance.Registry
	Coordinator *orchestrate.Coordinator
	Tasks       *orchestrate.TaskRunner
	Backups     *backup.Engine
	Terminals   *terminal.Multiplexer
	FrontProxy  *proxy.FrontProxy // nil when TLS fronting is disabled
	EventBus    events.EventBus
}

// NewRouter creates a new API router.
func NewRouter(deps Dependencies) *mux.Router {
	r := mux.NewRouter()

	r.Use(middleware.Logging)
	r.Use(middleware.Recovery)

	api := r.PathPrefix("/api/v1").Subrouter()

	// Instance handlers
	instanceHandler := handlers.NewInstanceHandler(deps.Project, deps.Registry)
	api.HandleFunc("/instances", instanceHandler.List).Methods("GET")
	api.HandleFunc("/instances/killall", instanceHandler.KillAll).Methods("POST")
	api.HandleFunc("/instances/{type}", instanceHandler.Get).Methods("GET")
	api.HandleFunc("/instances/{type}/start", instanceHandler.Start).Methods("POST")
	api.HandleFunc("/instances/{type}/stop", instanceHandler.Stop).Methods("POST")
	api.HandleFunc("/instances/{type}/health", instanceHandler.Health).Methods("GET")
	api.HandleFunc("/instances/{type}/logs", instanceHandler.GetLogSelection).Methods("GET")
	api.HandleFunc("/instances/{type}/logs", instanceHandler.SetLogSelection).Methods("PUT")

	// Stack orchestration handlers
	stackHandler := handlers.NewStackHandler(deps.Coordinator, deps.Tasks)
	api.HandleFunc("/stack/start", stackHandler.Start).Methods("POST")
	api.HandleFunc("/stack/stop", stackHandler.Stop).Methods("POST")
	api.HandleFunc("/stack/await", stackHandler.Await).Methods("GET")
	api.HandleFunc("/stack/tasks", stackHandler.Tasks).Methods("GET")
	api.HandleFunc("/stack/tasks/{name}/run", stackHandler.RunTask).Methods("POST")

	// Backup handlers
	backupHandler := handlers.NewBackupHandler(deps.Backups)
	api.HandleFunc("/backups", backupHandler.List).Methods("GET")
	api.HandleFunc("/backups", backupHandler.Create).Methods("POST")
	api.HandleFunc("/backups/{name}/restore", backupHandler.Restore).Methods("POST")
	api.HandleFunc("/backups/{name}", backupHandler.Delete).Methods("DELETE")
	api.HandleFunc("/compact/{type}", backupHandler.Compact).Methods("POST")

	// Terminal handlers
	terminalHandler := handlers.NewTerminalHandler(deps.Terminals, deps.EventBus)
	api.HandleFunc("/terminals", terminalHandler.List).Methods("GET")
	api.HandleFunc("/terminals", terminalHandler.Create).Methods("POST")
	api.HandleFunc("/terminals/clear", terminalHandler.ClearAll).Methods("POST")
	api.HandleFunc("/terminals/{id}", terminalHandler.Kill).Methods("DELETE")
	api.HandleFunc("/terminals/{id}/ws", terminalHandler.WebSocket).Methods("GET")

	// Event handlers
	eventHandler := handlers.NewEventHandler(deps.EventBus)
	api.HandleFunc("/events", eventHandler.History).Methods("GET")
	api.HandleFunc("/events/ws", eventHandler.WebSocket).Methods("GET")

	// Front proxy handlers
	if deps.FrontProxy != nil {
		proxyHandler := handlers.NewProxyHandler(deps.FrontProxy)
		api.HandleFunc("/proxy", proxyHandler.Status).Methods("GET")
		api.HandleFunc("/proxy/start", proxyHandler.Start).Methods("POST")
		api.HandleFunc("/proxy/stop", proxyHandler.Stop).Methods("POST")
	}

	return r
}

// Server represents the API server.
type Server struct {
	router *mux.Router
	cfg    ServerConfig
	server *http.Server
}

// NewServer creates a new API server.
func NewServer(cfg ServerConfig, deps Dependencies) *Server {
	return &Server{
		router: NewRouter(deps),
		cfg:    cfg,
	}
}

// Router returns the underlying router.
func (s *Server) Router() *mux.Router {
	return s.router
}

// ListenAndServe starts the server. With tls_cert and tls_key configured it
// serves HTTPS.
func (s *Server) ListenAndServe() error {
	addr := s.cfg.Host + ":" + strconv.Itoa(s.cfg.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.router,
	}

	tlsEnabled, err := CheckTLSConfig(s.cfg.TLSCert, s.cfg.TLSKey)
	if err != nil {
		return fmt.Errorf("TLS configuration error: %w", err)
	}

	if tlsEnabled {
		log.Printf("API server listening on https://%s (TLS enabled)", addr)
		return s.server.ListenAndServeTLS(expandPath(s.cfg.TLSCert), expandPath(s.cfg.TLSKey))
	}

	log.Printf("API server listening on http://%s", addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	log.Println("Shutting down API server...")

	shutdownCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		shutdownCtx, cancel = context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
	}

	return s.server.Shutdown(shutdownCtx)
}
