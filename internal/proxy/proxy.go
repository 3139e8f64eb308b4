// Copyright © 2026 the aemstarter authors
// SPDX-License-Identifier: Apache-2.0

// Package proxy implements the TLS front proxy in front of the dispatcher.
package proxy

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/tailscale/tscert"

	"github.com/dfoerderreuther/aemstarter/internal/events"
	"github.com/dfoerderreuther/aemstarter/internal/project"
)

// Config carries the front proxy's settings.
type Config struct {
	Port         int  // TLS listen port
	TLSTailscale bool // Serve certificates from the Tailscale daemon instead of the self-signed pair
}

// FrontProxy terminates TLS on a local port and forwards everything to the
// dispatcher's HTTP port. The upstream sees a forwarded-protocol marker so
// link rewriting can emit https URLs.
type FrontProxy struct {
	proj *project.Project
	bus  events.EventBus
	cfg  Config

	mu      sync.Mutex
	server  *http.Server
	running bool
}

// NewFrontProxy creates a proxy; it does not listen until Start.
func NewFrontProxy(proj *project.Project, bus events.EventBus, cfg Config) *FrontProxy {
	if cfg.Port == 0 {
		cfg.Port = 443
	}
	return &FrontProxy{proj: proj, bus: bus, cfg: cfg}
}

// Running reports whether the listener is up.
func (p *FrontProxy) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Port returns the configured listen port.
func (p *FrontProxy) Port() int { return p.cfg.Port }

// Start opens the TLS listener. Generates a self-signed certificate under
// the project's cert directory on first use unless Tailscale certificates
// are configured. Idempotent.
func (p *FrontProxy) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return nil
	}

	upstream, err := url.Parse(fmt.Sprintf("http://127.0.0.1:%d", p.proj.Settings(project.Dispatcher).Port))
	if err != nil {
		return fmt.Errorf("upstream url: %w", err)
	}

	rp := httputil.NewSingleHostReverseProxy(upstream)
	rp.FlushInterval = -1
	originalDirector := rp.Director
	rp.Director = func(req *http.Request) {
		originalDirector(req)
		req.Host = upstream.Host
		req.Header.Set("X-Forwarded-Proto", "https")
	}
	// A proxy-level error answers the caller; it never takes the listener down.
	rp.ErrorHandler = func(w http.ResponseWriter, req *http.Request, err error) {
		log.Printf("Front proxy %s: %s: %v", p.proj.ID, req.URL.Path, err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}

	tlsConfig := &tls.Config{}
	if p.cfg.TLSTailscale {
		tlsConfig.GetCertificate = tscert.GetCertificate
	} else {
		cert, err := ensureSelfSignedCert(p.proj.CertDir())
		if err != nil {
			return fmt.Errorf("preparing certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isWebSocket(r) {
			tunnelWebSocket(w, r, upstream.Host)
			return
		}
		rp.ServeHTTP(w, r)
	})

	server := &http.Server{
		Addr:      fmt.Sprintf(":%d", p.cfg.Port),
		Handler:   handler,
		TLSConfig: tlsConfig,
	}

	ln, err := net.Listen("tcp", server.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", server.Addr, err)
	}

	p.server = server
	p.running = true

	go func() {
		log.Printf("Front proxy %s: listening on :%d -> %s", p.proj.ID, p.cfg.Port, upstream.Host)
		err := server.ServeTLS(ln, "", "")
		if err != nil && err != http.ErrServerClosed {
			log.Printf("Front proxy %s: %v", p.proj.ID, err)
		}
		// An intentional Stop already cleared p.server and publishes the
		// status itself; only an unexpected exit reports from here.
		p.mu.Lock()
		intentional := p.server == nil
		p.server = nil
		p.running = false
		p.mu.Unlock()
		if !intentional {
			p.publishStatus(false)
		}
	}()

	p.publishStatusLocked(true)
	return nil
}

// Stop closes the listener. Idempotent.
func (p *FrontProxy) Stop(ctx context.Context) error {
	p.mu.Lock()
	server := p.server
	p.server = nil
	p.running = false
	p.mu.Unlock()

	if server == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	err := server.Shutdown(shutdownCtx)
	p.publishStatus(false)
	return err
}

func (p *FrontProxy) publishStatus(running bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.publishStatusLocked(running)
}

func (p *FrontProxy) publishStatusLocked(running bool) {
	if p.bus == nil {
		return
	}
	p.bus.Publish(context.Background(), events.Event{
		Type:    events.EventProxyStatus,
		Project: p.proj.ID,
		Payload: map[string]interface{}{
			"running": running,
			"port":    p.cfg.Port,
		},
	})
}

// isWebSocket reports whether the request asks for a websocket upgrade.
func isWebSocket(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

// tunnelWebSocket hijacks the client connection and splices it to the
// upstream so upgrade semantics survive the proxy.
func tunnelWebSocket(w http.ResponseWriter, r *http.Request, upstreamAddr string) {
	dialer := &net.Dialer{Timeout: 10 * time.Second}
	upstreamConn, err := dialer.Dial("tcp", upstreamAddr)
	if err != nil {
		log.Printf("Front proxy websocket: dialing %s: %v", upstreamAddr, err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	hijacker, ok := w.(http.Hijacker)
	if !ok {
		upstreamConn.Close()
		http.Error(w, "websocket hijack not supported", http.StatusInternalServerError)
		return
	}
	clientConn, clientBuf, err := hijacker.Hijack()
	if err != nil {
		upstreamConn.Close()
		log.Printf("Front proxy websocket: hijack: %v", err)
		return
	}

	r.Header.Set("X-Forwarded-Proto", "https")
	if err := r.Write(upstreamConn); err != nil {
		clientConn.Close()
		upstreamConn.Close()
		log.Printf("Front proxy websocket: forwarding request: %v", err)
		return
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		io.Copy(clientConn, upstreamConn)
		clientConn.Close()
	}()
	go func() {
		defer wg.Done()
		if clientBuf.Reader.Buffered() > 0 {
			buffered := make([]byte, clientBuf.Reader.Buffered())
			clientBuf.Read(buffered)
			upstreamConn.Write(buffered)
		}
		io.Copy(upstreamConn, clientConn)
		upstreamConn.Close()
	}()
	wg.Wait()
}
