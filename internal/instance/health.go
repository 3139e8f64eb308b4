// Copyright © 2026 the aemstarter authors
// SPDX-License-Identifier: Apache-2.0

package instance

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dfoerderreuther/aemstarter/internal/events"
	"github.com/dfoerderreuther/aemstarter/internal/project"
)

// ScreenshotCapturer renders a URL and writes a screenshot to path. A nil
// capturer disables screenshots.
type ScreenshotCapturer interface {
	Capture(ctx context.Context, url, path string) error
}

// HealthConfig carries the probe settings for one instance.
type HealthConfig struct {
	Interval time.Duration
	Path     string // Login/health path, probed with basic auth
	User     string
	Password string
}

// HealthChecker periodically probes one instance's login path while the
// instance runs. Only the latest result is retained.
type HealthChecker struct {
	proj     *project.Project
	typ      project.InstanceType
	bus      events.EventBus
	cfg      HealthConfig
	capturer ScreenshotCapturer
	client   *http.Client

	mu      sync.Mutex
	stopCh  chan struct{}
	running bool
	latest  HealthStatus
}

// NewHealthChecker creates a checker; it does not probe until Start.
func NewHealthChecker(proj *project.Project, typ project.InstanceType, cfg HealthConfig, bus events.EventBus, capturer ScreenshotCapturer) *HealthChecker {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	return &HealthChecker{
		proj:     proj,
		typ:      typ,
		bus:      bus,
		cfg:      cfg,
		capturer: capturer,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// Latest returns the most recent probe result.
func (h *HealthChecker) Latest() HealthStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.latest
}

// Start begins the probe schedule. Idempotent.
func (h *HealthChecker) Start() {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return
	}
	h.running = true
	h.stopCh = make(chan struct{})
	stop := h.stopCh
	h.mu.Unlock()

	go func() {
		// Probe immediately, then on the interval
		h.CheckHealth(context.Background())
		ticker := time.NewTicker(h.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				h.CheckHealth(context.Background())
			}
		}
	}()
}

// Stop halts the probe schedule. Idempotent.
func (h *HealthChecker) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.running {
		return
	}
	h.running = false
	close(h.stopCh)
	h.stopCh = nil
}

// Running reports whether the schedule is active.
func (h *HealthChecker) Running() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.running
}

// CheckHealth performs one synchronous probe, records the result and returns
// it. Never returns an error: an unreachable instance is a result, not a
// failure. Does not touch the schedule.
func (h *HealthChecker) CheckHealth(ctx context.Context) HealthStatus {
	status := HealthStatus{Timestamp: time.Now()}

	url := h.probeURL()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err == nil {
		if h.cfg.User != "" {
			req.SetBasicAuth(h.cfg.User, h.cfg.Password)
		}
		resp, reqErr := h.client.Do(req)
		if reqErr == nil {
			resp.Body.Close()
			status.Reachable = true
			status.StatusCode = resp.StatusCode
		}
	}

	if status.Reachable && status.StatusCode == http.StatusOK && h.capturer != nil {
		path := h.screenshotPath(status.Timestamp)
		if capErr := h.capturer.Capture(ctx, url, path); capErr != nil {
			log.Printf("Instance %s/%s: screenshot: %v", h.proj.ID, h.typ, capErr)
		} else {
			status.ScreenshotPath = path
		}
	}

	h.mu.Lock()
	if status.Reachable && status.StatusCode == http.StatusOK {
		status.ConsecutiveFailures = 0
	} else {
		status.ConsecutiveFailures = h.latest.ConsecutiveFailures + 1
	}
	h.latest = status
	h.mu.Unlock()

	if h.bus != nil {
		h.bus.Publish(context.Background(), events.Event{
			Type:    events.EventHealthStatus,
			Project: h.proj.ID,
			Payload: map[string]interface{}{
				"instance":   string(h.typ),
				"reachable":  status.Reachable,
				"statusCode": status.StatusCode,
				"failures":   status.ConsecutiveFailures,
			},
		})
	}
	return status
}

func (h *HealthChecker) probeURL() string {
	return fmt.Sprintf("http://127.0.0.1:%d%s", h.proj.Settings(h.typ).Port, h.cfg.Path)
}

// screenshotPath builds the project-scoped, instance-prefixed, timestamped
// target file.
func (h *HealthChecker) screenshotPath(ts time.Time) string {
	dir := h.proj.ScreenshotDir()
	os.MkdirAll(dir, 0o755)
	return filepath.Join(dir, fmt.Sprintf("%s-%s.png", h.typ, ts.Format("20060102-150405")))
}
