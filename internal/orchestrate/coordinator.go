// Copyright © 2026 the aemstarter authors
// SPDX-License-Identifier: Apache-2.0

// Package orchestrate sequences whole-stack operations across the author,
// publish and dispatcher instances and the TLS front proxy.
package orchestrate

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dfoerderreuther/aemstarter/internal/events"
	"github.com/dfoerderreuther/aemstarter/internal/instance"
	"github.com/dfoerderreuther/aemstarter/internal/project"
)

const (
	// readyPollInterval paces cross-instance readiness polling.
	readyPollInterval = 2 * time.Second

	// readyBound caps the publish-readiness and awaitAllRunning waits.
	readyBound = 10 * time.Minute
)

// Controller is the per-instance control surface the coordinator drives.
// *instance.Supervisor satisfies it; tests inject fakes.
type Controller interface {
	Start(ctx context.Context, mode instance.StartMode) error
	Stop(ctx context.Context) instance.StopResult
	IsRunning(ctx context.Context) bool
}

// ProxyController is the front-proxy control surface.
type ProxyController interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Running() bool
}

// Coordinator owns the stack-level start/stop sequencing: author and publish
// start concurrently, the dispatcher (and proxy) strictly after the
// publish-readiness wait.
type Coordinator struct {
	proj     *project.Project
	bus      events.EventBus
	controls map[project.InstanceType]Controller
	proxy    ProxyController // nil when TLS is disabled

	// probePublish reports whether the publish health endpoint answers
	// successfully. Swappable for tests.
	probePublish func(ctx context.Context) bool
}

// NewCoordinator builds a coordinator over the registry's supervisors for
// proj. The proxy may be nil.
func NewCoordinator(proj *project.Project, reg *instance.Registry, prx ProxyController, bus events.EventBus) *Coordinator {
	controls := make(map[project.InstanceType]Controller, 3)
	for _, typ := range project.AllTypes() {
		controls[typ] = reg.Supervisor(proj, typ)
	}
	c := &Coordinator{
		proj:     proj,
		bus:      bus,
		controls: controls,
		proxy:    prx,
	}
	c.probePublish = func(ctx context.Context) bool {
		s, ok := reg.Lookup(proj.ID, project.Publish)
		if !ok || s.Health() == nil {
			return false
		}
		status := s.Health().CheckHealth(ctx)
		return status.Reachable && status.StatusCode == http.StatusOK
	}
	return c
}

// Start brings the whole stack up.
func (c *Coordinator) Start(ctx context.Context) error {
	return c.startStack(ctx, instance.ModeNormal)
}

// StartDebug brings the stack up with the app servers in remote-debug mode.
func (c *Coordinator) StartDebug(ctx context.Context) error {
	return c.startStack(ctx, instance.ModeDebug)
}

func (c *Coordinator) startStack(ctx context.Context, mode instance.StartMode) error {
	log.Printf("Stack %s: starting author and publish", c.proj.ID)

	// Author and publish start concurrently and unordered
	g, gctx := errgroup.WithContext(ctx)
	for _, typ := range []project.InstanceType{project.Author, project.Publish} {
		typ := typ
		ctrl := c.controls[typ]
		g.Go(func() error {
			if err := ctrl.Start(gctx, mode); err != nil {
				return fmt.Errorf("starting %s: %w", typ, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	// Best-effort wait for publish to answer its health endpoint before the
	// dispatcher warms its cache against it. Exceeding the bound is logged
	// and recorded, never fatal.
	publishReady := c.awaitPublishReady(ctx)
	if !publishReady {
		log.Printf("Stack %s: publish not confirmed ready within %s, proceeding", c.proj.ID, readyBound)
	}

	log.Printf("Stack %s: starting dispatcher", c.proj.ID)
	g2, gctx2 := errgroup.WithContext(ctx)
	g2.Go(func() error {
		if err := c.controls[project.Dispatcher].Start(gctx2, instance.ModeNormal); err != nil {
			return fmt.Errorf("starting dispatcher: %w", err)
		}
		return nil
	})
	if c.proxy != nil {
		g2.Go(func() error {
			if err := c.proxy.Start(gctx2); err != nil {
				return fmt.Errorf("starting front proxy: %w", err)
			}
			return nil
		})
	}
	if err := g2.Wait(); err != nil {
		return err
	}

	c.publish(events.EventStackStarted, map[string]interface{}{
		"debug":        mode == instance.ModeDebug,
		"publishReady": publishReady,
	})
	return nil
}

// Stop stops whichever components currently report running, concurrently.
// Best-effort: the aggregated results carry partial failures.
func (c *Coordinator) Stop(ctx context.Context) []instance.StopResult {
	var (
		mu      sync.Mutex
		results []instance.StopResult
		wg      sync.WaitGroup
	)

	for _, typ := range project.AllTypes() {
		ctrl := c.controls[typ]
		if !ctrl.IsRunning(ctx) {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := ctrl.Stop(ctx)
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
		}()
	}

	if c.proxy != nil && c.proxy.Running() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.proxy.Stop(ctx); err != nil {
				log.Printf("Stack %s: stopping front proxy: %v", c.proj.ID, err)
			}
		}()
	}

	wg.Wait()
	c.publish(events.EventStackStopped, map[string]interface{}{
		"stopped": len(results),
	})
	return results
}

// AwaitAllRunning polls until author, publish and dispatcher are all
// independently confirmed ready (process plus HTTP probe). Returns false on
// timeout; setup flows use it to refuse running against a half-up stack.
func (c *Coordinator) AwaitAllRunning(ctx context.Context) bool {
	deadline := time.Now().Add(readyBound)
	for {
		if c.allReady(ctx) {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(readyPollInterval):
		}
	}
}

func (c *Coordinator) allReady(ctx context.Context) bool {
	for _, typ := range project.AllTypes() {
		if !c.controls[typ].IsRunning(ctx) {
			return false
		}
		if !probeHTTP(ctx, c.proj.Settings(typ).Port) {
			return false
		}
	}
	return true
}

// awaitPublishReady polls the publish health endpoint, bounded by readyBound.
func (c *Coordinator) awaitPublishReady(ctx context.Context) bool {
	deadline := time.Now().Add(readyBound)
	for {
		if c.probePublish(ctx) {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(readyPollInterval):
		}
	}
}

// probeHTTP reports whether port answers HTTP at all. Any response counts;
// readiness here means "listening and speaking HTTP", not "healthy".
func probeHTTP(ctx context.Context, port int) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("http://127.0.0.1:%d/", port), nil)
	if err != nil {
		return false
	}
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}

func (c *Coordinator) publish(typ string, payload map[string]interface{}) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(context.Background(), events.Event{
		Type:    typ,
		Project: c.proj.ID,
		Payload: payload,
	})
}
