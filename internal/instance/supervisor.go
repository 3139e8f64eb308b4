// Copyright © 2026 the aemstarter authors
// SPDX-License-Identifier: Apache-2.0

package instance

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/dfoerderreuther/aemstarter/internal/events"
	"github.com/dfoerderreuther/aemstarter/internal/project"
)

// Supervisor owns one instance's OS process. It is the single writer for all
// of the instance's mutable state; every control operation for the instance
// must be routed through it.
type Supervisor struct {
	proj    *project.Project
	typ     project.InstanceType
	bus     events.EventBus
	scanner PortScanner

	mu            sync.RWMutex
	state         State
	pid           int
	debug         bool
	cmd           *exec.Cmd
	waitDone      chan struct{}
	stopRequested bool
	startedAt     time.Time
	stoppedAt     time.Time

	streamer    *LogStreamer
	health      *HealthChecker
	healthTimer *time.Timer
}

// NewSupervisor creates a supervisor for one instance of the project. The
// streamer and health checker may be nil (they are for the dispatcher's
// health, for example).
func NewSupervisor(proj *project.Project, typ project.InstanceType, bus events.EventBus, scanner PortScanner, streamer *LogStreamer, health *HealthChecker) *Supervisor {
	if scanner == nil {
		scanner = NewPortScanner()
	}
	return &Supervisor{
		proj:     proj,
		typ:      typ,
		bus:      bus,
		scanner:  scanner,
		state:    StateStopped,
		streamer: streamer,
		health:   health,
	}
}

// Type returns the supervised instance type.
func (s *Supervisor) Type() project.InstanceType { return s.typ }

// Streamer returns the attached log streamer, or nil.
func (s *Supervisor) Streamer() *LogStreamer { return s.streamer }

// Health returns the attached health checker, or nil.
func (s *Supervisor) Health() *HealthChecker { return s.health }

// Port returns the instance's configured port.
func (s *Supervisor) Port() int { return s.proj.Settings(s.typ).Port }

// Status returns a snapshot of the supervisor's state.
func (s *Supervisor) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Status{
		Instance:  s.typ,
		State:     s.state,
		PID:       s.pid,
		Debug:     s.debug,
		StartedAt: s.startedAt,
		StoppedAt: s.stoppedAt,
	}
}

// Start spawns the instance and blocks until its port is confirmed listening
// or the startup bound elapses. The spawned child PID is not trusted; the
// authoritative PID is resolved from the listening-socket owner because the
// launcher may re-exec into the real server process.
func (s *Supervisor) Start(ctx context.Context, mode StartMode) error {
	s.mu.Lock()
	switch s.state {
	case StateStarting:
		s.mu.Unlock()
		return ErrAlreadyStarting
	case StateRunning:
		s.mu.Unlock()
		return nil
	case StateStopping:
		s.mu.Unlock()
		return fmt.Errorf("instance %s is stopping", s.typ)
	}

	spec, err := resolveLauncher(s.proj, s.typ, mode)
	if err != nil {
		s.mu.Unlock()
		return err
	}

	cmd := exec.Command(spec.Path, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = append(os.Environ(), spec.Env...)
	// New process group so the spawned tree can be force-killed as a unit
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("stderr pipe: %w", err)
	}

	log.Printf("Instance %s/%s: starting %s (dir: %s, debug: %v)",
		s.proj.ID, s.typ, spec.Path, spec.Dir, mode == ModeDebug)

	if err := cmd.Start(); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("spawn launcher: %w", err)
	}

	s.cmd = cmd
	s.debug = mode == ModeDebug
	s.stopRequested = false
	s.waitDone = make(chan struct{})
	s.setStateLocked(StateStarting)
	waitDone := s.waitDone
	s.mu.Unlock()

	// Funnel launcher stdio through the instance's line buffer. These readers
	// exit when the pipes close; they must be wired before anything can fail
	// so a subprocess error never goes unobserved.
	if s.streamer != nil {
		go s.streamer.IngestReader("stdout", stdout)
		go s.streamer.IngestReader("stderr", stderr)
	}
	go s.waitForExit(cmd, waitDone)

	// Bounded wait for the port to be confirmed listening. Scheduled rechecks,
	// never a busy spin.
	deadline := time.Now().Add(startupTimeout)
	for !portListening(s.Port()) {
		if s.stopWasRequested() {
			// An external Stop aborted this start; idempotence makes that a
			// clean outcome, not an error.
			return nil
		}
		if time.Now().After(deadline) {
			log.Printf("Instance %s/%s: port %d never confirmed listening, killing spawned tree",
				s.proj.ID, s.typ, s.Port())
			s.killSpawnedTree(cmd, waitDone)
			s.mu.Lock()
			s.cmd = nil
			s.setStateLocked(StateStopped)
			s.mu.Unlock()
			return ErrStartupTimeout
		}
		select {
		case <-ctx.Done():
			s.abortStart(cmd, waitDone)
			return ctx.Err()
		case <-time.After(pidPollInterval):
		}
	}

	// Port listens; resolve the owning PID with bounded retries. A failed
	// lookup degrades to pid 0 (isRunning falls back to fresh scans).
	pid := 0
	for i := 0; i < pidLookupRetries; i++ {
		if p, ok := s.scanner.FindListenerPID(ctx, s.Port()); ok {
			pid = p
			break
		}
		if s.stopWasRequested() {
			return nil
		}
		select {
		case <-ctx.Done():
			s.abortStart(cmd, waitDone)
			return ctx.Err()
		case <-time.After(pidPollInterval):
		}
	}

	s.mu.Lock()
	if s.stopRequested {
		s.mu.Unlock()
		return nil
	}
	s.pid = pid
	s.startedAt = time.Now()
	s.setStateLocked(StateRunning)
	s.publishPIDLocked()

	// First health probe only after the warm-up delay; a server that just
	// opened its port is not ready to render a login page.
	if s.health != nil {
		s.healthTimer = time.AfterFunc(healthWarmup, func() {
			s.mu.RLock()
			running := s.state == StateRunning
			s.mu.RUnlock()
			if running {
				s.health.Start()
			}
		})
	}
	s.mu.Unlock()

	log.Printf("Instance %s/%s: running (listener PID %d)", s.proj.ID, s.typ, pid)
	return nil
}

// Stop terminates the instance. Best-effort: partial failures are collected
// in the result and logged, never returned as an error. Stopping an unknown
// or already-stopped instance succeeds trivially. Log tails are left running
// so shutdown logs stay observable.
func (s *Supervisor) Stop(ctx context.Context) StopResult {
	res := StopResult{Instance: s.typ}

	s.mu.Lock()
	res.WasRunning = s.state == StateRunning
	s.stopRequested = true
	cmd := s.cmd
	waitDone := s.waitDone
	if s.state != StateStopped {
		s.setStateLocked(StateStopping)
	}
	timer := s.healthTimer
	s.healthTimer = nil
	s.mu.Unlock()

	// The warm-up timer and the health schedule must die here or they leak.
	if timer != nil {
		timer.Stop()
	}
	if s.health != nil {
		s.health.Stop()
	}

	// Graceful path: always re-resolve the current listener owner rather than
	// trusting the stored PID, which may be stale or absent (an orphaned
	// server from a previous run still holds the port).
	if pid, ok := s.scanner.FindListenerPID(ctx, s.Port()); ok {
		if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("SIGTERM pid %d: %v", pid, err))
		}
		if waitPIDGone(pid, gracefulStopWait) {
			res.Graceful = true
		} else {
			log.Printf("Instance %s/%s: PID %d survived SIGTERM, escalating", s.proj.ID, s.typ, pid)
			if err := syscall.Kill(pid, syscall.SIGKILL); err != nil {
				res.Errors = append(res.Errors, fmt.Sprintf("SIGKILL pid %d: %v", pid, err))
			}
			res.Forced = true
		}
	}

	// Independently force-terminate the originally spawned process tree with
	// its own bounded wait.
	if cmd != nil && cmd.Process != nil {
		if !s.killSpawnedTree(cmd, waitDone) {
			res.Errors = append(res.Errors, fmt.Sprintf("spawned tree (pgid %d) did not exit within %s", cmd.Process.Pid, spawnedTreeWait))
		}
	}

	s.mu.Lock()
	s.cmd = nil
	s.pid = 0
	s.debug = false
	s.stoppedAt = time.Now()
	s.setStateLocked(StateStopped)
	s.publishPIDLocked()
	s.mu.Unlock()

	for _, e := range res.Errors {
		log.Printf("Instance %s/%s: stop: %s", s.proj.ID, s.typ, e)
	}
	return res
}

// IsRunning prefers a liveness probe against the known PID and falls back to
// a fresh listener-owner scan.
func (s *Supervisor) IsRunning(ctx context.Context) bool {
	s.mu.RLock()
	pid := s.pid
	s.mu.RUnlock()

	if pid > 0 && pidAlive(pid) {
		return true
	}

	if pid, ok := s.scanner.FindListenerPID(ctx, s.Port()); ok {
		s.mu.Lock()
		if s.state == StateRunning {
			s.pid = pid
		}
		s.mu.Unlock()
		return true
	}
	return false
}

// abortStart unwinds a start whose context was cancelled mid-poll. The state
// machine must not stay in Starting or every later Start is refused; the
// spawned tree is killed like on a startup timeout. A concurrent Stop owns
// the unwinding instead, so back off if one was requested.
func (s *Supervisor) abortStart(cmd *exec.Cmd, waitDone chan struct{}) {
	log.Printf("Instance %s/%s: start cancelled, killing spawned tree", s.proj.ID, s.typ)
	s.killSpawnedTree(cmd, waitDone)

	s.mu.Lock()
	if !s.stopRequested && s.state == StateStarting {
		s.cmd = nil
		s.setStateLocked(StateStopped)
	}
	s.mu.Unlock()
}

// killSpawnedTree SIGKILLs the spawned process group and waits for the child
// to be reaped, bounded by spawnedTreeWait. Returns false on timeout.
func (s *Supervisor) killSpawnedTree(cmd *exec.Cmd, waitDone chan struct{}) bool {
	if cmd == nil || cmd.Process == nil {
		return true
	}
	// Negative PID signals the whole group
	syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	if waitDone == nil {
		return true
	}
	select {
	case <-waitDone:
		return true
	case <-time.After(spawnedTreeWait):
		return false
	}
}

// waitForExit reaps the spawned child. A launcher script exiting is normal
// (it may have re-exec'd or daemonized the real server), so the instance is
// only marked stopped if the port has actually gone quiet.
func (s *Supervisor) waitForExit(cmd *exec.Cmd, waitDone chan struct{}) {
	err := cmd.Wait()
	close(waitDone)

	s.mu.Lock()
	requested := s.stopRequested
	state := s.state
	s.mu.Unlock()

	if err != nil && !requested {
		log.Printf("Instance %s/%s: launcher exited: %v", s.proj.ID, s.typ, err)
	}

	if requested || state != StateRunning {
		return
	}
	if portListening(s.Port()) {
		return
	}

	// The server itself is gone.
	s.mu.Lock()
	if s.state == StateRunning && !s.stopRequested {
		s.cmd = nil
		s.pid = 0
		s.stoppedAt = time.Now()
		s.setStateLocked(StateStopped)
		s.publishPIDLocked()
	}
	s.mu.Unlock()

	if s.health != nil {
		s.health.Stop()
	}
}

func (s *Supervisor) stopWasRequested() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stopRequested
}

// setStateLocked transitions the state and publishes the change. Caller holds
// the write lock.
func (s *Supervisor) setStateLocked(state State) {
	if s.state == state {
		return
	}
	s.state = state
	if s.bus == nil {
		return
	}
	s.bus.Publish(context.Background(), events.Event{
		Type:    events.EventInstanceState,
		Project: s.proj.ID,
		Payload: map[string]interface{}{
			"instance": string(s.typ),
			"state":    state.String(),
		},
	})
}

// publishPIDLocked publishes the current PID. Caller holds the write lock.
func (s *Supervisor) publishPIDLocked() {
	if s.bus == nil {
		return
	}
	s.bus.Publish(context.Background(), events.Event{
		Type:    events.EventInstancePID,
		Project: s.proj.ID,
		Payload: map[string]interface{}{
			"instance": string(s.typ),
			"pid":      s.pid,
		},
	})
}

// pidAlive checks process liveness with a signal-0 probe. EPERM counts as
// alive (the process exists but belongs to someone else).
func pidAlive(pid int) bool {
	err := syscall.Kill(pid, 0)
	return err == nil || err == syscall.EPERM
}

// waitPIDGone polls pidAlive until the process disappears or the bound
// elapses. Returns true if the process exited.
func waitPIDGone(pid int, bound time.Duration) bool {
	deadline := time.Now().Add(bound)
	for time.Now().Before(deadline) {
		if !pidAlive(pid) {
			return true
		}
		time.Sleep(200 * time.Millisecond)
	}
	return !pidAlive(pid)
}
