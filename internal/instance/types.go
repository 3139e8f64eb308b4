// Copyright © 2026 the aemstarter authors
// SPDX-License-Identifier: Apache-2.0

// Package instance implements per-instance process supervision: launcher
// spawning, listener-PID discovery, log tailing and health checking.
package instance

import (
	"errors"
	"time"

	"github.com/dfoerderreuther/aemstarter/internal/project"
)

// State represents the lifecycle state of a managed instance.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// MarshalJSON implements json.Marshaler to output the string representation.
func (s State) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// StartMode selects normal or remote-debug startup.
type StartMode int

const (
	ModeNormal StartMode = iota
	ModeDebug
)

// Status is a snapshot of a supervisor's externally visible state.
type Status struct {
	Instance  project.InstanceType `json:"instance"`
	State     State                `json:"state"`
	PID       int                  `json:"pid"`
	Debug     bool                 `json:"debug"`
	StartedAt time.Time            `json:"startedAt"`
	StoppedAt time.Time            `json:"stoppedAt"`
}

// StopResult aggregates the outcome of a best-effort stop. Stop never fails
// outright; partial failures are recorded here and logged.
type StopResult struct {
	Instance   project.InstanceType `json:"instance"`
	WasRunning bool                 `json:"wasRunning"`
	Graceful   bool                 `json:"graceful"` // Listener exited on SIGTERM within the grace period
	Forced     bool                 `json:"forced"`   // SIGKILL was required
	Errors     []string             `json:"errors,omitempty"`
}

// HealthStatus is the latest health-probe result for an instance. Only the
// current value is retained; each probe cycle overwrites it.
type HealthStatus struct {
	Timestamp           time.Time `json:"timestamp"`
	Reachable           bool      `json:"reachable"`
	StatusCode          int       `json:"statusCode,omitempty"`
	ScreenshotPath      string    `json:"screenshotPath,omitempty"`
	ConsecutiveFailures int       `json:"consecutiveFailures"`
}

// ErrStartupTimeout is returned when the configured port never gets a
// listening owner within the startup bound.
var ErrStartupTimeout = errors.New("startup timed out waiting for listening port")

// ErrLauncherMissing is returned when the instance directory contains no
// recognized launcher.
var ErrLauncherMissing = errors.New("no recognized launcher in instance directory")

// ErrAlreadyStarting is returned when start is called while a start is in
// flight.
var ErrAlreadyStarting = errors.New("instance is already starting")

const (
	// startupTimeout bounds how long start() waits for the port to be
	// confirmed listening.
	startupTimeout = 5 * time.Minute

	// pidPollInterval is the delay between listener-owner polls.
	pidPollInterval = 2 * time.Second

	// pidLookupRetries bounds owner-PID resolution once the port listens.
	pidLookupRetries = 10

	// gracefulStopWait is how long stop() waits after SIGTERM before
	// escalating to SIGKILL.
	gracefulStopWait = 5 * time.Second

	// spawnedTreeWait bounds the independent wait on the originally spawned
	// process tree.
	spawnedTreeWait = 10 * time.Second

	// healthWarmup is the delay between a confirmed start and the first
	// scheduled health probe.
	healthWarmup = 10 * time.Second
)
