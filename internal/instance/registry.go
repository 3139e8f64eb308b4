// Copyright © 2026 the aemstarter authors
// SPDX-License-Identifier: Apache-2.0

package instance

import (
	"context"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"syscall"

	ps "github.com/mitchellh/go-ps"

	"github.com/dfoerderreuther/aemstarter/internal/events"
	"github.com/dfoerderreuther/aemstarter/internal/project"
)

// registryKey identifies one supervised instance.
type registryKey struct {
	project string
	typ     project.InstanceType
}

// Registry is the keyed (project, instance type) → Supervisor map. It is the
// application root's single handle on all supervised instances; call sites
// never construct supervisors themselves.
type Registry struct {
	bus      events.EventBus
	scanner  PortScanner
	capturer ScreenshotCapturer
	health   HealthConfig

	mu          sync.Mutex
	supervisors map[registryKey]*Supervisor
}

// KillResult aggregates a best-effort machine-wide sweep.
type KillResult struct {
	Killed []int    `json:"killed"`
	Errors []string `json:"errors,omitempty"`
}

// NewRegistry creates an empty registry. The scanner may be nil (platform
// default); the capturer may be nil (screenshots disabled).
func NewRegistry(bus events.EventBus, scanner PortScanner, capturer ScreenshotCapturer, health HealthConfig) *Registry {
	if scanner == nil {
		scanner = NewPortScanner()
	}
	return &Registry{
		bus:         bus,
		scanner:     scanner,
		capturer:    capturer,
		health:      health,
		supervisors: make(map[registryKey]*Supervisor),
	}
}

// Supervisor returns the supervisor for (proj, typ), creating it lazily. The
// created supervisor carries a log streamer pre-selected with the instance's
// default log files; app-server instances also get a health checker.
func (r *Registry) Supervisor(proj *project.Project, typ project.InstanceType) *Supervisor {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := registryKey{project: proj.ID, typ: typ}
	if s, ok := r.supervisors[key]; ok {
		return s
	}

	streamer := NewLogStreamer(proj, typ, r.bus)
	var health *HealthChecker
	// The dispatcher has no login page to probe
	if typ != project.Dispatcher {
		health = NewHealthChecker(proj, typ, r.health, r.bus, r.capturer)
	}
	s := NewSupervisor(proj, typ, r.bus, r.scanner, streamer, health)
	r.supervisors[key] = s

	if files := proj.Settings(typ).LogFiles; len(files) > 0 {
		streamer.SetSelection(files)
	}
	return s
}

// Lookup returns an existing supervisor without creating one.
func (r *Registry) Lookup(projectID string, typ project.InstanceType) (*Supervisor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.supervisors[registryKey{project: projectID, typ: typ}]
	return s, ok
}

// All returns every registered supervisor for a project, in dependency order.
func (r *Registry) All(projectID string) []*Supervisor {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Supervisor
	for _, typ := range project.AllTypes() {
		if s, ok := r.supervisors[registryKey{project: projectID, typ: typ}]; ok {
			out = append(out, s)
		}
	}
	return out
}

// Shutdown stops health schedules and log tails for every supervisor and
// clears the registry. Server processes are left alone; use Coordinator.Stop
// or KillAll for those.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	supers := make([]*Supervisor, 0, len(r.supervisors))
	for _, s := range r.supervisors {
		supers = append(supers, s)
	}
	r.supervisors = make(map[registryKey]*Supervisor)
	r.mu.Unlock()

	for _, s := range supers {
		if h := s.Health(); h != nil {
			h.Stop()
		}
		if ls := s.Streamer(); ls != nil {
			ls.Close()
		}
	}
}

// KillAll force-kills every process on the machine whose command line matches
// the server launcher name, then clears the registry. Intentionally coarse:
// this is the emergency control for orphaned servers no supervisor knows
// about. Best-effort; failures are collected, never returned as an error.
func (r *Registry) KillAll(ctx context.Context) KillResult {
	var res KillResult

	procs, err := ps.Processes()
	if err != nil {
		res.Errors = append(res.Errors, "listing processes: "+err.Error())
	}
	self := os.Getpid()
	for _, p := range procs {
		if p.Pid() == self {
			continue
		}
		if !commandLineMatches(p, launcherName) {
			continue
		}
		if err := syscall.Kill(p.Pid(), syscall.SIGKILL); err != nil {
			res.Errors = append(res.Errors, "SIGKILL pid "+strconv.Itoa(p.Pid())+": "+err.Error())
			continue
		}
		res.Killed = append(res.Killed, p.Pid())
	}

	log.Printf("killAll: killed %d process(es), %d error(s)", len(res.Killed), len(res.Errors))
	r.Shutdown()
	return res
}

// commandLineMatches checks a process against the marker. The executable name
// alone is not enough (a jar-launched server runs as "java"), so the full
// command line is consulted where the platform exposes it.
func commandLineMatches(p ps.Process, marker string) bool {
	if strings.Contains(strings.ToLower(p.Executable()), marker) {
		return true
	}
	if cl, ok := commandLine(p.Pid()); ok {
		return strings.Contains(strings.ToLower(cl), marker)
	}
	return false
}

// commandLine reads a process's full command line.
func commandLine(pid int) (string, bool) {
	if runtime.GOOS == "linux" {
		raw, err := os.ReadFile(filepath.Join("/proc", strconv.Itoa(pid), "cmdline"))
		if err == nil {
			return strings.ReplaceAll(string(raw), "\x00", " "), true
		}
	}
	out, err := exec.Command("ps", "-p", strconv.Itoa(pid), "-o", "command=").Output()
	if err != nil {
		return "", false
	}
	return strings.TrimSpace(string(out)), true
}
