// Copyright © 2026 the aemstarter authors
// SPDX-License-Identifier: Apache-2.0

// Package terminal multiplexes interactive pseudo-terminal sessions. Each
// session is one shell under a pty; output and exit notifications flow
// through the event bus keyed by session id.
package terminal

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"runtime"
	"sync"
	"time"

	"github.com/creack/pty"
	"github.com/google/uuid"

	"github.com/dfoerderreuther/aemstarter/internal/events"
)

// Options configures a new session.
type Options struct {
	Cwd   string // Working directory; defaults to the process cwd
	Shell string // Preferred shell; falls back through platform candidates
}

// Info is a snapshot of one live session.
type Info struct {
	ID        string    `json:"id"`
	Shell     string    `json:"shell"`
	Cwd       string    `json:"cwd"`
	PID       int       `json:"pid"`
	CreatedAt time.Time `json:"createdAt"`
}

// session is one live pty-backed shell.
type session struct {
	info Info
	cmd  *exec.Cmd
	ptmx *os.File
	done chan struct{}
}

// Multiplexer owns all pty sessions. Control operations on unknown ids are
// no-ops returning false, never errors.
type Multiplexer struct {
	bus      events.EventBus
	project  string
	mu       sync.Mutex
	defaults Options
	sessions map[string]*session
}

// NewMultiplexer creates an empty multiplexer publishing under projectID.
func NewMultiplexer(bus events.EventBus, projectID string) *Multiplexer {
	return &Multiplexer{
		bus:      bus,
		project:  projectID,
		sessions: make(map[string]*session),
	}
}

// SetDefaults sets the fallback shell and working directory used when a
// Create call leaves them empty.
func (m *Multiplexer) SetDefaults(opts Options) {
	m.mu.Lock()
	m.defaults = opts
	m.mu.Unlock()
}

// Create spawns a new shell under a pty and returns its opaque session id.
func (m *Multiplexer) Create(opts Options) (Info, error) {
	m.mu.Lock()
	if opts.Shell == "" {
		opts.Shell = m.defaults.Shell
	}
	if opts.Cwd == "" {
		opts.Cwd = m.defaults.Cwd
	}
	m.mu.Unlock()

	shell, err := resolveShell(opts.Shell)
	if err != nil {
		return Info{}, err
	}

	cmd := exec.Command(shell)
	if opts.Cwd != "" {
		cmd.Dir = opts.Cwd
	}
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")

	ptmx, err := pty.Start(cmd)
	if err != nil {
		return Info{}, err
	}

	s := &session{
		info: Info{
			ID:        uuid.NewString(),
			Shell:     shell,
			Cwd:       opts.Cwd,
			PID:       cmd.Process.Pid,
			CreatedAt: time.Now(),
		},
		cmd:  cmd,
		ptmx: ptmx,
		done: make(chan struct{}),
	}

	m.mu.Lock()
	m.sessions[s.info.ID] = s
	m.mu.Unlock()

	go m.pump(s)
	log.Printf("Terminal %s: created (%s, pid %d)", s.info.ID, shell, s.info.PID)
	return s.info, nil
}

// Write sends input bytes to a session. False means unknown id; a write
// failure on a live session is logged, not reported as unknown — the pty
// dying mid-write is surfaced through the exit event instead.
func (m *Multiplexer) Write(id string, data []byte) bool {
	m.mu.Lock()
	s, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return false
	}
	if _, err := s.ptmx.Write(data); err != nil {
		log.Printf("Terminal %s: write: %v", id, err)
	}
	return true
}

// Resize changes a session's window size. False means unknown id.
func (m *Multiplexer) Resize(id string, cols, rows int) bool {
	m.mu.Lock()
	s, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return false
	}
	if err := pty.Setsize(s.ptmx, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)}); err != nil {
		log.Printf("Terminal %s: resize: %v", id, err)
	}
	return true
}

// Kill force-terminates a session. Returns false for an unknown id; the
// registry entry is removed regardless of whether the kill itself succeeded.
func (m *Multiplexer) Kill(id string) bool {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return false
	}
	m.terminate(s)
	return true
}

// List returns snapshots of all live sessions.
func (m *Multiplexer) List() []Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Info, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.info)
	}
	return out
}

// ClearAll force-kills every live session and emits one aggregate
// notification. Used when the caller's active project context changes.
func (m *Multiplexer) ClearAll() {
	m.mu.Lock()
	cleared := make([]*session, 0, len(m.sessions))
	for id, s := range m.sessions {
		cleared = append(cleared, s)
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	for _, s := range cleared {
		m.terminate(s)
	}

	if len(cleared) > 0 {
		log.Printf("Terminal: cleared %d session(s)", len(cleared))
	}
	m.publish(events.EventTerminalCleared, map[string]interface{}{
		"count": len(cleared),
	})
}

// terminate kills the shell process and closes the pty. Best-effort.
func (m *Multiplexer) terminate(s *session) {
	if s.cmd.Process != nil {
		s.cmd.Process.Kill()
	}
	s.ptmx.Close()
	select {
	case <-s.done:
	case <-time.After(5 * time.Second):
		log.Printf("Terminal %s: pump did not drain after kill", s.info.ID)
	}
}

// pump streams pty output to the event sink until the shell exits, then
// deregisters the session and publishes the exit.
func (m *Multiplexer) pump(s *session) {
	defer close(s.done)

	buf := make([]byte, 16*1024)
	for {
		n, err := s.ptmx.Read(buf)
		if n > 0 {
			m.publish(events.EventTerminalData, map[string]interface{}{
				"id":   s.info.ID,
				"data": string(buf[:n]),
			})
		}
		if err != nil {
			break
		}
	}

	err := s.cmd.Wait()
	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}

	m.mu.Lock()
	delete(m.sessions, s.info.ID)
	m.mu.Unlock()

	m.publish(events.EventTerminalExit, map[string]interface{}{
		"id":       s.info.ID,
		"exitCode": exitCode,
	})
	log.Printf("Terminal %s: exited (code %d)", s.info.ID, exitCode)
}

func (m *Multiplexer) publish(typ string, payload map[string]interface{}) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(context.Background(), events.Event{
		Type:    typ,
		Project: m.project,
		Payload: payload,
	})
}

// resolveShell picks the first available shell from the preferred one and
// platform fallbacks.
func resolveShell(preferred string) (string, error) {
	var candidates []string
	if preferred != "" {
		candidates = append(candidates, preferred)
	}
	if runtime.GOOS == "windows" {
		candidates = append(candidates, "powershell.exe", "cmd.exe")
	} else {
		if sh := os.Getenv("SHELL"); sh != "" {
			candidates = append(candidates, sh)
		}
		candidates = append(candidates, "/bin/bash", "/bin/sh")
	}

	for _, c := range candidates {
		if path, err := exec.LookPath(c); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("no usable shell among %v", candidates)
}
