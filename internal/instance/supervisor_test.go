// Copyright © 2026 the aemstarter authors
// SPDX-License-Identifier: Apache-2.0

package instance

import (
	"context"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dfoerderreuther/aemstarter/internal/project"
)

// fakeScanner is a deterministic PortScanner backend for tests.
type fakeScanner struct {
	pid int
	ok  bool
}

func (f *fakeScanner) FindListenerPID(ctx context.Context, port int) (int, bool) {
	return f.pid, f.ok
}

func TestStopNeverStartedIsTrivial(t *testing.T) {
	proj := testProject(t)
	s := NewSupervisor(proj, project.Author, nil, &fakeScanner{}, nil, nil)

	res := s.Stop(context.Background())
	assert.False(t, res.WasRunning)
	assert.Empty(t, res.Errors)
	assert.Equal(t, StateStopped, s.Status().State)
}

func TestStopIsIdempotent(t *testing.T) {
	proj := testProject(t)
	s := NewSupervisor(proj, project.Publish, nil, &fakeScanner{}, nil, nil)

	first := s.Stop(context.Background())
	second := s.Stop(context.Background())
	assert.False(t, first.WasRunning)
	assert.False(t, second.WasRunning)
	assert.Empty(t, second.Errors)
}

func TestStartLauncherMissing(t *testing.T) {
	proj := testProject(t)
	s := NewSupervisor(proj, project.Author, nil, &fakeScanner{}, nil, nil)

	err := s.Start(context.Background(), ModeNormal)
	require.ErrorIs(t, err, ErrLauncherMissing)
	assert.Equal(t, StateStopped, s.Status().State)
}

func TestStopDuringStartEndsStopped(t *testing.T) {
	proj := testProject(t)
	writeScript(t, filepath.Join(proj.QuickstartDir(project.Author), "bin", "start"))

	streamer := NewLogStreamer(proj, project.Author, nil)
	health := NewHealthChecker(proj, project.Author, HealthConfig{Interval: time.Second}, nil, nil)
	s := NewSupervisor(proj, project.Author, nil, &fakeScanner{}, streamer, health)

	startErr := make(chan error, 1)
	go func() {
		startErr <- s.Start(context.Background(), ModeNormal)
	}()

	// Let the spawn happen, then abort from outside. Idempotence is the only
	// cancellation mechanism.
	assert.Eventually(t, func() bool {
		return s.Status().State == StateStarting
	}, 5*time.Second, 20*time.Millisecond)

	res := s.Stop(context.Background())
	assert.False(t, res.WasRunning)

	select {
	case err := <-startErr:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("start did not return after stop")
	}

	assert.Equal(t, StateStopped, s.Status().State)
	assert.False(t, health.Running(), "no leaked health schedule")
}

func TestCancelledStartRevertsToStopped(t *testing.T) {
	proj := testProject(t)
	writeScript(t, filepath.Join(proj.QuickstartDir(project.Author), "bin", "start"))

	s := NewSupervisor(proj, project.Author, nil, &fakeScanner{}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	startErr := make(chan error, 1)
	go func() {
		startErr <- s.Start(ctx, ModeNormal)
	}()

	assert.Eventually(t, func() bool {
		return s.Status().State == StateStarting
	}, 5*time.Second, 20*time.Millisecond)

	// Caller goes away mid startup-poll (HTTP disconnect, sibling failure).
	cancel()

	select {
	case err := <-startErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(10 * time.Second):
		t.Fatal("start did not return after cancellation")
	}

	assert.Eventually(t, func() bool {
		return s.Status().State == StateStopped
	}, 5*time.Second, 20*time.Millisecond)

	// The supervisor must accept a new Start, not refuse it as mid-start.
	ctx2, cancel2 := context.WithCancel(context.Background())
	cancel2()
	err := s.Start(ctx2, ModeNormal)
	assert.NotErrorIs(t, err, ErrAlreadyStarting)
	assert.Eventually(t, func() bool {
		return s.Status().State == StateStopped
	}, 5*time.Second, 20*time.Millisecond)
}

func TestStopTerminatesListenerGracefully(t *testing.T) {
	proj := testProject(t)

	victim := exec.Command("sleep", "300")
	require.NoError(t, victim.Start())
	go victim.Wait()

	scanner := &fakeScanner{pid: victim.Process.Pid, ok: true}
	s := NewSupervisor(proj, project.Author, nil, scanner, nil, nil)

	res := s.Stop(context.Background())
	assert.True(t, res.Graceful)
	assert.False(t, res.Forced)
	assert.Eventually(t, func() bool {
		return !pidAlive(victim.Process.Pid)
	}, 5*time.Second, 50*time.Millisecond)
}

func TestPidAlive(t *testing.T) {
	cmd := exec.Command("sleep", "60")
	require.NoError(t, cmd.Start())

	assert.True(t, pidAlive(cmd.Process.Pid))

	require.NoError(t, cmd.Process.Kill())
	cmd.Wait()
	assert.False(t, pidAlive(cmd.Process.Pid))
}

func TestWaitPIDGone(t *testing.T) {
	cmd := exec.Command("sleep", "0.2")
	require.NoError(t, cmd.Start())
	go cmd.Wait()

	assert.True(t, waitPIDGone(cmd.Process.Pid, 5*time.Second))
}
