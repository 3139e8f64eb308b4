// Copyright © 2026 the aemstarter authors
// SPDX-License-Identifier: Apache-2.0

package instance

import (
	"context"
	"fmt"
	"net"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// PortScanner finds the OS process holding a TCP listening socket on a port.
// The launcher may re-exec into the real server process, so the spawned child
// PID is never trusted; this is the only authoritative PID source.
type PortScanner interface {
	FindListenerPID(ctx context.Context, port int) (int, bool)
}

// NewPortScanner returns the platform scanner.
func NewPortScanner() PortScanner {
	if runtime.GOOS == "windows" {
		return &netstatScanner{}
	}
	return &lsofScanner{}
}

// lsofScanner resolves listener owners with lsof on POSIX systems.
type lsofScanner struct{}

func (s *lsofScanner) FindListenerPID(ctx context.Context, port int) (int, bool) {
	out, err := exec.CommandContext(ctx, "lsof",
		"-nP", "-iTCP:"+strconv.Itoa(port), "-sTCP:LISTEN", "-t").Output()
	if err != nil {
		// lsof exits non-zero when nothing matches
		return 0, false
	}
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		pid, err := strconv.Atoi(strings.TrimSpace(line))
		if err == nil && pid > 0 {
			return pid, true
		}
	}
	return 0, false
}

// netstatScanner resolves listener owners by parsing `netstat -ano` output on
// Windows.
type netstatScanner struct{}

func (s *netstatScanner) FindListenerPID(ctx context.Context, port int) (int, bool) {
	out, err := exec.CommandContext(ctx, "netstat", "-ano", "-p", "TCP").Output()
	if err != nil {
		return 0, false
	}
	return parseNetstat(string(out), port)
}

// parseNetstat extracts the owning PID of a LISTENING socket on port from
// `netstat -ano` output.
func parseNetstat(out string, port int) (int, bool) {
	suffix := ":" + strconv.Itoa(port)
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		// Proto LocalAddress ForeignAddress State PID
		if len(fields) < 5 || !strings.EqualFold(fields[0], "TCP") {
			continue
		}
		if !strings.EqualFold(fields[3], "LISTENING") {
			continue
		}
		if !strings.HasSuffix(fields[1], suffix) {
			continue
		}
		pid, err := strconv.Atoi(fields[4])
		if err == nil && pid > 0 {
			return pid, true
		}
	}
	return 0, false
}

// portListening reports whether anything accepts TCP connections on the port.
// Cheaper than a full owner scan; used for the startup wait.
func portListening(port int) bool {
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port), 500*time.Millisecond)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
