// Copyright © 2026 the aemstarter authors
// SPDX-License-Identifier: Apache-2.0

package instance

import (
	"bytes"
	"context"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/dfoerderreuther/aemstarter/internal/events"
	"github.com/dfoerderreuther/aemstarter/internal/project"
)

const (
	// fileWaitBound is how long a tail waits for its file to appear.
	fileWaitBound = 60 * time.Second

	// tailRestartDelay is the pause before restarting a tail whose subprocess
	// exited unexpectedly.
	tailRestartDelay = 1 * time.Second
)

// LogStreamer tails an instance's selected log files. One tail subprocess per
// selected file; all output funnels through a single per-instance
// incomplete-line buffer so fragments from interleaved chunks reassemble into
// whole lines before being published.
type LogStreamer struct {
	proj *project.Project
	typ  project.InstanceType
	bus  events.EventBus

	mu        sync.Mutex
	tails     map[string]*tailSession
	partial   []byte
	synthetic map[string]bool
	closed    bool
}

// tailSession is one running tail subprocess for one selected file.
type tailSession struct {
	file   string
	cancel context.CancelFunc
	done   chan struct{}
}

// NewLogStreamer creates a streamer for one instance with an empty selection.
func NewLogStreamer(proj *project.Project, typ project.InstanceType, bus events.EventBus) *LogStreamer {
	return &LogStreamer{
		proj:      proj,
		typ:       typ,
		bus:       bus,
		tails:     make(map[string]*tailSession),
		synthetic: make(map[string]bool),
	}
}

// MarkSynthetic registers a file the streamer should create empty instead of
// waiting for the server to write it.
func (ls *LogStreamer) MarkSynthetic(file string) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.synthetic[file] = true
}

// Selection returns the currently selected file names, sorted.
func (ls *LogStreamer) Selection() []string {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	files := make([]string, 0, len(ls.tails))
	for f := range ls.tails {
		files = append(files, f)
	}
	sort.Strings(files)
	return files
}

// SetSelection replaces the selected file set. Tails for removed files are
// stopped synchronously and the partial-line buffer is cleared before tails
// for added files start; tails for retained files are left untouched so their
// subprocess identity is preserved.
func (ls *LogStreamer) SetSelection(files []string) {
	want := make(map[string]bool, len(files))
	for _, f := range files {
		want[f] = true
	}

	ls.mu.Lock()
	if ls.closed {
		ls.mu.Unlock()
		return
	}
	var removed []*tailSession
	for f, t := range ls.tails {
		if !want[f] {
			removed = append(removed, t)
			delete(ls.tails, f)
		}
	}
	var added []string
	for f := range want {
		if _, ok := ls.tails[f]; !ok {
			added = append(added, f)
		}
	}
	// A selection change invalidates any buffered fragment: it may belong to
	// a file that is no longer selected.
	if len(removed) > 0 || len(added) > 0 {
		ls.partial = nil
	}
	ls.mu.Unlock()

	for _, t := range removed {
		t.cancel()
		<-t.done
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()
	if ls.closed {
		return
	}
	for _, f := range added {
		ls.startTailLocked(f)
	}
}

// Stop stops all tails and clears the buffer.
func (ls *LogStreamer) Stop() {
	ls.mu.Lock()
	var running []*tailSession
	for f, t := range ls.tails {
		running = append(running, t)
		delete(ls.tails, f)
	}
	ls.partial = nil
	ls.mu.Unlock()

	for _, t := range running {
		t.cancel()
		<-t.done
	}
}

// Close stops all tails permanently.
func (ls *LogStreamer) Close() {
	ls.mu.Lock()
	ls.closed = true
	ls.mu.Unlock()
	ls.Stop()
}

// startTailLocked launches the tail goroutine for one file. Caller holds the
// lock.
func (ls *LogStreamer) startTailLocked(file string) {
	ctx, cancel := context.WithCancel(context.Background())
	t := &tailSession{file: file, cancel: cancel, done: make(chan struct{})}
	ls.tails[file] = t
	go func() {
		defer close(t.done)
		ls.runTail(ctx, file)
	}()
}

// runTail tails one file until cancelled, restarting the subprocess after a
// short delay when it exits unexpectedly.
func (ls *LogStreamer) runTail(ctx context.Context, file string) {
	path := filepath.Join(ls.proj.LogDir(ls.typ), file)

	ls.mu.Lock()
	synthetic := ls.synthetic[file]
	ls.mu.Unlock()

	if synthetic {
		if err := touchFile(path); err != nil {
			log.Printf("Instance %s/%s: creating %s: %v", ls.proj.ID, ls.typ, path, err)
			return
		}
	} else if err := waitForFile(ctx, path, fileWaitBound); err != nil {
		log.Printf("Instance %s/%s: giving up waiting for %s: %v", ls.proj.ID, ls.typ, path, err)
		return
	}

	for {
		err := ls.tailOnce(ctx, file, path)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			log.Printf("Instance %s/%s: tail of %s exited: %v", ls.proj.ID, ls.typ, file, err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(tailRestartDelay):
		}
		if !ls.selected(file) {
			return
		}
	}
}

func (ls *LogStreamer) selected(file string) bool {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	_, ok := ls.tails[file]
	return ok
}

// tailOnce runs a single tail -F subprocess to completion, feeding its
// output through the shared line buffer with a per-line [file] prefix.
func (ls *LogStreamer) tailOnce(ctx context.Context, file, path string) error {
	// -F follows across rotation and truncation
	cmd := exec.CommandContext(ctx, "tail", "-F", "-n", "0", path)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}

	ls.ingestPrefixed(file, stdout)
	return cmd.Wait()
}

// IngestReader funnels an arbitrary stream (launcher stdout/stderr) through
// the shared line buffer under the given source tag. Blocks until the reader
// is exhausted.
func (ls *LogStreamer) IngestReader(tag string, r io.Reader) {
	ls.ingestPrefixed(tag, r)
}

// ingestPrefixed reads r in chunks, inserts "[tag] " at every line start and
// appends the result to the shared buffer.
func (ls *LogStreamer) ingestPrefixed(tag string, r io.Reader) {
	prefix := []byte("[" + tag + "] ")
	atLineStart := true
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			var out bytes.Buffer
			for len(chunk) > 0 {
				if atLineStart {
					out.Write(prefix)
					atLineStart = false
				}
				i := bytes.IndexByte(chunk, '\n')
				if i < 0 {
					out.Write(chunk)
					break
				}
				out.Write(chunk[:i+1])
				chunk = chunk[i+1:]
				atLineStart = true
			}
			ls.Ingest(out.Bytes())
		}
		if err != nil {
			return
		}
	}
}

// Ingest appends a raw chunk to the incomplete-line buffer, publishes every
// complete line as one batched event and retains the trailing partial
// fragment for the next chunk.
func (ls *LogStreamer) Ingest(chunk []byte) {
	ls.mu.Lock()
	ls.partial = append(ls.partial, chunk...)
	cut := bytes.LastIndexByte(ls.partial, '\n')
	if cut < 0 {
		ls.mu.Unlock()
		return
	}
	complete := ls.partial[:cut]
	rest := ls.partial[cut+1:]
	ls.partial = append([]byte(nil), rest...)
	ls.mu.Unlock()

	lines := splitLines(complete)
	if len(lines) == 0 {
		return
	}
	if ls.bus == nil {
		return
	}
	ls.bus.Publish(context.Background(), events.Event{
		Type:    events.EventInstanceLog,
		Project: ls.proj.ID,
		Payload: map[string]interface{}{
			"instance": string(ls.typ),
			"lines":    lines,
		},
	})
}

// PartialLen reports the size of the retained incomplete fragment.
func (ls *LogStreamer) PartialLen() int {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return len(ls.partial)
}

func splitLines(b []byte) []string {
	if len(b) == 0 {
		return nil
	}
	parts := bytes.Split(b, []byte{'\n'})
	lines := make([]string, 0, len(parts))
	for _, p := range parts {
		lines = append(lines, string(bytes.TrimSuffix(p, []byte{'\r'})))
	}
	return lines
}

// touchFile creates path (and its directory) if absent.
func touchFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	return f.Close()
}

// waitForFile blocks until path exists, bounded by bound. Uses a directory
// watch with a stat fallback so a file created between the initial check and
// the watch registration is not missed.
func waitForFile(ctx context.Context, path string, bound time.Duration) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	dir := filepath.Dir(path)
	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		defer watcher.Close()
		if addErr := watcher.Add(dir); addErr != nil {
			watcher = nil
		}
	} else {
		watcher = nil
	}

	deadline := time.NewTimer(bound)
	defer deadline.Stop()
	poll := time.NewTicker(1 * time.Second)
	defer poll.Stop()

	var watchEvents chan fsnotify.Event
	if watcher != nil {
		watchEvents = watcher.Events
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return os.ErrNotExist
		case ev := <-watchEvents:
			if ev.Has(fsnotify.Create) && ev.Name == path {
				return nil
			}
		case <-poll.C:
			if _, err := os.Stat(path); err == nil {
				return nil
			}
		}
	}
}
