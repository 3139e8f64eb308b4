// Copyright © 2026 the aemstarter authors
// SPDX-License-Identifier: Apache-2.0

// Package backup implements project archive create/list/restore/delete plus
// offline repository compaction. The backup directory's file listing is the
// source of truth; there is no separate index.
package backup

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/klauspost/compress/gzip"

	"github.com/dfoerderreuther/aemstarter/internal/events"
	"github.com/dfoerderreuther/aemstarter/internal/project"
)

// ErrNotFound is returned when the named archive does not exist.
var ErrNotFound = errors.New("backup not found")

// ErrBackupInProgress is returned when another backup or restore holds the
// engine lock.
var ErrBackupInProgress = errors.New("another backup operation is in progress")

// Record describes one archive in the backup directory.
type Record struct {
	Name       string    `json:"name"`
	CreatedAt  time.Time `json:"createdAt"`
	Size       int64     `json:"size"`
	Compressed bool      `json:"compressed"`
}

// Config carries the engine's settings.
type Config struct {
	Dir            string // Backup directory; relative paths resolve against the project folder
	CompactionJar  string // oak-run jar, relative to each instance dir; skipped if absent
	CompactionHeap string // -Xmx value for the compaction JVM
}

// Engine creates and restores project archives. Overlapping operations on the
// same project are rejected via a directory-scoped file lock.
type Engine struct {
	proj *project.Project
	bus  events.EventBus
	cfg  Config
	lock *flock.Flock
}

// NewEngine creates an engine for one project.
func NewEngine(proj *project.Project, bus events.EventBus, cfg Config) *Engine {
	if cfg.Dir == "" {
		cfg.Dir = "backups"
	}
	if cfg.CompactionHeap == "" {
		cfg.CompactionHeap = "8g"
	}
	dir := cfg.Dir
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(proj.Folder, dir)
	}
	cfg.Dir = dir
	return &Engine{
		proj: proj,
		bus:  bus,
		cfg:  cfg,
		lock: flock.New(filepath.Join(dir, ".lock")),
	}
}

// Dir returns the resolved backup directory.
func (e *Engine) Dir() string { return e.cfg.Dir }

var nameStrip = regexp.MustCompile(`[^A-Za-z0-9 _]`)

// sanitizeName strips characters outside [A-Za-z0-9 _] and replaces spaces
// with underscores.
func sanitizeName(name string) string {
	clean := nameStrip.ReplaceAllString(name, "")
	return strings.ReplaceAll(clean, " ", "_")
}

// archiveFile maps a sanitized name to the archive file name.
func archiveFile(name string, compressed bool) string {
	if compressed {
		return name + ".tar.gz"
	}
	return name + ".tar"
}

// Backup compacts the app-server repositories, purges their log directories
// and writes one archive spanning the project's storage roots and the
// dispatcher's cache and config. Rejects when another operation holds the
// lock.
func (e *Engine) Backup(ctx context.Context, name string, compress bool) (Record, error) {
	clean := sanitizeName(name)
	if clean == "" {
		return Record{}, fmt.Errorf("backup name %q sanitizes to nothing", name)
	}

	if err := os.MkdirAll(e.cfg.Dir, 0o755); err != nil {
		return Record{}, fmt.Errorf("creating backup dir: %w", err)
	}
	locked, err := e.lock.TryLock()
	if err != nil {
		return Record{}, fmt.Errorf("acquiring backup lock: %w", err)
	}
	if !locked {
		return Record{}, ErrBackupInProgress
	}
	defer e.lock.Unlock()

	for _, typ := range []project.InstanceType{project.Author, project.Publish} {
		if err := e.Compact(ctx, typ); err != nil {
			return Record{}, fmt.Errorf("compacting %s: %w", typ, err)
		}
		e.purgeLogs(typ)
	}

	path := filepath.Join(e.cfg.Dir, archiveFile(clean, compress))
	if err := e.writeArchive(ctx, path, compress); err != nil {
		os.Remove(path)
		return Record{}, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return Record{}, fmt.Errorf("stat archive: %w", err)
	}
	rec := Record{Name: clean, CreatedAt: info.ModTime(), Size: info.Size(), Compressed: compress}
	log.Printf("Backup %s/%s: wrote %s (%d bytes)", e.proj.ID, clean, path, rec.Size)

	e.publish(events.EventBackupCreated, map[string]interface{}{
		"name": clean, "size": rec.Size, "compressed": compress,
	})
	return rec, nil
}

// List returns the archives in the backup directory, newest first.
func (e *Engine) List() ([]Record, error) {
	entries, err := os.ReadDir(e.cfg.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading backup dir: %w", err)
	}

	var records []Record
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name, compressed, ok := parseArchiveName(entry.Name())
		if !ok {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		records = append(records, Record{
			Name:       name,
			CreatedAt:  info.ModTime(),
			Size:       info.Size(),
			Compressed: compressed,
		})
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	return records, nil
}

// Restore extracts the named archive into the project folder. Fails with
// ErrNotFound before any filesystem mutation when the archive is absent.
// Whether the instances are stopped is the caller's concern.
func (e *Engine) Restore(ctx context.Context, name string) error {
	path, compressed, err := e.find(name)
	if err != nil {
		return err
	}

	locked, lockErr := e.lock.TryLock()
	if lockErr != nil {
		return fmt.Errorf("acquiring backup lock: %w", lockErr)
	}
	if !locked {
		return ErrBackupInProgress
	}
	defer e.lock.Unlock()

	if err := extractArchive(ctx, path, e.proj.Folder, compressed); err != nil {
		return fmt.Errorf("extracting %s: %w", path, err)
	}

	log.Printf("Backup %s/%s: restored from %s", e.proj.ID, sanitizeName(name), path)
	e.publish(events.EventBackupRestored, map[string]interface{}{"name": sanitizeName(name)})
	return nil
}

// Delete removes the named archive. Fails with ErrNotFound if absent.
func (e *Engine) Delete(name string) error {
	path, _, err := e.find(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("deleting %s: %w", path, err)
	}
	e.publish(events.EventBackupDeleted, map[string]interface{}{"name": sanitizeName(name)})
	return nil
}

// find resolves a backup name to its archive path, compressed first.
func (e *Engine) find(name string) (path string, compressed bool, err error) {
	clean := sanitizeName(name)
	for _, c := range []bool{true, false} {
		p := filepath.Join(e.cfg.Dir, archiveFile(clean, c))
		if _, statErr := os.Stat(p); statErr == nil {
			return p, c, nil
		}
	}
	return "", false, fmt.Errorf("%w: %s", ErrNotFound, clean)
}

// parseArchiveName splits an archive file name into backup name + compressed
// flag.
func parseArchiveName(file string) (name string, compressed bool, ok bool) {
	switch {
	case strings.HasSuffix(file, ".tar.gz"):
		return strings.TrimSuffix(file, ".tar.gz"), true, true
	case strings.HasSuffix(file, ".tar"):
		return strings.TrimSuffix(file, ".tar"), false, true
	}
	return "", false, false
}

// purgeLogs best-effort deletes every file in an instance's log directory. A
// failure on one file never aborts the purge.
func (e *Engine) purgeLogs(typ project.InstanceType) {
	dir := e.proj.LogDir(typ)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil {
			log.Printf("Backup %s: purging %s/%s: %v", e.proj.ID, dir, entry.Name(), err)
		}
	}
}

// writeArchive streams the project's archive members into one tar file,
// optionally gzipped. Missing members are skipped: a project that never
// started its dispatcher still backs up cleanly.
func (e *Engine) writeArchive(ctx context.Context, path string, compress bool) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating archive: %w", err)
	}
	defer f.Close()

	var w io.Writer = f
	var gz *gzip.Writer
	if compress {
		gz = gzip.NewWriter(f)
		defer gz.Close()
		w = gz
	}
	tw := tar.NewWriter(w)
	defer tw.Close()

	for _, member := range e.proj.ArchiveMembers() {
		root := filepath.Join(e.proj.Folder, member)
		if _, err := os.Stat(root); os.IsNotExist(err) {
			log.Printf("Backup %s: skipping absent member %s", e.proj.ID, member)
			continue
		}
		if err := addTree(ctx, tw, e.proj.Folder, root); err != nil {
			return fmt.Errorf("archiving %s: %w", member, err)
		}
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("finalizing tar: %w", err)
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			return fmt.Errorf("finalizing gzip: %w", err)
		}
	}
	return f.Sync()
}

// addTree walks root and writes every file and directory to tw with paths
// relative to base.
func addTree(ctx context.Context, tw *tar.Writer, base, root string) error {
	return filepath.Walk(root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		rel, err := filepath.Rel(base, p)
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		f, err := os.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
}

// extractArchive unpacks an archive into dest, refusing members that escape
// it.
func extractArchive(ctx context.Context, path, dest string, compressed bool) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var r io.Reader = f
	if compressed {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return fmt.Errorf("opening gzip: %w", err)
		}
		defer gz.Close()
		r = gz
	}

	tr := tar.NewReader(r)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		target := filepath.Join(dest, filepath.FromSlash(hdr.Name))
		rel, err := filepath.Rel(dest, target)
		if err != nil || strings.HasPrefix(rel, "..") {
			return fmt.Errorf("archive member escapes destination: %s", hdr.Name)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, os.FileMode(hdr.Mode)); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, os.FileMode(hdr.Mode))
			if err != nil {
				return err
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return err
			}
			if err := out.Close(); err != nil {
				return err
			}
		}
	}
}

func (e *Engine) publish(typ string, payload map[string]interface{}) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(context.Background(), events.Event{
		Type:    typ,
		Project: e.proj.ID,
		Payload: payload,
	})
}
