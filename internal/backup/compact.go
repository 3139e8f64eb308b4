// Copyright © 2026 the aemstarter authors
// SPDX-License-Identifier: Apache-2.0

package backup

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/dfoerderreuther/aemstarter/internal/project"
)

// Compact runs an offline storage-reclamation pass against a stopped
// instance's segment store. A missing compaction tool is a logged no-op, not
// an error. The caller is responsible for ensuring the instance is stopped.
func (e *Engine) Compact(ctx context.Context, typ project.InstanceType) error {
	if typ == project.Dispatcher {
		return nil
	}

	jar := e.cfg.CompactionJar
	if jar == "" {
		jar = filepath.Join("crx-quickstart", "opt", "oak-run.jar")
	}
	if !filepath.IsAbs(jar) {
		jar = filepath.Join(e.proj.InstanceDir(typ), jar)
	}
	if _, err := os.Stat(jar); os.IsNotExist(err) {
		log.Printf("Compaction %s/%s: tool %s absent, skipping", e.proj.ID, typ, jar)
		return nil
	}

	store := e.proj.SegmentStoreDir(typ)
	if _, err := os.Stat(store); os.IsNotExist(err) {
		log.Printf("Compaction %s/%s: no segment store at %s, skipping", e.proj.ID, typ, store)
		return nil
	}

	logPath := filepath.Join(e.proj.InstanceDir(typ), "compaction.log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening compaction log: %w", err)
	}
	defer logFile.Close()

	cmd := exec.CommandContext(ctx, "java",
		"-Xmx"+e.cfg.CompactionHeap,
		"-Dtar.memoryMapped=true",
		"-jar", jar,
		"compact", store)
	cmd.Dir = e.proj.InstanceDir(typ)
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	log.Printf("Compaction %s/%s: running %s against %s", e.proj.ID, typ, jar, store)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("compaction tool failed (see %s): %w", logPath, err)
	}
	return nil
}
