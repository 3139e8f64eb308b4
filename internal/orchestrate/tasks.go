// Copyright © 2026 the aemstarter authors
// SPDX-License-Identifier: Apache-2.0

package orchestrate

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/dfoerderreuther/aemstarter/internal/backup"
)

// Task is one named automation composing stack and backup operations.
type Task struct {
	Name        string
	Description string
	Run         func(ctx context.Context) error
}

// TaskRunner resolves automation names to tasks. A lookup table, not a class
// hierarchy: each entry composes coordinator and backup-engine calls.
type TaskRunner struct {
	tasks map[string]Task
}

// NewTaskRunner builds the standard task table for one project.
func NewTaskRunner(c *Coordinator, engine *backup.Engine) *TaskRunner {
	table := []Task{
		{
			Name:        "start",
			Description: "start the whole stack",
			Run:         c.Start,
		},
		{
			Name:        "start-debug",
			Description: "start the stack with remote debugging",
			Run:         c.StartDebug,
		},
		{
			Name:        "stop",
			Description: "stop everything currently running",
			Run: func(ctx context.Context) error {
				c.Stop(ctx)
				return nil
			},
		},
		{
			Name:        "restart",
			Description: "stop, then start",
			Run: func(ctx context.Context) error {
				c.Stop(ctx)
				return c.Start(ctx)
			},
		},
		{
			Name:        "backup",
			Description: "stop, create a timestamped compressed backup, start",
			Run: func(ctx context.Context) error {
				c.Stop(ctx)
				name := "auto_" + time.Now().Format("20060102_150405")
				if _, err := engine.Backup(ctx, name, true); err != nil {
					return err
				}
				return c.Start(ctx)
			},
		},
		{
			Name:        "restore-last",
			Description: "stop, restore the most recent backup, start",
			Run: func(ctx context.Context) error {
				c.Stop(ctx)
				records, err := engine.List()
				if err != nil {
					return err
				}
				if len(records) == 0 {
					return fmt.Errorf("no backups to restore")
				}
				if err := engine.Restore(ctx, records[0].Name); err != nil {
					return err
				}
				return c.Start(ctx)
			},
		},
	}

	tasks := make(map[string]Task, len(table))
	for _, t := range table {
		tasks[t.Name] = t
	}
	return &TaskRunner{tasks: tasks}
}

// Names returns the available task names, sorted.
func (r *TaskRunner) Names() []string {
	names := make([]string, 0, len(r.tasks))
	for name := range r.tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup returns the named task.
func (r *TaskRunner) Lookup(name string) (Task, bool) {
	t, ok := r.tasks[name]
	return t, ok
}

// Run executes the named task. Unknown names are rejected with the list of
// valid ones.
func (r *TaskRunner) Run(ctx context.Context, name string) error {
	t, ok := r.tasks[name]
	if !ok {
		return fmt.Errorf("unknown task %q (have %v)", name, r.Names())
	}
	log.Printf("Task %s: running", name)
	if err := t.Run(ctx); err != nil {
		return fmt.Errorf("task %s: %w", name, err)
	}
	log.Printf("Task %s: done", name)
	return nil
}
