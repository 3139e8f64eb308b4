// Copyright © 2026 the aemstarter authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"time"
)

// ValidationError describes a single config problem.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks the config for problems that would make the stack
// unmanageable. Returns all problems found, not just the first.
func Validate(cfg *Config) []error {
	var errs []error

	add := func(field, format string, args ...interface{}) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if cfg.Project.ID == "" {
		add("project.id", "must not be empty")
	}
	if cfg.Project.Folder == "" {
		add("project.folder", "must not be empty")
	}

	checkPort := func(field string, port int) {
		if port < 1 || port > 65535 {
			add(field, "port %d out of range", port)
		}
	}
	checkPort("author.port", cfg.Author.Port)
	checkPort("publish.port", cfg.Publish.Port)
	checkPort("dispatcher.port", cfg.Dispatcher.Port)
	checkPort("server.port", cfg.Server.Port)
	checkPort("proxy.port", cfg.Proxy.Port)

	// The three managed ports must be distinct; two instances cannot share a
	// listening socket.
	ports := map[int]string{}
	for field, port := range map[string]int{
		"author.port":     cfg.Author.Port,
		"publish.port":    cfg.Publish.Port,
		"dispatcher.port": cfg.Dispatcher.Port,
	} {
		if other, ok := ports[port]; ok {
			add(field, "port %d already used by %s", port, other)
		} else {
			ports[port] = field
		}
	}

	if !validDuration(cfg.Health.Interval) {
		add("health.interval", "invalid duration %q", cfg.Health.Interval)
	}
	if !validDuration(cfg.Events.History.MaxAge) {
		add("events.history.max_age", "invalid duration %q", cfg.Events.History.MaxAge)
	}

	if (cfg.Server.TLSCert == "") != (cfg.Server.TLSKey == "") {
		add("server", "tls_cert and tls_key must be set together")
	}

	return errs
}

func validDuration(s string) bool {
	if s == "" {
		return true
	}
	_, err := time.ParseDuration(s)
	return err == nil
}
