// Copyright © 2026 the aemstarter authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hjson/hjson-go/v4"
)

// Loader handles configuration file loading.
type Loader struct{}

// NewLoader creates a new config loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load reads and parses the configuration from the given path.
func (l *Loader) Load(ctx context.Context, path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Parse HJSON to intermediate map
	var raw map[string]interface{}
	if err := hjson.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse hjson: %w", err)
	}

	// Convert to JSON and unmarshal to struct (for type safety)
	jsonData, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("convert to json: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(jsonData, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

// LoadWithDefaults loads config with default values applied.
func (l *Loader) LoadWithDefaults(ctx context.Context, path string) (*Config, error) {
	cfg, err := l.Load(ctx, path)
	if err != nil {
		return nil, err
	}

	applyDefaults(cfg)

	// Project folder defaults to the config file's directory
	if cfg.Project.Folder == "" {
		abs, err := filepath.Abs(path)
		if err == nil {
			cfg.Project.Folder = filepath.Dir(abs)
		}
	}

	return cfg, nil
}

// FindConfig searches for a config file in the current directory.
// It looks for aemstarter.hjson first, then aemstarter.json.
func (l *Loader) FindConfig() (string, error) {
	candidates := []string{
		"aemstarter.hjson",
		"aemstarter.json",
	}

	for _, name := range candidates {
		path := filepath.Join(".", name)
		if _, err := os.Stat(path); err == nil {
			abs, err := filepath.Abs(path)
			if err != nil {
				return path, nil
			}
			return abs, nil
		}
	}

	return "", fmt.Errorf("config file not found (looked for aemstarter.hjson, aemstarter.json)")
}

// applyDefaults sets default values for missing config fields.
func applyDefaults(cfg *Config) {
	// Server defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 7362
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}

	// Project defaults
	if cfg.Project.ID == "" {
		cfg.Project.ID = "default"
	}

	// Instance defaults
	if cfg.Author.Port == 0 {
		cfg.Author.Port = 4502
	}
	if cfg.Author.Runmode == "" {
		cfg.Author.Runmode = "author,local"
	}
	if cfg.Publish.Port == 0 {
		cfg.Publish.Port = 4503
	}
	if cfg.Publish.Runmode == "" {
		cfg.Publish.Runmode = "publish,local"
	}
	if cfg.Author.DebugPortOffset == 0 {
		cfg.Author.DebugPortOffset = 20000
	}
	if cfg.Publish.DebugPortOffset == 0 {
		cfg.Publish.DebugPortOffset = 20000
	}
	if len(cfg.Author.LogFiles) == 0 {
		cfg.Author.LogFiles = []string{"error.log"}
	}
	if len(cfg.Publish.LogFiles) == 0 {
		cfg.Publish.LogFiles = []string{"error.log"}
	}
	if cfg.Dispatcher.Port == 0 {
		cfg.Dispatcher.Port = 8080
	}
	if len(cfg.Dispatcher.LogFiles) == 0 {
		cfg.Dispatcher.LogFiles = []string{"dispatcher.log", "httpd_access.log"}
	}

	// Health defaults
	if cfg.Health.Interval == "" {
		cfg.Health.Interval = "30s"
	}
	if cfg.Health.Path == "" {
		cfg.Health.Path = "/libs/granite/core/content/login.html"
	}
	if cfg.Health.User == "" {
		cfg.Health.User = "admin"
	}
	if cfg.Health.Password == "" {
		cfg.Health.Password = "admin"
	}

	// Backup defaults
	if cfg.Backup.Dir == "" {
		cfg.Backup.Dir = "backups"
	}
	if cfg.Backup.CompactionJar == "" {
		cfg.Backup.CompactionJar = filepath.Join("crx-quickstart", "opt", "oak-run.jar")
	}
	if cfg.Backup.CompactionHeap == "" {
		cfg.Backup.CompactionHeap = "8g"
	}

	// Proxy defaults
	if cfg.Proxy.Port == 0 {
		cfg.Proxy.Port = 443
	}

	// Terminal defaults
	if cfg.Terminal.Shell == "" {
		cfg.Terminal.Shell = defaultShell()
	}

	// Events defaults
	if cfg.Events.History.MaxEvents == 0 {
		cfg.Events.History.MaxEvents = 10000
	}
	if cfg.Events.History.MaxAge == "" {
		cfg.Events.History.MaxAge = "1h"
	}
}
