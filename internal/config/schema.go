// Copyright © 2026 the aemstarter authors
// SPDX-License-Identifier: Apache-2.0

// Package config handles HJSON configuration loading and defaults.
package config

import (
	"time"
)

// Config is the root configuration structure for aemstarter.
type Config struct {
	Version    string           `json:"version"`
	Project    ProjectConfig    `json:"project"`
	Server     ServerConfig     `json:"server"`
	Author     InstanceConfig   `json:"author"`
	Publish    InstanceConfig   `json:"publish"`
	Dispatcher DispatcherConfig `json:"dispatcher"`
	Health     HealthConfig     `json:"health"`
	Backup     BackupConfig     `json:"backup"`
	Proxy      ProxyConfig      `json:"proxy"`
	Terminal   TerminalConfig   `json:"terminal"`
	Events     EventsConfig     `json:"events"`
}

// ProjectConfig contains project metadata.
type ProjectConfig struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Folder string `json:"folder"` // Root directory holding author/, publish/, dispatcher/
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port    int    `json:"port"`
	Host    string `json:"host"`
	TLSCert string `json:"tls_cert"` // Path to TLS certificate file (enables HTTPS if both cert and key set)
	TLSKey  string `json:"tls_key"`  // Path to TLS private key file
}

// InstanceConfig configures one content-repository instance (author or publish).
type InstanceConfig struct {
	Port            int      `json:"port"`
	Runmode         string   `json:"runmode"`
	JVMOpts         []string `json:"jvm_opts"`
	RunArgs         []string `json:"run_args"`
	DebugPortOffset int      `json:"debug_port_offset"` // Added to Port for the remote-debug listener
	LogFiles        []string `json:"log_files"`         // Default tail selection, relative to the instance log dir
}

// DispatcherConfig configures the caching reverse-proxy instance.
type DispatcherConfig struct {
	Port     int      `json:"port"`
	LogFiles []string `json:"log_files"`
}

// HealthConfig configures the periodic health probe.
type HealthConfig struct {
	Interval    string `json:"interval"` // Probe interval, e.g. "30s"
	Path        string `json:"path"`     // Login/health path probed with basic auth
	User        string `json:"user"`
	Password    string `json:"password"`
	Screenshots bool   `json:"screenshots"` // Capture a screenshot on successful probes
}

// BackupConfig configures backup archives and compaction.
type BackupConfig struct {
	Dir            string `json:"dir"`             // Backup directory, relative to the project folder if not absolute
	CompactionJar  string `json:"compaction_jar"`  // Path to the oak-run jar, relative to the instance dir if not absolute
	CompactionHeap string `json:"compaction_heap"` // JVM heap for offline compaction, e.g. "8g"
}

// ProxyConfig configures the TLS front proxy.
type ProxyConfig struct {
	Enabled      bool `json:"enabled"`
	Port         int  `json:"port"`          // TLS listen port (default 443)
	TLSTailscale bool `json:"tls_tailscale"` // Use the Tailscale daemon for certificates instead of self-signed
}

// TerminalConfig configures pseudo-terminal sessions.
type TerminalConfig struct {
	Shell string `json:"shell"` // Preferred shell; platform fallbacks apply if missing
}

// EventsConfig configures the event system.
type EventsConfig struct {
	History EventHistoryConfig `json:"history"`
}

// EventHistoryConfig configures event retention.
type EventHistoryConfig struct {
	MaxEvents int    `json:"max_events"`
	MaxAge    string `json:"max_age"` // Duration like "1h"
}

// ParseDuration parses a duration string, returning the fallback on error or
// empty input.
func ParseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
