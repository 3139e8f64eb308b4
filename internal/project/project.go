// Copyright © 2026 the aemstarter authors
// SPDX-License-Identifier: Apache-2.0

// Package project defines the read-only project record supplied by the
// caller on every core operation. The core never mutates or persists it.
package project

import (
	"path/filepath"
)

// InstanceType identifies one of the three managed instances.
type InstanceType string

const (
	Author     InstanceType = "author"
	Publish    InstanceType = "publish"
	Dispatcher InstanceType = "dispatcher"
)

// AllTypes returns the managed instance types in dependency order.
func AllTypes() []InstanceType {
	return []InstanceType{Author, Publish, Dispatcher}
}

// Valid reports whether t names a managed instance type.
func (t InstanceType) Valid() bool {
	switch t {
	case Author, Publish, Dispatcher:
		return true
	}
	return false
}

// InstanceSettings holds per-instance runtime settings.
type InstanceSettings struct {
	Port            int
	Runmode         string
	JVMOpts         []string
	RunArgs         []string
	DebugPortOffset int
	LogFiles        []string // Default tail selection, relative to the log dir
}

// DebugPort returns the remote-debug listener port for debug-mode starts.
func (s InstanceSettings) DebugPort() int {
	return s.Port + s.DebugPortOffset
}

// Project is the immutable description of one managed stack.
type Project struct {
	ID     string
	Name   string
	Folder string

	Author     InstanceSettings
	Publish    InstanceSettings
	Dispatcher InstanceSettings
}

// Settings returns the settings for the given instance type.
func (p *Project) Settings(t InstanceType) InstanceSettings {
	switch t {
	case Author:
		return p.Author
	case Publish:
		return p.Publish
	default:
		return p.Dispatcher
	}
}

// InstanceDir returns the instance's directory under the project folder.
func (p *Project) InstanceDir(t InstanceType) string {
	return filepath.Join(p.Folder, string(t))
}

// QuickstartDir returns the crx-quickstart directory of an app-server
// instance. Meaningless for the dispatcher.
func (p *Project) QuickstartDir(t InstanceType) string {
	return filepath.Join(p.InstanceDir(t), "crx-quickstart")
}

// LogDir returns the directory holding an instance's log files.
func (p *Project) LogDir(t InstanceType) string {
	if t == Dispatcher {
		return filepath.Join(p.InstanceDir(t), "logs")
	}
	return filepath.Join(p.QuickstartDir(t), "logs")
}

// RepositoryDir returns the persisted repository of an app-server instance,
// the target of offline compaction.
func (p *Project) RepositoryDir(t InstanceType) string {
	return filepath.Join(p.QuickstartDir(t), "repository")
}

// SegmentStoreDir returns the segment store inside the repository.
func (p *Project) SegmentStoreDir(t InstanceType) string {
	return filepath.Join(p.RepositoryDir(t), "segmentstore")
}

// ScreenshotDir returns the directory health-probe screenshots are saved to.
func (p *Project) ScreenshotDir() string {
	return filepath.Join(p.Folder, "screenshots")
}

// CertDir returns the fixed project-relative directory holding the front
// proxy's self-signed certificate.
func (p *Project) CertDir() string {
	return filepath.Join(p.Folder, "certs")
}

// ArchiveMembers returns the paths included in a backup archive, relative to
// the project folder.
func (p *Project) ArchiveMembers() []string {
	return []string{
		filepath.Join("author", "crx-quickstart"),
		filepath.Join("publish", "crx-quickstart"),
		filepath.Join("dispatcher", "cache"),
		filepath.Join("dispatcher", "config"),
	}
}
