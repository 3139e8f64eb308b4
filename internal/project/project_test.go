// Copyright © 2026 the aemstarter authors
// SPDX-License-Identifier: Apache-2.0

package project

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInstanceType_Valid(t *testing.T) {
	assert.True(t, Author.Valid())
	assert.True(t, Publish.Valid())
	assert.True(t, Dispatcher.Valid())
	assert.False(t, InstanceType("replication").Valid())
	assert.False(t, InstanceType("").Valid())
}

func TestAllTypes_DependencyOrder(t *testing.T) {
	assert.Equal(t, []InstanceType{Author, Publish, Dispatcher}, AllTypes())
}

func TestSettings(t *testing.T) {
	p := &Project{
		Author:     InstanceSettings{Port: 4502},
		Publish:    InstanceSettings{Port: 4503},
		Dispatcher: InstanceSettings{Port: 8080},
	}
	assert.Equal(t, 4502, p.Settings(Author).Port)
	assert.Equal(t, 4503, p.Settings(Publish).Port)
	assert.Equal(t, 8080, p.Settings(Dispatcher).Port)
}

func TestDebugPort(t *testing.T) {
	s := InstanceSettings{Port: 4502, DebugPortOffset: 20000}
	assert.Equal(t, 24502, s.DebugPort())
}

func TestDirectoryLayout(t *testing.T) {
	p := &Project{Folder: "/srv/aem"}

	assert.Equal(t, filepath.Join("/srv/aem", "author"), p.InstanceDir(Author))
	assert.Equal(t, filepath.Join("/srv/aem", "author", "crx-quickstart"), p.QuickstartDir(Author))
	assert.Equal(t, filepath.Join("/srv/aem", "author", "crx-quickstart", "logs"), p.LogDir(Author))
	// The dispatcher keeps its logs directly under its instance dir.
	assert.Equal(t, filepath.Join("/srv/aem", "dispatcher", "logs"), p.LogDir(Dispatcher))
	assert.Equal(t, filepath.Join("/srv/aem", "publish", "crx-quickstart", "repository", "segmentstore"), p.SegmentStoreDir(Publish))
	assert.Equal(t, filepath.Join("/srv/aem", "screenshots"), p.ScreenshotDir())
	assert.Equal(t, filepath.Join("/srv/aem", "certs"), p.CertDir())
}

func TestArchiveMembers(t *testing.T) {
	p := &Project{Folder: "/srv/aem"}
	members := p.ArchiveMembers()
	assert.Equal(t, []string{
		filepath.Join("author", "crx-quickstart"),
		filepath.Join("publish", "crx-quickstart"),
		filepath.Join("dispatcher", "cache"),
		filepath.Join("dispatcher", "config"),
	}, members)
}
