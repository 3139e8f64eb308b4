// Copyright © 2026 the aemstarter authors
// SPDX-License-Identifier: Apache-2.0

package instance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dfoerderreuther/aemstarter/internal/project"
)

func TestRegistryLazyCreation(t *testing.T) {
	proj := testProject(t)
	reg := NewRegistry(nil, &fakeScanner{}, nil, HealthConfig{Path: "/"})
	defer reg.Shutdown()

	_, ok := reg.Lookup(proj.ID, project.Author)
	assert.False(t, ok, "no supervisor before first request")

	s1 := reg.Supervisor(proj, project.Author)
	s2 := reg.Supervisor(proj, project.Author)
	assert.Same(t, s1, s2, "one supervisor per (project, type)")

	got, ok := reg.Lookup(proj.ID, project.Author)
	require.True(t, ok)
	assert.Same(t, s1, got)
}

func TestRegistryHealthOnlyForAppServers(t *testing.T) {
	proj := testProject(t)
	reg := NewRegistry(nil, &fakeScanner{}, nil, HealthConfig{Path: "/"})
	defer reg.Shutdown()

	assert.NotNil(t, reg.Supervisor(proj, project.Author).Health())
	assert.NotNil(t, reg.Supervisor(proj, project.Publish).Health())
	assert.Nil(t, reg.Supervisor(proj, project.Dispatcher).Health())
}

func TestRegistryAllReturnsDependencyOrder(t *testing.T) {
	proj := testProject(t)
	reg := NewRegistry(nil, &fakeScanner{}, nil, HealthConfig{})
	defer reg.Shutdown()

	// Create out of order
	reg.Supervisor(proj, project.Dispatcher)
	reg.Supervisor(proj, project.Author)
	reg.Supervisor(proj, project.Publish)

	all := reg.All(proj.ID)
	require.Len(t, all, 3)
	assert.Equal(t, project.Author, all[0].Type())
	assert.Equal(t, project.Publish, all[1].Type())
	assert.Equal(t, project.Dispatcher, all[2].Type())
}

func TestRegistryShutdownClears(t *testing.T) {
	proj := testProject(t)
	reg := NewRegistry(nil, &fakeScanner{}, nil, HealthConfig{})

	s := reg.Supervisor(proj, project.Author)
	s.Health().Start()

	reg.Shutdown()
	assert.False(t, s.Health().Running(), "shutdown stops health schedules")
	_, ok := reg.Lookup(proj.ID, project.Author)
	assert.False(t, ok)
}
