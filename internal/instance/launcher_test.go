// Copyright © 2026 the aemstarter authors
// SPDX-License-Identifier: Apache-2.0

package instance

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dfoerderreuther/aemstarter/internal/project"
)

func writeScript(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\nexit 0\n"), 0o755))
}

func TestResolveLauncherMissing(t *testing.T) {
	proj := testProject(t)
	require.NoError(t, os.MkdirAll(proj.InstanceDir(project.Author), 0o755))

	_, err := resolveLauncher(proj, project.Author, ModeNormal)
	assert.True(t, errors.Is(err, ErrLauncherMissing))
}

func TestResolveLauncherPrefersScript(t *testing.T) {
	proj := testProject(t)
	script := filepath.Join(proj.QuickstartDir(project.Author), "bin", "start")
	writeScript(t, script)

	spec, err := resolveLauncher(proj, project.Author, ModeNormal)
	require.NoError(t, err)
	assert.Equal(t, script, spec.Path)
	assert.Equal(t, proj.InstanceDir(project.Author), spec.Dir)
	assert.Contains(t, spec.Env, "CQ_PORT=4502")
	assert.Contains(t, spec.Env, "CQ_RUNMODE=author,local")
}

func TestResolveLauncherDebugAppendsJdwpFlag(t *testing.T) {
	proj := testProject(t)
	proj.Author.DebugPortOffset = 20000
	writeScript(t, filepath.Join(proj.QuickstartDir(project.Author), "bin", "start"))

	spec, err := resolveLauncher(proj, project.Author, ModeDebug)
	require.NoError(t, err)

	var jvmOpts string
	for _, e := range spec.Env {
		if strings.HasPrefix(e, "CQ_JVM_OPTS=") {
			jvmOpts = e
		}
	}
	assert.Contains(t, jvmOpts, "-agentlib:jdwp=transport=dt_socket,server=y,suspend=n,address=*:24502")
}

func TestResolveLauncherJarFallback(t *testing.T) {
	proj := testProject(t)
	dir := proj.InstanceDir(project.Publish)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	jar := filepath.Join(dir, "aem-quickstart-6.5.0.jar")
	require.NoError(t, os.WriteFile(jar, []byte("jar"), 0o644))

	spec, err := resolveLauncher(proj, project.Publish, ModeNormal)
	require.NoError(t, err)
	assert.Equal(t, "java", spec.Path)
	assert.Contains(t, spec.Args, "-jar")
	assert.Contains(t, spec.Args, jar)
	assert.Contains(t, spec.Args, "-port")
	assert.Contains(t, spec.Args, "4503")
	assert.Contains(t, spec.Args, "-nointeractive")
}

func TestResolveLauncherDispatcherHasNoJarFallback(t *testing.T) {
	proj := testProject(t)
	dir := proj.InstanceDir(project.Dispatcher)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "quickstart.jar"), []byte("jar"), 0o644))

	_, err := resolveLauncher(proj, project.Dispatcher, ModeNormal)
	assert.True(t, errors.Is(err, ErrLauncherMissing))
}

func TestDebugFlagFormat(t *testing.T) {
	assert.Equal(t,
		"-agentlib:jdwp=transport=dt_socket,server=y,suspend=n,address=*:24502",
		debugFlag(24502))
}
