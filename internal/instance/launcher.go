// Copyright © 2026 the aemstarter authors
// SPDX-License-Identifier: Apache-2.0

package instance

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/dfoerderreuther/aemstarter/internal/project"
)

// launcherName is the marker every managed server process carries in its
// command line. killAll sweeps by it.
const launcherName = "quickstart"

// launchSpec describes how to spawn an instance.
type launchSpec struct {
	Path string   // Executable (script or java)
	Args []string // Arguments
	Dir  string   // Working directory
	Env  []string // Extra environment entries (KEY=VALUE)
}

// resolveLauncher inspects the instance directory and builds the launch
// command. The directory must contain either a platform launcher script or a
// runnable quickstart jar.
func resolveLauncher(proj *project.Project, typ project.InstanceType, mode StartMode) (launchSpec, error) {
	dir := proj.InstanceDir(typ)
	settings := proj.Settings(typ)

	env := []string{
		"CQ_PORT=" + strconv.Itoa(settings.Port),
		"CQ_RUNMODE=" + settings.Runmode,
	}

	jvmOpts := append([]string{}, settings.JVMOpts...)
	if mode == ModeDebug {
		jvmOpts = append(jvmOpts, debugFlag(settings.DebugPort()))
	}
	if len(jvmOpts) > 0 {
		env = append(env, "CQ_JVM_OPTS="+strings.Join(jvmOpts, " "))
	}

	// Launcher script takes precedence over a bare jar.
	script := launcherScript(proj, typ)
	if script != "" {
		return launchSpec{Path: script, Dir: dir, Env: env}, nil
	}

	// App-server instances can also be started from a runnable quickstart jar.
	if typ != project.Dispatcher {
		if jar := findQuickstartJar(dir); jar != "" {
			args := append([]string{}, jvmOpts...)
			args = append(args, "-jar", jar,
				"-port", strconv.Itoa(settings.Port),
				"-r", settings.Runmode,
				"-nointeractive")
			args = append(args, settings.RunArgs...)
			return launchSpec{Path: "java", Args: args, Dir: dir, Env: env}, nil
		}
	}

	return launchSpec{}, fmt.Errorf("%w: %s", ErrLauncherMissing, dir)
}

// launcherScript returns the instance's start script path, or "" if absent.
func launcherScript(proj *project.Project, typ project.InstanceType) string {
	var candidates []string
	if typ == project.Dispatcher {
		candidates = []string{filepath.Join(proj.InstanceDir(typ), "bin", "start")}
	} else {
		candidates = []string{filepath.Join(proj.QuickstartDir(typ), "bin", "start")}
	}
	for _, c := range candidates {
		if runtime.GOOS == "windows" {
			c += ".bat"
		}
		if info, err := os.Stat(c); err == nil && !info.IsDir() {
			return c
		}
	}
	return ""
}

// findQuickstartJar returns the first runnable quickstart jar in dir.
func findQuickstartJar(dir string) string {
	matches, err := filepath.Glob(filepath.Join(dir, "*.jar"))
	if err != nil {
		return ""
	}
	for _, m := range matches {
		if strings.Contains(strings.ToLower(filepath.Base(m)), launcherName) {
			return m
		}
	}
	return ""
}

// debugFlag builds the fixed remote-debug JVM argument for the given port.
func debugFlag(port int) string {
	return fmt.Sprintf("-agentlib:jdwp=transport=dt_socket,server=y,suspend=n,address=*:%d", port)
}
