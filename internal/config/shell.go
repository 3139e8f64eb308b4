// Copyright © 2026 the aemstarter authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"runtime"
)

// defaultShell picks a starting point for the terminal shell. The terminal
// manager applies per-platform fallback candidates if this binary is missing.
func defaultShell() string {
	if runtime.GOOS == "windows" {
		return "powershell.exe"
	}
	if sh := os.Getenv("SHELL"); sh != "" {
		return sh
	}
	return "/bin/bash"
}
