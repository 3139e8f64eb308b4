// Copyright © 2026 the aemstarter authors
// SPDX-License-Identifier: Apache-2.0

// Package cmd provides the CLI commands for the aemstarter tool.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dfoerderreuther/aemstarter/internal/app"
	"github.com/dfoerderreuther/aemstarter/internal/config"
)

// Version is set at build time via -ldflags.
var Version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:     "aemstarter",
	Short:   "Local AEM development stack manager",
	Version: Version,
	Long: `aemstarter manages a local AEM development stack: an author and a
publish content-repository server, a caching dispatcher in front of
publish, and an optional TLS front proxy.

Instances are started through their quickstart launcher and tracked by
the process that owns their listening port, so a fresh aemstarter
invocation can stop instances started by an earlier one.`,
	SilenceUsage: true,
}

// Execute runs the root command and returns an exit code for main.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		return 1
	}
	return 0
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to aemstarter.hjson (default: search current directory)")
}

// resolveConfigPath returns the --config flag value or searches the current
// directory for a config file.
func resolveConfigPath() (string, error) {
	if configPath != "" {
		return configPath, nil
	}
	return config.NewLoader().FindConfig()
}

// loadApp builds a fully initialized application from the resolved config.
// Callers own the shutdown.
func loadApp(cmd *cobra.Command) (*app.App, error) {
	path, err := resolveConfigPath()
	if err != nil {
		return nil, err
	}

	a, err := app.New(app.Options{ConfigPath: path, Version: Version})
	if err != nil {
		return nil, err
	}
	if err := a.Initialize(cmd.Context()); err != nil {
		return nil, fmt.Errorf("initialize: %w", err)
	}
	return a, nil
}
