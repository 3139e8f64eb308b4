// Copyright © 2026 the aemstarter authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"github.com/spf13/cobra"

	"github.com/dfoerderreuther/aemstarter/internal/app"
)

var (
	serveHost string
	servePort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the orchestrator with its HTTP API",
	Long: `Run the orchestrator as a long-lived process serving the REST and
WebSocket API. Instances, log tails, health checks, terminals and the
front proxy are all managed from this process until it receives SIGINT
or SIGTERM.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := resolveConfigPath()
		if err != nil {
			return err
		}
		a, err := app.New(app.Options{
			ConfigPath: path,
			Host:       serveHost,
			Port:       servePort,
			Version:    Version,
		})
		if err != nil {
			return err
		}
		return a.Run(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "override the API listen host")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "override the API listen port")
	rootCmd.AddCommand(serveCmd)
}
