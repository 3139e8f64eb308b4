// Copyright © 2026 the aemstarter authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const sampleConfig = `{
  // aemstarter project configuration (HJSON: comments and trailing
  // commas are fine).
  project: {
    id: local
    name: Local AEM stack
    // folder defaults to this file's directory
  }

  server: {
    host: 127.0.0.1
    port: 7362
    // tls_cert: ~/certs/api.crt
    // tls_key: ~/certs/api.key
  }

  author: {
    port: 4502
    runmode: author,local
    jvm_opts: ["-Xmx4g"]
    log_files: ["error.log"]
  }

  publish: {
    port: 4503
    runmode: publish,local
    jvm_opts: ["-Xmx4g"]
    log_files: ["error.log"]
  }

  dispatcher: {
    port: 8080
    log_files: ["dispatcher.log", "httpd_access.log"]
  }

  health: {
    interval: 30s
    path: /libs/granite/core/content/login.html
    user: admin
    password: admin
    screenshots: false
  }

  backup: {
    dir: backups
    compaction_heap: 8g
  }

  proxy: {
    enabled: false
    port: 443
    tls_tailscale: false
  }
}
`

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a sample aemstarter.hjson to the current directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		const path = "aemstarter.hjson"
		if _, err := os.Stat(path); err == nil && !initForce {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
		if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
			return err
		}
		fmt.Printf("wrote %s\n", path)
		return nil
	},
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing config file")
	rootCmd.AddCommand(initCmd)
}
