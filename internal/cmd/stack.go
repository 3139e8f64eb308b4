// Copyright © 2026 the aemstarter authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var startDebug bool

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start author, publish, dispatcher and the front proxy",
	Long: `Start the full stack. Author and publish come up concurrently; the
dispatcher waits for publish to answer its health check before it
starts. The launched instances keep running after aemstarter exits.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(cmd)
		if err != nil {
			return err
		}
		defer a.Shutdown(context.Background())

		if startDebug {
			return a.Coordinator().StartDebug(cmd.Context())
		}
		return a.Coordinator().Start(cmd.Context())
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop all running stack components",
	Long: `Stop every running component. Each instance's listening-port owner is
resolved fresh, so instances started by an earlier aemstarter
invocation are stopped too. Stop is best-effort and reports partial
failures instead of aborting.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(cmd)
		if err != nil {
			return err
		}
		defer a.Shutdown(context.Background())

		results := a.Coordinator().Stop(cmd.Context())
		for _, res := range results {
			how := "was not running"
			switch {
			case res.Forced:
				how = "killed"
			case res.Graceful:
				how = "stopped"
			case res.WasRunning:
				how = "stop attempted"
			}
			fmt.Printf("%-12s %s\n", res.Instance, how)
			for _, e := range res.Errors {
				fmt.Printf("%-12s   %s\n", "", e)
			}
		}
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the state of each stack component",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(cmd)
		if err != nil {
			return err
		}
		defer a.Shutdown(context.Background())

		for _, sup := range a.Registry().All(a.Project().ID) {
			running := sup.IsRunning(cmd.Context())
			st := sup.Status()
			line := fmt.Sprintf("%-12s port %-6d", sup.Type(), sup.Port())
			if running {
				if st.PID > 0 {
					line += fmt.Sprintf("running (pid %d)", st.PID)
				} else {
					line += "running"
				}
			} else {
				line += "stopped"
			}
			fmt.Println(line)
		}
		return nil
	},
}

var killAllCmd = &cobra.Command{
	Use:   "killall",
	Short: "Force-kill every quickstart process on this machine",
	Long: `Sweep the whole machine for quickstart launcher processes and SIGKILL
them, including instances no aemstarter invocation is tracking. Use
when a stack is wedged beyond a normal stop.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(cmd)
		if err != nil {
			return err
		}
		defer a.Shutdown(context.Background())

		result := a.Registry().KillAll(cmd.Context())
		if len(result.Killed) == 0 && len(result.Errors) == 0 {
			fmt.Println("no quickstart processes found")
			return nil
		}
		if len(result.Killed) > 0 {
			pids := make([]string, len(result.Killed))
			for i, pid := range result.Killed {
				pids[i] = fmt.Sprintf("%d", pid)
			}
			fmt.Printf("killed %d process(es): %s\n", len(result.Killed), strings.Join(pids, ", "))
		}
		for _, e := range result.Errors {
			fmt.Println(e)
		}
		return nil
	},
}

func init() {
	startCmd.Flags().BoolVar(&startDebug, "debug", false, "start author and publish with JDWP debug ports")
	rootCmd.AddCommand(startCmd, stopCmd, statusCmd, killAllCmd)
}
