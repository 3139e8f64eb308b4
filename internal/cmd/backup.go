// Copyright © 2026 the aemstarter authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var backupNoCompress bool

var backupCmd = &cobra.Command{
	Use:   "backup [name]",
	Short: "Create a backup archive of the stack data",
	Long: `Archive the repository data of author and publish plus the dispatcher
cache and config into one tar archive. Segment stores are compacted
first when the compaction tool is present. Instances should be stopped
before backing up; use the "backup" automation task via the API for a
stop-backup-start cycle.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(cmd)
		if err != nil {
			return err
		}
		defer a.Shutdown(context.Background())

		name := time.Now().Format("20060102_150405")
		if len(args) > 0 {
			name = args[0]
		}

		rec, err := a.Backups().Backup(cmd.Context(), name, !backupNoCompress)
		if err != nil {
			return err
		}
		fmt.Printf("created %s (%d bytes)\n", rec.Name, rec.Size)
		return nil
	},
}

var backupsCmd = &cobra.Command{
	Use:   "backups",
	Short: "List backup archives, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(cmd)
		if err != nil {
			return err
		}
		defer a.Shutdown(context.Background())

		records, err := a.Backups().List()
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Println("no backups")
			return nil
		}
		for _, rec := range records {
			fmt.Printf("%-40s %s  %d bytes\n", rec.Name, rec.CreatedAt.Format(time.RFC3339), rec.Size)
		}
		return nil
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore <name>",
	Short: "Restore the stack data from a backup archive",
	Long: `Extract a backup archive over the project folder, replacing the
repository data of author and publish and the dispatcher cache and
config. Stop the stack first; restoring under running instances
corrupts their repositories.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(cmd)
		if err != nil {
			return err
		}
		defer a.Shutdown(context.Background())

		if err := a.Backups().Restore(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("restored %s\n", args[0])
		return nil
	},
}

func init() {
	backupCmd.Flags().BoolVar(&backupNoCompress, "no-compress", false, "write a plain .tar instead of .tar.gz")
	rootCmd.AddCommand(backupCmd, backupsCmd, restoreCmd)
}
