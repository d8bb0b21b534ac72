package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
)

func newSnapshotCmd() *cobra.Command {
	var message string

	cmd := &cobra.Command{
		Use:   "snapshot <name> [tree]",
		Short: "Snapshot a workspace tree as a new artifact's initial version",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			tree := "."
			if len(args) > 1 {
				tree = args[1]
			}
			abs, err := filepath.Abs(tree)
			if err != nil {
				return fmt.Errorf("resolve tree: %w", err)
			}

			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			artifactID, versionID, err := e.store.SnapshotWorkspace(cmd.Context(), args[0], abs, message, nil)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "artifact %s\n", artifactID)
			fmt.Fprintf(out, "version  %s\n", versionID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&message, "message", "m", "initial snapshot", "commit message")
	return cmd
}
