package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
)

func newMaterializeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "materialize <version-id> <target-dir>",
		Short: "Reconstruct a version's file tree, verifying every blob",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := filepath.Abs(args[1])
			if err != nil {
				return fmt.Errorf("resolve target: %w", err)
			}

			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			if err := e.store.Materialize(cmd.Context(), args[0], target); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "materialized %s into %s\n", args[0], target)
			return nil
		},
	}
}
