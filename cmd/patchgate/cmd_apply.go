package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newApplyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "apply <proposal-id>",
		Short: "Apply an approved proposal and commit the resulting version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			res, err := e.lifecycle.ApplyApprovedPatch(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !res.Success {
				return fmt.Errorf("%s", res.Err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "version %s\n", res.ID)
			return nil
		},
	}
}
