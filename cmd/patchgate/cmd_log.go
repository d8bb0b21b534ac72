package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newLogCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "log <artifact-id>",
		Short: "List an artifact's versions in creation order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			versions, err := e.store.ListVersions(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if len(versions) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no versions yet")
				return nil
			}

			out := cmd.OutOrStdout()
			for _, v := range versions {
				base := v.BaseVersionID
				if base == "" {
					base = "(initial)"
				}
				fmt.Fprintf(out, "%s  %s  base %s  %d file(s)  %s\n",
					v.ID, v.CreatedAt.Format("2006-01-02 15:04:05"), base, v.FileCount, v.CommitMessage)
			}
			return nil
		},
	}
}
