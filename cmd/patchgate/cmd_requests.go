package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/odvcencio/patchgate/pkg/approval"
)

func newRequestsCmd() *cobra.Command {
	var status string

	cmd := &cobra.Command{
		Use:   "requests",
		Short: "List approval requests awaiting a decision",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			want := approval.Status(strings.ToUpper(status))
			requests, err := e.ledger.ListRequestsByStatus(cmd.Context(), want)
			if err != nil {
				return err
			}
			if len(requests) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "no %s requests\n", want)
				return nil
			}

			out := cmd.OutOrStdout()
			for _, r := range requests {
				fmt.Fprintf(out, "%s  proposal %s  %s  %s\n",
					r.ID, r.ProposalID, r.Status, r.CreatedAt.Format("2006-01-02 15:04:05"))
				if r.DecisionReason != "" {
					fmt.Fprintf(out, "    reason: %s\n", r.DecisionReason)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", string(approval.StatusPending), "filter by status (PENDING, APPROVED, REJECTED, APPLIED)")
	return cmd
}
