package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/odvcencio/patchgate/pkg/approval"
)

func newDecideCmd() *cobra.Command {
	var approve bool
	var reject bool
	var reason string
	var signKey string

	cmd := &cobra.Command{
		Use:   "decide <request-id>",
		Short: "Approve or reject a pending approval request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if approve == reject {
				return fmt.Errorf("exactly one of --approve or --reject is required")
			}
			requestID := args[0]

			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			keyPath := signKey
			if keyPath == "" {
				keyPath = e.cfg.SigningKey
			}
			signature := ""
			if keyPath != "" {
				signer, resolvedPath, err := newSSHDecisionSigner(keyPath)
				if err != nil {
					return err
				}
				signature, err = signer(approval.DecisionPayload(requestID, approve, reason))
				if err != nil {
					return fmt.Errorf("sign decision: %w", err)
				}
				e.log.Debug("decision signed", "key", resolvedPath)
			}

			ok, err := e.ledger.SubmitDecision(cmd.Context(), requestID, approve, reason, signature)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("request %s is not pending (or does not exist)", requestID)
			}

			verdict := "rejected"
			if approve {
				verdict = "approved"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", verdict, requestID)
			if signature != "" {
				fmt.Fprintln(cmd.OutOrStdout(), "decision signed")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&approve, "approve", false, "approve the request")
	cmd.Flags().BoolVar(&reject, "reject", false, "reject the request")
	cmd.Flags().StringVarP(&reason, "reason", "r", "", "decision reason")
	cmd.Flags().StringVar(&signKey, "sign-key", "", "SSH private key to sign the decision")
	return cmd
}
