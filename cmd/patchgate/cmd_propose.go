package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/odvcencio/patchgate/pkg/safety"
)

func newProposeCmd() *cobra.Command {
	var diffFile string
	var requirements string

	cmd := &cobra.Command{
		Use:   "propose <artifact-id> <base-version-id>",
		Short: "Propose a diff and request approval for it",
		Long: `Propose reads a unified diff (repo-relative paths, no a/ b/ prefixes),
records it as an immutable proposal pinned to the base version, stages
and safety-evaluates it, and opens a pending approval request.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			diffText, err := readDiff(diffFile)
			if err != nil {
				return err
			}

			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()
			ctx := cmd.Context()

			proposed, err := e.lifecycle.ProposePatch(ctx, args[0], args[1], diffText, requirements)
			if err != nil {
				return err
			}
			if !proposed.Success {
				return fmt.Errorf("%s", proposed.Err)
			}

			requested, err := e.lifecycle.RequestApproval(ctx, proposed.ID)
			if err != nil {
				return err
			}
			if !requested.Success {
				return fmt.Errorf("%s", requested.Err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "proposal %s\n", proposed.ID)
			fmt.Fprintf(out, "request  %s\n", requested.ID)

			req, err := e.ledger.GetApprovalRequest(ctx, requested.ID)
			if err != nil {
				return err
			}
			var eval safety.Evaluation
			if err := json.Unmarshal([]byte(req.Evaluation), &eval); err != nil {
				return fmt.Errorf("decode evaluation: %w", err)
			}
			fmt.Fprintf(out, "safe     %v (syntax valid: %v)\n", eval.Safe, eval.SyntaxValid)
			for _, issue := range eval.Issues {
				if issue.Capability == "" {
					fmt.Fprintf(out, "issue    %s\n", issue.Reason)
					continue
				}
				fmt.Fprintf(out, "issue    %s at %s:%d\n", issue.Capability, issue.Path, issue.Line)
			}
			for _, warning := range eval.Warnings {
				fmt.Fprintf(out, "warning  %s\n", warning)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&diffFile, "diff-file", "f", "", "unified diff file, - for stdin (required)")
	cmd.Flags().StringVarP(&requirements, "requirements", "m", "", "what this patch is meant to do")
	cmd.MarkFlagRequired("diff-file")
	return cmd
}

func readDiff(path string) (string, error) {
	if path == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("read diff from stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read diff: %w", err)
	}
	return string(data), nil
}
