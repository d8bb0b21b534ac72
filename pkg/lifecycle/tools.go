package lifecycle

import (
	"context"
	"fmt"
	"strings"
)

// ToolResult is the structured payload a tool call returns to an
// orchestrator. Message is human readable; ID carries the identifier
// the underlying operation produced.
type ToolResult struct {
	Success bool   `json:"success"`
	ID      string `json:"id,omitempty"`
	Message string `json:"message"`
}

// Tool describes one lifecycle operation as an orchestrator-callable.
// Args lists the required argument names in call order.
type Tool struct {
	Name        string
	Description string
	Args        []string
	Handler     func(ctx context.Context, args map[string]string) ToolResult
}

// Tools exposes the lifecycle operations as callables. Handlers never
// return Go errors; failures come back as unsuccessful results with a
// message, so an orchestrator can relay them verbatim.
func (pl *Lifecycle) Tools() []Tool {
	return []Tool{
		{
			Name:        "propose_patch",
			Description: "Create a patch proposal pinning a unified diff against a base version of an artifact. Returns a proposal id for the approval workflow.",
			Args:        []string{"artifact_id", "base_version_id", "diff", "requirements"},
			Handler: func(ctx context.Context, args map[string]string) ToolResult {
				res, err := pl.ProposePatch(ctx,
					args["artifact_id"], args["base_version_id"], args["diff"], args["requirements"])
				return toolResult(res, err, "created proposal %s", res.ID)
			},
		},
		{
			Name:        "request_patch_approval",
			Description: "Run the apply check and safety scan for a proposal and open a pending approval request carrying the evaluation.",
			Args:        []string{"proposal_id"},
			Handler: func(ctx context.Context, args map[string]string) ToolResult {
				res, err := pl.RequestApproval(ctx, args["proposal_id"])
				return toolResult(res, err, "created approval request %s", res.ID)
			},
		},
		{
			Name:        "check_approval_status",
			Description: "Report the latest approval request state for a proposal: PENDING, APPROVED, REJECTED, or APPLIED, with any decision reason.",
			Args:        []string{"proposal_id"},
			Handler: func(ctx context.Context, args map[string]string) ToolResult {
				req, err := pl.CheckApprovalStatus(ctx, args["proposal_id"])
				if err != nil {
					return ToolResult{Message: err.Error()}
				}
				var b strings.Builder
				fmt.Fprintf(&b, "status: %s", req.Status)
				if req.DecisionReason != "" {
					fmt.Fprintf(&b, " (%s)", req.DecisionReason)
				}
				return ToolResult{Success: true, ID: req.ID, Message: b.String()}
			},
		},
		{
			Name:        "apply_approved_patch",
			Description: "Apply an approved proposal's diff, commit the resulting immutable version, and mark the request applied. Returns the new version id.",
			Args:        []string{"proposal_id"},
			Handler: func(ctx context.Context, args map[string]string) ToolResult {
				res, err := pl.ApplyApprovedPatch(ctx, args["proposal_id"])
				return toolResult(res, err, "created version %s", res.ID)
			},
		},
		{
			Name:        "list_pending_approvals",
			Description: "List approval requests still awaiting a decision, oldest first.",
			Args:        nil,
			Handler: func(ctx context.Context, args map[string]string) ToolResult {
				pending, err := pl.ledger.ListPendingRequests(ctx)
				if err != nil {
					return ToolResult{Message: err.Error()}
				}
				if len(pending) == 0 {
					return ToolResult{Success: true, Message: "no pending approval requests"}
				}
				var b strings.Builder
				fmt.Fprintf(&b, "%d pending request(s):\n", len(pending))
				for _, r := range pending {
					fmt.Fprintf(&b, "  %s (proposal %s, created %s)\n",
						r.ID, r.ProposalID, r.CreatedAt.Format("2006-01-02 15:04:05"))
				}
				return ToolResult{Success: true, Message: strings.TrimRight(b.String(), "\n")}
			},
		},
	}
}

func toolResult(res Result, err error, okFormat string, okArgs ...any) ToolResult {
	if err != nil {
		return ToolResult{Message: err.Error()}
	}
	if !res.Success {
		return ToolResult{Message: res.Err}
	}
	return ToolResult{Success: true, ID: res.ID, Message: fmt.Sprintf(okFormat, okArgs...)}
}
