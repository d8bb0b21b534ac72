// Package lifecycle sequences the full patch workflow: propose,
// evaluate and request approval, then apply once a human has decided.
//
// Every operation returns a structured Result so callers never branch
// on error types for ordinary control flow. A Go error is returned
// only for storage failures.
package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/odvcencio/patchgate/pkg/approval"
	"github.com/odvcencio/patchgate/pkg/patch"
	"github.com/odvcencio/patchgate/pkg/safety"
	"github.com/odvcencio/patchgate/pkg/store"
)

// Result is the outcome of one lifecycle operation. ID carries the
// primary identifier the operation produced (proposal, request, or
// version id) and is empty on failure.
type Result struct {
	Success bool   `json:"success"`
	ID      string `json:"id,omitempty"`
	Err     string `json:"error,omitempty"`
}

func failure(format string, args ...any) Result {
	return Result{Err: fmt.Sprintf(format, args...)}
}

// Lifecycle wires the store, applier, checker, and approval ledger
// behind one facade. All collaborators are injected; there is no
// ambient state.
type Lifecycle struct {
	store   *store.Store
	applier *patch.Applier
	checker *safety.Checker
	ledger  *approval.Ledger
	log     *slog.Logger
}

func New(st *store.Store, applier *patch.Applier, checker *safety.Checker, ledger *approval.Ledger, logger *slog.Logger) *Lifecycle {
	if logger == nil {
		logger = slog.Default()
	}
	return &Lifecycle{
		store:   st,
		applier: applier,
		checker: checker,
		ledger:  ledger,
		log:     logger,
	}
}

// ProposePatch records an immutable proposal pinning diffText against
// baseVersionID.
func (pl *Lifecycle) ProposePatch(ctx context.Context, artifactID, baseVersionID, diffText, requirements string) (Result, error) {
	proposalID, err := pl.ledger.CreatePatchProposal(ctx, artifactID, baseVersionID, diffText, requirements)
	if errors.Is(err, store.ErrIntegrity) {
		return failure("artifact %s or base version %s does not exist", artifactID, baseVersionID), nil
	}
	if err != nil {
		return Result{}, err
	}
	return Result{Success: true, ID: proposalID}, nil
}

// RequestApproval stages the proposal's diff, evaluates the candidate
// tree, and opens a PENDING approval request carrying the evaluation.
// Nothing is persisted when the diff is malformed or does not apply.
func (pl *Lifecycle) RequestApproval(ctx context.Context, proposalID string) (Result, error) {
	proposal, err := pl.ledger.GetPatchProposal(ctx, proposalID)
	if errors.Is(err, store.ErrNotFound) {
		return failure("proposal %s not found", proposalID), nil
	}
	if err != nil {
		return Result{}, err
	}

	applied, err := pl.applier.ApplyToWorkspace(ctx, proposal.BaseVersionID, proposal.DiffText)
	if err != nil {
		return Result{}, fmt.Errorf("request approval %s: %w", proposalID, err)
	}
	if !applied.Success {
		return failure("patch does not apply cleanly: %s", applied.Err), nil
	}

	eval, err := pl.checker.EvaluatePatch(ctx, proposal.BaseVersionID, proposal.DiffText, applied.Manifest)
	if err != nil {
		return Result{}, fmt.Errorf("request approval %s: %w", proposalID, err)
	}
	evalJSON, err := json.Marshal(eval)
	if err != nil {
		return Result{}, fmt.Errorf("request approval %s: encode evaluation: %w", proposalID, err)
	}

	requestID, err := pl.ledger.CreateApprovalRequest(ctx, proposalID, eval.Hash, string(evalJSON))
	if err != nil {
		return Result{}, err
	}

	pl.log.Info("approval requested",
		"proposal_id", proposalID,
		"request_id", requestID,
		"safe", eval.Safe,
		"issues", len(eval.Issues),
		"warnings", len(eval.Warnings))
	return Result{Success: true, ID: requestID}, nil
}

// ApplyApprovedPatch re-applies the proposal's diff and commits the
// resulting version, then marks the request APPLIED. The diff is
// re-derived rather than trusting the evaluation-time staging, since
// time has passed. A newer sibling version built on the same base is
// logged as drift but does not block.
func (pl *Lifecycle) ApplyApprovedPatch(ctx context.Context, proposalID string) (Result, error) {
	request, err := pl.ledger.GetApprovalByProposal(ctx, proposalID)
	if errors.Is(err, store.ErrNotFound) {
		return failure("no approval request found for proposal %s", proposalID), nil
	}
	if err != nil {
		return Result{}, err
	}
	if request.Status != approval.StatusApproved {
		return failure("patch not approved (status: %s)", request.Status), nil
	}

	proposal, err := pl.ledger.GetPatchProposal(ctx, proposalID)
	if errors.Is(err, store.ErrNotFound) {
		return failure("proposal %s not found", proposalID), nil
	}
	if err != nil {
		return Result{}, err
	}

	ok, versionID, errMsg, err := pl.applier.ApplyAndCreateVersion(ctx,
		proposal.ArtifactID, proposal.BaseVersionID, proposal.DiffText, proposal.Requirements)
	if err != nil {
		return Result{}, fmt.Errorf("apply approved patch %s: %w", proposalID, err)
	}
	if !ok {
		return failure("%s", errMsg), nil
	}

	siblings, err := pl.store.SiblingVersions(ctx, proposal.ArtifactID, proposal.BaseVersionID, versionID)
	if err != nil {
		return Result{}, fmt.Errorf("apply approved patch %s: %w", proposalID, err)
	}
	if len(siblings) > 0 {
		pl.log.Warn("base version has other descendants",
			"proposal_id", proposalID,
			"base_version_id", proposal.BaseVersionID,
			"siblings", siblings)
	}

	marked, err := pl.ledger.MarkApplied(ctx, request.ID, versionID)
	if err != nil {
		return Result{}, err
	}
	if !marked {
		// The version exists either way; a racing decision only affects
		// the ledger state.
		pl.log.Warn("request no longer approved at apply time",
			"request_id", request.ID, "version_id", versionID)
	}

	pl.log.Info("patch applied",
		"proposal_id", proposalID,
		"request_id", request.ID,
		"version_id", versionID)
	return Result{Success: true, ID: versionID}, nil
}

// CheckApprovalStatus reports the latest request state for a proposal.
func (pl *Lifecycle) CheckApprovalStatus(ctx context.Context, proposalID string) (*approval.ApprovalRequest, error) {
	return pl.ledger.GetApprovalByProposal(ctx, proposalID)
}
