// Package approval is the durable ledger of patch proposals and the
// state machine governing human decisions on them.
//
// Requests move PENDING -> APPROVED -> APPLIED, or PENDING -> REJECTED.
// No other transition is legal, and every transition is a single
// conditional UPDATE so racing deciders cannot both win.
package approval

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odvcencio/patchgate/pkg/store"
)

// Status is the lifecycle state of an approval request.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
	StatusApplied  Status = "APPLIED"
)

// ValidStatus reports whether s names a known request state.
func ValidStatus(s Status) bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusApplied:
		return true
	}
	return false
}

// PatchProposal pins a diff against a specific base version of an
// artifact. Rows are immutable once created.
type PatchProposal struct {
	ID            string
	ArtifactID    string
	BaseVersionID string
	DiffText      string
	DiffHash      string
	Requirements  string
	CreatedAt     time.Time
}

// ApprovalRequest tracks the decision on one proposal. Evaluation is
// the serialized safety evaluation shown to the decision maker;
// EvaluationHash fingerprints the inputs it was computed from.
type ApprovalRequest struct {
	ID                string
	ProposalID        string
	Status            Status
	CreatedAt         time.Time
	EvaluationHash    string
	Evaluation        string
	DecisionAt        time.Time
	DecisionReason    string
	DecisionSignature string
	AppliedVersionID  string
}

const ledgerSchema = `
CREATE TABLE IF NOT EXISTS patch_proposals (
	proposal_id     TEXT PRIMARY KEY,
	artifact_id     TEXT NOT NULL REFERENCES artifacts(artifact_id),
	base_version_id TEXT NOT NULL REFERENCES versions(version_id),
	diff_content    TEXT NOT NULL,
	diff_hash       TEXT NOT NULL,
	requirements    TEXT NOT NULL,
	created_at      TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS approval_requests (
	request_id         TEXT PRIMARY KEY,
	proposal_id        TEXT NOT NULL REFERENCES patch_proposals(proposal_id),
	status             TEXT NOT NULL,
	created_at         TEXT NOT NULL,
	evaluation_hash    TEXT NOT NULL,
	safety_evaluation  TEXT NOT NULL,
	decision_at        TEXT,
	decision_reason    TEXT,
	decision_signature TEXT,
	applied_version_id TEXT REFERENCES versions(version_id)
);

CREATE INDEX IF NOT EXISTS idx_requests_status ON approval_requests(status);
CREATE INDEX IF NOT EXISTS idx_requests_proposal ON approval_requests(proposal_id, created_at);
`

// Ledger persists proposals and requests in the catalog database
// alongside the version tables they reference.
type Ledger struct {
	db  *sql.DB
	log *slog.Logger
}

// NewLedger attaches the approval tables to an open catalog.
func NewLedger(st *store.Store, logger *slog.Logger) (*Ledger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db := st.DB()
	if _, err := db.Exec(ledgerSchema); err != nil {
		return nil, fmt.Errorf("approval: migrate: %w", err)
	}
	return &Ledger{db: db, log: logger}, nil
}

// CreatePatchProposal records a new immutable proposal. The referenced
// artifact and base version must exist.
func (l *Ledger) CreatePatchProposal(ctx context.Context, artifactID, baseVersionID, diffText, requirements string) (string, error) {
	proposalID := uuid.NewString()
	sum := sha256.Sum256([]byte(diffText))
	diffHash := hex.EncodeToString(sum[:])
	now := time.Now().UTC().Format(time.RFC3339Nano)

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO patch_proposals
			(proposal_id, artifact_id, base_version_id, diff_content, diff_hash, requirements, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		proposalID, artifactID, baseVersionID, diffText, diffHash, requirements, now)
	if err != nil {
		if isForeignKeyError(err) {
			return "", fmt.Errorf("create proposal: artifact %s or version %s: %w",
				artifactID, baseVersionID, store.ErrIntegrity)
		}
		return "", fmt.Errorf("create proposal: %w", err)
	}

	l.log.Info("proposal created",
		"proposal_id", proposalID,
		"artifact_id", artifactID,
		"base_version_id", baseVersionID)
	return proposalID, nil
}

// GetPatchProposal fetches one proposal by id.
func (l *Ledger) GetPatchProposal(ctx context.Context, proposalID string) (*PatchProposal, error) {
	row := l.db.QueryRowContext(ctx, `
		SELECT proposal_id, artifact_id, base_version_id, diff_content, diff_hash, requirements, created_at
		FROM patch_proposals WHERE proposal_id = ?`, proposalID)

	var p PatchProposal
	var createdAt string
	err := row.Scan(&p.ID, &p.ArtifactID, &p.BaseVersionID, &p.DiffText, &p.DiffHash, &p.Requirements, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("proposal %s: %w", proposalID, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get proposal %s: %w", proposalID, err)
	}
	p.CreatedAt = parseTime(createdAt)
	return &p, nil
}

// CreateApprovalRequest opens a PENDING request carrying the safety
// evaluation the decision maker will review.
func (l *Ledger) CreateApprovalRequest(ctx context.Context, proposalID, evaluationHash, evaluationJSON string) (string, error) {
	requestID := uuid.NewString()
	now := time.Now().UTC().Format(time.RFC3339Nano)

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO approval_requests
			(request_id, proposal_id, status, created_at, evaluation_hash, safety_evaluation)
		VALUES (?, ?, ?, ?, ?, ?)`,
		requestID, proposalID, string(StatusPending), now, evaluationHash, evaluationJSON)
	if err != nil {
		if isForeignKeyError(err) {
			return "", fmt.Errorf("create request: proposal %s: %w", proposalID, store.ErrIntegrity)
		}
		return "", fmt.Errorf("create request: %w", err)
	}

	l.log.Info("approval request created", "request_id", requestID, "proposal_id", proposalID)
	return requestID, nil
}

const requestColumns = `
	request_id, proposal_id, status, created_at, evaluation_hash, safety_evaluation,
	COALESCE(decision_at, ''), COALESCE(decision_reason, ''),
	COALESCE(decision_signature, ''), COALESCE(applied_version_id, '')`

func scanRequest(row interface{ Scan(...any) error }) (*ApprovalRequest, error) {
	var r ApprovalRequest
	var status, createdAt, decisionAt string
	err := row.Scan(&r.ID, &r.ProposalID, &status, &createdAt, &r.EvaluationHash, &r.Evaluation,
		&decisionAt, &r.DecisionReason, &r.DecisionSignature, &r.AppliedVersionID)
	if err != nil {
		return nil, err
	}
	r.Status = Status(status)
	r.CreatedAt = parseTime(createdAt)
	if decisionAt != "" {
		r.DecisionAt = parseTime(decisionAt)
	}
	return &r, nil
}

// GetApprovalRequest fetches one request by id.
func (l *Ledger) GetApprovalRequest(ctx context.Context, requestID string) (*ApprovalRequest, error) {
	row := l.db.QueryRowContext(ctx,
		`SELECT `+requestColumns+` FROM approval_requests WHERE request_id = ?`, requestID)
	r, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("request %s: %w", requestID, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get request %s: %w", requestID, err)
	}
	return r, nil
}

// ListPendingRequests returns all PENDING requests, oldest first.
func (l *Ledger) ListPendingRequests(ctx context.Context) ([]*ApprovalRequest, error) {
	return l.ListRequestsByStatus(ctx, StatusPending)
}

// ListRequestsByStatus returns all requests in one state, oldest first.
func (l *Ledger) ListRequestsByStatus(ctx context.Context, status Status) ([]*ApprovalRequest, error) {
	if !ValidStatus(status) {
		return nil, fmt.Errorf("list requests: unknown status %q", status)
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT `+requestColumns+` FROM approval_requests WHERE status = ? ORDER BY created_at, request_id`,
		string(status))
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	defer rows.Close()

	var out []*ApprovalRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("list requests: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	return out, nil
}

// GetApprovalByProposal returns the most recent request for a proposal,
// supporting re-proposal after rejection.
func (l *Ledger) GetApprovalByProposal(ctx context.Context, proposalID string) (*ApprovalRequest, error) {
	row := l.db.QueryRowContext(ctx,
		`SELECT `+requestColumns+` FROM approval_requests
		 WHERE proposal_id = ? ORDER BY created_at DESC, request_id DESC LIMIT 1`, proposalID)
	r, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("no request for proposal %s: %w", proposalID, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get request for proposal %s: %w", proposalID, err)
	}
	return r, nil
}

// SubmitDecision moves a PENDING request to APPROVED or REJECTED. The
// returned bool is false, with no mutation, when the request is not
// PENDING or does not exist. signature may be empty; when present it is
// the encoded signature over DecisionPayload.
func (l *Ledger) SubmitDecision(ctx context.Context, requestID string, approved bool, reason, signature string) (bool, error) {
	next := StatusRejected
	if approved {
		next = StatusApproved
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	res, err := l.db.ExecContext(ctx, `
		UPDATE approval_requests
		SET status = ?, decision_at = ?, decision_reason = ?, decision_signature = ?
		WHERE request_id = ? AND status = ?`,
		string(next), now, reason, signature, requestID, string(StatusPending))
	if err != nil {
		return false, fmt.Errorf("submit decision %s: %w", requestID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("submit decision %s: %w", requestID, err)
	}
	if n == 0 {
		l.log.Warn("decision rejected", "request_id", requestID, "reason", "not pending or missing")
		return false, nil
	}

	l.log.Info("decision recorded", "request_id", requestID, "status", next)
	return true, nil
}

// MarkApplied moves an APPROVED request to APPLIED, recording the
// version the application produced. False with no mutation when the
// request is not APPROVED.
func (l *Ledger) MarkApplied(ctx context.Context, requestID, versionID string) (bool, error) {
	res, err := l.db.ExecContext(ctx, `
		UPDATE approval_requests
		SET status = ?, applied_version_id = ?
		WHERE request_id = ? AND status = ?`,
		string(StatusApplied), versionID, requestID, string(StatusApproved))
	if err != nil {
		if isForeignKeyError(err) {
			return false, fmt.Errorf("mark applied %s: version %s: %w", requestID, versionID, store.ErrIntegrity)
		}
		return false, fmt.Errorf("mark applied %s: %w", requestID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark applied %s: %w", requestID, err)
	}
	if n == 0 {
		l.log.Warn("mark applied rejected", "request_id", requestID, "reason", "not approved or missing")
		return false, nil
	}

	l.log.Info("request applied", "request_id", requestID, "version_id", versionID)
	return true, nil
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func isForeignKeyError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}
