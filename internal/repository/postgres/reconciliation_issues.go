package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/sawdustandcoffee/checkoutapi/internal/domain"
	"github.com/sawdustandcoffee/checkoutapi/pkg/errors"
)

const issueColumns = `
	id, event_id, event_type, payment_session_id, payment_intent_id, reason, details,
	status, resolution_note, published_at, resolved_at, created_at`

type reconciliationIssueRepository struct {
	db     dbtx
	logger *zap.Logger
}

// NewReconciliationIssueRepository creates a new reconciliation issue repository
func NewReconciliationIssueRepository(db dbtx, logger *zap.Logger) *reconciliationIssueRepository {
	return &reconciliationIssueRepository{
		db:     db,
		logger: logger,
	}
}

func (r *reconciliationIssueRepository) Create(ctx context.Context, issue *domain.ReconciliationIssue) error {
	query := `
		INSERT INTO reconciliation_issues (
			id, event_id, event_type, payment_session_id, payment_intent_id, reason, details, status, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	if issue.ID == uuid.Nil {
		issue.ID = uuid.New()
	}
	if issue.CreatedAt.IsZero() {
		issue.CreatedAt = time.Now()
	}
	if issue.Status == "" {
		issue.Status = domain.IssueStatusOpen
	}

	detailsJSON, err := marshalJSONB(issue.Details)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, query,
		issue.ID,
		issue.EventID,
		issue.EventType,
		issue.PaymentSessionID,
		issue.PaymentIntentID,
		issue.Reason,
		detailsJSON,
		issue.Status,
		issue.CreatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create reconciliation issue", zap.String("event_id", issue.EventID), zap.Error(err))
		return err
	}

	return nil
}

func (r *reconciliationIssueRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.ReconciliationIssue, error) {
	query := `SELECT ` + issueColumns + ` FROM reconciliation_issues WHERE id = $1`

	issue, err := scanIssue(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, &errors.ErrNotFound{Resource: "reconciliation_issue", ID: id.String()}
	}
	if err != nil {
		r.logger.Error("Failed to get reconciliation issue", zap.Error(err))
		return nil, err
	}
	return issue, nil
}

func (r *reconciliationIssueRepository) List(ctx context.Context, status domain.IssueStatus, limit int) ([]*domain.ReconciliationIssue, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query := `SELECT ` + issueColumns + `
		FROM reconciliation_issues
		WHERE status = $1
		ORDER BY created_at DESC
		LIMIT $2`

	return r.list(ctx, query, status, limit)
}

func (r *reconciliationIssueRepository) Resolve(ctx context.Context, id uuid.UUID, note string) error {
	query := `
		UPDATE reconciliation_issues
		SET status = $2, resolution_note = $3, resolved_at = NOW()
		WHERE id = $1
	`

	res, err := r.db.ExecContext(ctx, query, id, domain.IssueStatusResolved, note)
	if err != nil {
		r.logger.Error("Failed to resolve reconciliation issue", zap.Error(err))
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return &errors.ErrNotFound{Resource: "reconciliation_issue", ID: id.String()}
	}
	return nil
}

func (r *reconciliationIssueRepository) ListUnpublished(ctx context.Context, limit int) ([]*domain.ReconciliationIssue, error) {
	query := `SELECT ` + issueColumns + `
		FROM reconciliation_issues
		WHERE published_at IS NULL
		ORDER BY created_at ASC
		LIMIT $1`

	return r.list(ctx, query, limit)
}

func (r *reconciliationIssueRepository) MarkPublished(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}

	strIDs := make([]string, len(ids))
	for i, id := range ids {
		strIDs[i] = id.String()
	}

	query := `UPDATE reconciliation_issues SET published_at = NOW() WHERE id = ANY($1::uuid[])`
	if _, err := r.db.ExecContext(ctx, query, pq.Array(strIDs)); err != nil {
		r.logger.Error("Failed to mark reconciliation issues published", zap.Error(err))
		return err
	}
	return nil
}

func (r *reconciliationIssueRepository) list(ctx context.Context, query string, args ...interface{}) ([]*domain.ReconciliationIssue, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list reconciliation issues", zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	var issues []*domain.ReconciliationIssue
	for rows.Next() {
		issue, err := scanIssue(rows)
		if err != nil {
			return nil, err
		}
		issues = append(issues, issue)
	}
	return issues, rows.Err()
}

func scanIssue(row rowScanner) (*domain.ReconciliationIssue, error) {
	var issue domain.ReconciliationIssue
	var sessionID, intentID, note sql.NullString
	var publishedAt, resolvedAt sql.NullTime
	var detailsJSON []byte

	err := row.Scan(
		&issue.ID,
		&issue.EventID,
		&issue.EventType,
		&sessionID,
		&intentID,
		&issue.Reason,
		&detailsJSON,
		&issue.Status,
		&note,
		&publishedAt,
		&resolvedAt,
		&issue.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if sessionID.Valid {
		issue.PaymentSessionID = &sessionID.String
	}
	if intentID.Valid {
		issue.PaymentIntentID = &intentID.String
	}
	if note.Valid {
		issue.ResolutionNote = &note.String
	}
	if publishedAt.Valid {
		issue.PublishedAt = &publishedAt.Time
	}
	if resolvedAt.Valid {
		issue.ResolvedAt = &resolvedAt.Time
	}
	if len(detailsJSON) > 0 {
		if err := json.Unmarshal(detailsJSON, &issue.Details); err != nil {
			return nil, err
		}
	}

	return &issue, nil
}
