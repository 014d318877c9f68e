package postgres

import (
	"context"
	"database/sql"
	stderrors "errors"
	"time"

	"go.uber.org/zap"

	"github.com/sawdustandcoffee/checkoutapi/internal/domain"
	"github.com/sawdustandcoffee/checkoutapi/pkg/errors"
)

// IdempotencyKeyTTL matches the lifetime of a hosted checkout session.
// Older keys point at sessions the provider has already expired.
const IdempotencyKeyTTL = 24 * time.Hour

type checkoutIdempotencyRepository struct {
	db     dbtx
	ttl    time.Duration
	logger *zap.Logger
}

// NewCheckoutIdempotencyRepository creates a new checkout idempotency key repository
func NewCheckoutIdempotencyRepository(db dbtx, logger *zap.Logger) *checkoutIdempotencyRepository {
	return &checkoutIdempotencyRepository{
		db:     db,
		ttl:    IdempotencyKeyTTL,
		logger: logger,
	}
}

// GetByKey returns nil, nil when the key has not been seen or has expired
func (r *checkoutIdempotencyRepository) GetByKey(ctx context.Context, key string) (*domain.CheckoutIdempotencyKey, error) {
	query := `
		SELECT key, request_hash, session_id, session_url, created_at
		FROM checkout_idempotency_keys
		WHERE key = $1 AND created_at > $2
	`

	var k domain.CheckoutIdempotencyKey
	err := r.db.QueryRowContext(ctx, query, key, time.Now().Add(-r.ttl)).Scan(
		&k.Key,
		&k.RequestHash,
		&k.SessionID,
		&k.SessionURL,
		&k.CreatedAt,
	)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get idempotency key", zap.Error(err))
		return nil, err
	}

	return &k, nil
}

// Create stores the session a key produced. An expired row for the same key is replaced;
// a live one is a conflict.
func (r *checkoutIdempotencyRepository) Create(ctx context.Context, key *domain.CheckoutIdempotencyKey) error {
	query := `
		INSERT INTO checkout_idempotency_keys (key, request_hash, session_id, session_url, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (key) DO UPDATE
		SET request_hash = EXCLUDED.request_hash,
			session_id = EXCLUDED.session_id,
			session_url = EXCLUDED.session_url,
			created_at = EXCLUDED.created_at
		WHERE checkout_idempotency_keys.created_at <= $6
	`

	if key.CreatedAt.IsZero() {
		key.CreatedAt = time.Now()
	}

	res, err := r.db.ExecContext(ctx, query,
		key.Key,
		key.RequestHash,
		key.SessionID,
		key.SessionURL,
		key.CreatedAt,
		key.CreatedAt.Add(-r.ttl),
	)
	if err != nil {
		r.logger.Error("Failed to create idempotency key", zap.Error(err))
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return &errors.ErrConflict{Message: "idempotency key already used"}
	}
	return nil
}
