package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sawdustandcoffee/checkoutapi/internal/domain"
	"github.com/sawdustandcoffee/checkoutapi/pkg/errors"
)

type discountCodeRepository struct {
	db     dbtx
	logger *zap.Logger
}

// NewDiscountCodeRepository creates a new discount code repository
func NewDiscountCodeRepository(db dbtx, logger *zap.Logger) *discountCodeRepository {
	return &discountCodeRepository{
		db:     db,
		logger: logger,
	}
}

func (r *discountCodeRepository) GetByCode(ctx context.Context, code string) (*domain.DiscountCode, error) {
	query := `
		SELECT id, code, type, value, min_order_amount, max_uses, used_count,
			max_uses_per_user, start_date, end_date, active, description, created_at, updated_at
		FROM discount_codes
		WHERE LOWER(code) = LOWER($1)
	`

	var dc domain.DiscountCode
	var minOrder decimal.NullDecimal
	var maxUses, maxPerUser sql.NullInt64
	var startDate, endDate sql.NullTime
	var description sql.NullString

	err := r.db.QueryRowContext(ctx, query, strings.TrimSpace(code)).Scan(
		&dc.ID,
		&dc.Code,
		&dc.Type,
		&dc.Value,
		&minOrder,
		&maxUses,
		&dc.UsedCount,
		&maxPerUser,
		&startDate,
		&endDate,
		&dc.Active,
		&description,
		&dc.CreatedAt,
		&dc.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, &errors.ErrNotFound{Resource: "discount_code", ID: code}
	}
	if err != nil {
		r.logger.Error("Failed to get discount code", zap.Error(err))
		return nil, err
	}

	if minOrder.Valid {
		dc.MinOrderAmount = &minOrder.Decimal
	}
	if maxUses.Valid {
		n := int(maxUses.Int64)
		dc.MaxUses = &n
	}
	if maxPerUser.Valid {
		n := int(maxPerUser.Int64)
		dc.MaxUsesPerCustomer = &n
	}
	if startDate.Valid {
		dc.StartsAt = &startDate.Time
	}
	if endDate.Valid {
		dc.ExpiresAt = &endDate.Time
	}
	if description.Valid {
		dc.Description = &description.String
	}

	return &dc, nil
}

func (r *discountCodeRepository) Create(ctx context.Context, dc *domain.DiscountCode) error {
	query := `
		INSERT INTO discount_codes (
			code, type, value, min_order_amount, max_uses, used_count, max_uses_per_user,
			start_date, end_date, active, description, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id
	`

	now := time.Now()
	if dc.CreatedAt.IsZero() {
		dc.CreatedAt = now
	}
	if dc.UpdatedAt.IsZero() {
		dc.UpdatedAt = now
	}

	err := r.db.QueryRowContext(ctx, query,
		dc.Code,
		dc.Type,
		dc.Value,
		dc.MinOrderAmount,
		dc.MaxUses,
		dc.UsedCount,
		dc.MaxUsesPerCustomer,
		dc.StartsAt,
		dc.ExpiresAt,
		dc.Active,
		dc.Description,
		dc.CreatedAt,
		dc.UpdatedAt,
	).Scan(&dc.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return &errors.ErrConflict{Message: fmt.Sprintf("discount code %s already exists", dc.Code)}
		}
		r.logger.Error("Failed to create discount code", zap.Error(err))
		return err
	}

	return nil
}

func (r *discountCodeRepository) CountUsesByCustomer(ctx context.Context, discountCodeID int64, email string) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM discount_code_uses
		WHERE discount_code_id = $1 AND LOWER(user_email) = LOWER($2)
	`

	var count int
	if err := r.db.QueryRowContext(ctx, query, discountCodeID, strings.TrimSpace(email)).Scan(&count); err != nil {
		r.logger.Error("Failed to count discount code uses", zap.Error(err))
		return 0, err
	}
	return count, nil
}

// IncrementUsage bumps used_count without checking max_uses. It runs in the transaction that confirms payment.
func (r *discountCodeRepository) IncrementUsage(ctx context.Context, discountCodeID int64) error {
	query := `UPDATE discount_codes SET used_count = used_count + 1, updated_at = NOW() WHERE id = $1`

	res, err := r.db.ExecContext(ctx, query, discountCodeID)
	if err != nil {
		r.logger.Error("Failed to increment discount code usage", zap.Int64("discount_code_id", discountCodeID), zap.Error(err))
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return &errors.ErrNotFound{Resource: "discount_code", ID: fmt.Sprintf("%d", discountCodeID)}
	}
	return nil
}

func (r *discountCodeRepository) RecordUse(ctx context.Context, use *domain.DiscountUse) error {
	query := `
		INSERT INTO discount_code_uses (id, discount_code_id, order_id, user_email, discount_amount, used_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	if use.ID == uuid.Nil {
		use.ID = uuid.New()
	}
	if use.UsedAt.IsZero() {
		use.UsedAt = time.Now()
	}

	_, err := r.db.ExecContext(ctx, query,
		use.ID,
		use.DiscountCodeID,
		use.OrderID,
		use.CustomerEmail,
		use.DiscountAmount,
		use.UsedAt,
	)
	if err != nil {
		r.logger.Error("Failed to record discount code use", zap.Error(err))
		return err
	}
	return nil
}
