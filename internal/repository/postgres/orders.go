package postgres

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/sawdustandcoffee/checkoutapi/internal/domain"
	"github.com/sawdustandcoffee/checkoutapi/internal/repository"
	"github.com/sawdustandcoffee/checkoutapi/pkg/errors"
)

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return stderrors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

const orderColumns = `
	id, order_number, customer_name, customer_email, customer_phone,
	shipping_address, shipping_city, shipping_state, shipping_zip,
	status, payment_status, currency, subtotal, discount, tax, shipping, total,
	discount_code, discount_code_id, payment_session_id, payment_intent_id,
	paid_at, admin_notes, created_at, updated_at`

type orderRepository struct {
	db     dbtx
	logger *zap.Logger
}

// NewOrderRepository creates a new order repository
func NewOrderRepository(db dbtx, logger *zap.Logger) *orderRepository {
	return &orderRepository{
		db:     db,
		logger: logger,
	}
}

func (r *orderRepository) Create(ctx context.Context, order *domain.Order) error {
	query := `
		INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17,
			$18, $19, $20, $21, $22, $23, $24, $25)
		ON CONFLICT (payment_session_id) DO NOTHING
	`

	now := time.Now()
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	if order.UpdatedAt.IsZero() {
		order.UpdatedAt = now
	}

	res, err := r.db.ExecContext(ctx, query,
		order.ID,
		order.OrderNumber,
		order.CustomerName,
		order.CustomerEmail,
		order.CustomerPhone,
		order.ShippingAddress,
		order.ShippingCity,
		order.ShippingState,
		order.ShippingZip,
		order.Status,
		order.PaymentStatus,
		order.Currency,
		order.Subtotal,
		order.Discount,
		order.Tax,
		order.Shipping,
		order.Total,
		order.DiscountCode,
		order.DiscountCodeID,
		order.PaymentSessionID,
		order.PaymentIntentID,
		order.PaidAt,
		order.AdminNotes,
		order.CreatedAt,
		order.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return &errors.ErrConflict{Message: fmt.Sprintf("order number %s already taken", order.OrderNumber)}
		}
		r.logger.Error("Failed to create order", zap.Error(err))
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return repository.ErrDuplicateSession
	}

	return nil
}

func (r *orderRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	return r.getOne(ctx, query, "order", id.String(), id)
}

func (r *orderRepository) GetByOrderNumber(ctx context.Context, orderNumber string) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE order_number = $1`
	return r.getOne(ctx, query, "order", orderNumber, orderNumber)
}

func (r *orderRepository) GetByPaymentSessionID(ctx context.Context, sessionID string) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE payment_session_id = $1`
	return r.getOne(ctx, query, "order", sessionID, sessionID)
}

func (r *orderRepository) GetByPaymentIntentID(ctx context.Context, paymentIntentID string) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE payment_intent_id = $1 ORDER BY created_at DESC LIMIT 1`
	return r.getOne(ctx, query, "order", paymentIntentID, paymentIntentID)
}

func (r *orderRepository) OrderNumberExists(ctx context.Context, orderNumber string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM orders WHERE order_number = $1)`, orderNumber,
	).Scan(&exists)
	if err != nil {
		r.logger.Error("Failed to check order number", zap.Error(err))
		return false, err
	}
	return exists, nil
}

func (r *orderRepository) List(ctx context.Context, filter repository.OrderFilter) ([]*domain.Order, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	query := `SELECT ` + orderColumns + ` FROM orders`
	args := []interface{}{}
	if filter.Status != nil {
		args = append(args, *filter.Status)
		query += fmt.Sprintf(" WHERE status = $%d", len(args))
	}
	args = append(args, limit, filter.Offset)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list orders", zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	var orders []*domain.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}

	return orders, rows.Err()
}

func (r *orderRepository) MarkPaid(ctx context.Context, paymentIntentID string, paidAt time.Time) (bool, error) {
	query := `
		UPDATE orders
		SET paid_at = $2, payment_status = $3, updated_at = NOW()
		WHERE payment_intent_id = $1 AND paid_at IS NULL
	`

	res, err := r.db.ExecContext(ctx, query, paymentIntentID, paidAt, domain.PaymentStatusPaid)
	if err != nil {
		r.logger.Error("Failed to mark order paid", zap.String("payment_intent_id", paymentIntentID), zap.Error(err))
		return false, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (r *orderRepository) MarkPaymentFailed(ctx context.Context, paymentIntentID string, note string) (bool, error) {
	query := `
		UPDATE orders
		SET status = $2,
			payment_status = $3,
			admin_notes = CASE
				WHEN admin_notes IS NULL OR admin_notes = '' THEN $4
				ELSE admin_notes || E'\n' || $4
			END,
			updated_at = NOW()
		WHERE payment_intent_id = $1 AND status = $5 AND paid_at IS NULL
	`

	res, err := r.db.ExecContext(ctx, query,
		paymentIntentID,
		domain.OrderStatusCancelled,
		domain.PaymentStatusFailed,
		note,
		domain.OrderStatusPending,
	)
	if err != nil {
		r.logger.Error("Failed to mark order payment failed", zap.String("payment_intent_id", paymentIntentID), zap.Error(err))
		return false, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (r *orderRepository) getOne(ctx context.Context, query, resource, id string, arg interface{}) (*domain.Order, error) {
	order, err := scanOrder(r.db.QueryRowContext(ctx, query, arg))
	if err == sql.ErrNoRows {
		return nil, &errors.ErrNotFound{Resource: resource, ID: id}
	}
	if err != nil {
		r.logger.Error("Failed to get order", zap.String("lookup", id), zap.Error(err))
		return nil, err
	}
	return order, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var order domain.Order
	var discountCode sql.NullString
	var discountCodeID sql.NullInt64
	var paymentIntentID sql.NullString
	var paidAt sql.NullTime
	var adminNotes sql.NullString

	err := row.Scan(
		&order.ID,
		&order.OrderNumber,
		&order.CustomerName,
		&order.CustomerEmail,
		&order.CustomerPhone,
		&order.ShippingAddress,
		&order.ShippingCity,
		&order.ShippingState,
		&order.ShippingZip,
		&order.Status,
		&order.PaymentStatus,
		&order.Currency,
		&order.Subtotal,
		&order.Discount,
		&order.Tax,
		&order.Shipping,
		&order.Total,
		&discountCode,
		&discountCodeID,
		&order.PaymentSessionID,
		&paymentIntentID,
		&paidAt,
		&adminNotes,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if discountCode.Valid {
		order.DiscountCode = &discountCode.String
	}
	if discountCodeID.Valid {
		order.DiscountCodeID = &discountCodeID.Int64
	}
	if paymentIntentID.Valid {
		order.PaymentIntentID = &paymentIntentID.String
	}
	if paidAt.Valid {
		order.PaidAt = &paidAt.Time
	}
	if adminNotes.Valid {
		order.AdminNotes = &adminNotes.String
	}

	return &order, nil
}

func (r *orderRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to domain.OrderStatus, note string) (bool, error) {
	query := `
		UPDATE orders
		SET status = $3,
			admin_notes = CASE
				WHEN $4::text = '' THEN admin_notes
				WHEN admin_notes IS NULL OR admin_notes = '' THEN $4
				ELSE admin_notes || E'\n' || $4
			END,
			updated_at = NOW()
		WHERE id = $1 AND status = $2
	`

	res, err := r.db.ExecContext(ctx, query, id, from, to, note)
	if err != nil {
		r.logger.Error("Failed to update order status", zap.String("order_id", id.String()), zap.Error(err))
		return false, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}
