package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/sawdustandcoffee/checkoutapi/internal/domain"
)

// ErrDuplicateSession is returned when an order already exists for a payment session
var ErrDuplicateSession = errors.New("order already exists for payment session")

// CatalogRepository is the read-only catalog collaborator
type CatalogRepository interface {
	GetProduct(ctx context.Context, id int64) (*domain.Product, error)
	GetVariant(ctx context.Context, id int64) (*domain.ProductVariant, error)
}

// OrderRepository defines order data access methods
type OrderRepository interface {
	// Create inserts the order unless one already exists for its payment session,
	// in which case it returns ErrDuplicateSession and writes nothing.
	Create(ctx context.Context, order *domain.Order) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	GetByOrderNumber(ctx context.Context, orderNumber string) (*domain.Order, error)
	GetByPaymentSessionID(ctx context.Context, sessionID string) (*domain.Order, error)
	GetByPaymentIntentID(ctx context.Context, paymentIntentID string) (*domain.Order, error)
	OrderNumberExists(ctx context.Context, orderNumber string) (bool, error)
	List(ctx context.Context, filter OrderFilter) ([]*domain.Order, error)
	// MarkPaid sets paid_at only if it is unset. Returns false when nothing changed.
	MarkPaid(ctx context.Context, paymentIntentID string, paidAt time.Time) (bool, error)
	// MarkPaymentFailed cancels a pending, unpaid order. Returns false when nothing changed.
	MarkPaymentFailed(ctx context.Context, paymentIntentID string, note string) (bool, error)
	// UpdateStatus moves the order from one status to another, appending note to admin_notes
	// when set. Returns false when the order is no longer in status from.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to domain.OrderStatus, note string) (bool, error)
}

// OrderFilter narrows order listings
type OrderFilter struct {
	Status *domain.OrderStatus
	Limit  int
	Offset int
}

// OrderItemRepository defines order item data access methods
type OrderItemRepository interface {
	CreateBatch(ctx context.Context, items []*domain.OrderItem) error
	GetByOrderID(ctx context.Context, orderID uuid.UUID) ([]*domain.OrderItem, error)
}

// DiscountCodeRepository defines discount code data access methods
type DiscountCodeRepository interface {
	// GetByCode matches case-insensitively
	GetByCode(ctx context.Context, code string) (*domain.DiscountCode, error)
	Create(ctx context.Context, code *domain.DiscountCode) error
	CountUsesByCustomer(ctx context.Context, discountCodeID int64, email string) (int, error)
	IncrementUsage(ctx context.Context, discountCodeID int64) error
	RecordUse(ctx context.Context, use *domain.DiscountUse) error
}

// OrderEventRepository defines order event data access methods
type OrderEventRepository interface {
	Create(ctx context.Context, event *domain.OrderEvent) error
	GetByOrderID(ctx context.Context, orderID uuid.UUID) ([]*domain.OrderEvent, error)
}

// CheckoutIdempotencyRepository stores client idempotency keys for checkout
type CheckoutIdempotencyRepository interface {
	GetByKey(ctx context.Context, key string) (*domain.CheckoutIdempotencyKey, error)
	Create(ctx context.Context, key *domain.CheckoutIdempotencyKey) error
}

// ReconciliationIssueRepository is the operator follow-up queue and its outbox
type ReconciliationIssueRepository interface {
	Create(ctx context.Context, issue *domain.ReconciliationIssue) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.ReconciliationIssue, error)
	List(ctx context.Context, status domain.IssueStatus, limit int) ([]*domain.ReconciliationIssue, error)
	Resolve(ctx context.Context, id uuid.UUID, note string) error
	ListUnpublished(ctx context.Context, limit int) ([]*domain.ReconciliationIssue, error)
	MarkPublished(ctx context.Context, ids []uuid.UUID) error
}

// Repositories aggregates all repositories
type Repositories struct {
	Catalog             CatalogRepository
	Order               OrderRepository
	OrderItem           OrderItemRepository
	DiscountCode        DiscountCodeRepository
	OrderEvent          OrderEventRepository
	CheckoutIdempotency CheckoutIdempotencyRepository
	ReconciliationIssue ReconciliationIssueRepository
	Tx                  TxRunner
}

// TxRunner runs fn against repositories bound to one transaction.
// The transaction commits when fn returns nil and rolls back otherwise.
type TxRunner interface {
	WithinTx(ctx context.Context, fn func(repos *Repositories) error) error
}
