package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Product is the catalog view of a product consumed at checkout
type Product struct {
	ID        int64
	Name      string
	Price     decimal.Decimal
	SalePrice *decimal.Decimal
	Inventory int
	Active    bool
}

// EffectivePrice is the sale price when one is set, otherwise the list price
func (p *Product) EffectivePrice() decimal.Decimal {
	if p.SalePrice != nil {
		return *p.SalePrice
	}
	return p.Price
}

// ProductVariant is a purchasable option of a product (size, finish, ...)
type ProductVariant struct {
	ID            int64
	ProductID     int64
	Name          string
	PriceModifier decimal.Decimal
	Inventory     int
	Active        bool
}

// DiscountCode is a redeemable promotion
type DiscountCode struct {
	ID                 int64
	Code               string
	Type               DiscountType
	Value              decimal.Decimal  // percent points or major currency units, depending on Type
	MinOrderAmount     *decimal.Decimal // major currency units
	MaxUses            *int
	UsedCount          int
	MaxUsesPerCustomer *int
	StartsAt           *time.Time
	ExpiresAt          *time.Time
	Active             bool
	Description        *string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// DiscountUse records one redemption of a discount code by a customer
type DiscountUse struct {
	ID             uuid.UUID
	DiscountCodeID int64
	OrderID        uuid.UUID
	CustomerEmail  string
	DiscountAmount decimal.Decimal
	UsedAt         time.Time
}

// Order is the authoritative record materialized from a completed payment session
type Order struct {
	ID               uuid.UUID
	OrderNumber      string
	CustomerName     string
	CustomerEmail    string
	CustomerPhone    string
	ShippingAddress  string
	ShippingCity     string
	ShippingState    string
	ShippingZip      string
	Status           OrderStatus
	PaymentStatus    PaymentStatus
	Currency         string
	Subtotal         decimal.Decimal
	Discount         decimal.Decimal
	Tax              decimal.Decimal
	Shipping         decimal.Decimal
	Total            decimal.Decimal
	DiscountCode     *string
	DiscountCodeID   *int64
	PaymentSessionID string
	PaymentIntentID  *string
	PaidAt           *time.Time
	AdminNotes       *string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// TotalsBalance reports whether total == subtotal - discount + tax + shipping
func (o *Order) TotalsBalance() bool {
	expected := o.Subtotal.Sub(o.Discount).Add(o.Tax).Add(o.Shipping)
	return o.Total.Equal(expected)
}

// OrderItem is an immutable price snapshot of one purchased line
type OrderItem struct {
	ID              uuid.UUID
	OrderID         uuid.UUID
	ProductID       int64
	VariantID       *int64
	ProductName     string
	VariantName     *string
	Quantity        int
	PriceAtPurchase decimal.Decimal
	Subtotal        decimal.Decimal
	CreatedAt       time.Time
}

// OrderEvent represents an audit event for an order
type OrderEvent struct {
	ID        uuid.UUID
	OrderID   uuid.UUID
	EventType string
	EventData map[string]interface{} // JSONB
	CreatedAt time.Time
}

// CheckoutIdempotencyKey maps a client idempotency key to the session it produced
type CheckoutIdempotencyKey struct {
	Key         string
	RequestHash string
	SessionID   string
	SessionURL  string
	CreatedAt   time.Time
}

// ReconciliationIssue is a webhook processing failure queued for operator review
type ReconciliationIssue struct {
	ID               uuid.UUID
	EventID          string
	EventType        string
	PaymentSessionID *string
	PaymentIntentID  *string
	Reason           string
	Details          map[string]interface{} // JSONB
	Status           IssueStatus
	ResolutionNote   *string
	PublishedAt      *time.Time
	ResolvedAt       *time.Time
	CreatedAt        time.Time
}
