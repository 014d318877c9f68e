package domain

// OrderStatus represents the fulfillment-facing status of an order
type OrderStatus string

const (
	// PENDING - Order materialized from a completed checkout session
	OrderStatusPending OrderStatus = "pending"
	// PAID - Reserved for fulfillment tooling; webhook payments only stamp paid_at
	OrderStatusPaid OrderStatus = "paid"
	// CANCELLED - Payment failed or order cancelled by an operator
	OrderStatusCancelled OrderStatus = "cancelled"
	// SHIPPED - Handed to the carrier
	OrderStatusShipped OrderStatus = "shipped"
	// COMPLETED - Delivered
	OrderStatusCompleted OrderStatus = "completed"
)

// IsValid checks if the order status is valid
func (s OrderStatus) IsValid() bool {
	switch s {
	case OrderStatusPending,
		OrderStatusPaid,
		OrderStatusCancelled,
		OrderStatusShipped,
		OrderStatusCompleted:
		return true
	default:
		return false
	}
}

// CanTransitionTo checks if a status transition is valid
func (s OrderStatus) CanTransitionTo(newStatus OrderStatus) bool {
	switch s {
	case OrderStatusPending:
		return newStatus == OrderStatusPaid ||
			newStatus == OrderStatusCancelled ||
			newStatus == OrderStatusShipped
	case OrderStatusPaid:
		return newStatus == OrderStatusShipped ||
			newStatus == OrderStatusCancelled
	case OrderStatusShipped:
		return newStatus == OrderStatusCompleted
	case OrderStatusCancelled, OrderStatusCompleted:
		return false // Terminal states
	default:
		return false
	}
}

// PaymentStatus tracks the provider-side payment outcome independently of OrderStatus
type PaymentStatus string

const (
	PaymentStatusUnpaid PaymentStatus = "unpaid"
	PaymentStatusPaid   PaymentStatus = "paid"
	PaymentStatusFailed PaymentStatus = "failed"
)

// IsValid checks if the payment status is valid
func (s PaymentStatus) IsValid() bool {
	switch s {
	case PaymentStatusUnpaid, PaymentStatusPaid, PaymentStatusFailed:
		return true
	default:
		return false
	}
}

// DiscountType is how a discount code value is interpreted
type DiscountType string

const (
	// Value is a percentage of the subtotal (10.00 = 10%)
	DiscountTypePercentage DiscountType = "percentage"
	// Value is an amount in major currency units
	DiscountTypeFixed DiscountType = "fixed"
)

// IsValid checks if the discount type is valid
func (t DiscountType) IsValid() bool {
	return t == DiscountTypePercentage || t == DiscountTypeFixed
}

// DiscountRejection is the machine-readable reason a code did not apply
type DiscountRejection string

const (
	DiscountNotFound      DiscountRejection = "not_found"
	DiscountInactive      DiscountRejection = "inactive"
	DiscountNotStarted    DiscountRejection = "not_started"
	DiscountExpired       DiscountRejection = "expired"
	DiscountBelowMinimum  DiscountRejection = "below_minimum"
	DiscountUsageExceeded DiscountRejection = "usage_exceeded"
	DiscountCustomerLimit DiscountRejection = "customer_limit_reached"
	DiscountNoValue       DiscountRejection = "no_discount_value"
)

// Message returns a customer-facing description of the rejection
func (r DiscountRejection) Message() string {
	switch r {
	case DiscountNotFound:
		return "Discount code not found"
	case DiscountInactive:
		return "This discount code is not active"
	case DiscountNotStarted:
		return "This discount code is not yet valid"
	case DiscountExpired:
		return "This discount code has expired"
	case DiscountBelowMinimum:
		return "Order total does not meet the minimum for this discount code"
	case DiscountUsageExceeded:
		return "This discount code has reached its usage limit"
	case DiscountCustomerLimit:
		return "You have already used this discount code the maximum number of times"
	case DiscountNoValue:
		return "This discount code takes nothing off this order"
	default:
		return "This discount code cannot be applied"
	}
}

// IssueStatus is the operator workflow state of a reconciliation issue
type IssueStatus string

const (
	IssueStatusOpen     IssueStatus = "open"
	IssueStatusResolved IssueStatus = "resolved"
)
