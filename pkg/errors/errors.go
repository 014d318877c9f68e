package errors

import (
	"fmt"

	"github.com/sawdustandcoffee/checkoutapi/internal/domain"
)

// ErrNotFound is returned when a resource is not found
type ErrNotFound struct {
	Resource string
	ID       string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ErrUnauthorized is returned when authentication fails
type ErrUnauthorized struct {
	Message string
}

func (e *ErrUnauthorized) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "unauthorized"
}

// ErrConflict is returned when there's a conflict (e.g., idempotency)
type ErrConflict struct {
	Message string
}

func (e *ErrConflict) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "conflict"
}

// ErrValidation is returned when validation fails
type ErrValidation struct {
	Message string
	Fields  map[string]string
}

func (e *ErrValidation) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "validation failed"
}

// ErrInvalidStateTransition is returned when an invalid state transition is attempted
type ErrInvalidStateTransition struct {
	From domain.OrderStatus
	To   domain.OrderStatus
}

func (e *ErrInvalidStateTransition) Error() string {
	return fmt.Sprintf("invalid state transition from %s to %s", e.From, e.To)
}

// ErrStock is returned when inventory cannot cover the requested quantity
type ErrStock struct {
	ProductID int64
	VariantID *int64
	Name      string
	Requested int
	Available int
}

func (e *ErrStock) Error() string {
	return fmt.Sprintf("insufficient stock for %s: requested %d, available %d", e.Name, e.Requested, e.Available)
}

// ErrDiscount is returned when a discount code cannot be applied. It is a warning, not a failure.
type ErrDiscount struct {
	Code   string
	Reason domain.DiscountRejection
}

func (e *ErrDiscount) Error() string {
	return fmt.Sprintf("discount code %s not applied: %s", e.Code, e.Reason)
}

// ErrSignature is returned when a webhook payload fails authenticity checks
type ErrSignature struct {
	Message string
	Err     error
}

func (e *ErrSignature) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("webhook signature verification failed: %v", e.Err)
	}
	if e.Message != "" {
		return e.Message
	}
	return "webhook signature verification failed"
}

func (e *ErrSignature) Unwrap() error { return e.Err }

// ErrGatewayCommunication is a transient network or provider fault
type ErrGatewayCommunication struct {
	Op  string
	Err error
}

func (e *ErrGatewayCommunication) Error() string {
	return fmt.Sprintf("payment gateway %s: %v", e.Op, e.Err)
}

func (e *ErrGatewayCommunication) Unwrap() error { return e.Err }

// ErrPaymentGateway is returned when the provider rejects or fails a request
type ErrPaymentGateway struct {
	Message string
	Err     error
}

func (e *ErrPaymentGateway) Error() string {
	if e.Message != "" {
		return "payment gateway error: " + e.Message
	}
	if e.Err != nil {
		return fmt.Sprintf("payment gateway error: %v", e.Err)
	}
	return "payment gateway error"
}

func (e *ErrPaymentGateway) Unwrap() error { return e.Err }

// ErrReconciliation is an internal inconsistency found while materializing an order
type ErrReconciliation struct {
	SessionID string
	Reason    string
	Err       error
}

func (e *ErrReconciliation) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("reconciliation of session %s failed: %s: %v", e.SessionID, e.Reason, e.Err)
	}
	return fmt.Sprintf("reconciliation of session %s failed: %s", e.SessionID, e.Reason)
}

func (e *ErrReconciliation) Unwrap() error { return e.Err }
