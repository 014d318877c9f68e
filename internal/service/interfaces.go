package service

import (
	"context"

	"github.com/sawdustandcoffee/checkoutapi/internal/domain"
)

// PaymentGateway is the payment provider collaborator
type PaymentGateway interface {
	// CreateCheckoutSession is never retried by the adapter
	CreateCheckoutSession(ctx context.Context, intent *domain.CheckoutIntent) (*domain.CreatedSession, error)
	// RetrieveSession returns settled line items and totals, retrying transient faults
	RetrieveSession(ctx context.Context, sessionID string) (*domain.SessionDetail, error)
	// VerifyWebhook authenticates the raw payload and decodes it into a typed event
	VerifyWebhook(payload []byte, signatureHeader string) (*domain.Event, error)
}

// Notifier sends customer-facing notifications
type Notifier interface {
	SendOrderConfirmation(ctx context.Context, order *domain.Order, items []*domain.OrderItem) error
}
