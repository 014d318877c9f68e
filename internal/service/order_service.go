package service

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sawdustandcoffee/checkoutapi/internal/domain"
	"github.com/sawdustandcoffee/checkoutapi/internal/repository"
	"github.com/sawdustandcoffee/checkoutapi/pkg/errors"
)

type orderService struct {
	repos  *repository.Repositories
	logger *zap.Logger
}

// NewOrderService creates the operator-facing order status service
func NewOrderService(repos *repository.Repositories, logger *zap.Logger) *orderService {
	return &orderService{
		repos:  repos,
		logger: logger,
	}
}

// UpdateStatus moves an order to status to (idempotent: already in that status returns the order unchanged).
// Payment-driven fields are left to webhook processing.
func (s *orderService) UpdateStatus(ctx context.Context, orderID uuid.UUID, to domain.OrderStatus, note string) (*domain.Order, error) {
	if !to.IsValid() {
		return nil, &errors.ErrValidation{
			Message: "validation failed",
			Fields:  map[string]string{"status": "unknown order status"},
		}
	}
	note = strings.TrimSpace(note)
	if to == domain.OrderStatusCancelled && note == "" {
		return nil, &errors.ErrValidation{
			Message: "validation failed",
			Fields:  map[string]string{"note": "a reason is required to cancel an order"},
		}
	}

	var updated *domain.Order
	err := s.repos.Tx.WithinTx(ctx, func(tx *repository.Repositories) error {
		order, err := tx.Order.GetByID(ctx, orderID)
		if err != nil {
			return err
		}

		// Already there - idempotent success
		if order.Status == to {
			updated = order
			return nil
		}

		// Validate state transition
		if !order.Status.CanTransitionTo(to) {
			return &errors.ErrInvalidStateTransition{From: order.Status, To: to}
		}

		changed, err := tx.Order.UpdateStatus(ctx, orderID, order.Status, to, note)
		if err != nil {
			return err
		}
		if !changed {
			return &errors.ErrConflict{Message: "order status changed concurrently, reload and retry"}
		}

		// Log event
		data := map[string]interface{}{
			"from": order.Status,
			"to":   to,
		}
		if note != "" {
			data["note"] = note
		}
		if err := tx.OrderEvent.Create(ctx, &domain.OrderEvent{
			OrderID:   orderID,
			EventType: "status_changed",
			EventData: data,
		}); err != nil {
			return err
		}

		updated, err = tx.Order.GetByID(ctx, orderID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Order status updated",
		zap.String("order_id", orderID.String()),
		zap.String("status", string(updated.Status)),
	)
	return updated, nil
}
