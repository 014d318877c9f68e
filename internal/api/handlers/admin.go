package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sawdustandcoffee/checkoutapi/internal/domain"
	"github.com/sawdustandcoffee/checkoutapi/internal/repository"
)

// OrderStatusUpdater moves orders through the fulfillment lifecycle
type OrderStatusUpdater interface {
	UpdateStatus(ctx context.Context, orderID uuid.UUID, to domain.OrderStatus, note string) (*domain.Order, error)
}

// UpdateOrderStatusRequest represents an operator status change
type UpdateOrderStatusRequest struct {
	Status string `json:"status" binding:"required,oneof=pending paid cancelled shipped completed"`
	Note   string `json:"note" binding:"max=2000"`
}

// HandleUpdateOrderStatus handles POST /v1/admin/orders/:id/status
func HandleUpdateOrderStatus(orders OrderStatusUpdater, repos *repository.Repositories, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req UpdateOrderStatusRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			writeValidation(c, err)
			return
		}

		order, err := resolveOrderByIDOrNumber(c.Request.Context(), repos.Order, c.Param("id"))
		if err != nil {
			writeError(c, logger, err)
			return
		}

		updated, err := orders.UpdateStatus(c.Request.Context(), order.ID, domain.OrderStatus(req.Status), req.Note)
		if err != nil {
			writeError(c, logger, err)
			return
		}

		items, err := repos.OrderItem.GetByOrderID(c.Request.Context(), updated.ID)
		if err != nil {
			logger.Error("Failed to get order items", zap.String("order_id", updated.ID.String()), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}

		logger.Info("Operator changed order status",
			zap.String("order_number", updated.OrderNumber),
			zap.String("from", string(order.Status)),
			zap.String("to", string(updated.Status)),
		)
		c.JSON(http.StatusOK, toOrderResponse(updated, items))
	}
}
