package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/sawdustandcoffee/checkoutapi/internal/domain"
	"github.com/sawdustandcoffee/checkoutapi/internal/repository"
	"github.com/sawdustandcoffee/checkoutapi/pkg/errors"
)

// resolveOrderByIDOrNumber fetches an order by UUID or order number
func resolveOrderByIDOrNumber(ctx context.Context, orders repository.OrderRepository, idParam string) (*domain.Order, error) {
	orderID, err := uuid.Parse(idParam)
	if err == nil {
		return orders.GetByID(ctx, orderID)
	}
	return orders.GetByOrderNumber(ctx, idParam)
}

// OrderResponse represents the order response
type OrderResponse struct {
	ID               string               `json:"id"`
	OrderNumber      string               `json:"order_number"`
	Status           domain.OrderStatus   `json:"status"`
	PaymentStatus    domain.PaymentStatus `json:"payment_status"`
	CustomerName     string               `json:"customer_name"`
	CustomerEmail    string               `json:"customer_email"`
	CustomerPhone    string               `json:"customer_phone,omitempty"`
	ShippingAddress  map[string]string    `json:"shipping_address"`
	Currency         string               `json:"currency"`
	Subtotal         string               `json:"subtotal"`
	Discount         string               `json:"discount"`
	Tax              string               `json:"tax"`
	Shipping         string               `json:"shipping"`
	Total            string               `json:"total"`
	DiscountCode     *string              `json:"discount_code,omitempty"`
	PaymentSessionID string               `json:"payment_session_id"`
	PaymentIntentID  *string              `json:"payment_intent_id,omitempty"`
	PaidAt           *string              `json:"paid_at,omitempty"`
	AdminNotes       *string              `json:"admin_notes,omitempty"`
	Items            []OrderItemResponse  `json:"items,omitempty"`
	CreatedAt        string               `json:"created_at"`
	UpdatedAt        string               `json:"updated_at"`
}

type OrderItemResponse struct {
	ProductID       int64   `json:"product_id"`
	VariantID       *int64  `json:"variant_id,omitempty"`
	ProductName     string  `json:"product_name"`
	VariantName     *string `json:"variant_name,omitempty"`
	Quantity        int     `json:"quantity"`
	PriceAtPurchase string  `json:"price_at_purchase"`
	Subtotal        string  `json:"subtotal"`
}

func toOrderResponse(order *domain.Order, items []*domain.OrderItem) OrderResponse {
	resp := OrderResponse{
		ID:            order.ID.String(),
		OrderNumber:   order.OrderNumber,
		Status:        order.Status,
		PaymentStatus: order.PaymentStatus,
		CustomerName:  order.CustomerName,
		CustomerEmail: order.CustomerEmail,
		CustomerPhone: order.CustomerPhone,
		ShippingAddress: map[string]string{
			"address": order.ShippingAddress,
			"city":    order.ShippingCity,
			"state":   order.ShippingState,
			"zip":     order.ShippingZip,
		},
		Currency:         order.Currency,
		Subtotal:         order.Subtotal.StringFixed(2),
		Discount:         order.Discount.StringFixed(2),
		Tax:              order.Tax.StringFixed(2),
		Shipping:         order.Shipping.StringFixed(2),
		Total:            order.Total.StringFixed(2),
		DiscountCode:     order.DiscountCode,
		PaymentSessionID: order.PaymentSessionID,
		PaymentIntentID:  order.PaymentIntentID,
		AdminNotes:       order.AdminNotes,
		CreatedAt:        order.CreatedAt.Format(time.RFC3339),
		UpdatedAt:        order.UpdatedAt.Format(time.RFC3339),
	}
	if order.PaidAt != nil {
		paid := order.PaidAt.Format(time.RFC3339)
		resp.PaidAt = &paid
	}
	resp.Items = lo.Map(items, func(item *domain.OrderItem, _ int) OrderItemResponse {
		return OrderItemResponse{
			ProductID:       item.ProductID,
			VariantID:       item.VariantID,
			ProductName:     item.ProductName,
			VariantName:     item.VariantName,
			Quantity:        item.Quantity,
			PriceAtPurchase: item.PriceAtPurchase.StringFixed(2),
			Subtotal:        item.Subtotal.StringFixed(2),
		}
	})
	return resp
}

// HandleGetOrder handles GET /v1/admin/orders/:id
func HandleGetOrder(repos *repository.Repositories, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		idParam := c.Param("id")
		if idParam == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "order ID or order number required"})
			return
		}

		order, err := resolveOrderByIDOrNumber(c.Request.Context(), repos.Order, idParam)
		if err != nil {
			writeError(c, logger, err)
			return
		}

		items, err := repos.OrderItem.GetByOrderID(c.Request.Context(), order.ID)
		if err != nil {
			logger.Error("Failed to get order items", zap.String("order_id", order.ID.String()), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}

		c.JSON(http.StatusOK, toOrderResponse(order, items))
	}
}

// HandleListOrders handles GET /v1/admin/orders
func HandleListOrders(repos *repository.Repositories, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		filter := repository.OrderFilter{Limit: 50}

		if s := c.Query("status"); s != "" {
			status := domain.OrderStatus(s)
			if !status.IsValid() {
				writeError(c, logger, &errors.ErrValidation{
					Message: "validation failed",
					Fields:  map[string]string{"status": "unknown order status"},
				})
				return
			}
			filter.Status = &status
		}
		if l, err := strconv.Atoi(c.Query("limit")); err == nil && l > 0 && l <= 200 {
			filter.Limit = l
		}
		if o, err := strconv.Atoi(c.Query("offset")); err == nil && o >= 0 {
			filter.Offset = o
		}

		orders, err := repos.Order.List(c.Request.Context(), filter)
		if err != nil {
			logger.Error("Failed to list orders", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}

		resp := lo.Map(orders, func(o *domain.Order, _ int) OrderResponse {
			return toOrderResponse(o, nil)
		})
		c.JSON(http.StatusOK, gin.H{
			"orders": resp,
			"limit":  filter.Limit,
			"offset": filter.Offset,
		})
	}
}
