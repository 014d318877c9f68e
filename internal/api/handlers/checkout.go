package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sawdustandcoffee/checkoutapi/internal/api/middleware"
	"github.com/sawdustandcoffee/checkoutapi/internal/domain"
	"github.com/sawdustandcoffee/checkoutapi/internal/repository"
	"github.com/sawdustandcoffee/checkoutapi/internal/service"
)

// CheckoutCreator builds a checkout session and hands it to the payment provider
type CheckoutCreator interface {
	Checkout(ctx context.Context, req service.CheckoutRequest) (*service.CheckoutResult, error)
}

// CheckoutResponse is returned once the provider session exists
type CheckoutResponse struct {
	SessionID       string           `json:"session_id"`
	URL             string           `json:"url"`
	Currency        string           `json:"currency,omitempty"`
	Subtotal        string           `json:"subtotal,omitempty"`
	Discount        string           `json:"discount,omitempty"`
	DiscountApplied bool             `json:"discount_applied"`
	DiscountWarning *DiscountWarning `json:"discount_warning,omitempty"`
	Replayed        bool             `json:"replayed,omitempty"`
}

// DiscountWarning tells the caller a supplied code was not applied
type DiscountWarning struct {
	Code    string `json:"code"`
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

// HandleCreateCheckout handles POST /v1/checkout/sessions
func HandleCreateCheckout(checkout CheckoutCreator, keys repository.CheckoutIdempotencyRepository, currency domain.Currency, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		idem := middleware.GetIdempotencyInfo(c)
		if idem.Existing != nil {
			c.JSON(http.StatusOK, CheckoutResponse{
				SessionID: idem.Existing.SessionID,
				URL:       idem.Existing.SessionURL,
				Replayed:  true,
			})
			return
		}

		var req service.CheckoutSubmitRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			writeValidation(c, err)
			return
		}

		result, err := checkout.Checkout(c.Request.Context(), req.ToCheckoutRequest(gatewayKey(idem)))
		if err != nil {
			writeError(c, logger, err)
			return
		}

		if idem.Key != "" {
			record := &domain.CheckoutIdempotencyKey{
				Key:         idem.Key,
				RequestHash: idem.RequestHash,
				SessionID:   result.SessionID,
				SessionURL:  result.URL,
			}
			if err := keys.Create(c.Request.Context(), record); err != nil {
				// the session exists; a replay will reach the provider's idempotency instead
				logger.Warn("Failed to store idempotency key", zap.String("session_id", result.SessionID), zap.Error(err))
			}
		}

		resp := CheckoutResponse{
			SessionID:       result.SessionID,
			URL:             result.URL,
			DiscountApplied: result.DiscountApplied,
		}
		if result.Intent != nil {
			resp.Currency = result.Intent.Currency
			resp.Subtotal = currency.Format(result.Intent.SubtotalMinor)
			if result.DiscountApplied {
				resp.Discount = currency.Format(result.Intent.DiscountMinor)
			}
		}
		if w := result.DiscountWarning; w != nil {
			resp.DiscountWarning = &DiscountWarning{
				Code:    w.Code,
				Reason:  string(w.Reason),
				Message: w.Reason.Message(),
			}
		}

		c.JSON(http.StatusCreated, resp)
	}
}

// gatewayKey derives the provider idempotency key from the client's key and body hash,
// so a reused key with a new body never collides at the provider.
func gatewayKey(idem middleware.IdempotencyInfo) string {
	if idem.Key == "" {
		return ""
	}
	hash := idem.RequestHash
	if len(hash) > 16 {
		hash = hash[:16]
	}
	return "client:" + idem.Key + ":" + hash
}
