package handlers

import (
	"context"
	stderrors "errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sawdustandcoffee/checkoutapi/internal/service"
	"github.com/sawdustandcoffee/checkoutapi/pkg/errors"
)

// maxWebhookBody bounds the raw payload read before signature verification
const maxWebhookBody = 1 << 20

// WebhookProcessor verifies and applies one provider event
type WebhookProcessor interface {
	Process(ctx context.Context, payload []byte, signatureHeader string) (*service.WebhookResult, error)
}

// HandleStripeWebhook handles POST /webhooks/stripe.
// Any verified event gets 200, including ones that were ignored or flagged for review.
func HandleStripeWebhook(processor WebhookProcessor, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
		if err != nil {
			logger.Warn("Failed to read webhook body", zap.Error(err))
			c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable payload"})
			return
		}

		result, err := processor.Process(c.Request.Context(), payload, c.GetHeader("Stripe-Signature"))
		if err != nil {
			var sigErr *errors.ErrSignature
			if stderrors.As(err, &sigErr) {
				logger.Warn("Rejected webhook", zap.String("client_ip", c.ClientIP()), zap.Error(err))
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid webhook signature"})
				return
			}
			writeError(c, logger, err)
			return
		}

		resp := gin.H{
			"received": true,
			"event_id": result.EventID,
			"outcome":  result.Outcome,
		}
		if result.OrderID != nil {
			resp["order_id"] = result.OrderID.String()
		}
		c.JSON(http.StatusOK, resp)
	}
}
