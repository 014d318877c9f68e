package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sawdustandcoffee/checkoutapi/internal/domain"
	"github.com/sawdustandcoffee/checkoutapi/internal/service"
	"github.com/sawdustandcoffee/checkoutapi/pkg/errors"
)

// DiscountEvaluator prices a discount code against a subtotal without redeeming it
type DiscountEvaluator interface {
	Evaluate(ctx context.Context, code string, subtotalMinor int64, customerEmail string) (*service.DiscountResult, error)
}

// HandleValidateDiscount handles POST /v1/discount-codes/validate
func HandleValidateDiscount(discounts DiscountEvaluator, currency domain.Currency, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req service.DiscountValidateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			writeValidation(c, err)
			return
		}

		if req.Subtotal.IsNegative() {
			writeError(c, logger, &errors.ErrValidation{
				Message: "validation failed",
				Fields:  map[string]string{"subtotal": "must not be negative"},
			})
			return
		}
		subtotalMinor, err := currency.ToMinor(req.Subtotal)
		if err != nil {
			writeError(c, logger, &errors.ErrValidation{
				Message: "validation failed",
				Fields:  map[string]string{"subtotal": err.Error()},
			})
			return
		}

		code := strings.TrimSpace(req.Code)
		result, err := discounts.Evaluate(c.Request.Context(), code, subtotalMinor, req.Email)
		if err != nil {
			writeError(c, logger, err)
			return
		}

		if result.Code == nil {
			writeError(c, logger, &errors.ErrNotFound{Resource: "discount code", ID: code})
			return
		}
		if !result.Applicable {
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"valid":   false,
				"code":    result.Code.Code,
				"reason":  result.Reason,
				"message": result.Reason.Message(),
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"valid":           true,
			"code":            result.Code.Code,
			"type":            result.Code.Type,
			"value":           result.Code.Value.String(),
			"discount_amount": currency.Format(result.DiscountMinor),
		})
	}
}
