package handlers

import (
	"context"
	stderrors "errors"
	"net/http"
	"reflect"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/sawdustandcoffee/checkoutapi/pkg/errors"
)

func init() {
	// report binding failures by JSON field name
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterTagNameFunc(jsonFieldName)
	}
}

func jsonFieldName(f reflect.StructField) string {
	name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
	if name == "-" {
		return ""
	}
	if name == "" {
		return f.Name
	}
	return name
}

// bindingFields turns gin binding errors into field -> message pairs
func bindingFields(err error) map[string]string {
	var verrs validator.ValidationErrors
	if !stderrors.As(err, &verrs) {
		return map[string]string{"body": "invalid JSON: " + err.Error()}
	}

	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		ns := fe.Namespace()
		// drop the root struct name
		if i := strings.Index(ns, "."); i >= 0 {
			ns = ns[i+1:]
		}
		fields[ns] = fieldMessage(fe)
	}
	return fields
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "min":
		if fe.Kind() == reflect.Slice {
			return "must contain at least " + fe.Param() + " item(s)"
		}
		return "must be at least " + fe.Param()
	case "max":
		if fe.Kind() == reflect.String {
			return "must be at most " + fe.Param() + " characters"
		}
		return "must be at most " + fe.Param()
	case "gt":
		return "must be greater than " + fe.Param()
	default:
		return "failed " + fe.Tag() + " validation"
	}
}

func writeValidation(c *gin.Context, err error) {
	c.JSON(http.StatusUnprocessableEntity, gin.H{
		"error":  "validation failed",
		"fields": bindingFields(err),
	})
}

// writeError maps the error taxonomy to HTTP responses
func writeError(c *gin.Context, logger *zap.Logger, err error) {
	var (
		validationErr *errors.ErrValidation
		notFoundErr   *errors.ErrNotFound
		stockErr      *errors.ErrStock
		conflictErr   *errors.ErrConflict
		transitionErr *errors.ErrInvalidStateTransition
		unauthErr     *errors.ErrUnauthorized
		gatewayErr    *errors.ErrPaymentGateway
		commErr       *errors.ErrGatewayCommunication
		signatureErr  *errors.ErrSignature
	)

	switch {
	case stderrors.As(err, &validationErr):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":  validationErr.Error(),
			"fields": validationErr.Fields,
		})
	case stderrors.As(err, &notFoundErr):
		c.JSON(http.StatusNotFound, gin.H{"error": notFoundErr.Error()})
	case stderrors.As(err, &stockErr):
		resp := gin.H{
			"error":      stockErr.Error(),
			"product_id": stockErr.ProductID,
			"requested":  stockErr.Requested,
			"available":  stockErr.Available,
		}
		if stockErr.VariantID != nil {
			resp["variant_id"] = *stockErr.VariantID
		}
		c.JSON(http.StatusConflict, resp)
	case stderrors.As(err, &conflictErr):
		c.JSON(http.StatusConflict, gin.H{"error": conflictErr.Error()})
	case stderrors.As(err, &transitionErr):
		c.JSON(http.StatusConflict, gin.H{"error": transitionErr.Error()})
	case stderrors.As(err, &unauthErr):
		c.JSON(http.StatusUnauthorized, gin.H{"error": unauthErr.Error()})
	case stderrors.As(err, &signatureErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid webhook signature"})
	case stderrors.As(err, &gatewayErr):
		logger.Error("Payment gateway failure", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "failed to create checkout session",
			"details": gatewayErr.Message,
		})
	case stderrors.As(err, &commErr):
		logger.Error("Payment gateway unreachable", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "payment provider unavailable",
			"details": commErr.Error(),
		})
	case stderrors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "request timed out"})
	case stderrors.Is(err, context.Canceled):
		// client went away; nobody reads this
		c.Status(499)
	default:
		logger.Error("Unhandled request error", zap.String("path", c.Request.URL.Path), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
