package middleware

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sawdustandcoffee/checkoutapi/internal/domain"
	"github.com/sawdustandcoffee/checkoutapi/internal/repository"
)

const (
	IdempotencyKeyHeader = "Idempotency-Key"
	maxIdempotencyKeyLen = 255

	ctxIdempotencyKey      = "idempotency_key"
	ctxIdempotencyHash     = "idempotency_request_hash"
	ctxIdempotencyExisting = "idempotency_existing_session"
)

// IdempotencyMiddleware handles client idempotency keys on checkout creation
func IdempotencyMiddleware(keys repository.CheckoutIdempotencyRepository, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Only apply to POST/PUT/PATCH requests
		if c.Request.Method != http.MethodPost && c.Request.Method != http.MethodPut && c.Request.Method != http.MethodPatch {
			c.Next()
			return
		}

		idempotencyKey := c.GetHeader(IdempotencyKeyHeader)
		if idempotencyKey == "" {
			c.Next()
			return
		}
		if len(idempotencyKey) > maxIdempotencyKeyLen {
			c.JSON(http.StatusBadRequest, gin.H{"error": "idempotency key too long"})
			c.Abort()
			return
		}

		// Read request body
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			logger.Error("Failed to read request body for idempotency", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to process request"})
			c.Abort()
			return
		}

		// Restore body for handler
		c.Request.Body = io.NopCloser(bytes.NewBuffer(body))

		hash := sha256.Sum256(body)
		requestHash := hex.EncodeToString(hash[:])

		existing, err := keys.GetByKey(c.Request.Context(), idempotencyKey)
		if err != nil {
			logger.Error("Failed to check idempotency key", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to process request"})
			c.Abort()
			return
		}

		if existing != nil {
			if existing.RequestHash != requestHash {
				c.JSON(http.StatusConflict, gin.H{
					"error": "idempotency key conflict: same key used with different payload",
				})
				c.Abort()
				return
			}

			c.Set(ctxIdempotencyExisting, existing)
		}

		c.Set(ctxIdempotencyKey, idempotencyKey)
		c.Set(ctxIdempotencyHash, requestHash)
		c.Next()
	}
}

// IdempotencyInfo is what the middleware learned about the request's key
type IdempotencyInfo struct {
	Key         string
	RequestHash string
	Existing    *domain.CheckoutIdempotencyKey // set when the same request was already served
}

// GetIdempotencyInfo retrieves idempotency information from context
func GetIdempotencyInfo(c *gin.Context) IdempotencyInfo {
	var info IdempotencyInfo
	if v, ok := c.Get(ctxIdempotencyKey); ok {
		info.Key, _ = v.(string)
	}
	if v, ok := c.Get(ctxIdempotencyHash); ok {
		info.RequestHash, _ = v.(string)
	}
	if v, ok := c.Get(ctxIdempotencyExisting); ok {
		info.Existing, _ = v.(*domain.CheckoutIdempotencyKey)
	}
	return info
}
