package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/sawdustandcoffee/checkoutapi/internal/api/handlers"
	"github.com/sawdustandcoffee/checkoutapi/internal/api/middleware"
	"github.com/sawdustandcoffee/checkoutapi/internal/config"
	"github.com/sawdustandcoffee/checkoutapi/internal/repository"
)

// Services are the domain operations the HTTP surface exposes
type Services struct {
	Checkout   handlers.CheckoutCreator
	Discounts  handlers.DiscountEvaluator
	Webhooks   handlers.WebhookProcessor
	Reconciler handlers.SessionReconciler
	Orders     handlers.OrderStatusUpdater
}

// NewRouter creates and configures the Gin router. A nil redis client disables rate limiting.
func NewRouter(cfg *config.Config, repos *repository.Repositories, svc Services, rdb *redis.Client, logger *zap.Logger) *gin.Engine {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Middleware
	router.Use(customRecovery(logger))
	router.Use(loggingMiddleware(logger))
	router.Use(timeoutMiddleware(cfg.RequestTimeout))

	// Root: friendly response so GET / returns 200 instead of 404
	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"service": "Checkout API",
			"endpoints": []string{
				"GET /health",
				"POST /webhooks/stripe",
				"POST /v1/checkout/sessions",
				"POST /v1/discount-codes/validate",
				"GET /v1/admin/orders",
				"GET /v1/admin/orders/:id",
				"POST /v1/admin/orders/:id/status",
				"GET /v1/admin/reconciliation-issues",
				"POST /v1/admin/reconciliation-issues/:id/resolve",
				"POST /v1/admin/sessions/:id/reconcile",
			},
		})
	})

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Stripe webhook: raw body, verified by signature
	router.POST("/webhooks/stripe", handlers.HandleStripeWebhook(svc.Webhooks, logger))

	// API v1 routes
	v1 := router.Group("/v1")
	{
		checkoutLimit := middleware.RateLimitMiddleware(rdb, "checkout", cfg.Checkout.RateLimitPerMin, time.Minute, logger)

		v1.POST("/checkout/sessions",
			checkoutLimit,
			middleware.IdempotencyMiddleware(repos.CheckoutIdempotency, logger),
			handlers.HandleCreateCheckout(svc.Checkout, repos.CheckoutIdempotency, cfg.Checkout.Currency, logger),
		)
		v1.POST("/discount-codes/validate", checkoutLimit, handlers.HandleValidateDiscount(svc.Discounts, cfg.Checkout.Currency, logger))

		// Operator routes
		adminRoutes := v1.Group("/admin")
		adminRoutes.Use(middleware.OperatorAuthMiddleware(cfg.API.OperatorKeyHash, logger))
		{
			adminRoutes.GET("/orders", handlers.HandleListOrders(repos, logger))
			adminRoutes.GET("/orders/:id", handlers.HandleGetOrder(repos, logger))
			adminRoutes.POST("/orders/:id/status", handlers.HandleUpdateOrderStatus(svc.Orders, repos, logger))
			adminRoutes.GET("/reconciliation-issues", handlers.HandleListIssues(repos.ReconciliationIssue, logger))
			adminRoutes.POST("/reconciliation-issues/:id/resolve", handlers.HandleResolveIssue(repos.ReconciliationIssue, logger))
			adminRoutes.POST("/sessions/:id/reconcile", handlers.HandleReconcileSession(svc.Reconciler, repos, logger))
		}
	}

	return router
}

// customRecovery is a custom recovery middleware that logs panics
func customRecovery(logger *zap.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logger.Error("Panic recovered",
			zap.Any("error", recovered),
			zap.String("path", c.Request.URL.Path),
			zap.String("method", c.Request.Method),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal server error",
			"details": fmt.Sprintf("%v", recovered),
		})
	})
}

// loggingMiddleware logs HTTP requests
func loggingMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		status := c.Writer.Status()
		logger.Info("HTTP request",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

// timeoutMiddleware bounds every downstream call made while serving the request
func timeoutMiddleware(timeout time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if timeout <= 0 {
			c.Next()
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
