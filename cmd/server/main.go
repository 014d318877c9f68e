package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sawdustandcoffee/checkoutapi/internal/api"
	"github.com/sawdustandcoffee/checkoutapi/internal/catalog"
	"github.com/sawdustandcoffee/checkoutapi/internal/config"
	"github.com/sawdustandcoffee/checkoutapi/internal/gateway"
	"github.com/sawdustandcoffee/checkoutapi/internal/notify"
	"github.com/sawdustandcoffee/checkoutapi/internal/publisher"
	"github.com/sawdustandcoffee/checkoutapi/internal/repository/postgres"
	"github.com/sawdustandcoffee/checkoutapi/internal/service"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := newLogger(cfg)
	defer logger.Sync()

	logger.Info("Starting checkout API server",
		zap.String("port", cfg.Port),
		zap.String("environment", cfg.Environment),
		zap.String("currency", cfg.Checkout.Currency.Code),
	)

	// Initialize database
	db, err := postgres.NewConnection(cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	// Run migrations
	if err := postgres.RunMigrations(db, logger); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}

	// Initialize repositories
	repos := postgres.NewRepositories(db, logger)
	if cfg.Catalog.BaseURL != "" {
		repos.Catalog = catalog.NewClient(cfg.Catalog.BaseURL, cfg.Catalog.ServiceKey, logger.Named("catalog"))
		logger.Info("Using remote catalog service", zap.String("url", cfg.Catalog.BaseURL))
	}

	// Collaborators
	stripeClient := gateway.NewClient(cfg.Stripe, logger.Named("gateway"))

	var notifier service.Notifier
	if cfg.Mail.ResendAPIKey != "" {
		notifier = notify.NewResendMailer(cfg.Mail.ResendAPIKey, cfg.Mail.From, cfg.Mail.BaseURL, cfg.Checkout.Currency, logger.Named("mail"))
	} else {
		logger.Warn("RESEND_API_KEY not set; order confirmations will only be logged")
		notifier = notify.NewLogNotifier(logger.Named("mail"))
	}

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			logger.Warn("Redis unreachable; checkout rate limiting fails open", zap.Error(err))
		}
		cancel()
	} else {
		logger.Info("REDIS_ADDR not set; checkout rate limiting disabled")
	}

	// Services
	currency := cfg.Checkout.Currency
	discounts := service.NewDiscountEvaluator(repos.DiscountCode, currency, logger.Named("discount"))
	checkout := service.NewCheckoutBuilder(repos.Catalog, discounts, stripeClient, service.CheckoutOptions{
		Currency:     currency,
		SuccessURL:   cfg.Checkout.SuccessURL(),
		CancelURL:    cfg.Checkout.CancelURL(),
		MaxCartLines: cfg.Checkout.MaxCartLines,
	}, logger.Named("checkout"))
	numbers := service.NewOrderNumberGenerator(repos.Order, cfg.Checkout.OrderNumberPrefix)
	reconciler := service.NewOrderReconciler(repos, numbers, notifier, currency, logger.Named("reconciler"))
	webhooks := service.NewWebhookProcessor(repos, stripeClient, reconciler, logger.Named("webhook"))

	// Initialize router
	router := api.NewRouter(cfg, repos, api.Services{
		Checkout:   checkout,
		Discounts:  discounts,
		Webhooks:   webhooks,
		Reconciler: webhooks,
		Orders:     service.NewOrderService(repos, logger.Named("orders")),
	}, rdb, logger)

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Reconciliation issue outbox: published to Kafka when brokers are configured
	bgCtx, stopBackground := context.WithCancel(context.Background())
	var background sync.WaitGroup
	if len(cfg.Kafka.Brokers) > 0 {
		writer := publisher.NewKafkaWriter(cfg.Kafka.IssuesTopic, cfg.Kafka.Brokers...)
		poller := publisher.NewOutboxPoller(repos.ReconciliationIssue, writer, cfg.Kafka.PollInterval, logger.Named("outbox"))
		background.Add(1)
		go func() {
			defer background.Done()
			poller.Run(bgCtx)
		}()
		logger.Info("Reconciliation issue publisher started",
			zap.Strings("brokers", cfg.Kafka.Brokers),
			zap.String("topic", cfg.Kafka.IssuesTopic),
		)
	} else {
		logger.Info("KAFKA_BROKERS not set; reconciliation issues stay in the database queue")
	}

	logger.Info("Server started successfully", zap.String("address", srv.Addr))

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	stopBackground()
	background.Wait()

	logger.Info("Server exited")
}

func newLogger(cfg *config.Config) *zap.Logger {
	var zcfg zap.Config
	if cfg.Environment == "production" {
		zcfg = zap.NewProductionConfig()
	} else {
		zcfg = zap.NewDevelopmentConfig()
	}

	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err == nil {
		zcfg.Level = zap.NewAtomicLevelAt(level)
	}

	logger, buildErr := zcfg.Build()
	if buildErr != nil {
		log.Fatalf("Failed to initialize logger: %v", buildErr)
	}
	if err != nil {
		logger.Warn("Unknown LOG_LEVEL, using default", zap.String("log_level", cfg.LogLevel))
	}
	return logger
}
