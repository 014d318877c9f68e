package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/sawdustandcoffee/checkoutapi/internal/catalog"
	"github.com/sawdustandcoffee/checkoutapi/internal/config"
	"github.com/sawdustandcoffee/checkoutapi/internal/gateway"
	"github.com/sawdustandcoffee/checkoutapi/internal/notify"
	"github.com/sawdustandcoffee/checkoutapi/internal/repository/postgres"
	"github.com/sawdustandcoffee/checkoutapi/internal/service"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: go run cmd/replay-session/main.go <payment_session_id>")
		fmt.Println("Example: go run cmd/replay-session/main.go cs_live_a1B2c3")
		os.Exit(1)
	}
	sessionID := strings.TrimSpace(os.Args[1])

	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	db, err := postgres.NewConnection(cfg.Database)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	repos := postgres.NewRepositories(db, logger)
	if cfg.Catalog.BaseURL != "" {
		repos.Catalog = catalog.NewClient(cfg.Catalog.BaseURL, cfg.Catalog.ServiceKey, logger)
	}

	var notifier service.Notifier = notify.NewLogNotifier(logger)
	if cfg.Mail.ResendAPIKey != "" {
		notifier = notify.NewResendMailer(cfg.Mail.ResendAPIKey, cfg.Mail.From, cfg.Mail.BaseURL, cfg.Checkout.Currency, logger)
	}

	stripeClient := gateway.NewClient(cfg.Stripe, logger)
	numbers := service.NewOrderNumberGenerator(repos.Order, cfg.Checkout.OrderNumberPrefix)
	reconciler := service.NewOrderReconciler(repos, numbers, notifier, cfg.Checkout.Currency, logger)
	processor := service.NewWebhookProcessor(repos, stripeClient, reconciler, logger)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	fmt.Printf("🔁 Replaying payment session: %s\n\n", sessionID)

	order, outcome, err := processor.ReconcileSession(ctx, sessionID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Replay failed: %v\n", err)
		os.Exit(1)
	}

	switch outcome {
	case service.OutcomeDuplicate:
		fmt.Println("ℹ️  Order already exists for this session; nothing changed.")
	default:
		fmt.Println("✅ Order created.")
	}
	fmt.Printf("  Order Number: %s\n", order.OrderNumber)
	fmt.Printf("  ID: %s\n", order.ID)
	fmt.Printf("  Status: %s (payment: %s)\n", order.Status, order.PaymentStatus)
	fmt.Printf("  Total: %s %s\n", order.Total.StringFixed(2), order.Currency)
	fmt.Println("\nResolve the matching reconciliation issue with POST /v1/admin/reconciliation-issues/:id/resolve.")
}
