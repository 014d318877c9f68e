package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/sawdustandcoffee/checkoutapi/internal/config"
	"github.com/sawdustandcoffee/checkoutapi/internal/domain"
	"github.com/sawdustandcoffee/checkoutapi/internal/repository"
	"github.com/sawdustandcoffee/checkoutapi/internal/repository/postgres"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: go run cmd/find-order/main.go <order_number | order_id | payment_session_id | payment_intent_id>")
		fmt.Println("Example: go run cmd/find-order/main.go SC261014ABC123")
		os.Exit(1)
	}

	ref := strings.TrimSpace(os.Args[1])

	_ = godotenv.Load()

	dbCfg, err := config.LoadDatabase()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	// Initialize database
	db, err := postgres.NewConnection(dbCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	repos := postgres.NewRepositories(db, logger)
	ctx := context.Background()

	fmt.Printf("🔍 Searching for order: %s\n\n", ref)

	order, err := lookup(ctx, repos, ref)
	if err != nil {
		fmt.Printf("❌ Order not found: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("✅ Order found:")
	fmt.Printf("  Order Number: %s\n", order.OrderNumber)
	fmt.Printf("  ID: %s\n", order.ID)
	fmt.Printf("  Status: %s (payment: %s)\n", order.Status, order.PaymentStatus)
	fmt.Printf("  Customer: %s <%s>\n", order.CustomerName, order.CustomerEmail)
	fmt.Printf("  Ship To: %s, %s, %s %s\n", order.ShippingAddress, order.ShippingCity, order.ShippingState, order.ShippingZip)
	fmt.Printf("  Subtotal: %s  Discount: %s  Tax: %s  Shipping: %s\n",
		order.Subtotal.StringFixed(2), order.Discount.StringFixed(2), order.Tax.StringFixed(2), order.Shipping.StringFixed(2))
	fmt.Printf("  Total: %s %s\n", order.Total.StringFixed(2), order.Currency)
	fmt.Printf("  Payment Session: %s\n", order.PaymentSessionID)
	if order.PaymentIntentID != nil {
		fmt.Printf("  Payment Intent: %s\n", *order.PaymentIntentID)
	}
	if order.AdminNotes != nil {
		fmt.Printf("  Notes: %s\n", *order.AdminNotes)
	}

	items, err := repos.OrderItem.GetByOrderID(ctx, order.ID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load items: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("\n  Items:")
	for _, item := range items {
		name := item.ProductName
		if item.VariantName != nil {
			name += " (" + *item.VariantName + ")"
		}
		fmt.Printf("    %d × %s @ %s = %s\n", item.Quantity, name, item.PriceAtPurchase.StringFixed(2), item.Subtotal.StringFixed(2))
	}

	events, err := repos.OrderEvent.GetByOrderID(ctx, order.ID)
	if err == nil && len(events) > 0 {
		fmt.Println("\n  History:")
		for _, event := range events {
			fmt.Printf("    %s  %s\n", event.CreatedAt.Format("2006-01-02 15:04:05"), event.EventType)
		}
	}
}

func lookup(ctx context.Context, repos *repository.Repositories, ref string) (*domain.Order, error) {
	if id, err := uuid.Parse(ref); err == nil {
		return repos.Order.GetByID(ctx, id)
	}
	switch {
	case strings.HasPrefix(ref, "cs_"):
		return repos.Order.GetByPaymentSessionID(ctx, ref)
	case strings.HasPrefix(ref, "pi_"):
		return repos.Order.GetByPaymentIntentID(ctx, ref)
	default:
		return repos.Order.GetByOrderNumber(ctx, strings.ToUpper(ref))
	}
}
