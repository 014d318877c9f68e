package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/sawdustandcoffee/checkoutapi/internal/config"
	"github.com/sawdustandcoffee/checkoutapi/internal/domain"
	"github.com/sawdustandcoffee/checkoutapi/internal/repository"
	"github.com/sawdustandcoffee/checkoutapi/internal/repository/postgres"
)

func main() {
	statusFlag := flag.String("status", "", "Only list orders with this status (pending, paid, cancelled, shipped, completed)")
	limitFlag := flag.Int("limit", 100, "Maximum number of orders to list")
	flag.Parse()

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

	filter := repository.OrderFilter{Limit: *limitFlag}
	if *statusFlag != "" {
		status := domain.OrderStatus(*statusFlag)
		if !status.IsValid() {
			fmt.Fprintf(os.Stderr, "Unknown status: %s\n", *statusFlag)
			os.Exit(1)
		}
		filter.Status = &status
	}

	orders, err := repos.Order.List(context.Background(), filter)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to query orders: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("📋 Listing orders:")
	for i, order := range orders {
		fmt.Printf("Order #%d:\n", i+1)
		fmt.Printf("  Order Number: %s\n", order.OrderNumber)
		fmt.Printf("  ID: %s\n", order.ID)
		fmt.Printf("  Status: %s (payment: %s)\n", order.Status, order.PaymentStatus)
		fmt.Printf("  Customer: %s <%s>\n", order.CustomerName, order.CustomerEmail)
		fmt.Printf("  Total: %s %s\n", order.Total.StringFixed(2), order.Currency)
		if order.DiscountCode != nil {
			fmt.Printf("  Discount: %s (%s)\n", order.Discount.StringFixed(2), *order.DiscountCode)
		}
		fmt.Printf("  Payment Session: %s\n", order.PaymentSessionID)
		if order.PaidAt != nil {
			fmt.Printf("  Paid At: %s\n", order.PaidAt.Format("2006-01-02 15:04:05"))
		}
		fmt.Printf("  Created: %s\n\n", order.CreatedAt.Format("2006-01-02 15:04:05"))
	}

	if len(orders) == 0 {
		fmt.Println("No orders found.")
	} else {
		fmt.Printf("Total: %d order(s)\n", len(orders))
	}
}
