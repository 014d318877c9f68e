package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sawdustandcoffee/checkoutapi/internal/config"
	"github.com/sawdustandcoffee/checkoutapi/internal/domain"
	"github.com/sawdustandcoffee/checkoutapi/internal/repository/postgres"
)

func main() {
	codeFlag := flag.String("code", "", "Discount code customers type at checkout (stored upper-case)")
	typeFlag := flag.String("type", "percentage", "percentage or fixed")
	valueFlag := flag.String("value", "", "Percent off (10 = 10%) or amount off in major currency units")
	minFlag := flag.String("min-order", "", "Minimum order subtotal in major currency units")
	maxUsesFlag := flag.Int("max-uses", 0, "Total redemptions allowed (0 = unlimited)")
	perCustomerFlag := flag.Int("max-uses-per-customer", 0, "Redemptions allowed per customer email (0 = unlimited)")
	startsFlag := flag.String("starts", "", "Start time, RFC3339 or YYYY-MM-DD")
	expiresFlag := flag.String("expires", "", "Expiry time, RFC3339 or YYYY-MM-DD")
	descFlag := flag.String("description", "", "Internal description")
	inactiveFlag := flag.Bool("inactive", false, "Create the code disabled")
	flag.Parse()

	if *codeFlag == "" || *valueFlag == "" {
		fmt.Println("Usage:")
		fmt.Println("  go run cmd/create-discount-code/main.go --code SAVE10 --type percentage --value 10 --min-order 20")
		fmt.Println("  go run cmd/create-discount-code/main.go --code FIVEOFF --type fixed --value 5 --max-uses 100 --expires 2026-12-31")
		os.Exit(1)
	}

	dc := &domain.DiscountCode{
		Code:   strings.ToUpper(strings.TrimSpace(*codeFlag)),
		Type:   domain.DiscountType(strings.ToLower(*typeFlag)),
		Active: !*inactiveFlag,
	}
	if !dc.Type.IsValid() {
		fail("Error: --type must be percentage or fixed")
	}

	value, err := decimal.NewFromString(*valueFlag)
	if err != nil || !value.IsPositive() {
		fail("Error: --value must be a positive number")
	}
	if dc.Type == domain.DiscountTypePercentage && value.GreaterThan(decimal.NewFromInt(100)) {
		fail("Error: percentage discounts cannot exceed 100")
	}
	dc.Value = value

	if *minFlag != "" {
		minOrder, err := decimal.NewFromString(*minFlag)
		if err != nil || minOrder.IsNegative() {
			fail("Error: --min-order must be a non-negative number")
		}
		dc.MinOrderAmount = &minOrder
	}
	if *maxUsesFlag > 0 {
		dc.MaxUses = maxUsesFlag
	}
	if *perCustomerFlag > 0 {
		dc.MaxUsesPerCustomer = perCustomerFlag
	}
	if dc.StartsAt, err = parseTime(*startsFlag); err != nil {
		fail("Error: --starts: " + err.Error())
	}
	if dc.ExpiresAt, err = parseTime(*expiresFlag); err != nil {
		fail("Error: --expires: " + err.Error())
	}
	if dc.StartsAt != nil && dc.ExpiresAt != nil && !dc.ExpiresAt.After(*dc.StartsAt) {
		fail("Error: --expires must be after --starts")
	}
	if d := strings.TrimSpace(*descFlag); d != "" {
		dc.Description = &d
	}

	_ = godotenv.Load()

	dbCfg, err := config.LoadDatabase()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	// Connect to database
	db, err := postgres.NewConnection(dbCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	repos := postgres.NewRepositories(db, logger)
	if err := repos.DiscountCode.Create(context.Background(), dc); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create discount code: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("✅ Discount code created")
	fmt.Printf("  ID: %d\n", dc.ID)
	fmt.Printf("  Code: %s\n", dc.Code)
	fmt.Printf("  Type: %s  Value: %s\n", dc.Type, dc.Value.String())
	if dc.MinOrderAmount != nil {
		fmt.Printf("  Minimum Order: %s\n", dc.MinOrderAmount.StringFixed(2))
	}
	if dc.ExpiresAt != nil {
		fmt.Printf("  Expires: %s\n", dc.ExpiresAt.Format(time.RFC3339))
	}
	fmt.Printf("  Active: %t\n", dc.Active)
}

func parseTime(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("cannot parse %q as RFC3339 or YYYY-MM-DD", raw)
}

func fail(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(1)
}
