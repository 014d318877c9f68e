package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sawdustandcoffee/checkoutapi/internal/domain"
	"github.com/sawdustandcoffee/checkoutapi/internal/repository"
	"github.com/sawdustandcoffee/checkoutapi/pkg/errors"
)

// catalogConcurrency bounds parallel catalog lookups for one cart
const catalogConcurrency = 8

var validate = validator.New()

// CheckoutRequest is the input of a checkout session build
type CheckoutRequest struct {
	Customer       domain.Customer
	Lines          []domain.CartLine
	DiscountCode   string
	IdempotencyKey string // optional; generated when empty
}

// CheckoutResult is returned to the caller once the gateway has created the session
type CheckoutResult struct {
	SessionID       string
	URL             string
	Intent          *domain.CheckoutIntent
	DiscountApplied bool
	DiscountWarning *errors.ErrDiscount
}

// CheckoutOptions configures the checkout session builder
type CheckoutOptions struct {
	Currency     domain.Currency
	SuccessURL   string
	CancelURL    string
	MaxCartLines int
}

type discountEvaluatorIface interface {
	Evaluate(ctx context.Context, code string, subtotalMinor int64, customerEmail string) (*DiscountResult, error)
}

type checkoutBuilder struct {
	catalog   repository.CatalogRepository
	discounts discountEvaluatorIface
	gateway   PaymentGateway
	opts      CheckoutOptions
	logger    *zap.Logger
}

// NewCheckoutBuilder creates a checkout session builder
func NewCheckoutBuilder(
	catalog repository.CatalogRepository,
	discounts discountEvaluatorIface,
	gateway PaymentGateway,
	opts CheckoutOptions,
	logger *zap.Logger,
) *checkoutBuilder {
	return &checkoutBuilder{
		catalog:   catalog,
		discounts: discounts,
		gateway:   gateway,
		opts:      opts,
		logger:    logger,
	}
}

type resolvedLine struct {
	product  *domain.Product
	variant  *domain.ProductVariant
	quantity int
}

// Build prices the cart and assembles the provider-agnostic intent. It writes nothing.
// An inapplicable discount is returned as a warning alongside a valid intent.
func (b *checkoutBuilder) Build(ctx context.Context, req CheckoutRequest) (*domain.CheckoutIntent, *DiscountResult, error) {
	if err := b.validate(req); err != nil {
		return nil, nil, err
	}

	resolved, err := b.resolve(ctx, req.Lines)
	if err != nil {
		return nil, nil, err
	}

	if err := checkStock(resolved); err != nil {
		return nil, nil, err
	}

	lines, err := b.price(resolved)
	if err != nil {
		return nil, nil, err
	}

	subtotal := lo.SumBy(lines, func(l domain.PricedLineItem) int64 { return l.LineTotalMinor })

	intent := &domain.CheckoutIntent{
		Customer:       req.Customer,
		LineItems:      lines,
		SubtotalMinor:  subtotal,
		Currency:       b.opts.Currency.Code,
		SuccessURL:     b.opts.SuccessURL,
		CancelURL:      b.opts.CancelURL,
		IdempotencyKey: req.IdempotencyKey,
	}
	if intent.IdempotencyKey == "" {
		intent.IdempotencyKey = uuid.NewString()
	}

	var discount *DiscountResult
	if req.DiscountCode != "" {
		discount, err = b.discounts.Evaluate(ctx, req.DiscountCode, subtotal, req.Customer.Email)
		if err != nil {
			return nil, nil, err
		}
		if discount.Applicable && discount.DiscountMinor > 0 {
			code := discount.Code.Code
			intent.DiscountCode = &code
			intent.DiscountMinor = discount.DiscountMinor
			intent.LineItems = append(intent.LineItems, domain.PricedLineItem{
				Name:           fmt.Sprintf("Discount (%s)", code),
				UnitPriceMinor: discount.DiscountMinor,
				Quantity:       1,
				LineTotalMinor: -discount.DiscountMinor,
				IsDiscount:     true,
			})
		}
	}

	metadata, err := buildMetadata(intent, discount)
	if err != nil {
		return nil, nil, err
	}
	intent.Metadata = metadata

	return intent, discount, nil
}

// Checkout builds the intent and hands it to the gateway. Validation failures
// and caller cancellation abort before the gateway is contacted.
func (b *checkoutBuilder) Checkout(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	intent, discount, err := b.Build(ctx, req)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	session, err := b.gateway.CreateCheckoutSession(ctx, intent)
	if err != nil {
		b.logger.Error("Failed to create checkout session",
			zap.String("idempotency_key", intent.IdempotencyKey),
			zap.Int64("subtotal", intent.SubtotalMinor),
			zap.Error(err),
		)
		var gwErr *errors.ErrPaymentGateway
		if stderrors.As(err, &gwErr) {
			return nil, gwErr
		}
		return nil, &errors.ErrPaymentGateway{Message: err.Error(), Err: err}
	}

	intent.SessionID = session.ID
	intent.SessionURL = session.URL

	result := &CheckoutResult{
		SessionID:       session.ID,
		URL:             session.URL,
		Intent:          intent,
		DiscountApplied: intent.DiscountCode != nil,
	}
	if req.DiscountCode != "" && !result.DiscountApplied {
		if discount != nil && discount.Applicable {
			// Applicable but worth nothing on this subtotal
			result.DiscountWarning = &errors.ErrDiscount{Code: req.DiscountCode, Reason: domain.DiscountNoValue}
		} else {
			result.DiscountWarning = discount.Warning(req.DiscountCode)
		}
	}

	b.logger.Info("Checkout session created",
		zap.String("session_id", session.ID),
		zap.Int("line_count", len(intent.ProductLines())),
		zap.Int64("subtotal", intent.SubtotalMinor),
		zap.Int64("discount", intent.DiscountMinor),
		zap.Bool("discount_applied", result.DiscountApplied),
	)

	return result, nil
}

func (b *checkoutBuilder) validate(req CheckoutRequest) error {
	fields := map[string]string{}

	if req.Customer.Name == "" {
		fields["customer.name"] = "name is required"
	}
	if err := validate.Var(req.Customer.Email, "required,email"); err != nil {
		fields["customer.email"] = "a valid email is required"
	}
	if len(req.Lines) == 0 {
		fields["items"] = "at least one item is required"
	}
	if b.opts.MaxCartLines > 0 && len(req.Lines) > b.opts.MaxCartLines {
		fields["items"] = fmt.Sprintf("at most %d items are allowed", b.opts.MaxCartLines)
	}
	for i, line := range req.Lines {
		if line.ProductID <= 0 {
			fields[fmt.Sprintf("items[%d].product_id", i)] = "product_id must be positive"
		}
		if line.VariantID != nil && *line.VariantID <= 0 {
			fields[fmt.Sprintf("items[%d].variant_id", i)] = "variant_id must be positive"
		}
		if line.Quantity < 1 {
			fields[fmt.Sprintf("items[%d].quantity", i)] = "quantity must be at least 1"
		}
	}

	if len(fields) > 0 {
		return &errors.ErrValidation{Message: "invalid checkout request", Fields: fields}
	}
	return nil
}

func (b *checkoutBuilder) resolve(ctx context.Context, lines []domain.CartLine) ([]resolvedLine, error) {
	resolved := make([]resolvedLine, len(lines))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(catalogConcurrency)

	for i, line := range lines {
		g.Go(func() error {
			product, err := b.catalog.GetProduct(gctx, line.ProductID)
			if err != nil {
				return err
			}
			if !product.Active {
				return &errors.ErrNotFound{Resource: "product", ID: strconv.FormatInt(line.ProductID, 10)}
			}

			var variant *domain.ProductVariant
			if line.VariantID != nil {
				variant, err = b.catalog.GetVariant(gctx, *line.VariantID)
				if err != nil {
					return err
				}
				if variant.ProductID != product.ID || !variant.Active {
					return &errors.ErrNotFound{Resource: "variant", ID: strconv.FormatInt(*line.VariantID, 10)}
				}
			}

			resolved[i] = resolvedLine{product: product, variant: variant, quantity: line.Quantity}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return resolved, nil
}

// checkStock sums quantities per product/variant so split lines cannot oversell
func checkStock(lines []resolvedLine) error {
	type stockKey struct {
		productID int64
		variantID int64
	}

	requested := map[stockKey]int{}
	for _, l := range lines {
		key := stockKey{productID: l.product.ID}
		if l.variant != nil {
			key.variantID = l.variant.ID
		}
		requested[key] += l.quantity
	}

	for _, l := range lines {
		key := stockKey{productID: l.product.ID}
		available, name := l.product.Inventory, l.product.Name
		var variantID *int64
		if l.variant != nil {
			key.variantID = l.variant.ID
			available = l.variant.Inventory
			name = fmt.Sprintf("%s (%s)", l.product.Name, l.variant.Name)
			variantID = &l.variant.ID
		}
		if requested[key] > available {
			return &errors.ErrStock{
				ProductID: l.product.ID,
				VariantID: variantID,
				Name:      name,
				Requested: requested[key],
				Available: max(available, 0),
			}
		}
	}
	return nil
}

func (b *checkoutBuilder) price(lines []resolvedLine) ([]domain.PricedLineItem, error) {
	priced := make([]domain.PricedLineItem, 0, len(lines))

	for i, l := range lines {
		unit := l.product.EffectivePrice()
		name := l.product.Name
		item := domain.PricedLineItem{
			Ref:       domain.LineKey(i),
			ProductID: l.product.ID,
			Quantity:  l.quantity,
		}
		if l.variant != nil {
			unit = unit.Add(l.variant.PriceModifier)
			name = fmt.Sprintf("%s (%s)", l.product.Name, l.variant.Name)
			variantID := l.variant.ID
			item.VariantID = &variantID
			item.VariantName = l.variant.Name
		}

		if unit.IsNegative() {
			return nil, &errors.ErrValidation{
				Message: "item price cannot be negative",
				Fields:  map[string]string{fmt.Sprintf("items[%d]", i): fmt.Sprintf("%s resolves to a negative price", name)},
			}
		}

		unitMinor, err := b.opts.Currency.ToMinor(unit)
		if err != nil {
			return nil, fmt.Errorf("pricing %s: %w", name, err)
		}

		item.Name = name
		item.UnitPriceMinor = unitMinor
		item.LineTotalMinor = unitMinor * int64(l.quantity)
		priced = append(priced, item)
	}

	return priced, nil
}

func buildMetadata(intent *domain.CheckoutIntent, discount *DiscountResult) (map[string]string, error) {
	c := intent.Customer
	meta := map[string]string{
		domain.MetaCustomerName:    c.Name,
		domain.MetaCustomerEmail:   c.Email,
		domain.MetaCustomerPhone:   c.Phone,
		domain.MetaShippingAddress: c.Address,
		domain.MetaShippingCity:    c.City,
		domain.MetaShippingState:   c.State,
		domain.MetaShippingZip:     c.Zip,
		domain.MetaSubtotal:        strconv.FormatInt(intent.SubtotalMinor, 10),
		domain.MetaIdempotencyKey:  intent.IdempotencyKey,
	}

	productLines := intent.ProductLines()
	meta[domain.MetaLineCount] = strconv.Itoa(len(productLines))
	for _, line := range productLines {
		value, err := domain.EncodeLineRef(domain.LineRef{
			ProductID:      line.ProductID,
			VariantID:      line.VariantID,
			Quantity:       line.Quantity,
			UnitPriceMinor: line.UnitPriceMinor,
		})
		if err != nil {
			return nil, err
		}
		meta[line.Ref] = value
	}

	if intent.DiscountCode != nil && discount != nil && discount.Code != nil {
		meta[domain.MetaDiscountCode] = *intent.DiscountCode
		meta[domain.MetaDiscountCodeID] = strconv.FormatInt(discount.Code.ID, 10)
		meta[domain.MetaDiscountAmount] = strconv.FormatInt(intent.DiscountMinor, 10)
	}

	// Empty optional fields are left out
	meta = lo.OmitByValues(meta, []string{""})
	if len(meta) > domain.MaxMetadataKeys {
		return nil, fmt.Errorf("checkout needs %d metadata keys, the provider accepts %d", len(meta), domain.MaxMetadataKeys)
	}
	return meta, nil
}
