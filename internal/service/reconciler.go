package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/sawdustandcoffee/checkoutapi/internal/domain"
	"github.com/sawdustandcoffee/checkoutapi/internal/repository"
	"github.com/sawdustandcoffee/checkoutapi/pkg/errors"
)

const notifyTimeout = 10 * time.Second

type orderNumberSource interface {
	Next(ctx context.Context) (string, error)
}

type orderReconciler struct {
	repos    *repository.Repositories
	numbers  orderNumberSource
	notifier Notifier
	currency domain.Currency
	now      func() time.Time
	logger   *zap.Logger
}

// NewOrderReconciler creates the reconciler that turns settled sessions into orders
func NewOrderReconciler(
	repos *repository.Repositories,
	numbers orderNumberSource,
	notifier Notifier,
	currency domain.Currency,
	logger *zap.Logger,
) *orderReconciler {
	return &orderReconciler{
		repos:    repos,
		numbers:  numbers,
		notifier: notifier,
		currency: currency,
		now:      time.Now,
		logger:   logger,
	}
}

// Materialize persists the order and its items for a completed session in one transaction.
// It returns repository.ErrDuplicateSession when the session already produced an order and
// *errors.ErrReconciliation when the session cannot be mapped to a consistent order.
func (r *orderReconciler) Materialize(ctx context.Context, detail *domain.SessionDetail) (*domain.Order, error) {
	if detail == nil || detail.ID == "" {
		return nil, &errors.ErrReconciliation{Reason: "session detail has no id"}
	}
	fail := func(reason string, err error) error {
		return &errors.ErrReconciliation{SessionID: detail.ID, Reason: reason, Err: err}
	}

	cur := r.currency
	if detail.Currency != "" && !strings.EqualFold(detail.Currency, cur.Code) {
		parsed, err := domain.ParseCurrency(detail.Currency)
		if err != nil {
			return nil, fail("unsupported currency", err)
		}
		cur = parsed
	}

	if err := checkSettledTotals(detail); err != nil {
		return nil, fail(err.Error(), nil)
	}

	items, err := r.settledItems(ctx, detail, cur)
	if err != nil {
		return nil, fail(err.Error(), nil)
	}

	customer := customerFor(detail)
	order := &domain.Order{
		ID:               uuid.New(),
		CustomerName:     customer.Name,
		CustomerEmail:    customer.Email,
		CustomerPhone:    customer.Phone,
		ShippingAddress:  customer.Address,
		ShippingCity:     customer.City,
		ShippingState:    customer.State,
		ShippingZip:      customer.Zip,
		Status:           domain.OrderStatusPending,
		PaymentStatus:    domain.PaymentStatusUnpaid,
		Currency:         strings.ToLower(cur.Code),
		Subtotal:         cur.FromMinor(detail.AmountSubtotal),
		Discount:         cur.FromMinor(detail.AmountDiscount),
		Tax:              cur.FromMinor(detail.AmountTax),
		Shipping:         cur.FromMinor(detail.AmountShipping),
		Total:            cur.FromMinor(detail.AmountTotal),
		PaymentSessionID: detail.ID,
	}
	if detail.PaymentIntentID != "" {
		pi := detail.PaymentIntentID
		order.PaymentIntentID = &pi
	}
	if detail.PaymentStatus == "paid" {
		paidAt := r.now().UTC()
		order.PaidAt = &paidAt
		order.PaymentStatus = domain.PaymentStatusPaid
	}

	if err := discountFor(detail, order); err != nil {
		return nil, fail(err.Error(), nil)
	}

	if !order.TotalsBalance() {
		return nil, fail("order totals do not balance", nil)
	}

	for attempt := 1; ; attempt++ {
		number, err := r.numbers.Next(ctx)
		if err != nil {
			return nil, fail("assigning order number", err)
		}
		order.OrderNumber = number

		err = r.repos.Tx.WithinTx(ctx, func(tx *repository.Repositories) error {
			return r.persist(ctx, tx, order, items)
		})
		if err == nil {
			break
		}
		if stderrors.Is(err, repository.ErrDuplicateSession) {
			return nil, err
		}
		var conflict *errors.ErrConflict
		if stderrors.As(err, &conflict) && attempt < orderNumberAttempts {
			r.logger.Warn("Order number collision, retrying",
				zap.String("order_number", number),
				zap.Int("attempt", attempt),
			)
			continue
		}
		return nil, fail("persisting order", err)
	}

	r.logger.Info("Order materialized",
		zap.String("order_id", order.ID.String()),
		zap.String("order_number", order.OrderNumber),
		zap.String("session_id", detail.ID),
		zap.Int("item_count", len(items)),
		zap.String("total", order.Total.StringFixed(cur.Scale)),
	)

	r.sendConfirmation(ctx, order, items)

	return order, nil
}

func (r *orderReconciler) persist(
	ctx context.Context,
	tx *repository.Repositories,
	order *domain.Order,
	items []*domain.OrderItem,
) error {
	if err := tx.Order.Create(ctx, order); err != nil {
		return err
	}

	for _, item := range items {
		item.OrderID = order.ID
	}
	if err := tx.OrderItem.CreateBatch(ctx, items); err != nil {
		return err
	}

	// Unpaid sessions redeem when payment_intent.succeeded marks the order paid
	if order.PaidAt != nil {
		if err := redeemDiscount(ctx, tx, order); err != nil {
			return err
		}
	}

	return tx.OrderEvent.Create(ctx, &domain.OrderEvent{
		OrderID:   order.ID,
		EventType: "order_created",
		EventData: map[string]interface{}{
			"order_number":   order.OrderNumber,
			"session_id":     order.PaymentSessionID,
			"payment_status": order.PaymentStatus,
			"total":          order.Total.String(),
		},
	})
}

// sendConfirmation never fails the order; it runs after commit, detached from the caller's deadline
func (r *orderReconciler) sendConfirmation(ctx context.Context, order *domain.Order, items []*domain.OrderItem) {
	if r.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()

	if err := r.notifier.SendOrderConfirmation(ctx, order, items); err != nil {
		r.logger.Error("Failed to send order confirmation",
			zap.String("order_number", order.OrderNumber),
			zap.String("email", order.CustomerEmail),
			zap.Error(err),
		)
	}
}

func checkSettledTotals(d *domain.SessionDetail) error {
	for name, v := range map[string]int64{
		"subtotal": d.AmountSubtotal,
		"discount": d.AmountDiscount,
		"tax":      d.AmountTax,
		"shipping": d.AmountShipping,
		"total":    d.AmountTotal,
	} {
		if v < 0 {
			return fmt.Errorf("settled %s is negative", name)
		}
	}
	if d.AmountTotal != d.AmountSubtotal-d.AmountDiscount+d.AmountTax+d.AmountShipping {
		return fmt.Errorf("settled total %d does not equal subtotal %d - discount %d + tax %d + shipping %d",
			d.AmountTotal, d.AmountSubtotal, d.AmountDiscount, d.AmountTax, d.AmountShipping)
	}
	if len(d.LineItems) == 0 {
		return fmt.Errorf("session has no line items")
	}
	return nil
}

// settledItems resolves each settled line through its embedded catalog reference
func (r *orderReconciler) settledItems(ctx context.Context, d *domain.SessionDetail, cur domain.Currency) ([]*domain.OrderItem, error) {
	items := make([]*domain.OrderItem, 0, len(d.LineItems))
	seen := map[string]bool{}

	for i, line := range d.LineItems {
		key := line.Metadata[domain.MetaLineRef]
		if !domain.IsLineKey(key) {
			return nil, fmt.Errorf("line %d (%s) has no catalog reference", i, line.Description)
		}
		if seen[key] {
			return nil, fmt.Errorf("catalog reference %s appears on more than one line", key)
		}
		seen[key] = true

		value, ok := d.Metadata[key]
		if !ok {
			return nil, fmt.Errorf("session metadata is missing %s", key)
		}
		ref, err := domain.DecodeLineRef(value)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		if line.Quantity < 1 {
			return nil, fmt.Errorf("line %d has invalid quantity %d", i, line.Quantity)
		}
		if line.Quantity != int64(ref.Quantity) || line.UnitAmount != ref.UnitPriceMinor {
			r.logger.Warn("Settled line differs from checkout snapshot",
				zap.String("session_id", d.ID),
				zap.String("line_ref", key),
				zap.Int64("settled_quantity", line.Quantity),
				zap.Int("checkout_quantity", ref.Quantity),
				zap.Int64("settled_unit_amount", line.UnitAmount),
				zap.Int64("checkout_unit_amount", ref.UnitPriceMinor),
			)
		}

		item := &domain.OrderItem{
			ID:              uuid.New(),
			ProductID:       ref.ProductID,
			VariantID:       ref.VariantID,
			ProductName:     line.Description,
			Quantity:        int(line.Quantity),
			PriceAtPurchase: cur.FromMinor(line.UnitAmount),
			Subtotal:        cur.FromMinor(line.AmountSubtotal),
		}
		r.snapshotNames(ctx, item)
		items = append(items, item)
	}

	if raw, ok := d.Metadata[domain.MetaLineCount]; ok {
		count, err := strconv.Atoi(raw)
		if err != nil || count != len(items) {
			return nil, fmt.Errorf("session settled %d lines, checkout recorded %s", len(items), raw)
		}
	}

	sum := lo.SumBy(d.LineItems, func(l domain.SettledLineItem) int64 { return l.AmountSubtotal })
	if sum != d.AmountSubtotal {
		return nil, fmt.Errorf("line subtotals sum to %d, session subtotal is %d", sum, d.AmountSubtotal)
	}

	return items, nil
}

// snapshotNames replaces the provider description with catalog names when the catalog still has them
func (r *orderReconciler) snapshotNames(ctx context.Context, item *domain.OrderItem) {
	if product, err := r.repos.Catalog.GetProduct(ctx, item.ProductID); err == nil {
		item.ProductName = product.Name
	} else {
		r.logger.Debug("Catalog product unavailable, keeping settled description",
			zap.Int64("product_id", item.ProductID), zap.Error(err))
	}

	if item.VariantID == nil {
		return
	}
	if variant, err := r.repos.Catalog.GetVariant(ctx, *item.VariantID); err == nil {
		name := variant.Name
		item.VariantName = &name
	}
}

func customerFor(d *domain.SessionDetail) domain.Customer {
	pick := func(key, fallback string) string {
		if v := strings.TrimSpace(d.Metadata[key]); v != "" {
			return v
		}
		return strings.TrimSpace(fallback)
	}

	street := d.CustomerAddress.Line1
	if d.CustomerAddress.Line2 != "" {
		street = strings.TrimSpace(street + " " + d.CustomerAddress.Line2)
	}

	return domain.Customer{
		Name:    pick(domain.MetaCustomerName, d.CustomerName),
		Email:   pick(domain.MetaCustomerEmail, d.CustomerEmail),
		Phone:   pick(domain.MetaCustomerPhone, d.CustomerPhone),
		Address: pick(domain.MetaShippingAddress, street),
		City:    pick(domain.MetaShippingCity, d.CustomerAddress.City),
		State:   pick(domain.MetaShippingState, d.CustomerAddress.State),
		Zip:     pick(domain.MetaShippingZip, d.CustomerAddress.PostalCode),
	}
}

// discountFor copies the checkout discount reference onto the order
func discountFor(d *domain.SessionDetail, order *domain.Order) error {
	code := d.Metadata[domain.MetaDiscountCode]
	if code == "" {
		return nil
	}
	order.DiscountCode = &code

	raw, ok := d.Metadata[domain.MetaDiscountCodeID]
	if !ok {
		return nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return fmt.Errorf("invalid discount code id %q", raw)
	}
	order.DiscountCodeID = &id
	return nil
}

// redeemDiscount counts one use of the order's discount code. Callers run it once, in the
// transaction that records the payment as confirmed.
func redeemDiscount(ctx context.Context, tx *repository.Repositories, order *domain.Order) error {
	// A session settled without the discount redeems nothing
	if order.DiscountCodeID == nil || !order.Discount.IsPositive() {
		return nil
	}
	if err := tx.DiscountCode.IncrementUsage(ctx, *order.DiscountCodeID); err != nil {
		return err
	}
	return tx.DiscountCode.RecordUse(ctx, &domain.DiscountUse{
		DiscountCodeID: *order.DiscountCodeID,
		OrderID:        order.ID,
		CustomerEmail:  order.CustomerEmail,
		DiscountAmount: order.Discount,
	})
}
