package gateway

import (
	"context"
	"fmt"
	"strings"

	"github.com/cenkalti/backoff/v4"
	"github.com/stripe/stripe-go/v76"
	"go.uber.org/zap"

	"github.com/sawdustandcoffee/checkoutapi/internal/domain"
	"github.com/sawdustandcoffee/checkoutapi/pkg/errors"
)

// CreateCheckoutSession creates a hosted payment session. It is never retried here;
// the idempotency key lets a caller-level resubmission reuse the same session.
func (c *Client) CreateCheckoutSession(ctx context.Context, intent *domain.CheckoutIntent) (*domain.CreatedSession, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:          stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:    stripe.String(intent.SuccessURL),
		CancelURL:     stripe.String(intent.CancelURL),
		CustomerEmail: stripe.String(intent.Customer.Email),
		Metadata:      intent.Metadata,
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: map[string]string{domain.MetaIdempotencyKey: intent.IdempotencyKey},
		},
	}
	if c.automaticTax {
		params.AutomaticTax = &stripe.CheckoutSessionAutomaticTaxParams{Enabled: stripe.Bool(true)}
	}

	for _, line := range intent.ProductLines() {
		params.LineItems = append(params.LineItems, &stripe.CheckoutSessionLineItemParams{
			Quantity: stripe.Int64(int64(line.Quantity)),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(intent.Currency),
				UnitAmount: stripe.Int64(line.UnitPriceMinor),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name:     stripe.String(line.Name),
					Metadata: map[string]string{domain.MetaLineRef: line.Ref},
				},
			},
		})
	}

	// Stripe rejects negative unit amounts, so the discount line becomes a one-off coupon
	var couponID string
	if discount, ok := intent.DiscountLine(); ok {
		var err error
		couponID, err = c.createCoupon(ctx, intent, discount)
		if err != nil {
			return nil, err
		}
		params.Discounts = []*stripe.CheckoutSessionDiscountParams{{Coupon: stripe.String(couponID)}}
	}

	params.SetIdempotencyKey("checkout:" + intent.IdempotencyKey)

	session, err := execute(ctx, c, func(ctx context.Context) (*stripe.CheckoutSession, error) {
		params.Context = ctx
		return c.api.CheckoutSessions.New(params)
	})
	if err != nil {
		c.logger.Error("Stripe session creation failed",
			zap.String("idempotency_key", intent.IdempotencyKey),
			zap.Error(err),
		)
		// A rejected session was never created; after a transport fault it might have been
		if couponID != "" && isClientError(err) {
			c.discardCoupon(ctx, couponID)
		}
		return nil, paymentGatewayError("create checkout session", err)
	}

	c.logger.Info("Stripe checkout session created",
		zap.String("session_id", session.ID),
		zap.Int("line_items", len(params.LineItems)),
	)
	return &domain.CreatedSession{ID: session.ID, URL: session.URL}, nil
}

func (c *Client) createCoupon(ctx context.Context, intent *domain.CheckoutIntent, discount domain.PricedLineItem) (string, error) {
	name := discount.Name
	if len(name) > couponNameLimit {
		name = name[:couponNameLimit]
	}

	params := &stripe.CouponParams{
		AmountOff:      stripe.Int64(-discount.LineTotalMinor),
		Currency:       stripe.String(intent.Currency),
		Duration:       stripe.String(string(stripe.CouponDurationOnce)),
		MaxRedemptions: stripe.Int64(1),
		Name:           stripe.String(name),
	}
	if intent.DiscountCode != nil {
		params.AddMetadata(domain.MetaDiscountCode, *intent.DiscountCode)
	}
	params.SetIdempotencyKey("coupon:" + intent.IdempotencyKey)

	coupon, err := execute(ctx, c, func(ctx context.Context) (*stripe.Coupon, error) {
		params.Context = ctx
		return c.api.Coupons.New(params)
	})
	if err != nil {
		c.logger.Error("Stripe coupon creation failed", zap.String("name", name), zap.Error(err))
		return "", paymentGatewayError("create discount coupon", err)
	}
	return coupon.ID, nil
}

func (c *Client) discardCoupon(ctx context.Context, couponID string) {
	ctx = context.WithoutCancel(ctx)
	_, err := execute(ctx, c, func(ctx context.Context) (*stripe.Coupon, error) {
		params := &stripe.CouponParams{}
		params.Context = ctx
		return c.api.Coupons.Del(couponID, params)
	})
	if err != nil {
		c.logger.Warn("Failed to delete unused Stripe coupon", zap.String("coupon_id", couponID), zap.Error(err))
	}
}

// RetrieveSession fetches the settled session with every line item. Transient faults
// are retried with exponential backoff; provider rejections are returned at once.
func (c *Client) RetrieveSession(ctx context.Context, sessionID string) (*domain.SessionDetail, error) {
	var detail *domain.SessionDetail

	attempt := 0
	op := func() error {
		attempt++
		d, err := execute(ctx, c, func(ctx context.Context) (*domain.SessionDetail, error) {
			return c.fetchSession(ctx, sessionID)
		})
		if err != nil {
			if isClientError(err) {
				return backoff.Permanent(err)
			}
			c.logger.Warn("Retrieving Stripe session failed",
				zap.String("session_id", sessionID),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			return err
		}
		detail = d
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.retries), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		if isClientError(err) {
			return nil, paymentGatewayError("retrieve checkout session", err)
		}
		return nil, &errors.ErrGatewayCommunication{Op: "retrieve checkout session", Err: err}
	}
	return detail, nil
}

func (c *Client) fetchSession(ctx context.Context, sessionID string) (*domain.SessionDetail, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	params.AddExpand("payment_intent")

	session, err := c.api.CheckoutSessions.Get(sessionID, params)
	if err != nil {
		return nil, err
	}

	listParams := &stripe.CheckoutSessionListLineItemsParams{Session: stripe.String(sessionID)}
	listParams.Context = ctx
	listParams.AddExpand("data.price.product")

	var items []domain.SettledLineItem
	iter := c.api.CheckoutSessions.ListLineItems(listParams)
	for iter.Next() {
		items = append(items, settledLine(iter.LineItem()))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("listing line items: %w", err)
	}

	detail := sessionDetail(session)
	detail.LineItems = items
	return detail, nil
}

func sessionDetail(s *stripe.CheckoutSession) *domain.SessionDetail {
	d := &domain.SessionDetail{
		ID:             s.ID,
		PaymentStatus:  string(s.PaymentStatus),
		Currency:       strings.ToLower(string(s.Currency)),
		AmountSubtotal: s.AmountSubtotal,
		AmountTotal:    s.AmountTotal,
		Metadata:       s.Metadata,
	}
	if d.Metadata == nil {
		d.Metadata = map[string]string{}
	}
	if s.PaymentIntent != nil {
		d.PaymentIntentID = s.PaymentIntent.ID
	}
	if s.TotalDetails != nil {
		d.AmountDiscount = s.TotalDetails.AmountDiscount
		d.AmountTax = s.TotalDetails.AmountTax
		d.AmountShipping = s.TotalDetails.AmountShipping
	}
	if cd := s.CustomerDetails; cd != nil {
		d.CustomerName = cd.Name
		d.CustomerEmail = cd.Email
		d.CustomerPhone = cd.Phone
		if cd.Address != nil {
			d.CustomerAddress = address(cd.Address)
		}
	}
	if s.ShippingDetails != nil && s.ShippingDetails.Address != nil {
		d.CustomerAddress = address(s.ShippingDetails.Address)
	}
	return d
}

func settledLine(li *stripe.LineItem) domain.SettledLineItem {
	line := domain.SettledLineItem{
		Description:    li.Description,
		Quantity:       li.Quantity,
		AmountSubtotal: li.AmountSubtotal,
		AmountTotal:    li.AmountTotal,
		Metadata:       map[string]string{},
	}
	if li.Price != nil {
		line.UnitAmount = li.Price.UnitAmount
		if li.Price.Product != nil && li.Price.Product.Metadata != nil {
			line.Metadata = li.Price.Product.Metadata
		}
	}
	return line
}

func address(a *stripe.Address) domain.Address {
	return domain.Address{
		Line1:      a.Line1,
		Line2:      a.Line2,
		City:       a.City,
		State:      a.State,
		PostalCode: a.PostalCode,
		Country:    a.Country,
	}
}
