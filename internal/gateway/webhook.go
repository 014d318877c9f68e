package gateway

import (
	"encoding/json"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/sawdustandcoffee/checkoutapi/internal/domain"
	"github.com/sawdustandcoffee/checkoutapi/pkg/errors"
)

// VerifyWebhook checks the Stripe-Signature header against the raw body and decodes the event.
// Payloads older than the configured tolerance are rejected.
func (c *Client) VerifyWebhook(payload []byte, signatureHeader string) (*domain.Event, error) {
	tolerance := c.tolerance
	if tolerance <= 0 {
		tolerance = webhook.DefaultTolerance
	}

	raw, err := webhook.ConstructEventWithOptions(payload, signatureHeader, c.webhookSecret, webhook.ConstructEventOptions{
		Tolerance:                tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, &errors.ErrSignature{Err: err}
	}

	event := &domain.Event{
		ID:      raw.ID,
		Kind:    domain.EventKind(raw.Type),
		RawType: string(raw.Type),
		Created: time.Unix(raw.Created, 0).UTC(),
	}
	if raw.Data == nil {
		return event, nil
	}

	switch event.Kind {
	case domain.EventCheckoutSessionCompleted:
		var session stripe.CheckoutSession
		if err := json.Unmarshal(raw.Data.Raw, &session); err != nil {
			return nil, &errors.ErrSignature{Message: "malformed checkout session payload", Err: err}
		}
		completed := &domain.SessionCompleted{
			SessionID:     session.ID,
			PaymentStatus: string(session.PaymentStatus),
		}
		if session.PaymentIntent != nil {
			completed.PaymentIntentID = session.PaymentIntent.ID
		}
		event.SessionCompleted = completed

	case domain.EventPaymentIntentSucceeded, domain.EventPaymentIntentFailed:
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(raw.Data.Raw, &pi); err != nil {
			return nil, &errors.ErrSignature{Message: "malformed payment intent payload", Err: err}
		}
		update := &domain.PaymentIntentUpdate{PaymentIntentID: pi.ID}
		if pi.LastPaymentError != nil {
			update.FailureMessage = pi.LastPaymentError.Msg
			update.FailureCode = string(pi.LastPaymentError.Code)
		}
		if event.Kind == domain.EventPaymentIntentSucceeded {
			event.PaymentSucceeded = update
		} else {
			event.PaymentFailed = update
		}
	}

	return event, nil
}
