package domain

import "time"

// EventKind identifies which payload a payment Event carries
type EventKind string

const (
	EventCheckoutSessionCompleted EventKind = "checkout.session.completed"
	EventPaymentIntentSucceeded   EventKind = "payment_intent.succeeded"
	EventPaymentIntentFailed      EventKind = "payment_intent.payment_failed"
)

// Event is a verified payment provider notification. Exactly one payload
// field is set for the known kinds; unknown kinds carry none.
type Event struct {
	ID      string
	Kind    EventKind
	RawType string
	Created time.Time

	SessionCompleted *SessionCompleted
	PaymentSucceeded *PaymentIntentUpdate
	PaymentFailed    *PaymentIntentUpdate
}

// SessionCompleted is the payload of a checkout.session.completed event
type SessionCompleted struct {
	SessionID       string
	PaymentIntentID string
	PaymentStatus   string
}

// PaymentIntentUpdate is the payload of payment_intent.* events
type PaymentIntentUpdate struct {
	PaymentIntentID string
	FailureMessage  string
	FailureCode     string
}
