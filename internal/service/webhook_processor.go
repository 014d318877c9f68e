package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sawdustandcoffee/checkoutapi/internal/domain"
	"github.com/sawdustandcoffee/checkoutapi/internal/repository"
	"github.com/sawdustandcoffee/checkoutapi/pkg/errors"
)

const flagTimeout = 5 * time.Second

// WebhookOutcome describes what processing one event did
type WebhookOutcome string

const (
	OutcomeOrderCreated    WebhookOutcome = "order_created"
	OutcomeDuplicate       WebhookOutcome = "duplicate"
	OutcomePaymentRecorded WebhookOutcome = "payment_recorded"
	OutcomeAlreadyApplied  WebhookOutcome = "already_applied"
	OutcomeOrderCancelled  WebhookOutcome = "order_cancelled"
	OutcomeNoOrder         WebhookOutcome = "no_order"
	OutcomeIgnored         WebhookOutcome = "ignored"
	OutcomeFlagged         WebhookOutcome = "flagged"
)

// WebhookResult is reported back to the provider and logged
type WebhookResult struct {
	EventID   string
	EventType string
	Outcome   WebhookOutcome
	OrderID   *uuid.UUID
	IssueID   *uuid.UUID
}

type sessionMaterializer interface {
	Materialize(ctx context.Context, detail *domain.SessionDetail) (*domain.Order, error)
}

type webhookProcessor struct {
	repos      *repository.Repositories
	gateway    PaymentGateway
	reconciler sessionMaterializer
	now        func() time.Time
	logger     *zap.Logger
}

// NewWebhookProcessor creates the payment event processor
func NewWebhookProcessor(
	repos *repository.Repositories,
	gateway PaymentGateway,
	reconciler sessionMaterializer,
	logger *zap.Logger,
) *webhookProcessor {
	return &webhookProcessor{
		repos:      repos,
		gateway:    gateway,
		reconciler: reconciler,
		now:        time.Now,
		logger:     logger,
	}
}

// Process verifies and applies one webhook delivery. The only error it returns is
// *errors.ErrSignature; every other failure is flagged for operator review.
func (p *webhookProcessor) Process(ctx context.Context, payload []byte, signatureHeader string) (*WebhookResult, error) {
	event, err := p.gateway.VerifyWebhook(payload, signatureHeader)
	if err != nil {
		p.logger.Warn("Rejected webhook delivery", zap.Error(err))
		var sigErr *errors.ErrSignature
		if stderrors.As(err, &sigErr) {
			return nil, sigErr
		}
		return nil, &errors.ErrSignature{Message: "webhook payload could not be verified", Err: err}
	}

	result := p.Dispatch(ctx, event)

	p.logger.Info("Webhook processed",
		zap.String("event_id", event.ID),
		zap.String("event_type", event.RawType),
		zap.String("outcome", string(result.Outcome)),
	)
	return result, nil
}

// Dispatch applies a verified event
func (p *webhookProcessor) Dispatch(ctx context.Context, event *domain.Event) *WebhookResult {
	switch event.Kind {
	case domain.EventCheckoutSessionCompleted:
		if event.SessionCompleted != nil {
			return p.sessionCompleted(ctx, event)
		}
	case domain.EventPaymentIntentSucceeded:
		if event.PaymentSucceeded != nil {
			return p.paymentSucceeded(ctx, event)
		}
	case domain.EventPaymentIntentFailed:
		if event.PaymentFailed != nil {
			return p.paymentFailed(ctx, event)
		}
	default:
		p.logger.Debug("Ignoring webhook event", zap.String("event_type", event.RawType))
		return p.result(event, OutcomeIgnored, nil)
	}

	p.logger.Warn("Webhook event has no payload", zap.String("event_id", event.ID), zap.String("event_type", event.RawType))
	return p.result(event, OutcomeIgnored, nil)
}

// ReconcileSession re-runs order creation for a session, for operator replays. Unlike
// webhook dispatch it returns failures to the caller instead of flagging them.
func (p *webhookProcessor) ReconcileSession(ctx context.Context, sessionID string) (*domain.Order, WebhookOutcome, error) {
	existing, err := p.repos.Order.GetByPaymentSessionID(ctx, sessionID)
	if err == nil {
		return existing, OutcomeDuplicate, nil
	}
	if !isNotFound(err) {
		return nil, "", err
	}

	detail, err := p.gateway.RetrieveSession(ctx, sessionID)
	if err != nil {
		return nil, "", err
	}

	order, err := p.reconciler.Materialize(ctx, detail)
	if stderrors.Is(err, repository.ErrDuplicateSession) {
		existing, getErr := p.repos.Order.GetByPaymentSessionID(ctx, sessionID)
		return existing, OutcomeDuplicate, getErr
	}
	if err != nil {
		return nil, "", err
	}
	return order, OutcomeOrderCreated, nil
}

func (p *webhookProcessor) sessionCompleted(ctx context.Context, event *domain.Event) *WebhookResult {
	payload := event.SessionCompleted

	existing, err := p.repos.Order.GetByPaymentSessionID(ctx, payload.SessionID)
	if err == nil {
		p.logger.Info("Order already exists for session",
			zap.String("session_id", payload.SessionID),
			zap.String("order_number", existing.OrderNumber),
		)
		return p.result(event, OutcomeDuplicate, &existing.ID)
	}
	if !isNotFound(err) {
		return p.flag(ctx, event, payload.SessionID, payload.PaymentIntentID, "order lookup failed", err)
	}

	detail, err := p.gateway.RetrieveSession(ctx, payload.SessionID)
	if err != nil {
		return p.flag(ctx, event, payload.SessionID, payload.PaymentIntentID, "retrieving session failed", err)
	}

	order, err := p.reconciler.Materialize(ctx, detail)
	if stderrors.Is(err, repository.ErrDuplicateSession) {
		// Lost the race to a concurrent delivery of the same event
		p.logger.Info("Concurrent delivery already created the order", zap.String("session_id", payload.SessionID))
		return p.result(event, OutcomeDuplicate, nil)
	}
	if err != nil {
		reason := "materializing order failed"
		var recErr *errors.ErrReconciliation
		if stderrors.As(err, &recErr) {
			reason = recErr.Reason
		}
		return p.flag(ctx, event, payload.SessionID, detail.PaymentIntentID, reason, err)
	}

	return p.result(event, OutcomeOrderCreated, &order.ID)
}

func (p *webhookProcessor) paymentSucceeded(ctx context.Context, event *domain.Event) *WebhookResult {
	piID := event.PaymentSucceeded.PaymentIntentID

	order, err := p.repos.Order.GetByPaymentIntentID(ctx, piID)
	if isNotFound(err) {
		// Session completion stamps paid_at itself when the session is already paid
		p.logger.Info("No order for succeeded payment yet", zap.String("payment_intent_id", piID))
		return p.result(event, OutcomeNoOrder, nil)
	}
	if err != nil {
		return p.flag(ctx, event, "", piID, "order lookup failed", err)
	}
	if order.PaidAt != nil {
		return p.result(event, OutcomeAlreadyApplied, &order.ID)
	}

	paidAt := event.Created
	if paidAt.IsZero() {
		paidAt = p.now()
	}

	var changed bool
	err = p.repos.Tx.WithinTx(ctx, func(tx *repository.Repositories) error {
		var err error
		changed, err = tx.Order.MarkPaid(ctx, piID, paidAt.UTC())
		if err != nil || !changed {
			return err
		}
		if err := redeemDiscount(ctx, tx, order); err != nil {
			return err
		}
		return tx.OrderEvent.Create(ctx, &domain.OrderEvent{
			OrderID:   order.ID,
			EventType: "payment_succeeded",
			EventData: map[string]interface{}{
				"payment_intent_id": piID,
				"event_id":          event.ID,
				"paid_at":           paidAt.UTC().Format(time.RFC3339),
			},
		})
	})
	if err != nil {
		return p.flag(ctx, event, order.PaymentSessionID, piID, "recording payment failed", err)
	}
	if !changed {
		return p.result(event, OutcomeAlreadyApplied, &order.ID)
	}

	if order.Status == domain.OrderStatusCancelled {
		return p.flag(ctx, event, order.PaymentSessionID, piID, "payment succeeded for cancelled order", nil)
	}

	return p.result(event, OutcomePaymentRecorded, &order.ID)
}

func (p *webhookProcessor) paymentFailed(ctx context.Context, event *domain.Event) *WebhookResult {
	payload := event.PaymentFailed
	piID := payload.PaymentIntentID

	order, err := p.repos.Order.GetByPaymentIntentID(ctx, piID)
	if isNotFound(err) {
		p.logger.Info("No order for failed payment", zap.String("payment_intent_id", piID))
		return p.result(event, OutcomeNoOrder, nil)
	}
	if err != nil {
		return p.flag(ctx, event, "", piID, "order lookup failed", err)
	}
	if order.Status == domain.OrderStatusCancelled {
		return p.result(event, OutcomeAlreadyApplied, &order.ID)
	}
	if order.PaidAt != nil || !order.Status.CanTransitionTo(domain.OrderStatusCancelled) {
		p.logger.Warn("Ignoring payment failure for settled order",
			zap.String("order_number", order.OrderNumber),
			zap.String("status", string(order.Status)),
		)
		return p.result(event, OutcomeIgnored, &order.ID)
	}

	note := failureNote(p.now(), payload)

	var changed bool
	err = p.repos.Tx.WithinTx(ctx, func(tx *repository.Repositories) error {
		var err error
		changed, err = tx.Order.MarkPaymentFailed(ctx, piID, note)
		if err != nil || !changed {
			return err
		}
		return tx.OrderEvent.Create(ctx, &domain.OrderEvent{
			OrderID:   order.ID,
			EventType: "payment_failed",
			EventData: map[string]interface{}{
				"from":              order.Status,
				"to":                domain.OrderStatusCancelled,
				"payment_intent_id": piID,
				"event_id":          event.ID,
				"reason":            payload.FailureMessage,
				"code":              payload.FailureCode,
			},
		})
	})
	if err != nil {
		return p.flag(ctx, event, order.PaymentSessionID, piID, "recording payment failure failed", err)
	}
	if !changed {
		return p.result(event, OutcomeAlreadyApplied, &order.ID)
	}

	p.logger.Info("Order cancelled after payment failure",
		zap.String("order_number", order.OrderNumber),
		zap.String("reason", payload.FailureMessage),
	)
	return p.result(event, OutcomeOrderCancelled, &order.ID)
}

// flag logs the failure and queues it for operator review. It does not fail the delivery.
func (p *webhookProcessor) flag(ctx context.Context, event *domain.Event, sessionID, piID, reason string, cause error) *WebhookResult {
	p.logger.Error("Webhook processing needs operator review",
		zap.String("event_id", event.ID),
		zap.String("event_type", event.RawType),
		zap.String("session_id", sessionID),
		zap.String("payment_intent_id", piID),
		zap.String("reason", reason),
		zap.Error(cause),
	)

	issue := &domain.ReconciliationIssue{
		ID:        uuid.New(),
		EventID:   event.ID,
		EventType: event.RawType,
		Reason:    reason,
		Details:   map[string]interface{}{},
		Status:    domain.IssueStatusOpen,
	}
	if sessionID != "" {
		issue.PaymentSessionID = &sessionID
	}
	if piID != "" {
		issue.PaymentIntentID = &piID
	}
	if cause != nil {
		issue.Details["error"] = cause.Error()
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), flagTimeout)
	defer cancel()

	result := p.result(event, OutcomeFlagged, nil)
	if err := p.repos.ReconciliationIssue.Create(ctx, issue); err != nil {
		p.logger.Error("Failed to queue reconciliation issue",
			zap.String("event_id", event.ID),
			zap.String("reason", reason),
			zap.Error(err),
		)
		return result
	}
	result.IssueID = &issue.ID
	return result
}

func (p *webhookProcessor) result(event *domain.Event, outcome WebhookOutcome, orderID *uuid.UUID) *WebhookResult {
	return &WebhookResult{
		EventID:   event.ID,
		EventType: event.RawType,
		Outcome:   outcome,
		OrderID:   orderID,
	}
}

func failureNote(at time.Time, payload *domain.PaymentIntentUpdate) string {
	msg := strings.TrimSpace(payload.FailureMessage)
	if msg == "" {
		msg = "no reason given"
	}
	note := fmt.Sprintf("[%s] Payment failed: %s", at.UTC().Format(time.RFC3339), msg)
	if payload.FailureCode != "" {
		note += " (" + payload.FailureCode + ")"
	}
	return note
}

func isNotFound(err error) bool {
	var notFound *errors.ErrNotFound
	return stderrors.As(err, &notFound)
}
