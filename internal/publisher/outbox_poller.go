package publisher

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/sawdustandcoffee/checkoutapi/internal/domain"
	"github.com/sawdustandcoffee/checkoutapi/internal/repository"
)

const batchSize = 100

// MessageWriter is the subset of *kafka.Writer the poller needs
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// OutboxPoller publishes unpublished reconciliation issues to Kafka
type OutboxPoller struct {
	tick   time.Duration
	issues repository.ReconciliationIssueRepository
	writer MessageWriter
	logger *zap.Logger
}

// NewKafkaWriter creates the writer for the reconciliation issue topic
func NewKafkaWriter(topic string, brokers ...string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
}

func NewOutboxPoller(issues repository.ReconciliationIssueRepository, writer MessageWriter, tick time.Duration, logger *zap.Logger) *OutboxPoller {
	if tick <= 0 {
		tick = 5 * time.Second
	}
	return &OutboxPoller{tick: tick, issues: issues, writer: writer, logger: logger}
}

// Run polls until ctx is cancelled, then closes the writer
func (p *OutboxPoller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.tick)
	defer ticker.Stop()
	defer func() {
		if err := p.writer.Close(); err != nil {
			p.logger.Warn("Failed to close outbox writer", zap.Error(err))
		}
	}()

	for {
		select {
		case <-ticker.C:
			p.PublishPending(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// PublishPending sends one batch of unpublished issues and returns how many were marked published
func (p *OutboxPoller) PublishPending(ctx context.Context) int {
	pending, err := p.issues.ListUnpublished(ctx, batchSize)
	if err != nil {
		p.logger.Error("Failed to fetch unpublished issues", zap.Error(err))
		return 0
	}
	if len(pending) == 0 {
		return 0
	}

	msgs := make([]kafka.Message, 0, len(pending))
	ids := make([]uuid.UUID, 0, len(pending))
	for _, issue := range pending {
		msg, err := issueMessage(issue)
		if err != nil {
			p.logger.Error("Failed to encode issue", zap.String("issue_id", issue.ID.String()), zap.Error(err))
			continue
		}
		msgs = append(msgs, msg)
		ids = append(ids, issue.ID)
	}
	if len(msgs) == 0 {
		return 0
	}

	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		p.logger.Warn("Failed to publish issues", zap.Int("count", len(msgs)), zap.Error(err))
		return 0
	}

	if err := p.issues.MarkPublished(ctx, ids); err != nil {
		// rows stay unpublished and go out again on the next tick
		p.logger.Error("Failed to mark issues published", zap.Int("count", len(ids)), zap.Error(err))
		return 0
	}

	p.logger.Info("Published reconciliation issues", zap.Int("count", len(ids)))
	return len(ids)
}

type issuePayload struct {
	ID               string                 `json:"id"`
	EventID          string                 `json:"event_id"`
	EventType        string                 `json:"event_type"`
	PaymentSessionID *string                `json:"payment_session_id,omitempty"`
	PaymentIntentID  *string                `json:"payment_intent_id,omitempty"`
	Reason           string                 `json:"reason"`
	Details          map[string]interface{} `json:"details,omitempty"`
	CreatedAt        time.Time              `json:"created_at"`
}

func issueMessage(issue *domain.ReconciliationIssue) (kafka.Message, error) {
	body, err := json.Marshal(issuePayload{
		ID:               issue.ID.String(),
		EventID:          issue.EventID,
		EventType:        issue.EventType,
		PaymentSessionID: issue.PaymentSessionID,
		PaymentIntentID:  issue.PaymentIntentID,
		Reason:           issue.Reason,
		Details:          issue.Details,
		CreatedAt:        issue.CreatedAt,
	})
	if err != nil {
		return kafka.Message{}, err
	}

	// key by session so issues for one checkout land on one partition
	key := issue.ID.String()
	if issue.PaymentSessionID != nil && *issue.PaymentSessionID != "" {
		key = *issue.PaymentSessionID
	}

	return kafka.Message{
		Key:   []byte(key),
		Value: body,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte("reconciliation_issue")},
			{Key: "source_event_type", Value: []byte(issue.EventType)},
		},
	}, nil
}
