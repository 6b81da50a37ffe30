// Package queue provides the SQS producer that publishes per-send outcome
// events for downstream consumers (analytics, digest tooling). Publishing is
// best-effort: a queue failure never fails a delivery batch.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"

	"tomorrow/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// OutcomeEvent is the JSON message published after each delivery attempt.
type OutcomeEvent struct {
	EventID     string         `json:"event_id"`
	UserID      string         `json:"user_id"`
	Outcome     types.Outcome  `json:"outcome"`
	Kind        types.SendKind `json:"kind"`
	HighlightID string         `json:"highlight_id,omitempty"`
	MessageID   string         `json:"message_id,omitempty"`
	Error       string         `json:"error,omitempty"`
	OccurredAt  time.Time      `json:"occurred_at"`
}

// OutcomePublisher publishes OutcomeEvents to an SQS queue. When constructed
// with an empty queue URL the publisher is disabled and every Publish call is
// a no-op, so callers never need a nil check.
type OutcomePublisher struct {
	client   SQSSender
	queueURL string
	logger   *slog.Logger
}

// NewOutcomePublisher creates an OutcomePublisher. queueURL may be empty to
// disable publishing (the local/dev default).
func NewOutcomePublisher(client SQSSender, queueURL string, logger *slog.Logger) *OutcomePublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &OutcomePublisher{
		client:   client,
		queueURL: queueURL,
		logger:   logger,
	}
}

// Enabled reports whether a queue URL is configured.
func (p *OutcomePublisher) Enabled() bool {
	return p.queueURL != "" && p.client != nil
}

// Publish sends one outcome event. The EventID and OccurredAt fields are
// filled in when empty. Errors are returned for observability but callers
// treat them as non-fatal.
func (p *OutcomePublisher) Publish(ctx context.Context, event OutcomeEvent) error {
	if !p.Enabled() {
		return nil
	}

	if event.EventID == "" {
		event.EventID = uuid.New().String()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("queue: failed to marshal outcome event: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"outcome": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(event.Outcome)),
			},
			"kind": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(event.Kind)),
			},
		},
	}

	if _, err := p.client.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("queue: failed to send outcome event to %s: %w", p.queueURL, err)
	}

	p.logger.InfoContext(ctx, "outcome event published",
		"queue_url", p.queueURL,
		"event_id", event.EventID,
		"user_id", event.UserID,
		"outcome", string(event.Outcome),
		"kind", string(event.Kind),
	)

	return nil
}
