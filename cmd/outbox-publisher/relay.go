package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"gorm.io/gorm"

	"github.com/angelmondragon/ticketbooth/pkg/db/models"
	"github.com/angelmondragon/ticketbooth/pkg/enums"
	"github.com/angelmondragon/ticketbooth/pkg/metrics"
	"github.com/angelmondragon/ticketbooth/pkg/outbox/registry"
)

type outcome uint8

const (
	outcomePublished outcome = iota
	outcomeRetried
	outcomeDeadLettered
)

// relay moves one row forward: published, scheduled for retry, or parked in
// the DLQ. The returned error is reserved for bookkeeping failures.
func (s *Service) relay(ctx context.Context, tx *gorm.DB, event models.OutboxEvent) (outcome, error) {
	resolved, err := s.registry.Resolve(event)
	if err != nil {
		return s.deadLetter(ctx, tx, event, "", enums.OutboxDLQReasonNonRetryable, err)
	}

	topic := resolved.Descriptor.Topic
	ctx = s.logg.WithFields(ctx, rowFields(event, resolved.Envelope.EventID, topic))

	pubErr := s.publish(ctx, topic, message(event, resolved.Envelope.EventID))
	if pubErr == nil {
		if err := s.repo.MarkPublishedTx(tx, event.ID); err != nil {
			return 0, fmt.Errorf("mark published %s: %w", event.ID, err)
		}
		s.metrics.Inc(topic, metrics.OutboxPublished)
		s.logg.Info(ctx, "outbox.published")
		return outcomePublished, nil
	}

	var terminal registry.NonRetryableError
	if errors.As(pubErr, &terminal) {
		return s.deadLetter(ctx, tx, event, topic, enums.OutboxDLQReasonNonRetryable, pubErr)
	}
	if event.AttemptCount+1 >= s.maxAttempts {
		return s.deadLetter(ctx, tx, event, topic, enums.OutboxDLQReasonMaxAttempts,
			fmt.Errorf("gave up after %d attempts: %w", event.AttemptCount+1, pubErr))
	}

	if err := s.repo.MarkFailedTx(tx, event.ID, pubErr); err != nil {
		return 0, fmt.Errorf("mark failure %s: %w", event.ID, err)
	}
	s.metrics.Inc(topic, metrics.OutboxRetried)
	s.logg.Warn(s.logg.WithField(ctx, "error", pubErr.Error()), "outbox.retry_scheduled")
	return outcomeRetried, nil
}

func (s *Service) deadLetter(ctx context.Context, tx *gorm.DB, event models.OutboxEvent, topic string, reason enums.OutboxDLQErrorReason, cause error) (outcome, error) {
	msg := cause.Error()
	entry := models.OutboxDLQ{
		EventID:       event.ID,
		EventType:     event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		Payload:       event.Payload,
		ErrorReason:   reason,
		ErrorMessage:  &msg,
		AttemptCount:  event.AttemptCount,
		FailedAt:      time.Now().UTC(),
	}
	if err := s.dlq.InsertTx(tx, entry); err != nil {
		return 0, fmt.Errorf("insert dlq %s: %w", event.ID, err)
	}
	if err := s.repo.MarkTerminalTx(tx, event.ID, cause, s.maxAttempts); err != nil {
		return 0, fmt.Errorf("mark terminal %s: %w", event.ID, err)
	}

	s.metrics.Inc(topic, metrics.OutboxDeadLettered)
	s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
		"outbox_id":    event.ID.String(),
		"error_reason": reason,
		"error":        msg,
	}), "outbox.dead_lettered")
	return outcomeDeadLettered, nil
}

func (s *Service) publish(ctx context.Context, topic string, msg *gcppubsub.Message) error {
	pub := s.publisherFactory(topic)
	if pub == nil {
		return registry.NewNonRetryableError(fmt.Errorf("no publisher for topic %q", topic))
	}

	ctx, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
	defer cancel()
	result := pub.Publish(ctx, msg)
	if result == nil {
		return registry.NewNonRetryableError(fmt.Errorf("publisher for %q returned no result", topic))
	}
	_, err := result.Get(ctx)
	return err
}

// message keys every event of one aggregate onto the same ordering key so a
// consumer never sees order.paid before order.created.
func message(event models.OutboxEvent, eventID string) *gcppubsub.Message {
	return &gcppubsub.Message{
		Data:        event.Payload,
		OrderingKey: event.AggregateID.String(),
		Attributes: map[string]string{
			"event_id":       eventID,
			"event_type":     string(event.EventType),
			"aggregate_type": string(event.AggregateType),
			"aggregate_id":   event.AggregateID.String(),
			"created_at":     event.CreatedAt.Format(time.RFC3339Nano),
		},
	}
}

func rowFields(event models.OutboxEvent, eventID, topic string) map[string]any {
	fields := map[string]any{
		"outbox_id":     event.ID.String(),
		"event_id":      eventID,
		"event_type":    event.EventType,
		"topic":         topic,
		"attempt_count": event.AttemptCount,
	}
	if event.AggregateType == enums.AggregateOrder {
		fields["order_id"] = event.AggregateID.String()
	}
	return fields
}
