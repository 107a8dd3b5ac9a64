// Package consumer runs the receive side of the outbox pipeline: it filters a
// subscription down to one event type, decodes the envelope, dedupes by event
// id and decides between ack and nack.
package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/angelmondragon/ticketbooth/pkg/enums"
	"github.com/angelmondragon/ticketbooth/pkg/logger"
	"github.com/angelmondragon/ticketbooth/pkg/outbox"
)

type Decision uint8

const (
	Ack Decision = iota
	Nack
)

func (d Decision) String() string {
	if d == Nack {
		return "nack"
	}
	return "ack"
}

// Guard remembers which event ids a named consumer has already handled.
type Guard interface {
	CheckAndMarkProcessed(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error)
	Delete(ctx context.Context, consumer string, eventID uuid.UUID) error
}

// Delivery is one decoded message.
type Delivery[T any] struct {
	EventID    uuid.UUID
	OccurredAt time.Time
	Payload    T
	Raw        json.RawMessage
}

type Handler[T any] func(ctx context.Context, d Delivery[T]) error

type dropped struct{ err error }

func (d dropped) Error() string { return d.err.Error() }
func (d dropped) Unwrap() error { return d.err }

// Drop marks a handler failure that redelivery cannot fix. The message is
// acked and the event id stays claimed.
func Drop(err error) error {
	if err == nil {
		return nil
	}
	return dropped{err: err}
}

type Options[T any] struct {
	Name         string
	EventType    enums.OutboxEventType
	Subscription *pubsub.Subscriber
	Guard        Guard
	Logger       *logger.Logger
	Handle       Handler[T]
	// Fields adds payload-derived log fields; optional.
	Fields func(T) map[string]any
}

type Consumer[T any] struct {
	opts Options[T]
}

// New checks opts. Subscription may be nil for consumers that are only
// driven through Process.
func New[T any](opts Options[T]) (*Consumer[T], error) {
	switch {
	case opts.Name == "":
		return nil, errors.New("consumer name required")
	case !opts.EventType.IsValid():
		return nil, fmt.Errorf("%s: unknown event type %q", opts.Name, opts.EventType)
	case opts.Guard == nil:
		return nil, fmt.Errorf("%s: idempotency guard required", opts.Name)
	case opts.Logger == nil:
		return nil, fmt.Errorf("%s: logger required", opts.Name)
	case opts.Handle == nil:
		return nil, fmt.Errorf("%s: handler required", opts.Name)
	}
	return &Consumer[T]{opts: opts}, nil
}

func (c *Consumer[T]) Name() string { return c.opts.Name }

// Run receives until ctx is cancelled or the subscription fails.
func (c *Consumer[T]) Run(ctx context.Context) error {
	if c.opts.Subscription == nil {
		return fmt.Errorf("%s: subscription not configured", c.opts.Name)
	}
	return c.opts.Subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		if c.Process(ctx, msg) == Nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

// Process handles one message. Malformed or foreign messages are acked so
// they do not cycle forever; only infrastructure and handler failures nack.
func (c *Consumer[T]) Process(ctx context.Context, msg *pubsub.Message) Decision {
	logg := c.opts.Logger
	eventType := msg.Attributes["event_type"]
	ctx = logg.WithFields(ctx, map[string]any{
		"consumer":   c.opts.Name,
		"message_id": msg.ID,
		"event_type": eventType,
	})

	if eventType != string(c.opts.EventType) {
		logg.Debug(ctx, "consumer.skipped")
		return Ack
	}

	d, err := decode[T](msg.Data)
	if err != nil {
		logg.Error(ctx, "consumer.malformed", err)
		return Ack
	}
	ctx = logg.WithEventID(ctx, d.EventID.String())
	if c.opts.Fields != nil {
		ctx = logg.WithFields(ctx, c.opts.Fields(d.Payload))
	}

	seen, err := c.opts.Guard.CheckAndMarkProcessed(ctx, c.opts.Name, d.EventID)
	if err != nil {
		logg.Error(ctx, "consumer.guard_failed", err)
		return Nack
	}
	if seen {
		logg.Info(ctx, "consumer.duplicate")
		return Ack
	}

	err = c.opts.Handle(ctx, d)
	var drop dropped
	switch {
	case err == nil:
		return Ack
	case errors.As(err, &drop):
		logg.Warn(logg.WithField(ctx, "error", err.Error()), "consumer.dropped")
		return Ack
	default:
		logg.Error(ctx, "consumer.failed", err)
		if relErr := c.opts.Guard.Delete(context.WithoutCancel(ctx), c.opts.Name, d.EventID); relErr != nil {
			logg.Error(ctx, "consumer.release_failed", relErr)
		}
		return Nack
	}
}

type validatable interface{ Validate() error }

func decode[T any](body []byte) (Delivery[T], error) {
	var d Delivery[T]
	envelope, err := outbox.DecodeEnvelope(body)
	if err != nil {
		return d, err
	}
	if d.EventID, err = envelope.ParsedEventID(); err != nil {
		return d, err
	}
	if err := json.Unmarshal(envelope.Data, &d.Payload); err != nil {
		return d, fmt.Errorf("decode payload: %w", err)
	}
	if v, ok := any(&d.Payload).(validatable); ok {
		if err := v.Validate(); err != nil {
			return d, fmt.Errorf("invalid payload: %w", err)
		}
	}
	d.OccurredAt = envelope.OccurredAt
	d.Raw = envelope.Data
	return d, nil
}
