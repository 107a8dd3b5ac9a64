// Package registry routes outbox rows to Pub/Sub topics and checks that each
// row's payload still matches the schema of its event type before it leaves.
package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/angelmondragon/ticketbooth/pkg/config"
	"github.com/angelmondragon/ticketbooth/pkg/db/models"
	"github.com/angelmondragon/ticketbooth/pkg/enums"
	"github.com/angelmondragon/ticketbooth/pkg/outbox"
	"github.com/angelmondragon/ticketbooth/pkg/outbox/payloads"
)

type EventDescriptor struct {
	EventType      enums.OutboxEventType
	AggregateType  enums.OutboxAggregateType
	Topic          string
	PayloadFactory func() any
}

type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    any
}

type EventRegistry struct {
	entries map[enums.OutboxEventType]EventDescriptor
}

// NonRetryableError marks a row that can never be published as stored.
type NonRetryableError struct {
	Err error
}

func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable error"
	}
	return e.Err.Error()
}

func (e NonRetryableError) Unwrap() error { return e.Err }

func NewNonRetryableError(err error) NonRetryableError {
	return NonRetryableError{Err: err}
}

func terminalf(format string, args ...any) error {
	return NewNonRetryableError(fmt.Errorf(format, args...))
}

// order describes an order-aggregate event whose payload decodes into T.
func order[T any](eventType enums.OutboxEventType, topic string) EventDescriptor {
	return EventDescriptor{
		EventType:      eventType,
		AggregateType:  enums.AggregateOrder,
		Topic:          topic,
		PayloadFactory: func() any { return new(T) },
	}
}

// NewEventRegistry wires every outbox event type to its topic. Lifecycle
// transitions share the orders topic; issuance and notification requests
// have topics of their own so their workers scale separately.
func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	var missing []string
	for name, topic := range map[string]string{
		"orders":       cfg.OrdersTopic,
		"issuance":     cfg.IssuanceTopic,
		"notification": cfg.NotificationTopic,
	} {
		if topic == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("topics not configured: %v", missing)
	}

	descriptors := []EventDescriptor{
		order[payloads.OrderCreatedEvent](enums.EventOrderCreated, cfg.OrdersTopic),
		order[payloads.TicketIssuanceRequestedEvent](enums.EventTicketIssuanceRequested, cfg.IssuanceTopic),
		order[payloads.NotificationRequestedEvent](enums.EventNotificationRequested, cfg.NotificationTopic),
	}
	for _, eventType := range enums.OrderLifecycleEvents() {
		if eventType == enums.EventOrderCreated {
			continue
		}
		descriptors = append(descriptors, order[payloads.OrderStatusChangedEvent](eventType, cfg.OrdersTopic))
	}

	reg := &EventRegistry{entries: make(map[enums.OutboxEventType]EventDescriptor, len(descriptors))}
	for _, desc := range descriptors {
		if _, dup := reg.entries[desc.EventType]; dup {
			return nil, fmt.Errorf("event type %s registered twice", desc.EventType)
		}
		reg.entries[desc.EventType] = desc
	}
	return reg, nil
}

// Topics lists the distinct topics the registry can route to.
func (r *EventRegistry) Topics() []string {
	seen := map[string]struct{}{}
	var topics []string
	for _, desc := range r.entries {
		if _, ok := seen[desc.Topic]; !ok {
			seen[desc.Topic] = struct{}{}
			topics = append(topics, desc.Topic)
		}
	}
	sort.Strings(topics)
	return topics
}

type validatable interface{ Validate() error }

// Resolve decodes the row's envelope and typed payload. Every failure is
// non-retryable: the row is already committed and will not change.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	desc, ok := r.entries[event.EventType]
	switch {
	case !ok:
		return nil, terminalf("unsupported event type %s", event.EventType)
	case desc.AggregateType != event.AggregateType:
		return nil, terminalf("aggregate mismatch: expected %s got %s", desc.AggregateType, event.AggregateType)
	case event.AggregateID == uuid.Nil:
		return nil, terminalf("missing aggregate_id")
	}

	envelope, err := outbox.DecodeEnvelope(event.Payload)
	if err != nil {
		return nil, NewNonRetryableError(err)
	}
	if data := bytes.TrimSpace(envelope.Data); len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, terminalf("payload missing for %s", event.EventType)
	}

	payload := desc.PayloadFactory()
	if err := json.Unmarshal(envelope.Data, payload); err != nil {
		return nil, terminalf("decode %s payload: %w", event.EventType, err)
	}
	if v, ok := payload.(validatable); ok {
		if err := v.Validate(); err != nil {
			return nil, NewNonRetryableError(errors.Join(fmt.Errorf("%s payload rejected", event.EventType), err))
		}
	}
	return &ResolvedEvent{Descriptor: desc, Envelope: envelope, Payload: payload}, nil
}
