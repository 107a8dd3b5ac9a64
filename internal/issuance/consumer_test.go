package issuance

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/angelmondragon/ticketbooth/pkg/enums"
	pkgerrors "github.com/angelmondragon/ticketbooth/pkg/errors"
	"github.com/angelmondragon/ticketbooth/pkg/logger"
	"github.com/angelmondragon/ticketbooth/pkg/outbox"
	"github.com/angelmondragon/ticketbooth/pkg/outbox/consumer"
	"github.com/angelmondragon/ticketbooth/pkg/outbox/payloads"
)

type stubIssuer struct {
	calls []uuid.UUID
	err   error
}

func (s *stubIssuer) Issue(_ context.Context, orderID uuid.UUID) (*IssueResult, error) {
	s.calls = append(s.calls, orderID)
	return &IssueResult{OrderID: orderID}, s.err
}

type memoryGuard struct {
	seen    map[uuid.UUID]bool
	deleted int
	err     error
}

func (g *memoryGuard) CheckAndMarkProcessed(_ context.Context, _ string, eventID uuid.UUID) (bool, error) {
	if g.err != nil {
		return false, g.err
	}
	if g.seen == nil {
		g.seen = map[uuid.UUID]bool{}
	}
	already := g.seen[eventID]
	g.seen[eventID] = true
	return already, nil
}

func (g *memoryGuard) Delete(_ context.Context, _ string, eventID uuid.UUID) error {
	delete(g.seen, eventID)
	g.deleted++
	return nil
}

func issuanceMessage(t *testing.T, eventType enums.OutboxEventType, orderID uuid.UUID) *pubsub.Message {
	t.Helper()
	data, err := json.Marshal(payloads.TicketIssuanceRequestedEvent{OrderID: orderID, OrderNumber: "TB-1", Seats: 2})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	body, err := json.Marshal(outbox.PayloadEnvelope{Version: 1, EventID: uuid.NewString(), OccurredAt: time.Now().UTC(), Data: data})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return &pubsub.Message{ID: "m-1", Data: body, Attributes: map[string]string{"event_type": string(eventType)}}
}

func newTestConsumer(t *testing.T, svc issuer, guard consumer.Guard) *Consumer {
	t.Helper()
	c, err := newConsumer(svc, nil, guard, logger.Nop())
	if err != nil {
		t.Fatalf("build consumer: %v", err)
	}
	return c
}

func TestConsumerIssuesOncePerEvent(t *testing.T) {
	svc := &stubIssuer{}
	c := newTestConsumer(t, svc, &memoryGuard{})
	orderID := uuid.New()
	msg := issuanceMessage(t, enums.EventTicketIssuanceRequested, orderID)

	if res := c.Process(context.Background(), msg); res != consumer.Ack {
		t.Fatalf("expected ack, got %s", res)
	}
	if res := c.Process(context.Background(), msg); res != consumer.Ack {
		t.Fatalf("expected duplicate ack, got %s", res)
	}
	if len(svc.calls) != 1 || svc.calls[0] != orderID {
		t.Fatalf("expected one issuance for %s, got %v", orderID, svc.calls)
	}
}

func TestConsumerNacksAndForgetsOnFailure(t *testing.T) {
	svc := &stubIssuer{err: errors.New("db down")}
	guard := &memoryGuard{}
	c := newTestConsumer(t, svc, guard)

	if res := c.Process(context.Background(), issuanceMessage(t, enums.EventTicketIssuanceRequested, uuid.New())); res != consumer.Nack {
		t.Fatalf("expected nack, got %s", res)
	}
	if guard.deleted != 1 {
		t.Fatalf("expected idempotency key to be released")
	}
}

func TestConsumerAcksUnknownOrdersAndOtherEvents(t *testing.T) {
	svc := &stubIssuer{err: pkgerrors.New(pkgerrors.CodeNotFound, "order not found")}
	c := newTestConsumer(t, svc, &memoryGuard{})

	if res := c.Process(context.Background(), issuanceMessage(t, enums.EventTicketIssuanceRequested, uuid.New())); res != consumer.Ack {
		t.Fatalf("expected ack for unknown order, got %s", res)
	}
	if res := c.Process(context.Background(), issuanceMessage(t, enums.EventOrderPaid, uuid.New())); res != consumer.Ack {
		t.Fatalf("expected ack for unrelated event, got %s", res)
	}
	if len(svc.calls) != 1 {
		t.Fatalf("unrelated events must not reach the issuer, got %d calls", len(svc.calls))
	}
}

func TestConsumerNacksWhenGuardUnavailable(t *testing.T) {
	c := newTestConsumer(t, &stubIssuer{}, &memoryGuard{err: errors.New("redis down")})
	if res := c.Process(context.Background(), issuanceMessage(t, enums.EventTicketIssuanceRequested, uuid.New())); res != consumer.Nack {
		t.Fatalf("expected nack, got %s", res)
	}
}

func TestConsumerAcksMalformedPayload(t *testing.T) {
	svc := &stubIssuer{}
	c := newTestConsumer(t, svc, &memoryGuard{})

	if res := c.Process(context.Background(), issuanceMessage(t, enums.EventTicketIssuanceRequested, uuid.Nil)); res != consumer.Ack {
		t.Fatalf("expected ack for payload without order, got %s", res)
	}
	if len(svc.calls) != 0 {
		t.Fatalf("malformed payload must not reach the issuer")
	}
}
