package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/ticketbooth/pkg/enums"
	"github.com/angelmondragon/ticketbooth/pkg/logger"
	"github.com/angelmondragon/ticketbooth/pkg/outbox"
)

type seatPayload struct {
	OrderID uuid.UUID `json:"order_id"`
}

func (p *seatPayload) Validate() error {
	if p.OrderID == uuid.Nil {
		return errors.New("order_id is required")
	}
	return nil
}

type mapGuard struct {
	claimed  map[uuid.UUID]bool
	released []uuid.UUID
	err      error
}

func (g *mapGuard) CheckAndMarkProcessed(_ context.Context, _ string, id uuid.UUID) (bool, error) {
	if g.err != nil {
		return false, g.err
	}
	if g.claimed == nil {
		g.claimed = map[uuid.UUID]bool{}
	}
	seen := g.claimed[id]
	g.claimed[id] = true
	return seen, nil
}

func (g *mapGuard) Delete(_ context.Context, _ string, id uuid.UUID) error {
	delete(g.claimed, id)
	g.released = append(g.released, id)
	return nil
}

func message(t *testing.T, eventType enums.OutboxEventType, eventID uuid.UUID, data any) *pubsub.Message {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	body, err := json.Marshal(outbox.PayloadEnvelope{Version: 1, EventID: eventID.String(), OccurredAt: time.Now().UTC(), Data: raw})
	require.NoError(t, err)
	return &pubsub.Message{ID: "m-1", Data: body, Attributes: map[string]string{"event_type": string(eventType)}}
}

func build(t *testing.T, guard Guard, handle Handler[seatPayload]) *Consumer[seatPayload] {
	t.Helper()
	c, err := New(Options[seatPayload]{
		Name:      "test",
		EventType: enums.EventTicketIssuanceRequested,
		Guard:     guard,
		Logger:    logger.Nop(),
		Handle:    handle,
	})
	require.NoError(t, err)
	return c
}

func TestProcessHandlesEachEventOnce(t *testing.T) {
	var got []Delivery[seatPayload]
	c := build(t, &mapGuard{}, func(_ context.Context, d Delivery[seatPayload]) error {
		got = append(got, d)
		return nil
	})
	eventID, orderID := uuid.New(), uuid.New()
	msg := message(t, enums.EventTicketIssuanceRequested, eventID, seatPayload{OrderID: orderID})

	assert.Equal(t, Ack, c.Process(context.Background(), msg))
	assert.Equal(t, Ack, c.Process(context.Background(), msg))
	require.Len(t, got, 1)
	assert.Equal(t, eventID, got[0].EventID)
	assert.Equal(t, orderID, got[0].Payload.OrderID)
	assert.JSONEq(t, `{"order_id":"`+orderID.String()+`"}`, string(got[0].Raw))
}

func TestProcessAcksForeignAndMalformedMessages(t *testing.T) {
	calls := 0
	c := build(t, &mapGuard{}, func(context.Context, Delivery[seatPayload]) error {
		calls++
		return nil
	})

	foreign := message(t, enums.EventOrderPaid, uuid.New(), seatPayload{OrderID: uuid.New()})
	invalid := message(t, enums.EventTicketIssuanceRequested, uuid.New(), seatPayload{})
	garbage := &pubsub.Message{Data: []byte("{"), Attributes: map[string]string{"event_type": string(enums.EventTicketIssuanceRequested)}}

	for _, msg := range []*pubsub.Message{foreign, invalid, garbage} {
		assert.Equal(t, Ack, c.Process(context.Background(), msg))
	}
	assert.Zero(t, calls)
}

func TestProcessReleasesClaimOnFailure(t *testing.T) {
	guard := &mapGuard{}
	c := build(t, guard, func(context.Context, Delivery[seatPayload]) error {
		return errors.New("db down")
	})
	eventID := uuid.New()

	assert.Equal(t, Nack, c.Process(context.Background(), message(t, enums.EventTicketIssuanceRequested, eventID, seatPayload{OrderID: uuid.New()})))
	assert.Equal(t, []uuid.UUID{eventID}, guard.released)
}

func TestProcessKeepsClaimOnDrop(t *testing.T) {
	guard := &mapGuard{}
	c := build(t, guard, func(context.Context, Delivery[seatPayload]) error {
		return Drop(errors.New("order gone"))
	})

	assert.Equal(t, Ack, c.Process(context.Background(), message(t, enums.EventTicketIssuanceRequested, uuid.New(), seatPayload{OrderID: uuid.New()})))
	assert.Empty(t, guard.released)
}

func TestProcessNacksWhenGuardUnavailable(t *testing.T) {
	c := build(t, &mapGuard{err: errors.New("redis down")}, func(context.Context, Delivery[seatPayload]) error {
		t.Fatal("handler must not run without a claim")
		return nil
	})
	assert.Equal(t, Nack, c.Process(context.Background(), message(t, enums.EventTicketIssuanceRequested, uuid.New(), seatPayload{OrderID: uuid.New()})))
}

func TestNewValidatesOptions(t *testing.T) {
	_, err := New(Options[seatPayload]{Name: "x", EventType: "bogus"})
	assert.Error(t, err)

	c := build(t, &mapGuard{}, func(context.Context, Delivery[seatPayload]) error { return nil })
	assert.ErrorContains(t, c.Run(context.Background()), "subscription not configured")
	assert.Nil(t, Drop(nil))
}
