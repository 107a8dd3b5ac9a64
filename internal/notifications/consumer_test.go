package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/ticketbooth/pkg/db/dbtest"
	"github.com/angelmondragon/ticketbooth/pkg/db/models"
	"github.com/angelmondragon/ticketbooth/pkg/enums"
	"github.com/angelmondragon/ticketbooth/pkg/logger"
	"github.com/angelmondragon/ticketbooth/pkg/outbox"
	"github.com/angelmondragon/ticketbooth/pkg/outbox/consumer"
	"github.com/angelmondragon/ticketbooth/pkg/outbox/payloads"
)

type noopGuard struct {
	err     error
	deleted int
}

func (g *noopGuard) CheckAndMarkProcessed(context.Context, string, uuid.UUID) (bool, error) {
	return false, g.err
}

func (g *noopGuard) Delete(context.Context, string, uuid.UUID) error {
	g.deleted++
	return nil
}

type failingRepo struct{}

func (failingRepo) Create(context.Context, *models.Notification) (bool, error) {
	return false, errors.New("db down")
}

func newTestConsumer(t *testing.T, repo repository, guard consumer.Guard) *Consumer {
	t.Helper()
	c, err := newConsumer(repo, nil, guard, logger.Nop())
	require.NoError(t, err)
	return c
}

func notificationMessage(t *testing.T, eventID uuid.UUID, payload payloads.NotificationRequestedEvent) *pubsub.Message {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	body, err := json.Marshal(outbox.PayloadEnvelope{Version: 1, EventID: eventID.String(), OccurredAt: time.Now().UTC(), Data: data})
	require.NoError(t, err)
	return &pubsub.Message{ID: "m-1", Data: body, Attributes: map[string]string{"event_type": string(enums.EventNotificationRequested)}}
}

func confirmation(orderID uuid.UUID) payloads.NotificationRequestedEvent {
	return payloads.NotificationRequestedEvent{
		OrderID:     orderID,
		OrderNumber: "TB-20261016-ABCDEFGH",
		Type:        enums.NotificationTypeOrderConfirmation,
		Recipient:   "ada@example.com",
		BuyerName:   "Ada",
		TotalAmount: decimal.RequireFromString("50.00"),
		Currency:    "usd",
	}
}

func TestConsumerPersistsOneRowPerEvent(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	c := newTestConsumer(t, repo, &noopGuard{})
	eventID := uuid.New()
	orderID := uuid.New()
	msg := notificationMessage(t, eventID, confirmation(orderID))

	// The guard always reports a first delivery; the unique source event id still dedupes.
	assert.Equal(t, consumer.Ack, c.Process(context.Background(), msg))
	assert.Equal(t, consumer.Ack, c.Process(context.Background(), msg))

	rows, err := repo.ListUndelivered(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, eventID, rows[0].SourceEventID)
	assert.Equal(t, orderID, rows[0].OrderID)
	assert.Equal(t, enums.NotificationTypeOrderConfirmation, rows[0].Type)

	delivered, err := repo.MarkDelivered(context.Background(), rows[0].ID, time.Now().UTC())
	require.NoError(t, err)
	assert.True(t, delivered)
	rows, err = repo.ListUndelivered(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestConsumerNacksOnStoreFailure(t *testing.T) {
	guard := &noopGuard{}
	c := newTestConsumer(t, failingRepo{}, guard)

	res := c.Process(context.Background(), notificationMessage(t, uuid.New(), confirmation(uuid.New())))
	assert.Equal(t, consumer.Nack, res)
	assert.Equal(t, 1, guard.deleted)
}

func TestConsumerAcksIncompletePayloads(t *testing.T) {
	c := newTestConsumer(t, failingRepo{}, &noopGuard{})

	missing := confirmation(uuid.New())
	missing.Recipient = ""
	assert.Equal(t, consumer.Ack, c.Process(context.Background(), notificationMessage(t, uuid.New(), missing)))

	other := notificationMessage(t, uuid.New(), confirmation(uuid.New()))
	other.Attributes["event_type"] = string(enums.EventOrderPaid)
	assert.Equal(t, consumer.Ack, c.Process(context.Background(), other))
}

func TestConsumerNacksWhenGuardFails(t *testing.T) {
	c := newTestConsumer(t, failingRepo{}, &noopGuard{err: errors.New("redis down")})
	assert.Equal(t, consumer.Nack, c.Process(context.Background(), notificationMessage(t, uuid.New(), confirmation(uuid.New()))))
}
