package issuance

import (
	"context"
	"errors"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/angelmondragon/ticketbooth/pkg/enums"
	pkgerrors "github.com/angelmondragon/ticketbooth/pkg/errors"
	"github.com/angelmondragon/ticketbooth/pkg/logger"
	"github.com/angelmondragon/ticketbooth/pkg/outbox/consumer"
	"github.com/angelmondragon/ticketbooth/pkg/outbox/payloads"
)

const consumerName = "ticket-issuance"

type issuer interface {
	Issue(ctx context.Context, orderID uuid.UUID) (*IssueResult, error)
}

type Consumer = consumer.Consumer[payloads.TicketIssuanceRequestedEvent]

// NewConsumer mints tickets for every ticket_issuance_requested event.
func NewConsumer(svc issuer, sub *pubsub.Subscriber, guard consumer.Guard, logg *logger.Logger) (*Consumer, error) {
	if svc == nil {
		return nil, errors.New("issuance service required")
	}
	if sub == nil {
		return nil, errors.New("issuance subscription required")
	}
	return newConsumer(svc, sub, guard, logg)
}

func newConsumer(svc issuer, sub *pubsub.Subscriber, guard consumer.Guard, logg *logger.Logger) (*Consumer, error) {
	return consumer.New(consumer.Options[payloads.TicketIssuanceRequestedEvent]{
		Name:         consumerName,
		EventType:    enums.EventTicketIssuanceRequested,
		Subscription: sub,
		Guard:        guard,
		Logger:       logg,
		Fields: func(p payloads.TicketIssuanceRequestedEvent) map[string]any {
			return map[string]any{"order_id": p.OrderID.String(), "seats": p.Seats}
		},
		Handle: func(ctx context.Context, d consumer.Delivery[payloads.TicketIssuanceRequestedEvent]) error {
			_, err := svc.Issue(ctx, d.Payload.OrderID)
			if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
				return consumer.Drop(err)
			}
			return err
		},
	})
}
