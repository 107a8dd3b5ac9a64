// Package notifications records buyer-facing messages requested by order events.
package notifications

import (
	"context"
	"errors"
	"strings"

	pubsub "cloud.google.com/go/pubsub/v2"

	"github.com/angelmondragon/ticketbooth/pkg/db/models"
	"github.com/angelmondragon/ticketbooth/pkg/enums"
	"github.com/angelmondragon/ticketbooth/pkg/logger"
	"github.com/angelmondragon/ticketbooth/pkg/outbox/consumer"
	"github.com/angelmondragon/ticketbooth/pkg/outbox/payloads"
)

const consumerName = "order-notifications"

type repository interface {
	Create(ctx context.Context, notification *models.Notification) (bool, error)
}

type Consumer = consumer.Consumer[payloads.NotificationRequestedEvent]

// NewConsumer stores one notification row per notification_requested event.
// The row's unique source event id backs up the Redis guard.
func NewConsumer(repo repository, sub *pubsub.Subscriber, guard consumer.Guard, logg *logger.Logger) (*Consumer, error) {
	if repo == nil {
		return nil, errors.New("notifications repository required")
	}
	if sub == nil {
		return nil, errors.New("notification subscription required")
	}
	return newConsumer(repo, sub, guard, logg)
}

func newConsumer(repo repository, sub *pubsub.Subscriber, guard consumer.Guard, logg *logger.Logger) (*Consumer, error) {
	return consumer.New(consumer.Options[payloads.NotificationRequestedEvent]{
		Name:         consumerName,
		EventType:    enums.EventNotificationRequested,
		Subscription: sub,
		Guard:        guard,
		Logger:       logg,
		Fields: func(p payloads.NotificationRequestedEvent) map[string]any {
			return map[string]any{"order_id": p.OrderID.String(), "notification_type": string(p.Type)}
		},
		Handle: func(ctx context.Context, d consumer.Delivery[payloads.NotificationRequestedEvent]) error {
			created, err := repo.Create(ctx, &models.Notification{
				SourceEventID: d.EventID,
				OrderID:       d.Payload.OrderID,
				Type:          d.Payload.Type,
				Recipient:     strings.TrimSpace(d.Payload.Recipient),
				Data:          d.Raw,
			})
			if err != nil {
				return err
			}
			if created {
				logg.Info(ctx, "notification.recorded")
			} else {
				logg.Debug(ctx, "notification.already_recorded")
			}
			return nil
		},
	})
}
