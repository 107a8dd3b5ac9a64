package payloads

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/ticketbooth/pkg/enums"
)

// OrderCreatedEvent is emitted when a reservation commits.
type OrderCreatedEvent struct {
	OrderID     uuid.UUID       `json:"order_id"`
	OrderNumber string          `json:"order_number"`
	EventID     uuid.UUID       `json:"event_id"`
	BuyerID     uuid.UUID       `json:"buyer_id"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Currency    string          `json:"currency"`
	Seats       int             `json:"seats"`
}

// OrderStatusChangedEvent covers every settled transition out of pending, plus refunds.
type OrderStatusChangedEvent struct {
	OrderID       uuid.UUID         `json:"order_id"`
	OrderNumber   string            `json:"order_number"`
	From          enums.OrderStatus `json:"from"`
	To            enums.OrderStatus `json:"to"`
	Reason        string            `json:"reason,omitempty"`
	ReleasedSeats int               `json:"released_seats,omitempty"`
	OccurredAt    time.Time         `json:"occurred_at"`
}

// TicketIssuanceRequestedEvent asks the issuance worker to mint codes for a paid order.
type TicketIssuanceRequestedEvent struct {
	OrderID     uuid.UUID `json:"order_id"`
	OrderNumber string    `json:"order_number"`
	Seats       int       `json:"seats"`
}

// NotificationRequestedEvent hands a buyer-facing message to the notification pipeline.
type NotificationRequestedEvent struct {
	OrderID     uuid.UUID              `json:"order_id"`
	OrderNumber string                 `json:"order_number"`
	Type        enums.NotificationType `json:"type"`
	Recipient   string                 `json:"recipient"`
	BuyerName   string                 `json:"buyer_name"`
	TotalAmount decimal.Decimal        `json:"total_amount"`
	Currency    string                 `json:"currency"`
}

func (e *TicketIssuanceRequestedEvent) Validate() error {
	if e.OrderID == uuid.Nil {
		return errors.New("order_id is required")
	}
	return nil
}

func (e *NotificationRequestedEvent) Validate() error {
	switch {
	case e.OrderID == uuid.Nil:
		return errors.New("order_id is required")
	case !e.Type.IsValid():
		return errors.New("unknown notification type")
	case strings.TrimSpace(e.Recipient) == "":
		return errors.New("recipient is required")
	}
	return nil
}
