package orders

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/ticketbooth/pkg/db/models"
	"github.com/angelmondragon/ticketbooth/pkg/enums"
)

// TransitionResult describes what a state change request did.
type TransitionResult struct {
	OrderID       uuid.UUID
	OrderNumber   string
	From          enums.OrderStatus
	Status        enums.OrderStatus
	Applied       bool
	ReleasedSeats int
}

// OrderDetail is the buyer-facing view of an order.
type OrderDetail struct {
	ID                 uuid.UUID         `json:"orderId"`
	OrderNumber        string            `json:"orderNumber"`
	EventID            uuid.UUID         `json:"eventId"`
	Status             enums.OrderStatus `json:"status"`
	TotalAmount        decimal.Decimal   `json:"totalAmount"`
	Currency           string            `json:"currency"`
	BillingName        string            `json:"billingName"`
	BillingEmail       string            `json:"billingEmail"`
	ExternalSessionRef *string           `json:"externalSessionRef,omitempty"`
	PaidAt             *time.Time        `json:"paidAt,omitempty"`
	CreatedAt          time.Time         `json:"createdAt"`
	Tickets            []TicketDetail    `json:"tickets"`
}

type TicketDetail struct {
	ID            uuid.UUID          `json:"ticketId"`
	TierID        uuid.UUID          `json:"tierId"`
	AttendeeName  string             `json:"attendeeName"`
	AttendeeEmail string             `json:"attendeeEmail"`
	Status        enums.TicketStatus `json:"status"`
	TicketCode    *string            `json:"ticketCode,omitempty"`
	QRPayload     *string            `json:"qrPayload,omitempty"`
	IssuedAt      *time.Time         `json:"issuedAt,omitempty"`
	UsedAt        *time.Time         `json:"usedAt,omitempty"`
}

func newOrderDetail(order *models.Order) *OrderDetail {
	detail := &OrderDetail{
		ID:                 order.ID,
		OrderNumber:        order.OrderNumber,
		EventID:            order.EventID,
		Status:             order.Status,
		TotalAmount:        order.TotalAmount,
		Currency:           order.Currency,
		BillingName:        order.BillingName,
		BillingEmail:       order.BillingEmail,
		ExternalSessionRef: order.ExternalSessionRef,
		PaidAt:             order.PaidAt,
		CreatedAt:          order.CreatedAt,
		Tickets:            make([]TicketDetail, 0, len(order.Tickets)),
	}
	for _, t := range order.Tickets {
		detail.Tickets = append(detail.Tickets, TicketDetail{
			ID:            t.ID,
			TierID:        t.TierID,
			AttendeeName:  t.AttendeeName,
			AttendeeEmail: t.AttendeeEmail,
			Status:        t.Status,
			TicketCode:    t.TicketCode,
			QRPayload:     t.QRPayload,
			IssuedAt:      t.IssuedAt,
			UsedAt:        t.UsedAt,
		})
	}
	return detail
}
