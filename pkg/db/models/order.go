package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/ticketbooth/pkg/enums"
)

// Order is one buyer's reservation against one event. TotalAmount is fixed at
// creation; Status only changes through guarded transitions.
type Order struct {
	ID                 uuid.UUID         `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	EventID            uuid.UUID         `gorm:"column:event_id;type:uuid;not null"`
	BuyerID            uuid.UUID         `gorm:"column:buyer_id;type:uuid;not null"`
	OrderNumber        string            `gorm:"column:order_number;type:text;not null;uniqueIndex"`
	TotalAmount        decimal.Decimal   `gorm:"column:total_amount;type:numeric(12,2);not null"`
	Currency           string            `gorm:"column:currency;type:text;not null"`
	BillingName        string            `gorm:"column:billing_name;type:text;not null"`
	BillingEmail       string            `gorm:"column:billing_email;type:text;not null"`
	BillingPhone       *string           `gorm:"column:billing_phone;type:text"`
	BillingAddress     *string           `gorm:"column:billing_address;type:text"`
	Status             enums.OrderStatus `gorm:"column:status;type:order_status;not null"`
	ExternalSessionRef *string           `gorm:"column:external_session_ref;type:text"`
	ExternalPaymentRef *string           `gorm:"column:external_payment_ref;type:text"`
	FailureReason      *string           `gorm:"column:failure_reason;type:text"`
	PaidAt             *time.Time        `gorm:"column:paid_at"`
	CancelledAt        *time.Time        `gorm:"column:cancelled_at"`
	FailedAt           *time.Time        `gorm:"column:failed_at"`
	RefundedAt         *time.Time        `gorm:"column:refunded_at"`
	ExpiredAt          *time.Time        `gorm:"column:expired_at"`
	CreatedAt          time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time         `gorm:"column:updated_at;autoUpdateTime"`

	Tickets []Ticket `gorm:"foreignKey:OrderID"`
}

func (Order) TableName() string { return "orders" }
