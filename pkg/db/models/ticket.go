package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/ticketbooth/pkg/enums"
)

// Ticket is one purchased seat. TicketCode stays nil until issuance.
type Ticket struct {
	ID            uuid.UUID          `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID       uuid.UUID          `gorm:"column:order_id;type:uuid;not null;index"`
	TierID        uuid.UUID          `gorm:"column:tier_id;type:uuid;not null"`
	TicketCode    *string            `gorm:"column:ticket_code;type:text;uniqueIndex"`
	AttendeeName  string             `gorm:"column:attendee_name;type:text;not null"`
	AttendeeEmail string             `gorm:"column:attendee_email;type:text;not null"`
	Status        enums.TicketStatus `gorm:"column:status;type:ticket_status;not null"`
	QRPayload     *string            `gorm:"column:qr_payload;type:text"`
	IssuedAt      *time.Time         `gorm:"column:issued_at"`
	UsedAt        *time.Time         `gorm:"column:used_at"`
	CreatedAt     time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}

func (Ticket) TableName() string { return "tickets" }
