package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/ticketbooth/pkg/enums"
)

// Notification is a delivery request handed to the external content pipeline.
// SourceEventID is unique so redelivered outbox events collapse to one row.
type Notification struct {
	ID            uuid.UUID              `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	SourceEventID uuid.UUID              `gorm:"column:source_event_id;type:uuid;not null;uniqueIndex"`
	OrderID       uuid.UUID              `gorm:"column:order_id;type:uuid;not null"`
	Type          enums.NotificationType `gorm:"column:type;type:notification_type;not null"`
	Recipient     string                 `gorm:"column:recipient;type:text;not null"`
	Data          json.RawMessage        `gorm:"column:data;type:jsonb;not null"`
	DeliveredAt   *time.Time             `gorm:"column:delivered_at"`
	CreatedAt     time.Time              `gorm:"column:created_at;autoCreateTime"`
}

func (Notification) TableName() string { return "notifications" }
