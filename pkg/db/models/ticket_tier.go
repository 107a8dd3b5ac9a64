package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TicketTier is the inventory ledger row for one priced category of an event.
// SoldQuantity never leaves [0, Quantity]; it is only mutated under a row lock.
type TicketTier struct {
	ID             uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	EventID        uuid.UUID       `gorm:"column:event_id;type:uuid;not null"`
	Name           string          `gorm:"column:name;type:text;not null"`
	Price          decimal.Decimal `gorm:"column:price;type:numeric(12,2);not null"`
	Quantity       int             `gorm:"column:quantity;not null"`
	SoldQuantity   int             `gorm:"column:sold_quantity;not null;default:0"`
	SalesStartDate *time.Time      `gorm:"column:sales_start_date"`
	SalesEndDate   *time.Time      `gorm:"column:sales_end_date"`
	IsActive       bool            `gorm:"column:is_active;not null"`
	CreatedAt      time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (TicketTier) TableName() string { return "ticket_tiers" }

// Remaining returns the unsold capacity.
func (t TicketTier) Remaining() int {
	if left := t.Quantity - t.SoldQuantity; left > 0 {
		return left
	}
	return 0
}

// OnSale reports whether now falls inside the configured sales window.
func (t TicketTier) OnSale(now time.Time) bool {
	if t.SalesStartDate != nil && now.Before(*t.SalesStartDate) {
		return false
	}
	if t.SalesEndDate != nil && now.After(*t.SalesEndDate) {
		return false
	}
	return true
}
