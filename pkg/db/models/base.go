package models

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// assignID fills a nil primary key client-side.
func assignID(id *uuid.UUID) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
}

func (t *TicketTier) BeforeCreate(*gorm.DB) error   { assignID(&t.ID); return nil }
func (o *Order) BeforeCreate(*gorm.DB) error        { assignID(&o.ID); return nil }
func (t *Ticket) BeforeCreate(*gorm.DB) error       { assignID(&t.ID); return nil }
func (e *OutboxEvent) BeforeCreate(*gorm.DB) error  { assignID(&e.ID); return nil }
func (d *OutboxDLQ) BeforeCreate(*gorm.DB) error    { assignID(&d.ID); return nil }
func (n *Notification) BeforeCreate(*gorm.DB) error { assignID(&n.ID); return nil }
