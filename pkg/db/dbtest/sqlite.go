// Package dbtest opens throwaway SQLite databases carrying the ticketbooth schema.
package dbtest

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/ticketbooth/pkg/db/models"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS ticket_tiers (
  id TEXT PRIMARY KEY,
  event_id TEXT NOT NULL,
  name TEXT NOT NULL,
  price NUMERIC NOT NULL,
  quantity INTEGER NOT NULL CHECK (quantity >= 0),
  sold_quantity INTEGER NOT NULL DEFAULT 0 CHECK (sold_quantity >= 0 AND sold_quantity <= quantity),
  sales_start_date DATETIME,
  sales_end_date DATETIME,
  is_active INTEGER NOT NULL DEFAULT 1,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE TABLE IF NOT EXISTS orders (
  id TEXT PRIMARY KEY,
  event_id TEXT NOT NULL,
  buyer_id TEXT NOT NULL,
  order_number TEXT NOT NULL UNIQUE,
  total_amount NUMERIC NOT NULL,
  currency TEXT NOT NULL,
  billing_name TEXT NOT NULL,
  billing_email TEXT NOT NULL,
  billing_phone TEXT,
  billing_address TEXT,
  status TEXT NOT NULL,
  external_session_ref TEXT,
  external_payment_ref TEXT,
  failure_reason TEXT,
  paid_at DATETIME,
  cancelled_at DATETIME,
  failed_at DATETIME,
  refunded_at DATETIME,
  expired_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE TABLE IF NOT EXISTS tickets (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL REFERENCES orders(id),
  tier_id TEXT NOT NULL REFERENCES ticket_tiers(id),
  ticket_code TEXT UNIQUE,
  attendee_name TEXT NOT NULL,
  attendee_email TEXT NOT NULL,
  status TEXT NOT NULL,
  qr_payload TEXT,
  issued_at DATETIME,
  used_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE TABLE IF NOT EXISTS outbox_events (
  id TEXT PRIMARY KEY,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload BLOB NOT NULL,
  created_at DATETIME,
  published_at DATETIME,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  last_error TEXT
);`,
	`CREATE TABLE IF NOT EXISTS outbox_dlq (
  id TEXT PRIMARY KEY,
  event_id TEXT NOT NULL,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload_json BLOB NOT NULL,
  error_reason TEXT NOT NULL,
  error_message TEXT,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  failed_at DATETIME,
  created_at DATETIME
);`,
	`CREATE TABLE IF NOT EXISTS notifications (
  id TEXT PRIMARY KEY,
  source_event_id TEXT NOT NULL UNIQUE,
  order_id TEXT NOT NULL,
  type TEXT NOT NULL,
  recipient TEXT NOT NULL,
  data BLOB NOT NULL,
  delivered_at DATETIME,
  created_at DATETIME
);`,
}

// Open returns an isolated in-memory database with the schema applied.
// A single pooled connection serializes transactions the way row locks do.
func Open(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=1", name)
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
		NowFunc:                func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range schema {
		if err := conn.Exec(stmt).Error; err != nil {
			t.Fatalf("apply schema: %v", err)
		}
	}
	return conn
}

// TierOption customises a seeded tier.
type TierOption func(*models.TicketTier)

func WithSold(n int) TierOption {
	return func(t *models.TicketTier) { t.SoldQuantity = n }
}

func WithPrice(p string) TierOption {
	return func(t *models.TicketTier) { t.Price = decimal.RequireFromString(p) }
}

func WithWindow(start, end *time.Time) TierOption {
	return func(t *models.TicketTier) {
		t.SalesStartDate = start
		t.SalesEndDate = end
	}
}

func Inactive() TierOption {
	return func(t *models.TicketTier) { t.IsActive = false }
}

// SeedTier inserts an active tier for eventID with the given capacity.
func SeedTier(t *testing.T, conn *gorm.DB, eventID uuid.UUID, name string, quantity int, opts ...TierOption) models.TicketTier {
	t.Helper()

	tier := models.TicketTier{
		EventID:  eventID,
		Name:     name,
		Price:    decimal.RequireFromString("25.00"),
		Quantity: quantity,
		IsActive: true,
	}
	for _, opt := range opts {
		opt(&tier)
	}
	if err := conn.Create(&tier).Error; err != nil {
		t.Fatalf("seed tier %s: %v", name, err)
	}
	return tier
}

// ReloadTier reads the tier's current ledger row.
func ReloadTier(t *testing.T, conn *gorm.DB, id uuid.UUID) models.TicketTier {
	t.Helper()

	var tier models.TicketTier
	if err := conn.First(&tier, "id = ?", id).Error; err != nil {
		t.Fatalf("reload tier: %v", err)
	}
	return tier
}
