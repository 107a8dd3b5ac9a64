package issuance

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/ticketbooth/pkg/db/models"
	"github.com/angelmondragon/ticketbooth/pkg/enums"
)

// Repository persists ticket issuance and check-in state.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

// LockUnissued locks the order's pending tickets that carry no code yet.
func (r *Repository) LockUnissued(ctx context.Context, orderID uuid.UUID) ([]models.Ticket, error) {
	var tickets []models.Ticket
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("order_id = ? AND status = ? AND ticket_code IS NULL", orderID, enums.TicketStatusPending).
		Order("id ASC").
		Find(&tickets).Error
	return tickets, err
}

// CountIssued counts tickets of the order that already hold a code.
func (r *Repository) CountIssued(ctx context.Context, orderID uuid.UUID) (int, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.Ticket{}).
		Where("order_id = ? AND ticket_code IS NOT NULL", orderID).
		Count(&n).Error
	return int(n), err
}

// MarkIssued stores the minted code. The update only lands while the ticket has no code.
func (r *Repository) MarkIssued(ctx context.Context, ticketID uuid.UUID, code, payload string, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Ticket{}).
		Where("id = ? AND status = ? AND ticket_code IS NULL", ticketID, enums.TicketStatusPending).
		Updates(map[string]any{
			"ticket_code": code,
			"qr_payload":  payload,
			"status":      enums.TicketStatusActive,
			"issued_at":   at,
			"updated_at":  at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// FindByID returns the ticket or nil when absent.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Ticket, error) {
	return r.findOne(ctx, "id = ?", id)
}

// FindByCode returns the ticket holding code or nil when absent.
func (r *Repository) FindByCode(ctx context.Context, code string) (*models.Ticket, error) {
	return r.findOne(ctx, "ticket_code = ?", code)
}

func (r *Repository) findOne(ctx context.Context, query string, arg any) (*models.Ticket, error) {
	var ticket models.Ticket
	err := r.db.WithContext(ctx).Where(query, arg).Take(&ticket).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ticket, nil
}

// MarkUsed moves an active ticket to used.
func (r *Repository) MarkUsed(ctx context.Context, ticketID uuid.UUID, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Ticket{}).
		Where("id = ? AND status = ?", ticketID, enums.TicketStatusActive).
		Updates(map[string]any{
			"status":     enums.TicketStatusUsed,
			"used_at":    at,
			"updated_at": at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
