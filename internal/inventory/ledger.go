// Package inventory owns the per-tier sold counters. Every mutation runs on a
// row locked with SELECT ... FOR UPDATE inside the caller's transaction.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/ticketbooth/pkg/db/models"
)

// ErrInsufficientCapacity is returned when a guarded increment would push
// sold_quantity past quantity.
var ErrInsufficientCapacity = errors.New("insufficient tier capacity")

// ErrOversubtract is returned when a guarded decrement would drive sold_quantity negative.
var ErrOversubtract = errors.New("decrement exceeds sold quantity")

type Repository struct {
	db  *gorm.DB
	now func() time.Time
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx, now: r.now}
}

// SortedIDs returns ids deduplicated and ordered by their canonical string
// form, the order in which tier rows must be locked.
func SortedIDs(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// LockTiers takes an exclusive row lock on every tier, one row at a time in
// SortedIDs order. Missing tiers are simply absent from the result.
func (r *Repository) LockTiers(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*models.TicketTier, error) {
	locked := make(map[uuid.UUID]*models.TicketTier, len(ids))
	for _, id := range SortedIDs(ids) {
		var tier models.TicketTier
		err := r.db.WithContext(ctx).
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", id).
			Take(&tier).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("lock tier %s: %w", id, err)
		}
		locked[id] = &tier
	}
	return locked, nil
}

// FindTier reads a tier without locking it.
func (r *Repository) FindTier(ctx context.Context, id uuid.UUID) (*models.TicketTier, error) {
	var tier models.TicketTier
	if err := r.db.WithContext(ctx).Where("id = ?", id).Take(&tier).Error; err != nil {
		return nil, err
	}
	return &tier, nil
}

// Increment adds n sold units. The WHERE clause re-checks capacity so the
// counter cannot overshoot even if the caller skipped validation.
func (r *Repository) Increment(ctx context.Context, tierID uuid.UUID, n int) error {
	if n <= 0 {
		return fmt.Errorf("increment must be positive, got %d", n)
	}
	res := r.db.WithContext(ctx).
		Model(&models.TicketTier{}).
		Where("id = ? AND sold_quantity + ? <= quantity", tierID, n).
		Updates(map[string]any{
			"sold_quantity": gorm.Expr("sold_quantity + ?", n),
			"updated_at":    r.now().UTC(),
		})
	if res.Error != nil {
		return fmt.Errorf("increment tier %s: %w", tierID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrInsufficientCapacity
	}
	return nil
}

// Decrement returns n units to the tier. Callers clamp n to the locked
// sold_quantity first; the guard rejects anything that would go negative.
func (r *Repository) Decrement(ctx context.Context, tierID uuid.UUID, n int) error {
	if n < 0 {
		return fmt.Errorf("decrement must not be negative, got %d", n)
	}
	if n == 0 {
		return nil
	}
	res := r.db.WithContext(ctx).
		Model(&models.TicketTier{}).
		Where("id = ? AND sold_quantity >= ?", tierID, n).
		Updates(map[string]any{
			"sold_quantity": gorm.Expr("sold_quantity - ?", n),
			"updated_at":    r.now().UTC(),
		})
	if res.Error != nil {
		return fmt.Errorf("decrement tier %s: %w", tierID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrOversubtract
	}
	return nil
}
