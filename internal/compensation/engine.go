// Package compensation returns reserved seats to the ledger when an order
// leaves the pending state without being paid.
package compensation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/ticketbooth/internal/inventory"
	"github.com/angelmondragon/ticketbooth/pkg/db/models"
	"github.com/angelmondragon/ticketbooth/pkg/enums"
	"github.com/angelmondragon/ticketbooth/pkg/logger"
)

type releaseMetrics interface {
	AddCompensated(units int)
	IncIntegrityWarning()
}

// ReleaseResult reports the units handed back per tier.
type ReleaseResult struct {
	OrderID  uuid.UUID
	PerTier  map[uuid.UUID]int
	Units    int
	Voided   int
	Shortage int
}

type Engine struct {
	ledger  *inventory.Repository
	logg    *logger.Logger
	metrics releaseMetrics
	now     func() time.Time
}

func NewEngine(ledger *inventory.Repository, logg *logger.Logger, metrics releaseMetrics) (*Engine, error) {
	if ledger == nil {
		return nil, fmt.Errorf("inventory ledger required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &Engine{ledger: ledger, logg: logg, metrics: metrics, now: time.Now}, nil
}

// Release voids every seat-holding ticket of the order and decrements each
// tier by the number of voided tickets. It must run in the same transaction
// as the status change that triggered it. Tickets already void are skipped,
// so a second call releases nothing.
func (e *Engine) Release(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (ReleaseResult, error) {
	result := ReleaseResult{OrderID: orderID, PerTier: map[uuid.UUID]int{}}
	if tx == nil {
		return result, errors.New("transaction required")
	}

	var tickets []models.Ticket
	err := tx.WithContext(ctx).
		Where("order_id = ? AND status IN ?", orderID, holdingStatuses()).
		Find(&tickets).Error
	if err != nil {
		return result, fmt.Errorf("load order tickets: %w", err)
	}
	if len(tickets) == 0 {
		return result, nil
	}

	counts := map[uuid.UUID]int{}
	tierIDs := make([]uuid.UUID, 0, len(tickets))
	ticketIDs := make([]uuid.UUID, 0, len(tickets))
	for _, ticket := range tickets {
		counts[ticket.TierID]++
		tierIDs = append(tierIDs, ticket.TierID)
		ticketIDs = append(ticketIDs, ticket.ID)
	}

	ledger := e.ledger.WithTx(tx)
	locked, err := ledger.LockTiers(ctx, tierIDs)
	if err != nil {
		return result, err
	}

	for _, tierID := range inventory.SortedIDs(tierIDs) {
		want := counts[tierID]
		tier, ok := locked[tierID]
		if !ok {
			e.integrityWarning(ctx, tierID, orderID, want, 0)
			result.Shortage += want
			continue
		}
		release := want
		if tier.SoldQuantity < want {
			e.integrityWarning(ctx, tierID, orderID, want, tier.SoldQuantity)
			release = tier.SoldQuantity
			result.Shortage += want - release
		}
		if err := ledger.Decrement(ctx, tierID, release); err != nil {
			return result, err
		}
		result.PerTier[tierID] = release
		result.Units += release
	}

	res := tx.WithContext(ctx).
		Model(&models.Ticket{}).
		Where("id IN ? AND status IN ?", ticketIDs, holdingStatuses()).
		Updates(map[string]any{
			"status":     enums.TicketStatusVoid,
			"updated_at": e.now().UTC(),
		})
	if res.Error != nil {
		return result, fmt.Errorf("void tickets: %w", res.Error)
	}
	result.Voided = int(res.RowsAffected)

	if e.metrics != nil {
		e.metrics.AddCompensated(result.Units)
	}
	e.logg.Info(e.logg.WithFields(ctx, map[string]any{
		"order_id": orderID.String(),
		"units":    result.Units,
		"voided":   result.Voided,
	}), "inventory released")
	return result, nil
}

func (e *Engine) integrityWarning(ctx context.Context, tierID, orderID uuid.UUID, want, sold int) {
	if e.metrics != nil {
		e.metrics.IncIntegrityWarning()
	}
	e.logg.Warn(e.logg.WithFields(ctx, map[string]any{
		"event":         "data_integrity",
		"tier_id":       tierID.String(),
		"order_id":      orderID.String(),
		"tickets":       want,
		"sold_quantity": sold,
	}), "data integrity: tier sold_quantity below tickets being released")
}

func holdingStatuses() []enums.TicketStatus {
	return []enums.TicketStatus{enums.TicketStatusPending, enums.TicketStatusActive}
}
