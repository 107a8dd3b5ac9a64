// Package reservation books seats against tier inventory and records the
// provisional order in a single transaction.
package reservation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/ticketbooth/internal/inventory"
	"github.com/angelmondragon/ticketbooth/internal/orders"
	"github.com/angelmondragon/ticketbooth/pkg/db"
	"github.com/angelmondragon/ticketbooth/pkg/db/models"
	"github.com/angelmondragon/ticketbooth/pkg/enums"
	pkgerrors "github.com/angelmondragon/ticketbooth/pkg/errors"
	"github.com/angelmondragon/ticketbooth/pkg/logger"
	"github.com/angelmondragon/ticketbooth/pkg/metrics"
	"github.com/angelmondragon/ticketbooth/pkg/outbox"
	"github.com/angelmondragon/ticketbooth/pkg/outbox/payloads"
)

const orderNumberConstraint = "orders_order_number_key"

type txRunner interface {
	WithLockedTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type reservationMetrics interface {
	ObserveReservation(outcome string, took time.Duration)
}

type LineItem struct {
	TierID        uuid.UUID
	Quantity      int
	AttendeeName  string
	AttendeeEmail string
}

type Billing struct {
	Name    string
	Email   string
	Phone   *string
	Address *string
}

type ReserveInput struct {
	EventID   uuid.UUID
	BuyerID   uuid.UUID
	LineItems []LineItem
	Billing   Billing
}

// ReservedLine is one tier's share of the order, priced as read under lock.
type ReservedLine struct {
	TierID    uuid.UUID
	TierName  string
	UnitPrice decimal.Decimal
	Quantity  int
}

type ReserveResult struct {
	OrderID     uuid.UUID
	OrderNumber string
	TotalAmount decimal.Decimal
	Currency    string
	CreatedAt   time.Time
	Lines       []ReservedLine
}

// Seats returns the number of tickets held by the reservation.
func (r *ReserveResult) Seats() int {
	n := 0
	for _, l := range r.Lines {
		n += l.Quantity
	}
	return n
}

type Config struct {
	MaxSeatsPerOrder int
	Currency         string
}

type Coordinator struct {
	tx       txRunner
	ledger   *inventory.Repository
	orders   orders.Repository
	outbox   outboxEmitter
	metrics  reservationMetrics
	logg     *logger.Logger
	cfg      Config
	now      func() time.Time
	numberer func(time.Time) (string, error)
}

func NewCoordinator(tx txRunner, ledger *inventory.Repository, ordersRepo orders.Repository, emitter outboxEmitter, m reservationMetrics, logg *logger.Logger, cfg Config) (*Coordinator, error) {
	if tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if ledger == nil {
		return nil, fmt.Errorf("inventory ledger required")
	}
	if ordersRepo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if emitter == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if cfg.MaxSeatsPerOrder <= 0 {
		return nil, fmt.Errorf("max seats per order must be positive")
	}
	if cfg.Currency == "" {
		cfg.Currency = "usd"
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &Coordinator{
		tx:       tx,
		ledger:   ledger,
		orders:   ordersRepo,
		outbox:   emitter,
		metrics:  m,
		logg:     logg,
		cfg:      cfg,
		now:      time.Now,
		numberer: orders.NewOrderNumber,
	}, nil
}

// tierDemand aggregates line items per tier, keeping first-appearance order.
type tierDemand struct {
	tierID   uuid.UUID
	quantity int
}

// Reserve locks every requested tier, validates capacity and sale windows,
// then writes the pending order, its ticket placeholders and the ledger
// increments. Nothing persists unless every tier passes.
func (c *Coordinator) Reserve(ctx context.Context, input ReserveInput) (*ReserveResult, error) {
	started := c.now()
	result, err := c.reserve(ctx, input)
	c.observe(err, c.now().Sub(started))
	if err != nil {
		return nil, err
	}
	c.logg.Info(c.logg.WithFields(c.logg.WithOrderID(ctx, result.OrderID.String()), map[string]any{
		"order_number": result.OrderNumber,
		"seats":        result.Seats(),
		"total":        result.TotalAmount.StringFixed(2),
	}), "reservation committed")
	return result, nil
}

func (c *Coordinator) reserve(ctx context.Context, input ReserveInput) (*ReserveResult, error) {
	demand, err := c.validateInput(input)
	if err != nil {
		return nil, err
	}

	ids := make([]uuid.UUID, 0, len(demand))
	for _, d := range demand {
		ids = append(ids, d.tierID)
	}

	var result *ReserveResult
	err = c.tx.WithLockedTx(ctx, func(tx *gorm.DB) error {
		ledger := c.ledger.WithTx(tx)
		locked, err := ledger.LockTiers(ctx, ids)
		if err != nil {
			return err
		}

		now := c.now().UTC()
		lines := make([]ReservedLine, 0, len(demand))
		total := decimal.Zero
		for _, d := range demand {
			tier, err := checkTier(locked[d.tierID], d, input.EventID, now)
			if err != nil {
				return err
			}
			lines = append(lines, ReservedLine{TierID: tier.ID, TierName: tier.Name, UnitPrice: tier.Price, Quantity: d.quantity})
			total = total.Add(tier.Price.Mul(decimal.NewFromInt(int64(d.quantity))))
		}

		number, err := c.numberer(now)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generate order number")
		}
		order := &models.Order{
			EventID:        input.EventID,
			BuyerID:        input.BuyerID,
			OrderNumber:    number,
			TotalAmount:    total,
			Currency:       c.cfg.Currency,
			BillingName:    strings.TrimSpace(input.Billing.Name),
			BillingEmail:   strings.TrimSpace(input.Billing.Email),
			BillingPhone:   input.Billing.Phone,
			BillingAddress: input.Billing.Address,
			Status:         enums.OrderStatusPending,
		}
		for _, item := range input.LineItems {
			for i := 0; i < item.Quantity; i++ {
				order.Tickets = append(order.Tickets, models.Ticket{
					TierID:        item.TierID,
					AttendeeName:  strings.TrimSpace(item.AttendeeName),
					AttendeeEmail: strings.TrimSpace(item.AttendeeEmail),
					Status:        enums.TicketStatusPending,
				})
			}
		}
		if err := c.orders.WithTx(tx).Create(ctx, order); err != nil {
			return err
		}

		for _, tierID := range inventory.SortedIDs(ids) {
			if err := ledger.Increment(ctx, tierID, quantityFor(demand, tierID)); err != nil {
				return err
			}
		}

		if err := c.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         &outbox.ActorRef{UserID: input.BuyerID, Role: string(enums.UserRoleBuyer)},
			Data: payloads.OrderCreatedEvent{
				OrderID:     order.ID,
				OrderNumber: order.OrderNumber,
				EventID:     order.EventID,
				BuyerID:     order.BuyerID,
				TotalAmount: order.TotalAmount,
				Currency:    order.Currency,
				Seats:       len(order.Tickets),
			},
		}); err != nil {
			return err
		}

		result = &ReserveResult{
			OrderID:     order.ID,
			OrderNumber: order.OrderNumber,
			TotalAmount: order.TotalAmount,
			Currency:    order.Currency,
			CreatedAt:   order.CreatedAt,
			Lines:       lines,
		}
		return nil
	})
	if err != nil {
		return nil, classify(err)
	}
	return result, nil
}

func (c *Coordinator) validateInput(input ReserveInput) ([]tierDemand, error) {
	if input.EventID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "event id required")
	}
	if input.BuyerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "buyer identity required")
	}
	if len(input.LineItems) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one line item is required")
	}
	if strings.TrimSpace(input.Billing.Name) == "" || strings.TrimSpace(input.Billing.Email) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "billing name and email are required")
	}

	var demand []tierDemand
	index := map[uuid.UUID]int{}
	seats := 0
	for i, item := range input.LineItems {
		if item.TierID == uuid.Nil {
			return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "line item %d: tier id required", i)
		}
		if item.Quantity < 1 {
			return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "line item %d: quantity must be at least 1", i).
				WithDetails(map[string]any{"tier_id": item.TierID, "quantity": item.Quantity})
		}
		if strings.TrimSpace(item.AttendeeName) == "" || strings.TrimSpace(item.AttendeeEmail) == "" {
			return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "line item %d: attendee name and email are required", i)
		}
		seats += item.Quantity
		if pos, ok := index[item.TierID]; ok {
			demand[pos].quantity += item.Quantity
			continue
		}
		index[item.TierID] = len(demand)
		demand = append(demand, tierDemand{tierID: item.TierID, quantity: item.Quantity})
	}
	if seats > c.cfg.MaxSeatsPerOrder {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "an order may hold at most %d tickets", c.cfg.MaxSeatsPerOrder).
			WithDetails(map[string]any{"requested": seats, "max": c.cfg.MaxSeatsPerOrder})
	}
	return demand, nil
}

// checkTier applies the per-tier checks in order: ownership and activity,
// capacity, then sales window.
func checkTier(tier *models.TicketTier, d tierDemand, eventID uuid.UUID, now time.Time) (*models.TicketTier, error) {
	if tier == nil || tier.EventID != eventID || !tier.IsActive {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "ticket tier not found for event").
			WithDetails(map[string]any{"tier_id": d.tierID})
	}
	if tier.SoldQuantity+d.quantity > tier.Quantity {
		return nil, capacityExceeded(tier, d.quantity)
	}
	if !tier.OnSale(now) {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "tier %q is not on sale", tier.Name).
			WithDetails(map[string]any{
				"reason":           "sales_window_closed",
				"tier_id":          tier.ID,
				"tier_name":        tier.Name,
				"sales_start_date": tier.SalesStartDate,
				"sales_end_date":   tier.SalesEndDate,
			})
	}
	return tier, nil
}

func capacityExceeded(tier *models.TicketTier, requested int) error {
	return pkgerrors.Newf(pkgerrors.CodeValidation, "tier %q has only %d tickets remaining", tier.Name, tier.Remaining()).
		WithDetails(map[string]any{
			"reason":    "capacity_exceeded",
			"tier_id":   tier.ID,
			"tier_name": tier.Name,
			"requested": requested,
			"remaining": tier.Remaining(),
		})
}

func quantityFor(demand []tierDemand, tierID uuid.UUID) int {
	for _, d := range demand {
		if d.tierID == tierID {
			return d.quantity
		}
	}
	return 0
}

// classify maps store failures onto the error taxonomy. Typed errors pass through.
func classify(err error) error {
	if typed := pkgerrors.As(err); typed != nil {
		return typed
	}
	switch {
	case db.IsTransient(err):
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "tickets are in high demand, retry the reservation")
	case db.IsUniqueViolation(err, orderNumberConstraint):
		return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "order number collision, retry the reservation")
	case db.IsCheckViolation(err), isCapacity(err):
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "inventory changed during reservation, retry")
	default:
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reservation failed")
	}
}

func isCapacity(err error) bool {
	return errors.Is(err, inventory.ErrInsufficientCapacity)
}

func (c *Coordinator) observe(err error, took time.Duration) {
	if c.metrics == nil {
		return
	}
	c.metrics.ObserveReservation(outcomeFor(err), took)
}

func outcomeFor(err error) string {
	if err == nil {
		return metrics.OutcomeReserved
	}
	typed := pkgerrors.As(err)
	if typed == nil {
		return metrics.OutcomeStoreFailure
	}
	if details, ok := typed.Details().(map[string]any); ok {
		switch details["reason"] {
		case "capacity_exceeded":
			return metrics.OutcomeCapacityExceeded
		case "sales_window_closed":
			return metrics.OutcomeWindowClosed
		}
	}
	if typed.Code() == pkgerrors.CodeInternal || typed.Code() == pkgerrors.CodeConflict {
		return metrics.OutcomeStoreFailure
	}
	return metrics.OutcomeRejected
}
