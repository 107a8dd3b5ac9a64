package reservation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/ticketbooth/internal/inventory"
	"github.com/angelmondragon/ticketbooth/internal/orders"
	"github.com/angelmondragon/ticketbooth/pkg/db"
	"github.com/angelmondragon/ticketbooth/pkg/db/dbtest"
	"github.com/angelmondragon/ticketbooth/pkg/db/models"
	"github.com/angelmondragon/ticketbooth/pkg/enums"
	pkgerrors "github.com/angelmondragon/ticketbooth/pkg/errors"
	"github.com/angelmondragon/ticketbooth/pkg/logger"
	"github.com/angelmondragon/ticketbooth/pkg/metrics"
	"github.com/angelmondragon/ticketbooth/pkg/outbox"
)

type recordingMetrics struct {
	mu       sync.Mutex
	outcomes []string
}

func (r *recordingMetrics) ObserveReservation(outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome)
}

func newCoordinator(t *testing.T, conn *gorm.DB, m *recordingMetrics) *Coordinator {
	t.Helper()
	var rm reservationMetrics
	if m != nil {
		rm = m
	}
	c, err := NewCoordinator(
		db.FromConn(conn),
		inventory.NewRepository(conn),
		orders.NewRepository(conn),
		outbox.NewService(outbox.NewRepository(conn), logger.Nop()),
		rm,
		logger.Nop(),
		Config{MaxSeatsPerOrder: 10, Currency: "usd"},
	)
	require.NoError(t, err)
	return c
}

func input(eventID uuid.UUID, items ...LineItem) ReserveInput {
	return ReserveInput{
		EventID:   eventID,
		BuyerID:   uuid.New(),
		LineItems: items,
		Billing:   Billing{Name: "Ada Lovelace", Email: "ada@example.com"},
	}
}

func item(tierID uuid.UUID, qty int) LineItem {
	return LineItem{TierID: tierID, Quantity: qty, AttendeeName: "Ada Lovelace", AttendeeEmail: "ada@example.com"}
}

func countRows(t *testing.T, conn *gorm.DB, model any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, conn.Model(model).Count(&n).Error)
	return n
}

func TestReserveCreatesPendingOrderWithPlaceholders(t *testing.T) {
	conn := dbtest.Open(t)
	eventID := uuid.New()
	ga := dbtest.SeedTier(t, conn, eventID, "GA", 10, dbtest.WithPrice("25.00"))
	vip := dbtest.SeedTier(t, conn, eventID, "VIP", 2, dbtest.WithPrice("80.50"))
	m := &recordingMetrics{}
	c := newCoordinator(t, conn, m)

	result, err := c.Reserve(context.Background(), input(eventID, item(ga.ID, 2), item(vip.ID, 1), item(ga.ID, 1)))
	require.NoError(t, err)

	assert.True(t, result.TotalAmount.Equal(decimal.RequireFromString("155.50")), result.TotalAmount.String())
	assert.Equal(t, "usd", result.Currency)
	assert.Equal(t, 4, result.Seats())
	assert.Regexp(t, `^TB-\d{8}-[0-9A-Z]{8}$`, result.OrderNumber)

	assert.Equal(t, 3, dbtest.ReloadTier(t, conn, ga.ID).SoldQuantity)
	assert.Equal(t, 1, dbtest.ReloadTier(t, conn, vip.ID).SoldQuantity)

	var order models.Order
	require.NoError(t, conn.Preload("Tickets").First(&order, "id = ?", result.OrderID).Error)
	assert.Equal(t, enums.OrderStatusPending, order.Status)
	require.Len(t, order.Tickets, 4)
	for _, ticket := range order.Tickets {
		assert.Equal(t, enums.TicketStatusPending, ticket.Status)
		assert.Nil(t, ticket.TicketCode)
	}

	var events []models.OutboxEvent
	require.NoError(t, conn.Find(&events).Error)
	require.Len(t, events, 1)
	assert.Equal(t, enums.EventOrderCreated, events[0].EventType)
	assert.Equal(t, []string{metrics.OutcomeReserved}, m.outcomes)
}

func TestReserveTwoTiersIsAtomic(t *testing.T) {
	conn := dbtest.Open(t)
	eventID := uuid.New()
	ga := dbtest.SeedTier(t, conn, eventID, "GA", 10)
	vip := dbtest.SeedTier(t, conn, eventID, "VIP", 1, dbtest.WithSold(1))
	c := newCoordinator(t, conn, nil)

	_, err := c.Reserve(context.Background(), input(eventID, item(ga.ID, 2), item(vip.ID, 1)))
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeValidation, typed.Code())
	details := typed.Details().(map[string]any)
	assert.Equal(t, vip.ID, details["tier_id"])
	assert.Equal(t, 0, details["remaining"])
	assert.Equal(t, 1, details["requested"])

	assert.Equal(t, 0, dbtest.ReloadTier(t, conn, ga.ID).SoldQuantity)
	assert.Equal(t, 1, dbtest.ReloadTier(t, conn, vip.ID).SoldQuantity)
	assert.Zero(t, countRows(t, conn, &models.Order{}))
	assert.Zero(t, countRows(t, conn, &models.Ticket{}))
	assert.Zero(t, countRows(t, conn, &models.OutboxEvent{}))
}

func TestReserveConcurrentNeverOversells(t *testing.T) {
	conn := dbtest.Open(t)
	eventID := uuid.New()
	tier := dbtest.SeedTier(t, conn, eventID, "GA", 2)
	c := newCoordinator(t, conn, nil)

	// Scenario: one buyer wants 2 seats, another wants 1, only 2 exist.
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, qty := range []int{2, 1} {
		wg.Add(1)
		go func(i, qty int) {
			defer wg.Done()
			_, errs[i] = c.Reserve(context.Background(), input(eventID, item(tier.ID, qty)))
		}(i, qty)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		typed := pkgerrors.As(err)
		require.NotNil(t, typed, "unexpected error %v", err)
		assert.Equal(t, pkgerrors.CodeValidation, typed.Code())
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 2, dbtest.ReloadTier(t, conn, tier.ID).SoldQuantity)
}

func TestReserveManyBuyersFillCapacityExactly(t *testing.T) {
	conn := dbtest.Open(t)
	eventID := uuid.New()
	tier := dbtest.SeedTier(t, conn, eventID, "GA", 5)
	m := &recordingMetrics{}
	c := newCoordinator(t, conn, m)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Reserve(context.Background(), input(eventID, item(tier.ID, 1))); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, succeeded)
	assert.Equal(t, 5, dbtest.ReloadTier(t, conn, tier.ID).SoldQuantity)
	assert.Equal(t, int64(5), countRows(t, conn, &models.Ticket{}))
	assert.Len(t, m.outcomes, 20)
}

func TestReserveValidationOrder(t *testing.T) {
	conn := dbtest.Open(t)
	eventID := uuid.New()
	past := time.Now().Add(-48 * time.Hour)
	ended := time.Now().Add(-24 * time.Hour)
	closedAndFull := dbtest.SeedTier(t, conn, eventID, "Closed", 1, dbtest.WithSold(1), dbtest.WithWindow(&past, &ended))
	closed := dbtest.SeedTier(t, conn, eventID, "Early", 5, dbtest.WithWindow(&past, &ended))
	inactive := dbtest.SeedTier(t, conn, eventID, "Hidden", 5, dbtest.Inactive())
	otherEvent := dbtest.SeedTier(t, conn, uuid.New(), "Elsewhere", 5)
	c := newCoordinator(t, conn, nil)

	_, err := c.Reserve(context.Background(), input(eventID, item(closedAndFull.ID, 1)))
	assert.Equal(t, "capacity_exceeded", pkgerrors.As(err).Details().(map[string]any)["reason"])

	_, err = c.Reserve(context.Background(), input(eventID, item(closed.ID, 1)))
	assert.Equal(t, "sales_window_closed", pkgerrors.As(err).Details().(map[string]any)["reason"])

	_, err = c.Reserve(context.Background(), input(eventID, item(inactive.ID, 1)))
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	_, err = c.Reserve(context.Background(), input(eventID, item(otherEvent.ID, 1)))
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	_, err = c.Reserve(context.Background(), input(eventID, item(uuid.New(), 1)))
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestReserveInputValidation(t *testing.T) {
	conn := dbtest.Open(t)
	eventID := uuid.New()
	tier := dbtest.SeedTier(t, conn, eventID, "GA", 50)
	c := newCoordinator(t, conn, nil)

	cases := map[string]ReserveInput{
		"no items":      input(eventID),
		"zero quantity": input(eventID, item(tier.ID, 0)),
		"too many":      input(eventID, item(tier.ID, 6), item(tier.ID, 5)),
		"no attendee":   input(eventID, LineItem{TierID: tier.ID, Quantity: 1}),
	}
	for name, in := range cases {
		_, err := c.Reserve(context.Background(), in)
		assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "%s: %v", name, err)
	}

	noBuyer := input(eventID, item(tier.ID, 1))
	noBuyer.BuyerID = uuid.Nil
	_, err := c.Reserve(context.Background(), noBuyer)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))
	assert.Equal(t, 0, dbtest.ReloadTier(t, conn, tier.ID).SoldQuantity)
}

func TestReserveSnapshotsPrice(t *testing.T) {
	conn := dbtest.Open(t)
	eventID := uuid.New()
	tier := dbtest.SeedTier(t, conn, eventID, "GA", 10, dbtest.WithPrice("30.00"))
	c := newCoordinator(t, conn, nil)

	result, err := c.Reserve(context.Background(), input(eventID, item(tier.ID, 2)))
	require.NoError(t, err)

	require.NoError(t, conn.Model(&models.TicketTier{}).Where("id = ?", tier.ID).Update("price", decimal.RequireFromString("99.00")).Error)

	var order models.Order
	require.NoError(t, conn.First(&order, "id = ?", result.OrderID).Error)
	assert.True(t, order.TotalAmount.Equal(decimal.RequireFromString("60.00")), order.TotalAmount.String())
}

func TestClassifyStoreErrors(t *testing.T) {
	lock := classify(&pgconn.PgError{Code: pgerrcode.LockNotAvailable})
	assert.True(t, pkgerrors.IsCode(lock, pkgerrors.CodeInternal))
	assert.True(t, pkgerrors.Retryable(lock))
	assert.Contains(t, lock.Error(), "retry")

	dup := classify(&pgconn.PgError{Code: pgerrcode.UniqueViolation, ConstraintName: orderNumberConstraint})
	assert.True(t, pkgerrors.IsCode(dup, pkgerrors.CodeConflict))

	capacity := classify(inventory.ErrInsufficientCapacity)
	assert.True(t, pkgerrors.IsCode(capacity, pkgerrors.CodeInternal))

	typed := pkgerrors.New(pkgerrors.CodeNotFound, "missing")
	assert.Same(t, typed, classify(typed))
}

func TestOutcomeFor(t *testing.T) {
	assert.Equal(t, metrics.OutcomeReserved, outcomeFor(nil))
	assert.Equal(t, metrics.OutcomeStoreFailure, outcomeFor(classify(&pgconn.PgError{Code: pgerrcode.QueryCanceled})))
	assert.Equal(t, metrics.OutcomeRejected, outcomeFor(pkgerrors.New(pkgerrors.CodeNotFound, "x")))
}
