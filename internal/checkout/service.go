// Package checkout turns a reservation into a payable order by opening the
// processor's hosted payment session.
package checkout

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/ticketbooth/internal/orders"
	"github.com/angelmondragon/ticketbooth/internal/reservation"
	pkgerrors "github.com/angelmondragon/ticketbooth/pkg/errors"
	"github.com/angelmondragon/ticketbooth/pkg/logger"
	"github.com/angelmondragon/ticketbooth/pkg/stripe"
)

type reserver interface {
	Reserve(ctx context.Context, input reservation.ReserveInput) (*reservation.ReserveResult, error)
}

type sessionCreator interface {
	CreateCheckoutSession(ctx context.Context, req stripe.CheckoutSessionRequest) (*stripe.CheckoutSession, error)
}

type orderSettler interface {
	AttachSession(ctx context.Context, orderID uuid.UUID, sessionRef, paymentRef string) error
	MarkFailed(ctx context.Context, orderID uuid.UUID, reason string) (*orders.TransitionResult, error)
}

// Service executes checkout orchestration.
type Service interface {
	Execute(ctx context.Context, input reservation.ReserveInput) (*Result, error)
}

// Result is what the buyer needs to complete payment.
type Result struct {
	OrderID         uuid.UUID       `json:"orderId"`
	OrderNumber     string          `json:"orderNumber"`
	TotalAmount     decimal.Decimal `json:"totalAmount"`
	Currency        string          `json:"currency"`
	PaymentRedirect string          `json:"paymentRedirect"`
}

// Hold is how long a pending order waits for payment. The payment session
// aims to close after TTL and must close before TTL+Grace, when the pending
// order sweep may expire the order.
type Hold struct {
	TTL   time.Duration
	Grace time.Duration
}

type service struct {
	reserver reserver
	sessions sessionCreator
	orders   orderSettler
	hold     Hold
	logg     *logger.Logger
}

// NewService builds the checkout service.
func NewService(r reserver, sessions sessionCreator, settler orderSettler, hold Hold, logg *logger.Logger) (Service, error) {
	if r == nil {
		return nil, fmt.Errorf("reservation coordinator required")
	}
	if sessions == nil {
		return nil, fmt.Errorf("payment session creator required")
	}
	if settler == nil {
		return nil, fmt.Errorf("orders service required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &service{reserver: r, sessions: sessions, orders: settler, hold: hold, logg: logg}, nil
}

// Execute reserves the seats and opens a payment session for the new order.
// When the session cannot be opened the order is failed so its seats return
// to sale, and the caller gets a dependency error.
func (s *service) Execute(ctx context.Context, input reservation.ReserveInput) (*Result, error) {
	reserved, err := s.reserver.Reserve(ctx, input)
	if err != nil {
		return nil, err
	}
	ctx = s.logg.WithOrderID(ctx, reserved.OrderID.String())

	lines := make([]stripe.CheckoutLine, 0, len(reserved.Lines))
	for _, l := range reserved.Lines {
		lines = append(lines, stripe.CheckoutLine{Name: l.TierName, UnitAmount: l.UnitPrice, Quantity: l.Quantity})
	}
	req := stripe.CheckoutSessionRequest{
		OrderID:       reserved.OrderID,
		OrderNumber:   reserved.OrderNumber,
		Currency:      reserved.Currency,
		CustomerEmail: input.Billing.Email,
		Lines:         lines,
	}
	if s.hold.TTL > 0 {
		req.ExpiresAt = reserved.CreatedAt.Add(s.hold.TTL)
		req.Deadline = reserved.CreatedAt.Add(s.hold.TTL + max(s.hold.Grace, 0))
	}

	sess, err := s.sessions.CreateCheckoutSession(ctx, req)
	if err != nil {
		s.logg.Error(ctx, "payment session creation failed", err)
		if _, failErr := s.orders.MarkFailed(ctx, reserved.OrderID, orders.ReasonPaymentSessionFailed); failErr != nil {
			s.logg.Error(ctx, "failed to release reservation after session error", failErr)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "payment provider unavailable, please try again").
			WithDetails(map[string]any{"order_id": reserved.OrderID})
	}

	if err := s.orders.AttachSession(ctx, reserved.OrderID, sess.ID, ""); err != nil {
		// the session webhook records the reference as well
		s.logg.Warn(s.logg.WithField(ctx, "session_id", sess.ID), "failed to record payment session on order")
	}

	return &Result{
		OrderID:         reserved.OrderID,
		OrderNumber:     reserved.OrderNumber,
		TotalAmount:     reserved.TotalAmount,
		Currency:        reserved.Currency,
		PaymentRedirect: sess.URL,
	}, nil
}
