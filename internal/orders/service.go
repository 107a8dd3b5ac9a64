package orders

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/ticketbooth/pkg/db/models"
	"github.com/angelmondragon/ticketbooth/pkg/enums"
	pkgerrors "github.com/angelmondragon/ticketbooth/pkg/errors"
	"github.com/angelmondragon/ticketbooth/pkg/logger"
	"github.com/angelmondragon/ticketbooth/pkg/outbox"
	"github.com/angelmondragon/ticketbooth/pkg/outbox/payloads"
)

// Failure reasons recorded on orders.
const (
	ReasonBuyerCancelled       = "buyer_cancelled"
	ReasonPaymentSessionFailed = "payment_session_failed"
	ReasonReservationExpired   = "reservation_expired"
)

// Service drives every order state change. Each method runs the guarded
// status update and its side effects in one transaction.
type Service interface {
	Get(ctx context.Context, orderID, buyerID uuid.UUID) (*OrderDetail, error)
	Cancel(ctx context.Context, orderID, buyerID uuid.UUID) (*TransitionResult, error)
	MarkPaid(ctx context.Context, orderID uuid.UUID, paymentRef string) (*TransitionResult, error)
	MarkFailed(ctx context.Context, orderID uuid.UUID, reason string) (*TransitionResult, error)
	MarkCancelled(ctx context.Context, orderID uuid.UUID, reason string) (*TransitionResult, error)
	MarkRefunded(ctx context.Context, orderID uuid.UUID, reason string) (*TransitionResult, error)
	Expire(ctx context.Context, orderID uuid.UUID) (*TransitionResult, error)
	AttachSession(ctx context.Context, orderID uuid.UUID, sessionRef, paymentRef string) error
	PendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error)
}

type service struct {
	repo     Repository
	tx       txRunner
	releaser inventoryReleaser
	outbox   outboxEmitter
	logg     *logger.Logger
	now      func() time.Time
}

// NewService builds the order state machine service.
func NewService(repo Repository, tx txRunner, releaser inventoryReleaser, emitter outboxEmitter, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if releaser == nil {
		return nil, fmt.Errorf("inventory releaser required")
	}
	if emitter == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &service{
		repo:     repo,
		tx:       tx,
		releaser: releaser,
		outbox:   emitter,
		logg:     logg,
		now:      time.Now,
	}, nil
}

func (s *service) Get(ctx context.Context, orderID, buyerID uuid.UUID) (*OrderDetail, error) {
	order, err := s.repo.FindDetail(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load order")
	}
	if order == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	if order.BuyerID != buyerID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "order does not belong to caller")
	}
	return newOrderDetail(order), nil
}

func (s *service) Cancel(ctx context.Context, orderID, buyerID uuid.UUID) (*TransitionResult, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load order")
	}
	if order == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	if order.BuyerID != buyerID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "order does not belong to caller")
	}
	if order.Status != enums.OrderStatusPending {
		return nil, notCancellable(order.Status)
	}

	result, err := s.transition(ctx, orderID, transitionRequest{
		to:     enums.OrderStatusCancelled,
		reason: ReasonBuyerCancelled,
		actor:  &outbox.ActorRef{UserID: buyerID, Role: string(enums.UserRoleBuyer)},
	})
	if err != nil {
		return nil, err
	}
	if !result.Applied {
		return nil, notCancellable(result.Status)
	}
	return result, nil
}

func notCancellable(status enums.OrderStatus) error {
	return pkgerrors.Newf(pkgerrors.CodeValidation, "order cannot be cancelled in status %q", status).
		WithDetails(map[string]any{"status": status})
}

func (s *service) MarkPaid(ctx context.Context, orderID uuid.UUID, paymentRef string) (*TransitionResult, error) {
	return s.transition(ctx, orderID, transitionRequest{to: enums.OrderStatusPaid, paymentRef: paymentRef})
}

func (s *service) MarkFailed(ctx context.Context, orderID uuid.UUID, reason string) (*TransitionResult, error) {
	return s.transition(ctx, orderID, transitionRequest{to: enums.OrderStatusFailed, reason: reason})
}

func (s *service) MarkCancelled(ctx context.Context, orderID uuid.UUID, reason string) (*TransitionResult, error) {
	return s.transition(ctx, orderID, transitionRequest{to: enums.OrderStatusCancelled, reason: reason})
}

func (s *service) MarkRefunded(ctx context.Context, orderID uuid.UUID, reason string) (*TransitionResult, error) {
	return s.transition(ctx, orderID, transitionRequest{to: enums.OrderStatusRefunded, reason: reason})
}

func (s *service) Expire(ctx context.Context, orderID uuid.UUID) (*TransitionResult, error) {
	return s.transition(ctx, orderID, transitionRequest{to: enums.OrderStatusExpired, reason: ReasonReservationExpired})
}

// AttachSession stores processor references. Existing references are overwritten
// only by non-empty values.
func (s *service) AttachSession(ctx context.Context, orderID uuid.UUID, sessionRef, paymentRef string) error {
	fields := map[string]any{}
	if sessionRef != "" {
		fields["external_session_ref"] = sessionRef
	}
	if paymentRef != "" {
		fields["external_payment_ref"] = paymentRef
	}
	if len(fields) == 0 {
		return nil
	}
	fields["updated_at"] = s.now().UTC()
	found, err := s.repo.UpdateRefs(ctx, orderID, fields)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record payment references")
	}
	if !found {
		return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return nil
}

func (s *service) PendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	ids, err := s.repo.FindPendingBefore(ctx, cutoff, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list stale pending orders")
	}
	return ids, nil
}

type transitionRequest struct {
	to         enums.OrderStatus
	reason     string
	paymentRef string
	actor      *outbox.ActorRef
}

func (s *service) transition(ctx context.Context, orderID uuid.UUID, req transitionRequest) (*TransitionResult, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}

	var result *TransitionResult
	err := s.tx.WithLockedTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := repo.FindByID(ctx, orderID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load order")
		}
		if order == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}

		result = &TransitionResult{
			OrderID:     order.ID,
			OrderNumber: order.OrderNumber,
			From:        order.Status,
			Status:      order.Status,
		}
		switch Transition(order.Status, req.to) {
		case NoOp:
			return nil
		case Reject:
			return pkgerrors.Newf(pkgerrors.CodeStateConflict, "order cannot move from %s to %s", order.Status, req.to).
				WithDetails(map[string]any{"status": order.Status, "target": req.to})
		}

		now := s.now().UTC()
		swapped, err := repo.CompareAndSetStatus(ctx, order.ID, order.Status, req.to, s.transitionFields(req, now))
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update order status")
		}
		if !swapped {
			current, err := repo.FindByID(ctx, order.ID)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reload order")
			}
			if current != nil {
				result.Status = current.Status
			}
			return nil
		}
		result.Status = req.to
		result.Applied = true

		return s.applySideEffects(ctx, tx, repo, order, req, result, now)
	})
	if err != nil {
		return nil, err
	}

	logCtx := s.logg.WithFields(s.logg.WithOrderID(ctx, orderID.String()), map[string]any{
		"from":    result.From,
		"to":      req.to,
		"applied": result.Applied,
	})
	if result.Applied {
		s.logg.Info(logCtx, "order transitioned")
	} else {
		s.logg.Info(logCtx, "order transition skipped")
	}
	return result, nil
}

func (s *service) transitionFields(req transitionRequest, now time.Time) map[string]any {
	fields := map[string]any{"updated_at": now}
	switch req.to {
	case enums.OrderStatusPaid:
		fields["paid_at"] = now
		if req.paymentRef != "" {
			fields["external_payment_ref"] = req.paymentRef
		}
	case enums.OrderStatusCancelled:
		fields["cancelled_at"] = now
	case enums.OrderStatusFailed:
		fields["failed_at"] = now
	case enums.OrderStatusExpired:
		fields["expired_at"] = now
	case enums.OrderStatusRefunded:
		fields["refunded_at"] = now
	}
	if req.reason != "" && req.to != enums.OrderStatusPaid {
		fields["failure_reason"] = req.reason
	}
	return fields
}

func (s *service) applySideEffects(ctx context.Context, tx *gorm.DB, repo Repository, order *models.Order, req transitionRequest, result *TransitionResult, now time.Time) error {
	changed := payloads.OrderStatusChangedEvent{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		From:        order.Status,
		To:          req.to,
		Reason:      req.reason,
		OccurredAt:  now,
	}

	switch req.to {
	case enums.OrderStatusPaid:
		seats, err := repo.CountSeats(ctx, order.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "count seats")
		}
		if err := s.emit(ctx, tx, enums.EventOrderPaid, order.ID, req.actor, changed); err != nil {
			return err
		}
		if err := s.emit(ctx, tx, enums.EventTicketIssuanceRequested, order.ID, req.actor, payloads.TicketIssuanceRequestedEvent{
			OrderID:     order.ID,
			OrderNumber: order.OrderNumber,
			Seats:       seats,
		}); err != nil {
			return err
		}
		return s.notify(ctx, tx, order, enums.NotificationTypeOrderConfirmation)

	case enums.OrderStatusCancelled, enums.OrderStatusFailed, enums.OrderStatusExpired:
		released, err := s.releaser.Release(ctx, tx, order.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "release inventory")
		}
		result.ReleasedSeats = released.Units
		changed.ReleasedSeats = released.Units
		if err := s.emit(ctx, tx, statusEvent(req.to), order.ID, req.actor, changed); err != nil {
			return err
		}
		if req.to == enums.OrderStatusCancelled {
			return s.notify(ctx, tx, order, enums.NotificationTypeOrderCancelled)
		}
		return nil

	case enums.OrderStatusRefunded:
		if _, err := repo.VoidHeldTickets(ctx, order.ID, now); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "void refunded tickets")
		}
		if err := s.emit(ctx, tx, enums.EventOrderRefunded, order.ID, req.actor, changed); err != nil {
			return err
		}
		return s.notify(ctx, tx, order, enums.NotificationTypeOrderRefunded)
	}
	return nil
}

func (s *service) notify(ctx context.Context, tx *gorm.DB, order *models.Order, kind enums.NotificationType) error {
	return s.emit(ctx, tx, enums.EventNotificationRequested, order.ID, nil, payloads.NotificationRequestedEvent{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Type:        kind,
		Recipient:   order.BillingEmail,
		BuyerName:   order.BillingName,
		TotalAmount: order.TotalAmount,
		Currency:    order.Currency,
	})
}

func (s *service) emit(ctx context.Context, tx *gorm.DB, eventType enums.OutboxEventType, orderID uuid.UUID, actor *outbox.ActorRef, data any) error {
	err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateOrder,
		AggregateID:   orderID,
		Actor:         actor,
		Data:          data,
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, fmt.Sprintf("emit %s", eventType))
	}
	return nil
}

func statusEvent(status enums.OrderStatus) enums.OutboxEventType {
	switch status {
	case enums.OrderStatusCancelled:
		return enums.EventOrderCancelled
	case enums.OrderStatusFailed:
		return enums.EventOrderFailed
	case enums.OrderStatusExpired:
		return enums.EventOrderExpired
	case enums.OrderStatusRefunded:
		return enums.EventOrderRefunded
	default:
		return enums.EventOrderPaid
	}
}
