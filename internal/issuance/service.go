// Package issuance mints ticket codes for paid orders and admits them at the door.
package issuance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/ticketbooth/internal/orders"
	"github.com/angelmondragon/ticketbooth/pkg/db/models"
	"github.com/angelmondragon/ticketbooth/pkg/enums"
	pkgerrors "github.com/angelmondragon/ticketbooth/pkg/errors"
	"github.com/angelmondragon/ticketbooth/pkg/logger"
	"github.com/angelmondragon/ticketbooth/pkg/security"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type issuedCounter interface {
	AddIssued(n int)
}

type payloadSigner interface {
	Sign(ticketID uuid.UUID, code string) (string, error)
	Verify(payload string) (uuid.UUID, string, error)
}

// IssueResult reports what one issuance pass did.
type IssueResult struct {
	OrderID       uuid.UUID
	Status        enums.OrderStatus
	Minted        int
	AlreadyIssued int
	// Skipped is set when the order is not paid and nothing was minted.
	Skipped bool
}

type CheckInInput struct {
	Code    string
	Payload string
}

type CheckInResult struct {
	TicketID     uuid.UUID          `json:"ticketId"`
	OrderID      uuid.UUID          `json:"orderId"`
	TierID       uuid.UUID          `json:"tierId"`
	AttendeeName string             `json:"attendeeName"`
	Status       enums.TicketStatus `json:"status"`
	UsedAt       *time.Time         `json:"usedAt,omitempty"`
}

type Service struct {
	tx      txRunner
	tickets *Repository
	orders  orders.Repository
	signer  payloadSigner
	metrics issuedCounter
	logg    *logger.Logger
	now     func() time.Time
	newCode func() (string, error)
}

func NewService(tx txRunner, tickets *Repository, ordersRepo orders.Repository, signer payloadSigner, metrics issuedCounter, logg *logger.Logger) (*Service, error) {
	if tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if tickets == nil {
		return nil, fmt.Errorf("ticket repository required")
	}
	if ordersRepo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if signer == nil {
		return nil, fmt.Errorf("payload signer required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &Service{
		tx:      tx,
		tickets: tickets,
		orders:  ordersRepo,
		signer:  signer,
		metrics: metrics,
		logg:    logg,
		now:     time.Now,
		newCode: security.NewTicketCode,
	}, nil
}

// Issue mints a code and signed payload for every unissued ticket of a paid
// order. Tickets that already carry a code are left alone, so repeated calls
// mint nothing new.
func (s *Service) Issue(ctx context.Context, orderID uuid.UUID) (*IssueResult, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	ctx = s.logg.WithOrderID(ctx, orderID.String())

	result := &IssueResult{OrderID: orderID}
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		order, err := s.orders.WithTx(tx).FindByID(ctx, orderID)
		if err != nil {
			return err
		}
		if order == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		result.Status = order.Status
		if order.Status != enums.OrderStatusPaid {
			result.Skipped = true
			return nil
		}

		repo := s.tickets.WithTx(tx)
		pending, err := repo.LockUnissued(ctx, orderID)
		if err != nil {
			return err
		}
		issuedAt := s.now().UTC()
		for _, ticket := range pending {
			code, err := s.newCode()
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mint ticket code")
			}
			payload, err := s.signer.Sign(ticket.ID, code)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "sign ticket payload")
			}
			ok, err := repo.MarkIssued(ctx, ticket.ID, code, payload, issuedAt)
			if err != nil {
				return err
			}
			if ok {
				result.Minted++
			}
		}
		issued, err := repo.CountIssued(ctx, orderID)
		if err != nil {
			return err
		}
		result.AlreadyIssued = issued - result.Minted
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Skipped {
		s.logg.Warn(s.logg.WithField(ctx, "status", string(result.Status)), "issuance skipped for unpaid order")
		return result, nil
	}
	if s.metrics != nil && result.Minted > 0 {
		s.metrics.AddIssued(result.Minted)
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"minted":         result.Minted,
		"already_issued": result.AlreadyIssued,
	}), "tickets issued")
	return result, nil
}

// CheckIn admits a ticket by its code or signed payload, moving it from active to used.
func (s *Service) CheckIn(ctx context.Context, input CheckInInput) (*CheckInResult, error) {
	ticket, err := s.resolve(ctx, input)
	if err != nil {
		return nil, err
	}
	ctx = s.logg.WithFields(ctx, map[string]any{"ticket_id": ticket.ID.String(), "order_id": ticket.OrderID.String()})

	if ticket.Status != enums.TicketStatusActive {
		return nil, notAdmissible(ticket)
	}
	usedAt := s.now().UTC()
	ok, err := s.tickets.MarkUsed(ctx, ticket.ID, usedAt)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "check in ticket")
	}
	if !ok {
		current, err := s.tickets.FindByID(ctx, ticket.ID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reload ticket")
		}
		if current == nil {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "ticket not found")
		}
		return nil, notAdmissible(current)
	}

	s.logg.Info(ctx, "ticket checked in")
	return &CheckInResult{
		TicketID:     ticket.ID,
		OrderID:      ticket.OrderID,
		TierID:       ticket.TierID,
		AttendeeName: ticket.AttendeeName,
		Status:       enums.TicketStatusUsed,
		UsedAt:       &usedAt,
	}, nil
}

func (s *Service) resolve(ctx context.Context, input CheckInInput) (*models.Ticket, error) {
	switch {
	case strings.TrimSpace(input.Payload) != "":
		ticketID, code, err := s.signer.Verify(strings.TrimSpace(input.Payload))
		if err != nil {
			if errors.Is(err, security.ErrBadSignature) {
				s.logg.Warn(s.logg.WithField(ctx, "event", "security"), "ticket payload signature mismatch")
			}
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid ticket payload")
		}
		ticket, err := s.tickets.FindByID(ctx, ticketID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load ticket")
		}
		if ticket == nil || ticket.TicketCode == nil || *ticket.TicketCode != code {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "ticket not found")
		}
		return ticket, nil
	case strings.TrimSpace(input.Code) != "":
		code, ok := security.NormalizeTicketCode(input.Code)
		if !ok {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "malformed ticket code")
		}
		ticket, err := s.tickets.FindByCode(ctx, code)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load ticket")
		}
		if ticket == nil {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "ticket not found")
		}
		return ticket, nil
	default:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "ticket code or payload required")
	}
}

func notAdmissible(ticket *models.Ticket) error {
	if ticket.Status == enums.TicketStatusUsed {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "ticket already used").
			WithDetails(map[string]any{"ticket_id": ticket.ID, "used_at": ticket.UsedAt})
	}
	return pkgerrors.Newf(pkgerrors.CodeStateConflict, "ticket is %s and cannot be admitted", ticket.Status).
		WithDetails(map[string]any{"ticket_id": ticket.ID, "status": ticket.Status})
}
