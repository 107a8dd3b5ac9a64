package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/ticketbooth/internal/compensation"
	"github.com/angelmondragon/ticketbooth/pkg/db/models"
	"github.com/angelmondragon/ticketbooth/pkg/enums"
	"github.com/angelmondragon/ticketbooth/pkg/outbox"
)

// Repository defines persistence operations for orders and their tickets.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, order *models.Order) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindDetail(ctx context.Context, id uuid.UUID) (*models.Order, error)
	CompareAndSetStatus(ctx context.Context, id uuid.UUID, from, to enums.OrderStatus, fields map[string]any) (bool, error)
	UpdateRefs(ctx context.Context, id uuid.UUID, fields map[string]any) (bool, error)
	CountSeats(ctx context.Context, orderID uuid.UUID) (int, error)
	VoidHeldTickets(ctx context.Context, orderID uuid.UUID, at time.Time) (int, error)
	FindPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error)
	FindIDByPaymentRef(ctx context.Context, paymentRef string) (uuid.UUID, error)
}

type txRunner interface {
	WithLockedTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type inventoryReleaser interface {
	Release(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (compensation.ReleaseResult, error)
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}
