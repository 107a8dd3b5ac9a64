package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/ticketbooth/api/middleware"
	"github.com/angelmondragon/ticketbooth/api/responses"
	"github.com/angelmondragon/ticketbooth/api/validators"
	"github.com/angelmondragon/ticketbooth/internal/orders"
	"github.com/angelmondragon/ticketbooth/pkg/enums"
	pkgerrors "github.com/angelmondragon/ticketbooth/pkg/errors"
	"github.com/angelmondragon/ticketbooth/pkg/logger"
)

type orderReader interface {
	Get(ctx context.Context, orderID, buyerID uuid.UUID) (*orders.OrderDetail, error)
}

type orderCanceller interface {
	Cancel(ctx context.Context, orderID, buyerID uuid.UUID) (*orders.TransitionResult, error)
}

type cancelResponse struct {
	OrderID uuid.UUID         `json:"orderId"`
	Status  enums.OrderStatus `json:"status"`
}

// OrderDetail returns the caller's order with its tickets.
func OrderDetail(svc orderReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}
		buyerID, orderID, err := callerAndOrder(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		detail, err := svc.Get(r.Context(), orderID, buyerID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, detail)
	}
}

// CancelOrder cancels a pending order owned by the caller and returns its seats to sale.
func CancelOrder(svc orderCanceller, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}
		buyerID, orderID, err := callerAndOrder(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithOrderID(ctx, orderID.String())
		}
		result, err := svc.Cancel(ctx, orderID, buyerID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if logg != nil {
			logg.Info(logg.WithField(ctx, "released_seats", result.ReleasedSeats), "order cancelled by buyer")
		}
		responses.WriteSuccess(w, cancelResponse{OrderID: result.OrderID, Status: result.Status})
	}
}

func callerAndOrder(r *http.Request) (uuid.UUID, uuid.UUID, error) {
	buyerID := middleware.CallerID(r.Context())
	if buyerID == uuid.Nil {
		return uuid.Nil, uuid.Nil, pkgerrors.New(pkgerrors.CodeForbidden, "caller identity missing")
	}
	orderID, err := validators.URLParamUUID(r, "orderId")
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	return buyerID, orderID, nil
}
