package controllers

import (
	"context"
	"net/http"

	"github.com/angelmondragon/ticketbooth/api/responses"
	"github.com/angelmondragon/ticketbooth/api/validators"
	"github.com/angelmondragon/ticketbooth/internal/issuance"
	pkgerrors "github.com/angelmondragon/ticketbooth/pkg/errors"
	"github.com/angelmondragon/ticketbooth/pkg/logger"
)

type ticketChecker interface {
	CheckIn(ctx context.Context, input issuance.CheckInInput) (*issuance.CheckInResult, error)
}

type checkInRequest struct {
	Code    string `json:"code,omitempty" validate:"required_without=Payload,excluded_with=Payload,max=32"`
	Payload string `json:"payload,omitempty" validate:"max=512"`
}

// CheckInTicket redeems a ticket at the door by its code or its signed QR payload.
func CheckInTicket(svc ticketChecker, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "issuance service unavailable"))
			return
		}

		var payload checkInRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.CheckIn(r.Context(), issuance.CheckInInput{Code: payload.Code, Payload: payload.Payload})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if logg != nil {
			ctx := logg.WithOrderID(r.Context(), result.OrderID.String())
			logg.Info(logg.WithField(ctx, "ticket_id", result.TicketID.String()), "ticket checked in")
		}
		responses.WriteSuccess(w, result)
	}
}
