package controllers

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/ticketbooth/api/middleware"
	"github.com/angelmondragon/ticketbooth/api/responses"
	"github.com/angelmondragon/ticketbooth/api/validators"
	"github.com/angelmondragon/ticketbooth/internal/checkout"
	"github.com/angelmondragon/ticketbooth/internal/reservation"
	pkgerrors "github.com/angelmondragon/ticketbooth/pkg/errors"
	"github.com/angelmondragon/ticketbooth/pkg/logger"
)

type reservationRequest struct {
	EventID   uuid.UUID         `json:"eventId" validate:"required"`
	LineItems []lineItemRequest `json:"lineItems" validate:"required,min=1,dive"`
	Billing   billingRequest    `json:"billing"`
}

type lineItemRequest struct {
	TierID        uuid.UUID `json:"tierId" validate:"required"`
	Quantity      int       `json:"quantity" validate:"required,min=1"`
	AttendeeName  string    `json:"attendeeName" validate:"required,notblank,max=200"`
	AttendeeEmail string    `json:"attendeeEmail" validate:"required,email"`
}

type billingRequest struct {
	Name    string  `json:"name" validate:"required,notblank,max=200"`
	Email   string  `json:"email" validate:"required,email"`
	Phone   *string `json:"phone,omitempty" validate:"omitempty,max=40"`
	Address *string `json:"address,omitempty" validate:"omitempty,max=500"`
}

func (req reservationRequest) toInput(buyerID uuid.UUID) reservation.ReserveInput {
	input := reservation.ReserveInput{
		EventID: req.EventID,
		BuyerID: buyerID,
		Billing: reservation.Billing{
			Name:    strings.TrimSpace(req.Billing.Name),
			Email:   strings.TrimSpace(req.Billing.Email),
			Phone:   req.Billing.Phone,
			Address: req.Billing.Address,
		},
	}
	for _, item := range req.LineItems {
		input.LineItems = append(input.LineItems, reservation.LineItem{
			TierID:        item.TierID,
			Quantity:      item.Quantity,
			AttendeeName:  strings.TrimSpace(item.AttendeeName),
			AttendeeEmail: strings.TrimSpace(item.AttendeeEmail),
		})
	}
	return input
}

// CreateReservation holds seats for the caller and opens a payment session.
func CreateReservation(svc checkout.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}

		buyerID := middleware.CallerID(r.Context())
		if buyerID == uuid.Nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "caller identity missing"))
			return
		}

		var payload reservationRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Execute(r.Context(), payload.toInput(buyerID))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}
