package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/ticketbooth/api/middleware"
	"github.com/angelmondragon/ticketbooth/internal/checkout"
	"github.com/angelmondragon/ticketbooth/internal/issuance"
	"github.com/angelmondragon/ticketbooth/internal/orders"
	"github.com/angelmondragon/ticketbooth/internal/reservation"
	"github.com/angelmondragon/ticketbooth/pkg/config"
	"github.com/angelmondragon/ticketbooth/pkg/enums"
	pkgerrors "github.com/angelmondragon/ticketbooth/pkg/errors"
	"github.com/angelmondragon/ticketbooth/pkg/logger"
)

type errorBody struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func asCaller(r *http.Request, userID uuid.UUID, role enums.UserRole) *http.Request {
	return r.WithContext(middleware.WithCaller(r.Context(), userID.String(), role))
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v (%s)", err, rec.Body.String())
	}
	return body
}

type stubCheckout struct {
	got    reservation.ReserveInput
	result *checkout.Result
	err    error
}

func (s *stubCheckout) Execute(ctx context.Context, input reservation.ReserveInput) (*checkout.Result, error) {
	s.got = input
	return s.result, s.err
}

const validReservation = `{
  "eventId": "0b0f3a53-7f7e-4a55-9f55-6f9ad1f6c0a1",
  "lineItems": [
    {"tierId": "5c3a2f8e-2d3f-4a8d-9c2e-0e8f7b6a5d41", "quantity": 2, "attendeeName": " Ada Lovelace ", "attendeeEmail": "ada@example.com"}
  ],
  "billing": {"name": "Ada Lovelace", "email": "ada@example.com"}
}`

func TestCreateReservationSuccess(t *testing.T) {
	t.Parallel()

	buyerID := uuid.New()
	orderID := uuid.New()
	svc := &stubCheckout{result: &checkout.Result{
		OrderID:         orderID,
		OrderNumber:     "TB-20261016-ABCD2345",
		TotalAmount:     decimal.RequireFromString("50.00"),
		Currency:        "usd",
		PaymentRedirect: "https://checkout.stripe.test/c/pay/cs_1",
	}}

	req := asCaller(httptest.NewRequest(http.MethodPost, "/api/v1/reservations", strings.NewReader(validReservation)), buyerID, enums.UserRoleBuyer)
	rec := httptest.NewRecorder()
	CreateReservation(svc, logger.Nop()).ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", rec.Code, rec.Body.String())
	}
	if svc.got.BuyerID != buyerID {
		t.Fatalf("buyer id not taken from token: %s", svc.got.BuyerID)
	}
	if len(svc.got.LineItems) != 1 || svc.got.LineItems[0].Quantity != 2 || svc.got.LineItems[0].AttendeeName != "Ada Lovelace" {
		t.Fatalf("unexpected line items %+v", svc.got.LineItems)
	}

	var body struct {
		Data map[string]any `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, key := range []string{"orderId", "orderNumber", "totalAmount", "currency", "paymentRedirect"} {
		if _, ok := body.Data[key]; !ok {
			t.Fatalf("response missing %s: %v", key, body.Data)
		}
	}
}

func TestCreateReservationRejectsInvalidBodies(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"no line items":   `{"eventId":"0b0f3a53-7f7e-4a55-9f55-6f9ad1f6c0a1","lineItems":[],"billing":{"name":"A","email":"a@example.com"}}`,
		"zero quantity":   `{"eventId":"0b0f3a53-7f7e-4a55-9f55-6f9ad1f6c0a1","lineItems":[{"tierId":"5c3a2f8e-2d3f-4a8d-9c2e-0e8f7b6a5d41","quantity":0,"attendeeName":"A","attendeeEmail":"a@example.com"}],"billing":{"name":"A","email":"a@example.com"}}`,
		"bad email":       `{"eventId":"0b0f3a53-7f7e-4a55-9f55-6f9ad1f6c0a1","lineItems":[{"tierId":"5c3a2f8e-2d3f-4a8d-9c2e-0e8f7b6a5d41","quantity":1,"attendeeName":"A","attendeeEmail":"nope"}],"billing":{"name":"A","email":"a@example.com"}}`,
		"bad event id":    `{"eventId":"not-a-uuid","lineItems":[],"billing":{}}`,
		"unknown field":   `{"eventId":"0b0f3a53-7f7e-4a55-9f55-6f9ad1f6c0a1","seats":3}`,
		"missing billing": `{"eventId":"0b0f3a53-7f7e-4a55-9f55-6f9ad1f6c0a1","lineItems":[{"tierId":"5c3a2f8e-2d3f-4a8d-9c2e-0e8f7b6a5d41","quantity":1,"attendeeName":"A","attendeeEmail":"a@example.com"}]}`,
	}
	for name, payload := range cases {
		svc := &stubCheckout{}
		req := asCaller(httptest.NewRequest(http.MethodPost, "/api/v1/reservations", strings.NewReader(payload)), uuid.New(), enums.UserRoleBuyer)
		rec := httptest.NewRecorder()
		CreateReservation(svc, nil).ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400 got %d", name, rec.Code)
		}
		if svc.got.EventID != uuid.Nil {
			t.Fatalf("%s: service should not be called", name)
		}
	}
}

func TestCreateReservationMapsServiceErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err  error
		want int
	}{
		{pkgerrors.New(pkgerrors.CodeValidation, "insufficient capacity").WithDetails(map[string]any{"available": 1}), http.StatusBadRequest},
		{pkgerrors.New(pkgerrors.CodeNotFound, "tier not found for event"), http.StatusNotFound},
		{pkgerrors.New(pkgerrors.CodeDependency, "payment session unavailable"), http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		req := asCaller(httptest.NewRequest(http.MethodPost, "/api/v1/reservations", strings.NewReader(validReservation)), uuid.New(), enums.UserRoleBuyer)
		rec := httptest.NewRecorder()
		CreateReservation(&stubCheckout{err: tc.err}, nil).ServeHTTP(rec, req)
		if rec.Code != tc.want {
			t.Fatalf("%v: expected %d got %d", tc.err, tc.want, rec.Code)
		}
	}
}

func TestCreateReservationRequiresCaller(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/reservations", strings.NewReader(validReservation))
	rec := httptest.NewRecorder()
	CreateReservation(&stubCheckout{}, nil).ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", rec.Code)
	}
}

type stubOrders struct {
	detail *orders.OrderDetail
	result *orders.TransitionResult
	err    error
	buyer  uuid.UUID
	order  uuid.UUID
}

func (s *stubOrders) Get(ctx context.Context, orderID, buyerID uuid.UUID) (*orders.OrderDetail, error) {
	s.order, s.buyer = orderID, buyerID
	return s.detail, s.err
}

func (s *stubOrders) Cancel(ctx context.Context, orderID, buyerID uuid.UUID) (*orders.TransitionResult, error) {
	s.order, s.buyer = orderID, buyerID
	return s.result, s.err
}

func orderRouter(svc *stubOrders) http.Handler {
	r := chi.NewRouter()
	r.Get("/api/v1/orders/{orderId}", OrderDetail(svc, logger.Nop()))
	r.Post("/api/v1/orders/{orderId}/cancel", CancelOrder(svc, logger.Nop()))
	return r
}

func TestCancelOrder(t *testing.T) {
	t.Parallel()

	buyerID, orderID := uuid.New(), uuid.New()
	svc := &stubOrders{result: &orders.TransitionResult{OrderID: orderID, Status: enums.OrderStatusCancelled, Applied: true, ReleasedSeats: 2}}

	req := asCaller(httptest.NewRequest(http.MethodPost, "/api/v1/orders/"+orderID.String()+"/cancel", nil), buyerID, enums.UserRoleBuyer)
	rec := httptest.NewRecorder()
	orderRouter(svc).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rec.Code, rec.Body.String())
	}
	if svc.order != orderID || svc.buyer != buyerID {
		t.Fatalf("wrong ids passed to service")
	}
	var body struct {
		Data cancelResponse `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Data.Status != enums.OrderStatusCancelled || body.Data.OrderID != orderID {
		t.Fatalf("unexpected body %+v", body.Data)
	}
}

func TestCancelOrderErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		path string
		err  error
		want int
	}{
		{"bad id", "/api/v1/orders/nope/cancel", nil, http.StatusBadRequest},
		{"not pending", "/api/v1/orders/" + uuid.NewString() + "/cancel", pkgerrors.New(pkgerrors.CodeValidation, "order cannot be cancelled"), http.StatusBadRequest},
		{"missing", "/api/v1/orders/" + uuid.NewString() + "/cancel", pkgerrors.New(pkgerrors.CodeNotFound, "order not found"), http.StatusNotFound},
		{"not owner", "/api/v1/orders/" + uuid.NewString() + "/cancel", pkgerrors.New(pkgerrors.CodeForbidden, "order does not belong to caller"), http.StatusForbidden},
	}
	for _, tc := range cases {
		svc := &stubOrders{err: tc.err}
		req := asCaller(httptest.NewRequest(http.MethodPost, tc.path, nil), uuid.New(), enums.UserRoleBuyer)
		rec := httptest.NewRecorder()
		orderRouter(svc).ServeHTTP(rec, req)
		if rec.Code != tc.want {
			t.Fatalf("%s: expected %d got %d", tc.name, tc.want, rec.Code)
		}
	}
}

func TestOrderDetail(t *testing.T) {
	t.Parallel()

	orderID := uuid.New()
	code := "ABCD-EFGH-JKMN-PQRS"
	svc := &stubOrders{detail: &orders.OrderDetail{
		ID:          orderID,
		OrderNumber: "TB-20261016-ABCD2345",
		Status:      enums.OrderStatusPaid,
		Tickets:     []orders.TicketDetail{{ID: uuid.New(), Status: enums.TicketStatusActive, TicketCode: &code}},
	}}

	req := asCaller(httptest.NewRequest(http.MethodGet, "/api/v1/orders/"+orderID.String(), nil), uuid.New(), enums.UserRoleBuyer)
	rec := httptest.NewRecorder()
	orderRouter(svc).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), code) {
		t.Fatalf("ticket code missing from %s", rec.Body.String())
	}
}

type stubChecker struct {
	got    issuance.CheckInInput
	result *issuance.CheckInResult
	err    error
}

func (s *stubChecker) CheckIn(ctx context.Context, input issuance.CheckInInput) (*issuance.CheckInResult, error) {
	s.got = input
	return s.result, s.err
}

func TestCheckInTicket(t *testing.T) {
	t.Parallel()

	svc := &stubChecker{result: &issuance.CheckInResult{TicketID: uuid.New(), OrderID: uuid.New(), Status: enums.TicketStatusUsed}}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/tickets/check-in", strings.NewReader(`{"code":"abcd-efgh-jkmn-pqrs"}`))
	rec := httptest.NewRecorder()
	CheckInTicket(svc, logger.Nop()).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rec.Code, rec.Body.String())
	}
	if svc.got.Code != "abcd-efgh-jkmn-pqrs" {
		t.Fatalf("code not forwarded: %+v", svc.got)
	}
}

func TestCheckInTicketValidation(t *testing.T) {
	t.Parallel()

	for _, payload := range []string{`{}`, `{"code":"A","payload":"tb1.x.y.z"}`} {
		svc := &stubChecker{}
		rec := httptest.NewRecorder()
		CheckInTicket(svc, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(payload)))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400 got %d", payload, rec.Code)
		}
	}
}

func TestCheckInTicketAlreadyUsed(t *testing.T) {
	t.Parallel()

	svc := &stubChecker{err: pkgerrors.New(pkgerrors.CodeStateConflict, "ticket already used")}
	rec := httptest.NewRecorder()
	CheckInTicket(svc, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"payload":"tb1.a.b.c"}`)))

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 got %d", rec.Code)
	}
	if body := decodeError(t, rec); body.Error.Message != "ticket already used" {
		t.Fatalf("unexpected message %q", body.Error.Message)
	}
}

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

func TestHealthReady(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{App: config.AppConfig{Env: "test"}}

	rec := httptest.NewRecorder()
	HealthReady(cfg, nil, stubPinger{}, stubPinger{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	HealthReady(cfg, nil, stubPinger{}, stubPinger{err: errors.New("refused")}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 got %d", rec.Code)
	}
	if body := decodeError(t, rec); body.Error.Details["redis"] != "unavailable" {
		t.Fatalf("expected redis failure in details: %+v", body.Error.Details)
	}
}
