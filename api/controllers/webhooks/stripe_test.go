package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/angelmondragon/ticketbooth/pkg/logger"
	"github.com/angelmondragon/ticketbooth/pkg/metrics"
)

const testSecret = "whsec_controller_test"

type staticSecret string

func (s staticSecret) SigningSecret() string { return string(s) }

type stubHandler struct {
	outcome string
	err     error
	calls   int
}

func (s *stubHandler) HandleEvent(ctx context.Context, event *stripe.Event) (string, error) {
	s.calls++
	return s.outcome, s.err
}

type memoryGuard struct {
	seen    map[string]bool
	err     error
	deleted []string
}

func newMemoryGuard() *memoryGuard { return &memoryGuard{seen: map[string]bool{}} }

func (g *memoryGuard) CheckAndMark(ctx context.Context, eventID string) (bool, error) {
	if g.err != nil {
		return false, g.err
	}
	if g.seen[eventID] {
		return true, nil
	}
	g.seen[eventID] = true
	return false, nil
}

func (g *memoryGuard) Delete(ctx context.Context, eventID string) error {
	delete(g.seen, eventID)
	g.deleted = append(g.deleted, eventID)
	return nil
}

type countingMetrics struct {
	got []string
}

func (m *countingMetrics) IncWebhook(kind, outcome string) {
	m.got = append(m.got, kind+"/"+outcome)
}

var succeededPayload = []byte(`{"id":"evt_100","object":"event","type":"payment_intent.succeeded","api_version":"2020-08-27","data":{"object":{"id":"pi_1","object":"payment_intent","metadata":{"order_id":"7d7c4b2e-4f4e-4b8b-9a53-2c5b1f0e9f11"}}}}`)

func signedRequest(t *testing.T, payload []byte, secret string) *http.Request {
	t.Helper()
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: time.Now(),
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", signed.Header)
	return req
}

func decodeAck(t *testing.T, rec *httptest.ResponseRecorder) ackResponse {
	t.Helper()
	var body struct {
		Data ackResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Data
}

func TestStripeWebhookAppliesVerifiedEvent(t *testing.T) {
	svc := &stubHandler{outcome: metrics.WebhookApplied}
	m := &countingMetrics{}
	handler := StripeWebhook(svc, staticSecret(testSecret), newMemoryGuard(), m, logger.Nop())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, signedRequest(t, succeededPayload, testSecret))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, svc.calls)
	ack := decodeAck(t, rec)
	assert.True(t, ack.Acknowledged)
	assert.Equal(t, metrics.WebhookApplied, ack.Outcome)
	assert.Equal(t, []string{"payment_intent.succeeded/applied"}, m.got)
}

func TestStripeWebhookInvalidSignatureAcknowledgedWithoutEffect(t *testing.T) {
	svc := &stubHandler{outcome: metrics.WebhookApplied}
	guard := newMemoryGuard()
	m := &countingMetrics{}
	handler := StripeWebhook(svc, staticSecret(testSecret), guard, m, logger.Nop())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, signedRequest(t, succeededPayload, "whsec_attacker"))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeAck(t, rec).Acknowledged)
	assert.Zero(t, svc.calls)
	assert.Empty(t, guard.seen)
	assert.Equal(t, []string{unknownKind + "/" + metrics.WebhookInvalidSignature}, m.got)

	missing := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", bytes.NewReader(succeededPayload))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, missing)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, svc.calls)
}

func TestStripeWebhookOversizedBodyIsRejectedNotAcknowledged(t *testing.T) {
	svc := &stubHandler{outcome: metrics.WebhookApplied}
	guard := newMemoryGuard()
	m := &countingMetrics{}
	handler := StripeWebhook(svc, staticSecret(testSecret), guard, m, logger.Nop())

	padding := bytes.Repeat([]byte("x"), maxWebhookBody)
	large := []byte(`{"id":"evt_big","object":"event","type":"payment_intent.succeeded","data":{"object":{"id":"pi_1","object":"payment_intent","description":"` + string(padding) + `"}}}`)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, signedRequest(t, large, testSecret))

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Zero(t, svc.calls)
	assert.Empty(t, guard.seen)
	assert.Equal(t, []string{unknownKind + "/" + metrics.WebhookFailed}, m.got)
}

func TestStripeWebhookDuplicateDeliveryIsNoop(t *testing.T) {
	svc := &stubHandler{outcome: metrics.WebhookApplied}
	m := &countingMetrics{}
	handler := StripeWebhook(svc, staticSecret(testSecret), newMemoryGuard(), m, logger.Nop())

	handler.ServeHTTP(httptest.NewRecorder(), signedRequest(t, succeededPayload, testSecret))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, signedRequest(t, succeededPayload, testSecret))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, svc.calls)
	assert.Equal(t, metrics.WebhookDuplicate, decodeAck(t, rec).Outcome)
}

func TestStripeWebhookInfrastructureFailureReleasesGuard(t *testing.T) {
	svc := &stubHandler{outcome: metrics.WebhookFailed, err: errors.New("database unavailable")}
	guard := newMemoryGuard()
	handler := StripeWebhook(svc, staticSecret(testSecret), guard, nil, logger.Nop())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, signedRequest(t, succeededPayload, testSecret))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, []string{"evt_100"}, guard.deleted)

	svc.err = nil
	svc.outcome = metrics.WebhookApplied
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, signedRequest(t, succeededPayload, testSecret))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, svc.calls)
}

func TestStripeWebhookGuardUnavailable(t *testing.T) {
	svc := &stubHandler{outcome: metrics.WebhookApplied}
	guard := newMemoryGuard()
	guard.err = errors.New("redis down")
	handler := StripeWebhook(svc, staticSecret(testSecret), guard, nil, logger.Nop())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, signedRequest(t, succeededPayload, testSecret))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Zero(t, svc.calls)
}

func TestStripeWebhookDataErrorAcknowledged(t *testing.T) {
	svc := &stubHandler{outcome: metrics.WebhookDataError}
	handler := StripeWebhook(svc, staticSecret(testSecret), newMemoryGuard(), nil, logger.Nop())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, signedRequest(t, succeededPayload, testSecret))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, metrics.WebhookDataError, decodeAck(t, rec).Outcome)
}
