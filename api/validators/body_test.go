package validators

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/ticketbooth/pkg/errors"
)

type seatRequest struct {
	Name     string `json:"name" validate:"required,notblank,max=10"`
	Quantity int    `json:"quantity" validate:"required,min=1"`
}

func decode(t *testing.T, body string) (seatRequest, error) {
	t.Helper()
	var dest seatRequest
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	return dest, DecodeJSONBody(req, &dest)
}

func TestDecodeJSONBodyAccepts(t *testing.T) {
	got, err := decode(t, `{"name":"GA","quantity":2}`)
	require.NoError(t, err)
	assert.Equal(t, seatRequest{Name: "GA", Quantity: 2}, got)
}

func TestDecodeJSONBodyRejects(t *testing.T) {
	cases := map[string]string{
		"unknown field": `{"name":"GA","quantity":2,"vip":true}`,
		"trailing data": `{"name":"GA","quantity":2}{"name":"x"}`,
		"empty":         ``,
		"wrong type":    `{"name":"GA","quantity":"two"}`,
		"blank name":    `{"name":"   ","quantity":1}`,
		"zero quantity": `{"name":"GA","quantity":0}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := decode(t, body)
			require.Error(t, err)
			assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
		})
	}
}

func TestDecodeJSONBodyFieldDetails(t *testing.T) {
	_, err := decode(t, `{"name":"a very long tier name","quantity":0}`)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	details, ok := typed.Details().(map[string]string)
	require.True(t, ok)
	assert.Equal(t, "must be at most 10", details["name"])
	assert.Equal(t, "is required", details["quantity"])
}

func TestDecodeJSONBodyLimitsSize(t *testing.T) {
	_, err := decode(t, `{"name":"`+strings.Repeat("x", maxBodyBytes)+`","quantity":1}`)
	require.Error(t, err)
	assert.Contains(t, pkgerrors.As(err).Message(), "exceeds")
}

func TestURLParamUUID(t *testing.T) {
	id := uuid.New()
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("orderId", id.String())
	rctx.URLParams.Add("bad", "nope")
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(contextWithRoute(req, rctx))

	got, err := URLParamUUID(req, "orderId")
	require.NoError(t, err)
	assert.Equal(t, id, got)

	_, err = URLParamUUID(req, "bad")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	_, err = URLParamUUID(req, "missing")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func contextWithRoute(r *http.Request, rctx *chi.Context) context.Context {
	return context.WithValue(r.Context(), chi.RouteCtxKey, rctx)
}
