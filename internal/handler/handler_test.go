package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dominusnolan/court-booking/internal/model"
	"github.com/dominusnolan/court-booking/internal/repository"
	"github.com/dominusnolan/court-booking/internal/service"
)

func run(h echo.HandlerFunc) *httptest.ResponseRecorder {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	_ = h(e.NewContext(req, rec))
	return rec
}

func TestWriteError(t *testing.T) {
	cases := []struct {
		err      error
		code     int
		conflict bool
	}{
		{fmt.Errorf("%w: bad date", service.ErrValidation), http.StatusBadRequest, false},
		{fmt.Errorf("%w: courts", model.ErrInvalidSchedule), http.StatusBadRequest, false},
		{service.ErrUnauthenticated, http.StatusUnauthorized, false},
		{repository.ErrForbidden, http.StatusForbidden, false},
		{repository.ErrConflict, http.StatusConflict, true},
		{fmt.Errorf("%w: holiday", service.ErrSlotUnavailable), http.StatusConflict, true},
		{fmt.Errorf("%w: reserve: dial tcp", service.ErrUpstreamUnavailable), http.StatusServiceUnavailable, false},
		{errors.New("boom"), http.StatusInternalServerError, false},
	}
	for _, tc := range cases {
		t.Run(tc.err.Error(), func(t *testing.T) {
			rec := run(func(c echo.Context) error { return writeError(c, tc.err) })
			assert.Equal(t, tc.code, rec.Code)
			var body apiError
			require.NoError(t, jsonDecode(rec, &body))
			assert.NotEmpty(t, body.Error)
			assert.NotEmpty(t, body.Message)
			assert.Equal(t, tc.conflict, body.Conflict)
		})
	}
}

func TestReadiness(t *testing.T) {
	h := &ReadinessHandler{Checks: map[string]func(context.Context) error{
		"redis": func(context.Context) error { return nil },
		"mysql": func(context.Context) error { return errors.New("connection refused") },
	}}
	rec := run(h.Ready)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"checks":{"mysql":"connection refused","redis":"ok"}}`, rec.Body.String())

	rec = run((&ReadinessHandler{}).Ready)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequestValidator(t *testing.T) {
	v := NewRequestValidator()
	assert.NoError(t, v.Validate(&deselectRequest{SlotKey: "2025-11-20|1|7am"}))
	assert.Error(t, v.Validate(&deselectRequest{}))
	assert.Error(t, v.Validate(&service.SelectRequest{Date: "2025-11-20", TimeLabel: "7am"}))
}

func TestOrderWebhook_DisabledWithoutSecret(t *testing.T) {
	h := &OrderWebhookHandler{}
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/v1/orders/events", nil)
	req.Header.Set(HeaderWebhookSecret, "")
	rec := httptest.NewRecorder()
	require.NoError(t, h.Receive(e.NewContext(req, rec)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func jsonDecode(rec *httptest.ResponseRecorder, v any) error {
	return json.Unmarshal(rec.Body.Bytes(), v)
}
