package handler

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"

	"github.com/iliyamo/storefront-identity/internal/apperr"
)

func TestStatusOf(t *testing.T) {
	tests := map[apperr.Kind]int{
		apperr.KindUnauthorized: http.StatusUnauthorized,
		apperr.KindForbidden:    http.StatusForbidden,
		apperr.KindConflict:     http.StatusConflict,
		apperr.KindBadRequest:   http.StatusBadRequest,
		apperr.KindNotFound:     http.StatusNotFound,
		apperr.KindInternal:     http.StatusInternalServerError,
	}
	for kind, want := range tests {
		assert.Equal(t, want, StatusOf(kind), kind)
	}
}

func serveError(t *testing.T, method string, err error, logs *bytes.Buffer) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(method, "/x", nil), rec)
	ErrorHandler(slog.New(slog.NewJSONHandler(logs, nil)))(err, c)
	return rec
}

func TestErrorHandler(t *testing.T) {
	t.Run("domain error carries reason", func(t *testing.T) {
		var logs bytes.Buffer
		rec := serveError(t, http.MethodGet, apperr.Unauthorized(apperr.ReasonTokenExpired, "access token expired"), &logs)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.JSONEq(t, `{"error":"access token expired","reason":"token_expired"}`, rec.Body.String())
		assert.Empty(t, logs.String())
	})

	t.Run("internal error is generic and logged", func(t *testing.T) {
		var logs bytes.Buffer
		err := oops.Code("AUTH_STORE_FAILED").With("operation", "find user").Wrap(errors.New("dial tcp 10.0.0.5:3306: refused"))
		rec := serveError(t, http.MethodGet, err, &logs)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.JSONEq(t, `{"error":"internal error"}`, rec.Body.String())
		assert.Contains(t, logs.String(), "AUTH_STORE_FAILED")
		assert.Contains(t, logs.String(), "10.0.0.5")
	})

	t.Run("echo http error", func(t *testing.T) {
		var logs bytes.Buffer
		rec := serveError(t, http.MethodGet, echo.NewHTTPError(http.StatusMethodNotAllowed), &logs)
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
		assert.Contains(t, rec.Body.String(), "Method Not Allowed")
	})

	t.Run("head has no body", func(t *testing.T) {
		var logs bytes.Buffer
		rec := serveError(t, http.MethodHead, apperr.NotFound("ticket not found"), &logs)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Empty(t, rec.Body.String())
	})
}

type pingFunc func(context.Context) error

func (f pingFunc) PingContext(ctx context.Context) error { return f(ctx) }

func TestReady(t *testing.T) {
	e := echo.New()

	rec := httptest.NewRecorder()
	h := &HealthHandler{DB: pingFunc(func(context.Context) error { return errors.New("down") })}
	assert.NoError(t, h.Ready(e.NewContext(httptest.NewRequest(http.MethodGet, "/readyz", nil), rec)))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	h = &HealthHandler{DB: pingFunc(func(context.Context) error { return nil })}
	assert.NoError(t, h.Ready(e.NewContext(httptest.NewRequest(http.MethodGet, "/readyz", nil), rec)))
	assert.Equal(t, http.StatusOK, rec.Code)
}
