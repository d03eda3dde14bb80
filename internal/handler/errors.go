package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/storefront-identity/internal/apperr"
	"github.com/iliyamo/storefront-identity/internal/logging"
)

// errorBody is the JSON shape of every failed response.
type errorBody struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

// StatusOf maps an error kind to its HTTP status.
func StatusOf(kind apperr.Kind) int {
	switch kind {
	case apperr.KindUnauthorized:
		return http.StatusUnauthorized
	case apperr.KindForbidden:
		return http.StatusForbidden
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindBadRequest:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// ErrorHandler renders errors returned by handlers and middleware. Internal
// failures are logged and answered with a generic body.
func ErrorHandler(logger *slog.Logger) echo.HTTPErrorHandler {
	logger = logging.OrDefault(logger)
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status, body := render(err)
		if status >= http.StatusInternalServerError {
			req := c.Request()
			logging.LogError(req.Context(), logger, slog.LevelError, "request failed", err,
				"method", req.Method, "path", c.Path())
		}

		var werr error
		if c.Request().Method == http.MethodHead {
			werr = c.NoContent(status)
		} else {
			werr = c.JSON(status, body)
		}
		if werr != nil {
			logger.WarnContext(c.Request().Context(), "write error response failed", "error", werr)
		}
	}
}

func render(err error) (int, errorBody) {
	// Routing errors (404, 405) and binder failures come from echo itself.
	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg := http.StatusText(he.Code)
		if s, ok := he.Message.(string); ok && he.Code < http.StatusInternalServerError {
			msg = s
		} else if he.Code < http.StatusInternalServerError && he.Message != nil {
			msg = fmt.Sprint(he.Message)
		}
		return he.Code, errorBody{Error: msg}
	}

	kind := apperr.KindOf(err)
	return StatusOf(kind), errorBody{Error: apperr.Message(err), Reason: apperr.ReasonOf(err)}
}

func badBody() error {
	return apperr.BadRequest(apperr.ReasonInvalidInput, "invalid body")
}
