package apperror

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Body is the JSON error envelope returned by every endpoint.
type Body struct {
	Error  string       `json:"error"`
	Fields []FieldError `json:"fields,omitempty"`
}

// StatusCode maps a kind to its HTTP status.
func StatusCode(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// HTTPErrorHandler replaces echo's default handler. Internal errors are
// logged with their cause and answered with a generic message.
func HTTPErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status, body := render(err)
		if status >= http.StatusInternalServerError {
			rid, _ := c.Get("request_id").(string)
			logger.Error().Err(err).
				Str("request_id", rid).
				Str("method", c.Request().Method).
				Str("path", c.Request().URL.Path).
				Msg("request failed")
		}

		var werr error
		if c.Request().Method == http.MethodHead {
			werr = c.NoContent(status)
		} else {
			werr = c.JSON(status, body)
		}
		if werr != nil {
			logger.Warn().Err(werr).Msg("write error response")
		}
	}
}

func render(err error) (int, Body) {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg := http.StatusText(he.Code)
		if s, ok := he.Message.(string); ok && s != "" {
			msg = s
		}
		if he.Code >= http.StatusInternalServerError {
			msg = "internal server error"
		}
		return he.Code, Body{Error: msg}
	}

	var ae *Error
	if errors.As(err, &ae) {
		status := StatusCode(ae.Kind)
		if ae.Kind == KindInternal {
			return status, Body{Error: "internal server error"}
		}
		return status, Body{Error: ae.Message, Fields: ae.Fields}
	}

	return http.StatusInternalServerError, Body{Error: "internal server error"}
}
