package middleware

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/abdobody2040/medilablis2/internal/platform/apperror"
	"github.com/abdobody2040/medilablis2/internal/platform/auth"
)

// Logger writes one line per request. Handler errors are logged at error
// level; the status is taken from the error when the response has not been
// written yet.
func Logger(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()
			rid, _ := c.Get("request_id").(string)

			err := next(c)

			status := c.Response().Status
			if err != nil && !c.Response().Committed {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				} else {
					status = apperror.StatusCode(apperror.KindOf(err))
				}
			}

			evt := logger.Info()
			if err != nil {
				evt = logger.Error().Err(err)
			}

			if p, ok := auth.PrincipalFromContext(req.Context()); ok {
				evt = evt.Str("user_id", p.UserID)
			}

			evt.
				Str("request_id", rid).
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Int("status", status).
				Dur("latency", time.Since(start)).
				Str("remote_ip", c.RealIP()).
				Msg("request")

			return err
		}
	}
}
