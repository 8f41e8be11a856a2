package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/abdobody2040/medilablis2/internal/platform/auth"
)

// ActionEntry is one mutating request as recorded in the action log.
type ActionEntry struct {
	UserID     string
	Username   string
	Action     string // create, update, delete
	EntityType string
	EntityID   string
	Method     string
	Path       string
	StatusCode int
	IPAddress  string
	RequestID  string
	Timestamp  time.Time
}

// ActionRecorder persists action log entries.
type ActionRecorder interface {
	RecordAction(ctx context.Context, entry ActionEntry) error
}

// ActionRecorderFunc is a function adapter for ActionRecorder.
type ActionRecorderFunc func(ctx context.Context, entry ActionEntry) error

func (f ActionRecorderFunc) RecordAction(ctx context.Context, entry ActionEntry) error {
	return f(ctx, entry)
}

// Audit records every successful mutating request under prefix. Reads and
// failed requests are not recorded. A recorder failure is logged and never
// changes the response.
func Audit(logger zerolog.Logger, prefix string, recorder ActionRecorder) echo.MiddlewareFunc {
	prefix = strings.TrimSuffix(prefix, "/") + "/"

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			action := methodToAction(req.Method)
			if action == "" || !strings.HasPrefix(req.URL.Path, prefix) {
				return next(c)
			}

			err := next(c)
			status := c.Response().Status
			if err != nil || status >= http.StatusBadRequest {
				return err
			}

			entityType, entityID := splitEntityPath(strings.TrimPrefix(req.URL.Path, prefix))
			entry := ActionEntry{
				Action:     action,
				EntityType: entityType,
				EntityID:   entityID,
				Method:     req.Method,
				Path:       req.URL.Path,
				StatusCode: status,
				IPAddress:  c.RealIP(),
				Timestamp:  time.Now().UTC(),
			}
			if p, ok := auth.PrincipalFromContext(req.Context()); ok {
				entry.UserID = p.UserID
				entry.Username = p.Username
			}
			if rid, ok := c.Get("request_id").(string); ok {
				entry.RequestID = rid
			}

			// The request context may already be cancelled by the client.
			ctx := context.WithoutCancel(req.Context())
			if recErr := recorder.RecordAction(ctx, entry); recErr != nil {
				logger.Error().Err(recErr).
					Str("request_id", entry.RequestID).
					Str("path", entry.Path).
					Msg("failed to record action")
			}
			return nil
		}
	}
}

func methodToAction(method string) string {
	switch method {
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	default:
		return ""
	}
}

// splitEntityPath turns "samples/<uuid>/status" into ("samples", "<uuid>").
// The id is only reported when the second segment is a UUID.
func splitEntityPath(rest string) (entityType, entityID string) {
	segments := strings.Split(strings.Trim(rest, "/"), "/")
	if len(segments) == 0 || segments[0] == "" {
		return "unknown", ""
	}
	entityType = segments[0]
	if len(segments) > 1 {
		if _, err := uuid.Parse(segments[1]); err == nil {
			entityID = segments[1]
		}
	}
	return entityType, entityID
}
