// Package admin holds laboratory settings and the action log read API.
package admin

import (
	"context"
	"encoding/json"
	"regexp"

	"github.com/google/uuid"

	"github.com/abdobody2040/medilablis2/internal/platform/apperror"
	"github.com/abdobody2040/medilablis2/internal/platform/middleware"
)

var settingKeyPattern = regexp.MustCompile(`^[a-z][a-z0-9_.]{0,63}$`)

type Service struct {
	settings SettingsRepository
	logs     ActionLogRepository
}

func NewService(settings SettingsRepository, logs ActionLogRepository) *Service {
	return &Service{settings: settings, logs: logs}
}

func (s *Service) ListSettings(ctx context.Context) ([]*Setting, error) {
	return s.settings.List(ctx)
}

func (s *Service) GetSetting(ctx context.Context, key string) (*Setting, error) {
	if !settingKeyPattern.MatchString(key) {
		return nil, apperror.Invalid("key", "must be lowercase letters, digits, dots or underscores")
	}
	return s.settings.Get(ctx, key)
}

// PutSetting creates or replaces the value stored under key.
func (s *Service) PutSetting(ctx context.Context, key string, value json.RawMessage, actor *uuid.UUID) (*Setting, error) {
	var errs apperror.FieldErrors
	if !settingKeyPattern.MatchString(key) {
		errs.Add("key", "must be lowercase letters, digits, dots or underscores")
	}
	if len(value) == 0 || !json.Valid(value) {
		errs.Add("value", "must be valid JSON")
	}
	if err := errs.Err(); err != nil {
		return nil, err
	}
	return s.settings.Upsert(ctx, key, value, actor)
}

// RecordAction stores an audit entry. Principals without a UUID identity,
// such as the development principal, are kept by username only.
func (s *Service) RecordAction(ctx context.Context, e middleware.ActionEntry) error {
	l := &ActionLog{
		Action:     e.Action,
		EntityType: e.EntityType,
		Method:     e.Method,
		Path:       e.Path,
		StatusCode: e.StatusCode,
		IPAddress:  optional(e.IPAddress),
		RequestID:  optional(e.RequestID),
		Username:   optional(e.Username),
		CreatedAt:  e.Timestamp,
	}
	if id, err := uuid.Parse(e.UserID); err == nil {
		l.UserID = &id
	}
	if id, err := uuid.Parse(e.EntityID); err == nil {
		l.EntityID = &id
	}
	return s.logs.Create(ctx, l)
}

func (s *Service) ListActionLogs(ctx context.Context, f ActionLogFilter) ([]*ActionLog, int, error) {
	return s.logs.List(ctx, f)
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

var _ middleware.ActionRecorder = (*Service)(nil)
