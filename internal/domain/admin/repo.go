package admin

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
)

type SettingsRepository interface {
	List(ctx context.Context) ([]*Setting, error)
	Get(ctx context.Context, key string) (*Setting, error)
	Upsert(ctx context.Context, key string, value json.RawMessage, updatedBy *uuid.UUID) (*Setting, error)
}

type ActionLogRepository interface {
	Create(ctx context.Context, l *ActionLog) error
	List(ctx context.Context, f ActionLogFilter) ([]*ActionLog, int, error)
}
