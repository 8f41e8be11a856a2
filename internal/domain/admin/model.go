package admin

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Setting is one laboratory configuration entry. Value is arbitrary JSON.
type Setting struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	UpdatedBy *uuid.UUID      `json:"updatedBy,omitempty"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// ActionLog is a persisted record of a successful mutating request.
type ActionLog struct {
	ID         uuid.UUID  `json:"id"`
	UserID     *uuid.UUID `json:"userId,omitempty"`
	Username   *string    `json:"username,omitempty"`
	Action     string     `json:"action"`
	EntityType string     `json:"entityType"`
	EntityID   *uuid.UUID `json:"entityId,omitempty"`
	Method     string     `json:"method"`
	Path       string     `json:"path"`
	StatusCode int        `json:"statusCode"`
	IPAddress  *string    `json:"ipAddress,omitempty"`
	RequestID  *string    `json:"requestId,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
}

type ActionLogFilter struct {
	UserID     *uuid.UUID
	EntityType string
	Action     string
	Limit      int
	Offset     int
}
