package dto

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type IngestRequest struct {
	EventType string          `json:"event_type" binding:"required"`
	Repo      string          `json:"repo" binding:"required"`
	Event     json.RawMessage `json:"event" binding:"required"`
}

type IngestResponse struct {
	WorkflowID uuid.UUID `json:"workflow_id"`
	Status     string    `json:"status"`
}

type FailRequest struct {
	ErrorMessage string `json:"error_message" binding:"required"`
}

type WorkflowResponse struct {
	WorkflowID   uuid.UUID `json:"workflow_id"`
	Status       string    `json:"status"`
	RetryCount   int       `json:"retry_count"`
	ErrorMessage string    `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
