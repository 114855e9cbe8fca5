package api

import (
	"time"

	"github.com/fieldgrid/fieldgrid/pkg/types"
)

// HealthResponse is the payload for GET /api/v1/health.
type HealthResponse struct {
	Status string    `json:"status"` // "ok" | "unavailable"
	Time   time.Time `json:"time"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Message string             `json:"message"`
	Errors  []types.FieldError `json:"errors,omitempty"`
}
