package types

import "time"

// MaxIdempotencyKeyLen bounds the client-chosen batch key.
const MaxIdempotencyKeyLen = 100

// BatchRequest is the body of a bulk test-result submission.
type BatchRequest struct {
	IdempotencyKey string      `json:"idempotencyKey" validate:"required,max=100"`
	Items          []BatchItem `json:"items" validate:"required,min=1,dive"`
}

// BatchItem is one submitted measurement. Value is a pointer so that an
// explicit null can be told apart from zero.
type BatchItem struct {
	TestTypeID string    `json:"testTypeId" validate:"required"`
	Timestamp  time.Time `json:"timestamp" validate:"required"`
	Value      *float64  `json:"value" validate:"required"`
	Longitude  float64   `json:"longitude" validate:"longitude"`
	Latitude   float64   `json:"latitude" validate:"latitude"`
	Status     string    `json:"status,omitempty"`
	Source     string    `json:"source,omitempty"`
	Technician string    `json:"technician,omitempty"`
}

// BatchResponse is returned for both fresh and replayed submissions.
type BatchResponse struct {
	Created            []string     `json:"created"`
	SkippedAsDuplicate bool         `json:"skippedAsDuplicate"`
	Counts             StatusCounts `json:"counts"`
}

// BatchOutcome is the idempotency record persisted with a committed batch.
// Replays are answered from it verbatim.
type BatchOutcome struct {
	ProjectID      string       `json:"projectId"`
	IdempotencyKey string       `json:"idempotencyKey"`
	Created        []string     `json:"created"`
	Counts         StatusCounts `json:"counts"`
	Fingerprint    string       `json:"fingerprint,omitempty"`
	Actor          string       `json:"actor,omitempty"`
	CommittedAt    time.Time    `json:"committedAt"`
}

// Response converts the outcome into the wire response.
func (o BatchOutcome) Response(duplicate bool) BatchResponse {
	created := o.Created
	if created == nil {
		created = []string{}
	}
	return BatchResponse{Created: created, SkippedAsDuplicate: duplicate, Counts: o.Counts}
}
