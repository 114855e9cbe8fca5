package dropdir

import (
	"encoding/json"
	"errors"
	"os"
	"time"

	"github.com/fieldgrid/fieldgrid/agent/internal/shipper"
	"github.com/fieldgrid/fieldgrid/pkg/types"
)

// report is written next to a failed export as <name>.error.json.
type report struct {
	File           string             `json:"file"`
	Error          string             `json:"error"`
	StatusCode     int                `json:"statusCode,omitempty"`
	Message        string             `json:"message,omitempty"`
	Fields         []types.FieldError `json:"fields,omitempty"`
	IdempotencyKey string             `json:"idempotencyKey,omitempty"`
	Batch          int                `json:"batch"`
	Delivered      int                `json:"delivered"`
	FailedAt       time.Time          `json:"failedAt"`
}

// rejection reports whether err is a permanent server refusal.
func rejection(err error) (report, bool) {
	var rej *shipper.RejectedError
	if !errors.As(err, &rej) || rej.StatusCode == 0 {
		return report{}, false
	}
	if rej.StatusCode >= 500 || rej.StatusCode == 408 || rej.StatusCode == 429 {
		return report{}, false
	}
	return report{
		Error:      err.Error(),
		StatusCode: rej.StatusCode,
		Message:    rej.Message,
		Fields:     rej.Fields,
	}, true
}

func writeReport(path string, rep report) error {
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}
