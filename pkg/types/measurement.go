package types

import "time"

// Project scopes every measurement record.
type Project struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// TestType carries the inclusive thresholds results are classified against.
// A nil threshold leaves that side unbounded. WarnMargin, when set, replaces
// the server-wide warn margin for results of this type.
type TestType struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Unit         string            `json:"unit,omitempty"`
	MinThreshold *float64          `json:"minThreshold,omitempty"`
	MaxThreshold *float64          `json:"maxThreshold,omitempty"`
	WarnMargin   *float64          `json:"warnMargin,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// TestResult is a single classified measurement. MinThreshold and
// MaxThreshold snapshot the bounds in force when Status was computed.
// ClientStatus is the submitter's own verdict, kept for audit only.
type TestResult struct {
	ID           string    `json:"id"`
	ProjectID    string    `json:"projectId"`
	TestTypeID   string    `json:"testTypeId"`
	Timestamp    time.Time `json:"timestamp"`
	Value        float64   `json:"value"`
	Status       Status    `json:"status"`
	MinThreshold *float64  `json:"minThreshold,omitempty"`
	MaxThreshold *float64  `json:"maxThreshold,omitempty"`
	Longitude    float64   `json:"longitude"`
	Latitude     float64   `json:"latitude"`
	Source       string    `json:"source,omitempty"`
	Technician   string    `json:"technician,omitempty"`
	ClientStatus string    `json:"clientStatus,omitempty"`
	BatchKey     string    `json:"batchKey,omitempty"`
	CreatedBy    string    `json:"createdBy,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Observation is a free-form geolocated field note.
type Observation struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"projectId"`
	Timestamp time.Time `json:"timestamp"`
	Longitude float64   `json:"longitude"`
	Latitude  float64   `json:"latitude"`
	Category  string    `json:"category,omitempty"`
	Note      string    `json:"note,omitempty"`
	Source    string    `json:"source,omitempty"`
}

// SensorReading is a value reported by a fixed or mobile sensor.
type SensorReading struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"projectId"`
	SensorID  string    `json:"sensorId"`
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
	Unit      string    `json:"unit,omitempty"`
	Longitude float64   `json:"longitude"`
	Latitude  float64   `json:"latitude"`
}

// Float returns a pointer to v, for optional thresholds and values.
func Float(v float64) *float64 { return &v }
