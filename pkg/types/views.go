package types

import "time"

// FeaturePage is one page of the map feature listing. Page and PageSize
// apply independently to each feature kind; the totals are unpaginated.
type FeaturePage struct {
	Page              int             `json:"page"`
	PageSize          int             `json:"pageSize"`
	Tests             []TestResult    `json:"tests"`
	Observations      []Observation   `json:"observations"`
	SensorReadings    []SensorReading `json:"sensorReadings"`
	TotalTests        int             `json:"totalTests"`
	TotalObservations int             `json:"totalObservations"`
	TotalSensors      int             `json:"totalSensors"`
}

// OutOfSpecItem is a Warn or Fail result with the bound it crossed or
// approached.
type OutOfSpecItem struct {
	TestResult
	Severity      int     `json:"severity"`
	ViolatedBound string  `json:"violatedBound"`
	Threshold     float64 `json:"threshold"`
}

// OutOfSpecList is ordered by severity then timestamp, both descending.
type OutOfSpecList struct {
	Items     []OutOfSpecItem `json:"items"`
	Total     int             `json:"total"`
	Truncated bool            `json:"truncated"`
}

// CoverageCell is one non-empty grid cell.
type CoverageCell struct {
	MinLon float64 `json:"minLon"`
	MinLat float64 `json:"minLat"`
	MaxLon float64 `json:"maxLon"`
	MaxLat float64 `json:"maxLat"`
	Count  int     `json:"count"`
}

// CoverageGrid is the binned point density for a query.
type CoverageGrid struct {
	CellSize float64        `json:"cellSize"`
	Cells    []CoverageCell `json:"cells"`
	Total    int            `json:"total"`
}

// TrendPoint summarises one test type within one time bucket.
type TrendPoint struct {
	Period     string    `json:"period"`
	Start      time.Time `json:"start"`
	TestTypeID string    `json:"testTypeId"`
	TestType   string    `json:"testType"`
	Avg        float64   `json:"avg"`
	Min        float64   `json:"min"`
	Max        float64   `json:"max"`
	Median     float64   `json:"median"`
	Count      int       `json:"count"`
}

// TrendSeries is ordered by bucket start, then test type name.
type TrendSeries struct {
	Bucket string       `json:"bucket"`
	Points []TrendPoint `json:"points"`
}
