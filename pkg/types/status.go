package types

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Status is the computed classification of a test result.
type Status int

const (
	StatusPass Status = iota
	StatusWarn
	StatusFail
)

// Statuses lists every Status in ascending severity.
var Statuses = []Status{StatusPass, StatusWarn, StatusFail}

func (s Status) String() string {
	switch s {
	case StatusPass:
		return "pass"
	case StatusWarn:
		return "warn"
	case StatusFail:
		return "fail"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Severity ranks out-of-spec results: Fail=2, Warn=1, Pass=0.
func (s Status) Severity() int {
	switch s {
	case StatusWarn:
		return 1
	case StatusFail:
		return 2
	default:
		return 0
	}
}

// Valid reports whether s is one of the declared statuses.
func (s Status) Valid() bool {
	return s >= StatusPass && s <= StatusFail
}

// ParseStatus parses a status name case-insensitively.
func ParseStatus(v string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "pass":
		return StatusPass, nil
	case "warn":
		return StatusWarn, nil
	case "fail":
		return StatusFail, nil
	}
	return 0, fmt.Errorf("unknown status %q", v)
}

func (s Status) MarshalJSON() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("marshal %s", s)
	}
	return json.Marshal(s.String())
}

func (s *Status) UnmarshalJSON(b []byte) error {
	var v string
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	p, err := ParseStatus(v)
	if err != nil {
		return err
	}
	*s = p
	return nil
}

// StatusCounts tallies results per status.
type StatusCounts struct {
	Pass int `json:"pass"`
	Warn int `json:"warn"`
	Fail int `json:"fail"`
}

// Add increments the counter for s.
func (c *StatusCounts) Add(s Status) {
	switch s {
	case StatusPass:
		c.Pass++
	case StatusWarn:
		c.Warn++
	case StatusFail:
		c.Fail++
	}
}

// Total is the sum of all counters.
func (c StatusCounts) Total() int { return c.Pass + c.Warn + c.Fail }
