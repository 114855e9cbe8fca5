package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fieldgrid/fieldgrid/pkg/types"
	"github.com/fieldgrid/fieldgrid/server/internal/geo"
)

// Precision is the timestamp resolution every backend preserves. Callers
// truncate to it before writing so scans agree across backends.
const Precision = time.Millisecond

// Kind selects one of the feature record kinds.
type Kind int

const (
	KindTest Kind = iota
	KindObservation
	KindSensorReading
)

// Kinds lists every feature kind.
var Kinds = []Kind{KindTest, KindObservation, KindSensorReading}

func (k Kind) String() string {
	switch k {
	case KindTest:
		return "tests"
	case KindObservation:
		return "observations"
	case KindSensorReading:
		return "sensors"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind accepts the names returned by Kind.String.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "tests", "test":
		return KindTest, nil
	case "observations", "observation":
		return KindObservation, nil
	case "sensors", "sensor", "sensorreadings":
		return KindSensorReading, nil
	}
	return 0, fmt.Errorf("unknown feature kind %q", s)
}

// Query is a conjunctive filter over one project's features. Zero-valued
// fields do not filter. The time range is half-open: [From, To).
// Statuses and TestTypeID apply to test results only.
type Query struct {
	ProjectID  string
	BBox       *geo.BBox
	From       time.Time
	To         time.Time
	TestTypeID string
	Statuses   []types.Status

	// Offset and Limit window the ordered scan. Limit 0 means no limit.
	Offset int
	Limit  int
}

// MatchTime reports whether ts falls inside the query's time range.
func (q Query) MatchTime(ts time.Time) bool {
	if !q.From.IsZero() && ts.Before(q.From) {
		return false
	}
	if !q.To.IsZero() && !ts.Before(q.To) {
		return false
	}
	return true
}

// MatchPoint reports whether p falls inside the query's box.
func (q Query) MatchPoint(p geo.Point) bool {
	return q.BBox == nil || q.BBox.Contains(p)
}

// MatchTest applies every filter to r.
func (q Query) MatchTest(r *types.TestResult) bool {
	if q.TestTypeID != "" && r.TestTypeID != q.TestTypeID {
		return false
	}
	if len(q.Statuses) > 0 && !containsStatus(q.Statuses, r.Status) {
		return false
	}
	return q.MatchTime(r.Timestamp) && q.MatchPoint(geo.Point{Lon: r.Longitude, Lat: r.Latitude})
}

// Unwindowed returns q without Offset and Limit.
func (q Query) Unwindowed() Query {
	q.Offset, q.Limit = 0, 0
	return q
}

func containsStatus(ss []types.Status, s types.Status) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

// Catalog resolves the reference data batches are validated against.
// Missing entries return an error matching types.ErrNotFound.
type Catalog interface {
	Project(ctx context.Context, id string) (types.Project, error)
	TestType(ctx context.Context, id string) (types.TestType, error)
}

// Reader streams features matching a Query, ordered by timestamp then ID.
// Scans stop at the first error returned by fn and return it.
type Reader interface {
	ScanTests(ctx context.Context, q Query, fn func(types.TestResult) error) error
	ScanObservations(ctx context.Context, q Query, fn func(types.Observation) error) error
	ScanSensorReadings(ctx context.Context, q Query, fn func(types.SensorReading) error) error
	// Count ignores Offset and Limit.
	Count(ctx context.Context, kind Kind, q Query) (int, error)
}

// Outcomes is the idempotency record surface.
type Outcomes interface {
	// LookupOutcome returns types.ErrNotFound when no batch was committed
	// under (projectID, key).
	LookupOutcome(ctx context.Context, projectID, key string) (types.BatchOutcome, error)
	// CommitBatch persists results and outcome atomically. If the key is
	// already recorded nothing is written and types.ErrIdempotencyConflict
	// is returned.
	CommitBatch(ctx context.Context, outcome types.BatchOutcome, results []types.TestResult) error
	// PurgeOutcomes deletes records committed before cutoff.
	PurgeOutcomes(ctx context.Context, cutoff time.Time) (int, error)
}

// Records is the write surface used by project and test-type management.
type Records interface {
	PutProject(ctx context.Context, p types.Project) error
	PutTestType(ctx context.Context, tt types.TestType) error
	// DeleteProject refuses with types.ErrProjectHasChildren while any
	// measurement references the project.
	DeleteProject(ctx context.Context, id string) error
	AddObservations(ctx context.Context, obs []types.Observation) error
	AddSensorReadings(ctx context.Context, rs []types.SensorReading) error
}

// Store is implemented by every backend.
type Store interface {
	Catalog
	Reader
	Outcomes
	Records
	Close() error
}
