package index

import (
	"context"
	"errors"
	"iter"

	"github.com/fieldgrid/fieldgrid/pkg/types"
	"github.com/fieldgrid/fieldgrid/server/internal/store"
)

// errStop unwinds a scan when the consumer stops ranging.
var errStop = errors.New("index: stop")

// Index answers conjunctive bbox/time/test-type queries over a Reader.
type Index struct {
	r store.Reader
}

// New wraps r.
func New(r store.Reader) *Index {
	return &Index{r: r}
}

// Validate checks q before it reaches the store.
func Validate(q store.Query) error {
	ve := &types.ValidationError{}
	if q.ProjectID == "" {
		ve.Add("projectId", "required")
	}
	if q.BBox != nil {
		if err := q.BBox.Validate(); err != nil {
			ve.Add("bbox", err.Error())
		}
	}
	if !q.From.IsZero() && !q.To.IsZero() && !q.From.Before(q.To) {
		ve.Add("to", "must be after from")
	}
	if q.Offset < 0 {
		ve.Add("offset", "must not be negative")
	}
	if q.Limit < 0 {
		ve.Add("limit", "must not be negative")
	}
	return ve.Err()
}

// Tests yields matching test results ordered by timestamp then ID.
func (x *Index) Tests(ctx context.Context, q store.Query) iter.Seq2[types.TestResult, error] {
	return seq(func(fn func(types.TestResult) error) error { return x.r.ScanTests(ctx, q, fn) })
}

// Observations yields matching observations ordered by timestamp then ID.
func (x *Index) Observations(ctx context.Context, q store.Query) iter.Seq2[types.Observation, error] {
	return seq(func(fn func(types.Observation) error) error { return x.r.ScanObservations(ctx, q, fn) })
}

// SensorReadings yields matching readings ordered by timestamp then ID.
func (x *Index) SensorReadings(ctx context.Context, q store.Query) iter.Seq2[types.SensorReading, error] {
	return seq(func(fn func(types.SensorReading) error) error { return x.r.ScanSensorReadings(ctx, q, fn) })
}

// Count returns the unwindowed number of matches of the given kind.
func (x *Index) Count(ctx context.Context, kind store.Kind, q store.Query) (int, error) {
	return x.r.Count(ctx, kind, q.Unwindowed())
}

// Points yields the location of every match of the given kind.
func (x *Index) Points(ctx context.Context, kind store.Kind, q store.Query) iter.Seq2[Point, error] {
	return func(yield func(Point, error) bool) {
		switch kind {
		case store.KindTest:
			for r, err := range x.Tests(ctx, q) {
				if !yield(Point{Lon: r.Longitude, Lat: r.Latitude}, err) || err != nil {
					return
				}
			}
		case store.KindObservation:
			for o, err := range x.Observations(ctx, q) {
				if !yield(Point{Lon: o.Longitude, Lat: o.Latitude}, err) || err != nil {
					return
				}
			}
		case store.KindSensorReading:
			for r, err := range x.SensorReadings(ctx, q) {
				if !yield(Point{Lon: r.Longitude, Lat: r.Latitude}, err) || err != nil {
					return
				}
			}
		default:
			yield(Point{}, types.Invalid("include", "unknown feature kind"))
		}
	}
}

// Point is a bare feature location.
type Point struct {
	Lon, Lat float64
}

// Collect drains a sequence into a slice, stopping at the first error.
func Collect[T any](s iter.Seq2[T, error]) ([]T, error) {
	var out []T
	for v, err := range s {
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func seq[T any](scan func(func(T) error) error) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		err := scan(func(v T) error {
			if !yield(v, nil) {
				return errStop
			}
			return nil
		})
		if err != nil && !errors.Is(err, errStop) {
			var zero T
			yield(zero, err)
		}
	}
}
