package analytics

import (
	"cmp"
	"context"
	"slices"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/fieldgrid/fieldgrid/pkg/types"
	"github.com/fieldgrid/fieldgrid/server/internal/store"
)

type trendKey struct {
	start      int64 // unix seconds of the bucket start
	testTypeID string
}

type sample struct {
	key   trendKey
	value float64
}

// TrendSeries groups matching test results by bucket and test type and
// reports avg/min/max/median/count for each group that has data. Median
// is the lower median for even counts. A nil loc means UTC.
func (e *Engine) TrendSeries(ctx context.Context, q store.Query, bucket Bucket, loc *time.Location) (types.TrendSeries, error) {
	defer e.observe("trends", time.Now())

	bucket, err := ParseBucket(string(bucket))
	if err != nil {
		return types.TrendSeries{}, types.Invalid("bucket", err.Error())
	}
	if loc == nil {
		loc = time.UTC
	}
	q = q.Unwindowed()
	if err := e.prepare(ctx, q); err != nil {
		return types.TrendSeries{}, err
	}

	produce := func(ctx context.Context, emit func(sample) error) error {
		for r, err := range e.idx.Tests(ctx, q) {
			if err != nil {
				return err
			}
			k := trendKey{start: bucket.Floor(r.Timestamp, loc).Unix(), testTypeID: r.TestTypeID}
			if err := emit(sample{key: k, value: r.Value}); err != nil {
				return err
			}
		}
		return nil
	}
	parts, err := fanOut(ctx, e.workers, produce,
		func() map[trendKey][]float64 { return make(map[trendKey][]float64) },
		func(m map[trendKey][]float64, s sample) { m[s.key] = append(m[s.key], s.value) })
	if err != nil {
		return types.TrendSeries{}, err
	}

	merged := make(map[trendKey][]float64)
	for _, m := range parts {
		for k, vs := range m {
			merged[k] = append(merged[k], vs...)
		}
	}

	names := make(map[string]string)
	out := types.TrendSeries{Bucket: string(bucket), Points: make([]types.TrendPoint, 0, len(merged))}
	for k, vs := range merged {
		// Sorted so the mean does not depend on partitioning.
		slices.Sort(vs)
		name, ok := names[k.testTypeID]
		if !ok {
			name = k.testTypeID
			if tt, err := e.catalog.TestType(ctx, k.testTypeID); err == nil && tt.Name != "" {
				name = tt.Name
			}
			names[k.testTypeID] = name
		}
		start := time.Unix(k.start, 0).In(loc)
		out.Points = append(out.Points, types.TrendPoint{
			Period:     bucket.Label(start),
			Start:      start,
			TestTypeID: k.testTypeID,
			TestType:   name,
			Avg:        stat.Mean(vs, nil),
			Min:        vs[0],
			Max:        vs[len(vs)-1],
			Median:     stat.Quantile(0.5, stat.Empirical, vs, nil),
			Count:      len(vs),
		})
	}
	slices.SortFunc(out.Points, func(a, b types.TrendPoint) int {
		if c := a.Start.Compare(b.Start); c != 0 {
			return c
		}
		if c := cmp.Compare(a.TestType, b.TestType); c != 0 {
			return c
		}
		return cmp.Compare(a.TestTypeID, b.TestTypeID)
	})
	return out, nil
}
