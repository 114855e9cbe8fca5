package analytics

import (
	"context"
	"fmt"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fieldgrid/fieldgrid/pkg/types"
	"github.com/fieldgrid/fieldgrid/server/internal/index"
	"github.com/fieldgrid/fieldgrid/server/internal/store"
)

// Features returns one page of each feature kind. page is 1-based; a zero
// pageSize selects the default and sizes above the maximum are capped.
func (e *Engine) Features(ctx context.Context, q store.Query, page, pageSize int) (types.FeaturePage, error) {
	defer e.observe("features", time.Now())

	lim := e.Limits()
	if page < 1 {
		return types.FeaturePage{}, types.Invalid("page", "must be at least 1")
	}
	switch {
	case pageSize < 0:
		return types.FeaturePage{}, types.Invalid("pageSize", "must not be negative")
	case pageSize == 0:
		pageSize = lim.DefaultPageSize
	case pageSize > lim.MaxPageSize:
		pageSize = lim.MaxPageSize
	}
	if page-1 > math.MaxInt/pageSize {
		return types.FeaturePage{}, types.Invalid("page", fmt.Sprintf("must be at most %d", math.MaxInt/pageSize+1))
	}
	q = q.Unwindowed()
	w := q
	w.Offset, w.Limit = (page-1)*pageSize, pageSize
	if err := index.Validate(w); err != nil {
		return types.FeaturePage{}, err
	}
	if err := e.prepare(ctx, q); err != nil {
		return types.FeaturePage{}, err
	}

	out := types.FeaturePage{
		Page:           page,
		PageSize:       pageSize,
		Tests:          []types.TestResult{},
		Observations:   []types.Observation{},
		SensorReadings: []types.SensorReading{},
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rs, err := index.Collect(e.idx.Tests(gctx, w))
		if rs != nil {
			out.Tests = rs
		}
		return err
	})
	g.Go(func() error {
		obs, err := index.Collect(e.idx.Observations(gctx, w))
		if obs != nil {
			out.Observations = obs
		}
		return err
	})
	g.Go(func() error {
		rs, err := index.Collect(e.idx.SensorReadings(gctx, w))
		if rs != nil {
			out.SensorReadings = rs
		}
		return err
	})
	g.Go(func() (err error) {
		out.TotalTests, err = e.idx.Count(gctx, store.KindTest, q)
		return err
	})
	g.Go(func() (err error) {
		out.TotalObservations, err = e.idx.Count(gctx, store.KindObservation, q)
		return err
	})
	g.Go(func() (err error) {
		out.TotalSensors, err = e.idx.Count(gctx, store.KindSensorReading, q)
		return err
	})
	if err := g.Wait(); err != nil {
		return types.FeaturePage{}, err
	}
	return out, nil
}
