package analytics

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/fieldgrid/fieldgrid/server/internal/index"
	"github.com/fieldgrid/fieldgrid/server/internal/store"
)

// Limits bound the work a single query may request.
type Limits struct {
	DefaultPageSize int
	MaxPageSize     int
	MaxGridCells    int
	MaxOutOfSpec    int
	DefaultCellSize float64
}

// DefaultLimits mirrors the server configuration defaults.
var DefaultLimits = Limits{
	DefaultPageSize: 100,
	MaxPageSize:     500,
	MaxGridCells:    250_000,
	MaxOutOfSpec:    10_000,
	DefaultCellSize: 0.01,
}

// Recorder receives per-view query latencies.
type Recorder interface {
	ObserveQuery(view string, d time.Duration)
}

// Engine answers analytics queries. It holds no per-query state and is
// safe for concurrent use.
type Engine struct {
	idx      *index.Index
	catalog  store.Catalog
	limits   atomic.Pointer[Limits]
	workers  int
	recorder Recorder
}

// Option configures an Engine.
type Option func(*Engine)

// WithWorkers sets the binning pool size. Values below 1 are ignored.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithRecorder reports query latencies to r.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// New returns an Engine reading through idx and resolving projects and
// test-type names through catalog.
func New(idx *index.Index, catalog store.Catalog, limits Limits, opts ...Option) *Engine {
	e := &Engine{idx: idx, catalog: catalog, workers: runtime.GOMAXPROCS(0)}
	e.SetLimits(limits)
	for _, o := range opts {
		o(e)
	}
	return e
}

// SetLimits swaps the limits used by subsequent queries.
func (e *Engine) SetLimits(l Limits) {
	if l.DefaultPageSize <= 0 {
		l.DefaultPageSize = DefaultLimits.DefaultPageSize
	}
	if l.MaxPageSize <= 0 {
		l.MaxPageSize = DefaultLimits.MaxPageSize
	}
	if l.MaxGridCells <= 0 {
		l.MaxGridCells = DefaultLimits.MaxGridCells
	}
	if l.MaxOutOfSpec <= 0 {
		l.MaxOutOfSpec = DefaultLimits.MaxOutOfSpec
	}
	if l.DefaultCellSize <= 0 {
		l.DefaultCellSize = DefaultLimits.DefaultCellSize
	}
	e.limits.Store(&l)
}

// Limits returns the limits currently in force.
func (e *Engine) Limits() Limits { return *e.limits.Load() }

// prepare validates q and confirms the project exists.
func (e *Engine) prepare(ctx context.Context, q store.Query) error {
	if err := index.Validate(q); err != nil {
		return err
	}
	_, err := e.catalog.Project(ctx, q.ProjectID)
	return err
}

func (e *Engine) observe(view string, start time.Time) {
	if e.recorder != nil {
		e.recorder.ObserveQuery(view, time.Since(start))
	}
}
