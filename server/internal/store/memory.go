package store

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/fieldgrid/fieldgrid/pkg/types"
	"github.com/fieldgrid/fieldgrid/server/internal/geo"
)

// indexCellSize is the grid cell size, in degrees, of the in-memory index.
const indexCellSize = 1.0

// Memory is a thread-safe in-memory Store. Records are immutable once
// committed, so scans copy out matching pointers under a read lock and
// invoke callbacks after releasing it.
type Memory struct {
	mu        sync.RWMutex
	projects  map[string]types.Project
	testTypes map[string]types.TestType
	shards    map[string]*shard
	now       func() time.Time // injectable for deterministic tests
}

// shard holds one project's measurements and idempotency records.
type shard struct {
	mu       sync.RWMutex
	tests    *geo.Grid[*types.TestResult]
	obs      *geo.Grid[*types.Observation]
	sensors  *geo.Grid[*types.SensorReading]
	outcomes map[string]types.BatchOutcome
	deleted  bool // set by DeleteProject; writers must not touch a deleted shard
}

func newShard() *shard {
	return &shard{
		tests:    geo.NewGrid[*types.TestResult](indexCellSize),
		obs:      geo.NewGrid[*types.Observation](indexCellSize),
		sensors:  geo.NewGrid[*types.SensorReading](indexCellSize),
		outcomes: make(map[string]types.BatchOutcome),
	}
}

func (s *shard) empty() bool {
	return s.tests.Len() == 0 && s.obs.Len() == 0 && s.sensors.Len() == 0
}

// NewMemory creates an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		projects:  make(map[string]types.Project),
		testTypes: make(map[string]types.TestType),
		shards:    make(map[string]*shard),
		now:       time.Now,
	}
}

func (m *Memory) shard(projectID string) (*shard, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sh, ok := m.shards[projectID]
	if !ok {
		return nil, fmt.Errorf("project %q: %w", projectID, types.ErrNotFound)
	}
	return sh, nil
}

// lockShard returns the project's shard write-locked. A shard deleted
// between the lookup and the lock counts as missing.
func (m *Memory) lockShard(projectID string) (*shard, error) {
	sh, err := m.shard(projectID)
	if err != nil {
		return nil, err
	}
	sh.mu.Lock()
	if sh.deleted {
		sh.mu.Unlock()
		return nil, fmt.Errorf("project %q: %w", projectID, types.ErrNotFound)
	}
	return sh, nil
}

func (m *Memory) Project(_ context.Context, id string) (types.Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.projects[id]
	if !ok {
		return types.Project{}, fmt.Errorf("project %q: %w", id, types.ErrNotFound)
	}
	return p, nil
}

func (m *Memory) TestType(_ context.Context, id string) (types.TestType, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tt, ok := m.testTypes[id]
	if !ok {
		return types.TestType{}, fmt.Errorf("test type %q: %w", id, types.ErrNotFound)
	}
	return tt, nil
}

func (m *Memory) PutProject(_ context.Context, p types.Project) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = m.now().UTC()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.projects[p.ID] = p
	if _, ok := m.shards[p.ID]; !ok {
		m.shards[p.ID] = newShard()
	}
	return nil
}

func (m *Memory) PutTestType(_ context.Context, tt types.TestType) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.testTypes[tt.ID] = tt
	return nil
}

func (m *Memory) DeleteProject(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sh, ok := m.shards[id]
	if !ok {
		return fmt.Errorf("project %q: %w", id, types.ErrNotFound)
	}
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if !sh.empty() {
		return fmt.Errorf("project %q: %w", id, types.ErrProjectHasChildren)
	}
	sh.deleted = true
	delete(m.shards, id)
	delete(m.projects, id)
	return nil
}

func (m *Memory) AddObservations(_ context.Context, obs []types.Observation) error {
	for _, o := range obs {
		sh, err := m.lockShard(o.ProjectID)
		if err != nil {
			return err
		}
		o := o
		o.Timestamp = o.Timestamp.Truncate(Precision)
		sh.obs.Insert(geo.Point{Lon: o.Longitude, Lat: o.Latitude}, &o)
		sh.mu.Unlock()
	}
	return nil
}

func (m *Memory) AddSensorReadings(_ context.Context, rs []types.SensorReading) error {
	for _, r := range rs {
		sh, err := m.lockShard(r.ProjectID)
		if err != nil {
			return err
		}
		r := r
		r.Timestamp = r.Timestamp.Truncate(Precision)
		sh.sensors.Insert(geo.Point{Lon: r.Longitude, Lat: r.Latitude}, &r)
		sh.mu.Unlock()
	}
	return nil
}

func (m *Memory) LookupOutcome(_ context.Context, projectID, key string) (types.BatchOutcome, error) {
	sh, err := m.shard(projectID)
	if err != nil {
		return types.BatchOutcome{}, err
	}
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	o, ok := sh.outcomes[key]
	if !ok {
		return types.BatchOutcome{}, fmt.Errorf("batch %q: %w", key, types.ErrNotFound)
	}
	o.Created = slices.Clone(o.Created)
	return o, nil
}

// CommitBatch checks and records the key under the project's shard lock,
// so concurrent commits of the same key admit exactly one winner.
func (m *Memory) CommitBatch(_ context.Context, outcome types.BatchOutcome, results []types.TestResult) error {
	sh, err := m.lockShard(outcome.ProjectID)
	if err != nil {
		return err
	}
	defer sh.mu.Unlock()
	if _, ok := sh.outcomes[outcome.IdempotencyKey]; ok {
		return types.ErrIdempotencyConflict
	}
	for i := range results {
		r := results[i]
		if r.ProjectID != outcome.ProjectID {
			return fmt.Errorf("result %d belongs to project %q: %w", i, r.ProjectID, types.ErrValidation)
		}
	}
	for i := range results {
		r := results[i]
		r.Timestamp = r.Timestamp.Truncate(Precision)
		sh.tests.Insert(geo.Point{Lon: r.Longitude, Lat: r.Latitude}, &r)
	}
	outcome.Created = slices.Clone(outcome.Created)
	sh.outcomes[outcome.IdempotencyKey] = outcome
	return nil
}

// PurgeOutcomes removes idempotency records committed before cutoff.
// It returns the number of records removed.
func (m *Memory) PurgeOutcomes(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.RLock()
	shards := make([]*shard, 0, len(m.shards))
	for _, sh := range m.shards {
		shards = append(shards, sh)
	}
	m.mu.RUnlock()

	removed := 0
	for _, sh := range shards {
		sh.mu.Lock()
		for k, o := range sh.outcomes {
			if o.CommittedAt.Before(cutoff) {
				delete(sh.outcomes, k)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed, nil
}

func (m *Memory) ScanTests(ctx context.Context, q Query, fn func(types.TestResult) error) error {
	sh, err := m.shard(q.ProjectID)
	if err != nil {
		return err
	}
	sh.mu.RLock()
	matched := collect(sh.tests, q, q.MatchTest)
	sh.mu.RUnlock()
	return emit(ctx, q, matched, func(r *types.TestResult) (time.Time, string) { return r.Timestamp, r.ID }, fn)
}

func (m *Memory) ScanObservations(ctx context.Context, q Query, fn func(types.Observation) error) error {
	sh, err := m.shard(q.ProjectID)
	if err != nil {
		return err
	}
	sh.mu.RLock()
	matched := collect(sh.obs, q, func(o *types.Observation) bool { return q.MatchTime(o.Timestamp) })
	sh.mu.RUnlock()
	return emit(ctx, q, matched, func(o *types.Observation) (time.Time, string) { return o.Timestamp, o.ID }, fn)
}

func (m *Memory) ScanSensorReadings(ctx context.Context, q Query, fn func(types.SensorReading) error) error {
	sh, err := m.shard(q.ProjectID)
	if err != nil {
		return err
	}
	sh.mu.RLock()
	matched := collect(sh.sensors, q, func(r *types.SensorReading) bool { return q.MatchTime(r.Timestamp) })
	sh.mu.RUnlock()
	return emit(ctx, q, matched, func(r *types.SensorReading) (time.Time, string) { return r.Timestamp, r.ID }, fn)
}

func (m *Memory) Count(ctx context.Context, kind Kind, q Query) (int, error) {
	q = q.Unwindowed()
	n := 0
	count := func(any) error { n++; return nil }
	var err error
	switch kind {
	case KindTest:
		err = m.ScanTests(ctx, q, func(r types.TestResult) error { return count(r) })
	case KindObservation:
		err = m.ScanObservations(ctx, q, func(o types.Observation) error { return count(o) })
	case KindSensorReading:
		err = m.ScanSensorReadings(ctx, q, func(r types.SensorReading) error { return count(r) })
	default:
		err = fmt.Errorf("count %s: %w", kind, types.ErrValidation)
	}
	return n, err
}

func (m *Memory) Close() error { return nil }

// collect gathers the grid entries that pass the box and match.
func collect[T any](g *geo.Grid[*T], q Query, match func(*T) bool) []*T {
	var out []*T
	visit := func(_ geo.Point, v *T) bool {
		if match(v) {
			out = append(out, v)
		}
		return true
	}
	if q.BBox != nil {
		g.Search(*q.BBox, visit)
	} else {
		g.All(visit)
	}
	return out
}

// emit orders matches by (timestamp, id), applies the window and calls fn.
func emit[T any](ctx context.Context, q Query, items []*T, key func(*T) (time.Time, string), fn func(T) error) error {
	slices.SortFunc(items, func(a, b *T) int {
		ta, ia := key(a)
		tb, ib := key(b)
		if c := ta.Compare(tb); c != 0 {
			return c
		}
		return cmp.Compare(ia, ib)
	})
	if q.Offset > 0 {
		if q.Offset >= len(items) {
			return nil
		}
		items = items[q.Offset:]
	}
	if q.Limit > 0 && len(items) > q.Limit {
		items = items[:q.Limit]
	}
	for i, it := range items {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if err := fn(*it); err != nil {
			return err
		}
	}
	return nil
}
