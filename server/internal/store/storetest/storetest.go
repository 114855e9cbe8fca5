// Package storetest holds the behavioural suite every store backend must
// pass. Backend packages call Run from their own tests.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/fieldgrid/fieldgrid/pkg/types"
	"github.com/fieldgrid/fieldgrid/server/internal/geo"
	"github.com/fieldgrid/fieldgrid/server/internal/store"
)

// Opener returns a fresh, empty store. It is called once per subtest.
type Opener func(t *testing.T) store.Store

var base = time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)

func f(v float64) *float64 { return &v }

// Run executes the suite against open.
func Run(t *testing.T, open Opener) {
	tests := []struct {
		name string
		fn   func(*testing.T, store.Store)
	}{
		{"Catalog", testCatalog},
		{"CommitAndLookup", testCommitAndLookup},
		{"DuplicateKeyConflicts", testDuplicateKeyConflicts},
		{"ConcurrentSameKey", testConcurrentSameKey},
		{"ConcurrentDistinctKeys", testConcurrentDistinctKeys},
		{"KeysScopedPerProject", testKeysScopedPerProject},
		{"ScanFilters", testScanFilters},
		{"ScanWindow", testScanWindow},
		{"SubMillisecondBounds", testSubMillisecondBounds},
		{"OtherKinds", testOtherKinds},
		{"PurgeOutcomes", testPurgeOutcomes},
		{"DeleteProjectRestrict", testDeleteProjectRestrict},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := open(t)
			t.Cleanup(func() { _ = s.Close() })
			tc.fn(t, s)
		})
	}
}

func seed(t *testing.T, s store.Store, projects ...string) {
	t.Helper()
	ctx := context.Background()
	for _, p := range projects {
		require.NoError(t, s.PutProject(ctx, types.Project{ID: p, Name: "Project " + p, CreatedAt: base}))
	}
	require.NoError(t, s.PutTestType(ctx, types.TestType{
		ID: "ph", Name: "pH", Unit: "pH", MinThreshold: f(6.5), MaxThreshold: f(8.5),
		Metadata: map[string]string{"method": "electrode"},
	}))
	require.NoError(t, s.PutTestType(ctx, types.TestType{ID: "turbidity", Name: "Turbidity", Unit: "NTU", MaxThreshold: f(5)}))
}

func result(project, id, testType string, ts time.Time, lon, lat, value float64, st types.Status) types.TestResult {
	return types.TestResult{
		ID: id, ProjectID: project, TestTypeID: testType, Timestamp: ts, Value: value, Status: st,
		MinThreshold: f(6.5), MaxThreshold: f(8.5), Longitude: lon, Latitude: lat,
		Source: "field", Technician: "tech-1", BatchKey: "k", CreatedBy: "tester", CreatedAt: base,
	}
}

func outcome(project, key string, rs []types.TestResult) types.BatchOutcome {
	o := types.BatchOutcome{ProjectID: project, IdempotencyKey: key, Actor: "tester", Fingerprint: "fp", CommittedAt: base}
	for _, r := range rs {
		o.Created = append(o.Created, r.ID)
		o.Counts.Add(r.Status)
	}
	return o
}

func three(project, prefix string) []types.TestResult {
	return []types.TestResult{
		result(project, prefix+"-1", "ph", base, 10.1, 45.1, 7.0, types.StatusPass),
		result(project, prefix+"-2", "ph", base.Add(time.Hour), 10.2, 45.2, 8.4, types.StatusWarn),
		result(project, prefix+"-3", "ph", base.Add(2*time.Hour), 10.3, 45.3, 9.1, types.StatusFail),
	}
}

func count(t *testing.T, s store.Store, kind store.Kind, q store.Query) int {
	t.Helper()
	n, err := s.Count(context.Background(), kind, q)
	require.NoError(t, err)
	return n
}

func scanIDs(t *testing.T, s store.Store, q store.Query) []string {
	t.Helper()
	var ids []string
	require.NoError(t, s.ScanTests(context.Background(), q, func(r types.TestResult) error {
		ids = append(ids, r.ID)
		return nil
	}))
	return ids
}

func testCatalog(t *testing.T, s store.Store) {
	ctx := context.Background()
	seed(t, s, "p1")

	p, err := s.Project(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, "Project p1", p.Name)

	tt, err := s.TestType(ctx, "ph")
	require.NoError(t, err)
	want := types.TestType{ID: "ph", Name: "pH", Unit: "pH", MinThreshold: f(6.5), MaxThreshold: f(8.5),
		Metadata: map[string]string{"method": "electrode"}}
	if diff := cmp.Diff(want, tt); diff != "" {
		t.Errorf("TestType mismatch (-want +got):\n%s", diff)
	}

	tt, err = s.TestType(ctx, "turbidity")
	require.NoError(t, err)
	require.Nil(t, tt.MinThreshold)

	_, err = s.Project(ctx, "nope")
	require.ErrorIs(t, err, types.ErrNotFound)
	_, err = s.TestType(ctx, "nope")
	require.ErrorIs(t, err, types.ErrNotFound)
}

func testCommitAndLookup(t *testing.T, s store.Store) {
	ctx := context.Background()
	seed(t, s, "p1")
	rs := three("p1", "a")
	o := outcome("p1", "k1", rs)

	_, err := s.LookupOutcome(ctx, "p1", "k1")
	require.ErrorIs(t, err, types.ErrNotFound)

	require.NoError(t, s.CommitBatch(ctx, o, rs))

	got, err := s.LookupOutcome(ctx, "p1", "k1")
	require.NoError(t, err)
	if diff := cmp.Diff(o, got); diff != "" {
		t.Errorf("outcome mismatch (-want +got):\n%s", diff)
	}

	var scanned []types.TestResult
	require.NoError(t, s.ScanTests(ctx, store.Query{ProjectID: "p1"}, func(r types.TestResult) error {
		scanned = append(scanned, r)
		return nil
	}))
	if diff := cmp.Diff(rs, scanned); diff != "" {
		t.Errorf("scanned results mismatch (-want +got):\n%s", diff)
	}
}

func testDuplicateKeyConflicts(t *testing.T, s store.Store) {
	ctx := context.Background()
	seed(t, s, "p1")
	rs := three("p1", "a")
	require.NoError(t, s.CommitBatch(ctx, outcome("p1", "k1", rs), rs))

	again := three("p1", "b")
	err := s.CommitBatch(ctx, outcome("p1", "k1", again), again)
	require.ErrorIs(t, err, types.ErrIdempotencyConflict)
	require.Equal(t, 3, count(t, s, store.KindTest, store.Query{ProjectID: "p1"}))
}

func testConcurrentSameKey(t *testing.T, s store.Store) {
	ctx := context.Background()
	seed(t, s, "p1")

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rs := three("p1", fmt.Sprintf("w%d", i))
			err := s.CommitBatch(ctx, outcome("p1", "shared", rs), rs)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, types.ErrIdempotencyConflict):
				conflicts++
			default:
				t.Errorf("worker %d: unexpected error %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	require.Equal(t, 1, wins)
	require.Equal(t, workers-1, conflicts)
	require.Equal(t, 3, count(t, s, store.KindTest, store.Query{ProjectID: "p1"}))
}

func testConcurrentDistinctKeys(t *testing.T, s store.Store) {
	ctx := context.Background()
	seed(t, s, "p1")

	const workers = 6
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rs := three("p1", fmt.Sprintf("d%d", i))
			errs[i] = s.CommitBatch(ctx, outcome("p1", fmt.Sprintf("key-%d", i), rs), rs)
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		require.NoError(t, err, "worker %d", i)
	}
	require.Equal(t, 3*workers, count(t, s, store.KindTest, store.Query{ProjectID: "p1"}))
}

func testKeysScopedPerProject(t *testing.T, s store.Store) {
	ctx := context.Background()
	seed(t, s, "p1", "p2")
	a, b := three("p1", "a"), three("p2", "b")
	require.NoError(t, s.CommitBatch(ctx, outcome("p1", "k1", a), a))
	require.NoError(t, s.CommitBatch(ctx, outcome("p2", "k1", b), b))
	require.Equal(t, 3, count(t, s, store.KindTest, store.Query{ProjectID: "p2"}))
}

func testScanFilters(t *testing.T, s store.Store) {
	ctx := context.Background()
	seed(t, s, "p1")
	rs := []types.TestResult{
		result("p1", "r1", "ph", base, 10.0, 45.0, 7, types.StatusPass),
		result("p1", "r2", "ph", base.Add(1*time.Hour), 11.0, 46.0, 8.4, types.StatusWarn),
		result("p1", "r3", "turbidity", base.Add(2*time.Hour), 12.0, 47.0, 9, types.StatusFail),
		result("p1", "r4", "ph", base.Add(3*time.Hour), -120.0, -33.0, 5, types.StatusFail),
	}
	require.NoError(t, s.CommitBatch(ctx, outcome("p1", "k", rs), rs))

	cases := []struct {
		name string
		q    store.Query
		want []string
	}{
		{"all", store.Query{}, []string{"r1", "r2", "r3", "r4"}},
		{"bbox", store.Query{BBox: &geo.BBox{MinLon: 9.5, MinLat: 44.5, MaxLon: 11.0, MaxLat: 46.0}}, []string{"r1", "r2"}},
		{"time half-open", store.Query{From: base.Add(time.Hour), To: base.Add(3 * time.Hour)}, []string{"r2", "r3"}},
		{"test type", store.Query{TestTypeID: "turbidity"}, []string{"r3"}},
		{"statuses", store.Query{Statuses: []types.Status{types.StatusWarn, types.StatusFail}}, []string{"r2", "r3", "r4"}},
		{"conjunctive", store.Query{TestTypeID: "ph", Statuses: []types.Status{types.StatusFail}}, []string{"r4"}},
		{"no match", store.Query{BBox: &geo.BBox{MinLon: 0, MinLat: 0, MaxLon: 1, MaxLat: 1}}, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			q := tc.q
			q.ProjectID = "p1"
			if diff := cmp.Diff(tc.want, scanIDs(t, s, q)); diff != "" {
				t.Errorf("ids (-want +got):\n%s", diff)
			}
			require.Equal(t, len(tc.want), count(t, s, store.KindTest, q))
		})
	}
}

func testScanWindow(t *testing.T, s store.Store) {
	ctx := context.Background()
	seed(t, s, "p1")
	var rs []types.TestResult
	for i := 0; i < 7; i++ {
		// Same timestamp for pairs so ID breaks ties.
		rs = append(rs, result("p1", fmt.Sprintf("r%d", i), "ph", base.Add(time.Duration(i/2)*time.Minute), 1, 1, 7, types.StatusPass))
	}
	require.NoError(t, s.CommitBatch(ctx, outcome("p1", "k", rs), rs))

	require.Equal(t, []string{"r2", "r3", "r4"}, scanIDs(t, s, store.Query{ProjectID: "p1", Offset: 2, Limit: 3}))
	require.Equal(t, []string{"r6"}, scanIDs(t, s, store.Query{ProjectID: "p1", Offset: 6, Limit: 3}))
	require.Empty(t, scanIDs(t, s, store.Query{ProjectID: "p1", Offset: 10, Limit: 3}))
	require.Equal(t, 7, count(t, s, store.KindTest, store.Query{ProjectID: "p1", Offset: 6, Limit: 1}))
}

func testSubMillisecondBounds(t *testing.T, s store.Store) {
	ctx := context.Background()
	seed(t, s, "p1")
	// Writes below store.Precision are truncated on the way in.
	rs := []types.TestResult{
		result("p1", "a", "ph", base.Add(5*time.Millisecond), 1, 1, 7, types.StatusPass),
		result("p1", "b", "ph", base.Add(7*time.Millisecond+600*time.Microsecond), 1, 1, 7, types.StatusPass),
	}
	require.NoError(t, s.CommitBatch(ctx, outcome("p1", "k", rs), rs))

	half := 500 * time.Microsecond
	require.Equal(t, []string{"b"}, scanIDs(t, s, store.Query{ProjectID: "p1", From: base.Add(5*time.Millisecond + half)}))
	require.Equal(t, []string{"a"}, scanIDs(t, s, store.Query{ProjectID: "p1", To: base.Add(5*time.Millisecond + half)}))
	require.Equal(t, []string{"a", "b"}, scanIDs(t, s, store.Query{ProjectID: "p1", From: base.Add(5 * time.Millisecond)}))
	require.Empty(t, scanIDs(t, s, store.Query{ProjectID: "p1", From: base.Add(7*time.Millisecond + half)}))
	require.Equal(t, 1, count(t, s, store.KindTest, store.Query{ProjectID: "p1", From: base.Add(7 * time.Millisecond)}))

	var ts time.Time
	require.NoError(t, s.ScanTests(ctx, store.Query{ProjectID: "p1", From: base.Add(6 * time.Millisecond)}, func(r types.TestResult) error {
		ts = r.Timestamp
		return nil
	}))
	require.True(t, ts.Equal(base.Add(7*time.Millisecond)), "got %s", ts)
}

func testOtherKinds(t *testing.T, s store.Store) {
	ctx := context.Background()
	seed(t, s, "p1")
	require.NoError(t, s.AddObservations(ctx, []types.Observation{
		{ID: "o1", ProjectID: "p1", Timestamp: base, Longitude: 1, Latitude: 1, Category: "erosion", Note: "bank slump"},
		{ID: "o2", ProjectID: "p1", Timestamp: base.Add(time.Hour), Longitude: 50, Latitude: 50},
	}))
	require.NoError(t, s.AddSensorReadings(ctx, []types.SensorReading{
		{ID: "s1", ProjectID: "p1", SensorID: "logger-7", Timestamp: base, Value: 3.2, Unit: "m", Longitude: 1, Latitude: 1},
	}))

	box := &geo.BBox{MinLon: 0, MinLat: 0, MaxLon: 2, MaxLat: 2}
	require.Equal(t, 2, count(t, s, store.KindObservation, store.Query{ProjectID: "p1"}))
	require.Equal(t, 1, count(t, s, store.KindObservation, store.Query{ProjectID: "p1", BBox: box}))
	require.Equal(t, 1, count(t, s, store.KindSensorReading, store.Query{ProjectID: "p1", BBox: box}))
	require.Equal(t, 0, count(t, s, store.KindTest, store.Query{ProjectID: "p1"}))

	var got []types.Observation
	require.NoError(t, s.ScanObservations(ctx, store.Query{ProjectID: "p1", BBox: box}, func(o types.Observation) error {
		got = append(got, o)
		return nil
	}))
	require.Len(t, got, 1)
	require.Equal(t, "bank slump", got[0].Note)

	var readings []types.SensorReading
	require.NoError(t, s.ScanSensorReadings(ctx, store.Query{ProjectID: "p1"}, func(r types.SensorReading) error {
		readings = append(readings, r)
		return nil
	}))
	require.Len(t, readings, 1)
	require.Equal(t, "logger-7", readings[0].SensorID)
}

func testPurgeOutcomes(t *testing.T, s store.Store) {
	ctx := context.Background()
	seed(t, s, "p1")
	old, fresh := three("p1", "old"), three("p1", "new")
	oo := outcome("p1", "old", old)
	oo.CommittedAt = base.Add(-72 * time.Hour)
	require.NoError(t, s.CommitBatch(ctx, oo, old))
	require.NoError(t, s.CommitBatch(ctx, outcome("p1", "new", fresh), fresh))

	n, err := s.PurgeOutcomes(ctx, base.Add(-48*time.Hour))
	require.NoError(t, err)
	require.Equal(t, 1, n)

	_, err = s.LookupOutcome(ctx, "p1", "old")
	require.ErrorIs(t, err, types.ErrNotFound)
	_, err = s.LookupOutcome(ctx, "p1", "new")
	require.NoError(t, err)
	// Results outlive their idempotency record.
	require.Equal(t, 6, count(t, s, store.KindTest, store.Query{ProjectID: "p1"}))
}

func testDeleteProjectRestrict(t *testing.T, s store.Store) {
	ctx := context.Background()
	seed(t, s, "p1", "empty")
	rs := three("p1", "a")
	require.NoError(t, s.CommitBatch(ctx, outcome("p1", "k", rs), rs))

	require.ErrorIs(t, s.DeleteProject(ctx, "p1"), types.ErrProjectHasChildren)
	require.NoError(t, s.DeleteProject(ctx, "empty"))
	_, err := s.Project(ctx, "empty")
	require.ErrorIs(t, err, types.ErrNotFound)
	require.ErrorIs(t, s.DeleteProject(ctx, "missing"), types.ErrNotFound)
}
