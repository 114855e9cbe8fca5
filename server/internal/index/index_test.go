package index

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fieldgrid/fieldgrid/pkg/types"
	"github.com/fieldgrid/fieldgrid/server/internal/geo"
	"github.com/fieldgrid/fieldgrid/server/internal/store"
)

var t0 = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

func seeded(t *testing.T, n int) *store.Memory {
	t.Helper()
	ctx := context.Background()
	m := store.NewMemory()
	require.NoError(t, m.PutProject(ctx, types.Project{ID: "p"}))
	var rs []types.TestResult
	o := types.BatchOutcome{ProjectID: "p", IdempotencyKey: "k", CommittedAt: t0}
	for i := 0; i < n; i++ {
		rs = append(rs, types.TestResult{
			ID: string(rune('a' + i)), ProjectID: "p", TestTypeID: "ph",
			Timestamp: t0.Add(time.Duration(i) * time.Hour), Longitude: float64(i), Latitude: float64(i),
		})
	}
	require.NoError(t, m.CommitBatch(ctx, o, rs))
	require.NoError(t, m.AddObservations(ctx, []types.Observation{{ID: "o", ProjectID: "p", Timestamp: t0, Longitude: 2, Latitude: 2}}))
	return m
}

func TestTests_Restartable(t *testing.T) {
	x := New(seeded(t, 5))
	s := x.Tests(context.Background(), store.Query{ProjectID: "p"})

	first, err := Collect(s)
	require.NoError(t, err)
	second, err := Collect(s)
	require.NoError(t, err)
	require.Len(t, first, 5)
	require.Equal(t, first, second)
}

func TestTests_EarlyBreak(t *testing.T) {
	x := New(seeded(t, 5))
	n := 0
	for _, err := range x.Tests(context.Background(), store.Query{ProjectID: "p"}) {
		require.NoError(t, err)
		n++
		if n == 2 {
			break
		}
	}
	require.Equal(t, 2, n)
}

func TestTests_Conjunctive(t *testing.T) {
	x := New(seeded(t, 5))
	q := store.Query{
		ProjectID: "p",
		BBox:      &geo.BBox{MinLon: 1, MinLat: 1, MaxLon: 4, MaxLat: 4},
		From:      t0.Add(2 * time.Hour),
	}
	got, err := Collect(x.Tests(context.Background(), q))
	require.NoError(t, err)
	ids := []string{}
	for _, r := range got {
		ids = append(ids, r.ID)
	}
	require.Equal(t, []string{"c", "d", "e"}, ids)

	n, err := x.Count(context.Background(), store.KindTest, store.Query{ProjectID: "p", Limit: 1})
	require.NoError(t, err)
	require.Equal(t, 5, n)
}

func TestPoints_AllKinds(t *testing.T) {
	x := New(seeded(t, 3))
	pts, err := Collect(x.Points(context.Background(), store.KindObservation, store.Query{ProjectID: "p"}))
	require.NoError(t, err)
	require.Equal(t, []Point{{Lon: 2, Lat: 2}}, pts)

	_, err = Collect(x.Points(context.Background(), store.Kind(9), store.Query{ProjectID: "p"}))
	require.ErrorIs(t, err, types.ErrValidation)
}

type failingReader struct{ store.Reader }

func (failingReader) ScanTests(context.Context, store.Query, func(types.TestResult) error) error {
	return types.StorageError("select", errors.New("boom"))
}

func TestTests_PropagatesError(t *testing.T) {
	_, err := Collect(New(failingReader{}).Tests(context.Background(), store.Query{ProjectID: "p"}))
	require.ErrorIs(t, err, types.ErrStorage)
}

func TestValidate(t *testing.T) {
	require.NoError(t, Validate(store.Query{ProjectID: "p"}))
	require.ErrorIs(t, Validate(store.Query{}), types.ErrValidation)
	require.ErrorIs(t, Validate(store.Query{ProjectID: "p", From: t0, To: t0}), types.ErrValidation)
	require.ErrorIs(t, Validate(store.Query{ProjectID: "p", BBox: &geo.BBox{MinLon: 5, MaxLon: 1}}), types.ErrValidation)
}
