package analytics

import (
	"context"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/fieldgrid/fieldgrid/pkg/types"
	"github.com/fieldgrid/fieldgrid/server/internal/geo"
	"github.com/fieldgrid/fieldgrid/server/internal/index"
	"github.com/fieldgrid/fieldgrid/server/internal/store"
)

// CoverageGrid bins matching features into square cells of cellSize
// degrees, keyed by floor(lon/cellSize), floor(lat/cellSize). Only
// non-empty cells are returned, ordered by minLon then minLat. A zero
// cellSize selects the default; kinds defaults to test results.
func (e *Engine) CoverageGrid(ctx context.Context, q store.Query, cellSize float64, kinds []store.Kind) (types.CoverageGrid, error) {
	defer e.observe("coverage", time.Now())

	lim := e.Limits()
	if cellSize == 0 {
		cellSize = lim.DefaultCellSize
	}
	if math.IsNaN(cellSize) || cellSize < geo.MinCellSize || cellSize > 360 {
		return types.CoverageGrid{}, types.Invalid("cellSize",
			fmt.Sprintf("must be in [%g, 360]", geo.MinCellSize))
	}
	if q.BBox != nil && geo.CellCount(*q.BBox, cellSize) > float64(lim.MaxGridCells) {
		return types.CoverageGrid{}, types.Invalid("cellSize",
			fmt.Sprintf("bbox spans more than %d cells", lim.MaxGridCells))
	}
	if len(kinds) == 0 {
		kinds = []store.Kind{store.KindTest}
	}
	q = q.Unwindowed()
	if err := e.prepare(ctx, q); err != nil {
		return types.CoverageGrid{}, err
	}

	produce := func(ctx context.Context, emit func(index.Point) error) error {
		for _, k := range kinds {
			for p, err := range e.idx.Points(ctx, k, q) {
				if err != nil {
					return err
				}
				if err := emit(p); err != nil {
					return err
				}
			}
		}
		return nil
	}
	parts, err := fanOut(ctx, e.workers, produce,
		func() map[geo.Cell]int { return make(map[geo.Cell]int) },
		func(m map[geo.Cell]int, p index.Point) {
			m[geo.CellOf(geo.Point{Lon: p.Lon, Lat: p.Lat}, cellSize)]++
		})
	if err != nil {
		return types.CoverageGrid{}, err
	}

	merged := make(map[geo.Cell]int)
	for _, m := range parts {
		for c, n := range m {
			merged[c] += n
		}
	}
	if len(merged) > lim.MaxGridCells {
		return types.CoverageGrid{}, types.Invalid("cellSize",
			fmt.Sprintf("result has more than %d non-empty cells", lim.MaxGridCells))
	}

	keys := make([]geo.Cell, 0, len(merged))
	for c := range merged {
		keys = append(keys, c)
	}
	slices.SortFunc(keys, func(a, b geo.Cell) int {
		if a.Less(b) {
			return -1
		}
		if b.Less(a) {
			return 1
		}
		return 0
	})

	out := types.CoverageGrid{CellSize: cellSize, Cells: make([]types.CoverageCell, 0, len(keys))}
	for _, c := range keys {
		b := c.Bounds(cellSize)
		n := merged[c]
		out.Cells = append(out.Cells, types.CoverageCell{
			MinLon: b.MinLon, MinLat: b.MinLat, MaxLon: b.MaxLon, MaxLat: b.MaxLat, Count: n,
		})
		out.Total += n
	}
	return out, nil
}
