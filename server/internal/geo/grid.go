package geo

// Grid buckets items into uniform cells so that box queries visit only the
// cells overlapping the box. Grid is not safe for concurrent mutation.
type Grid[T any] struct {
	size  float64
	cells map[Cell][]entry[T]
	n     int
}

type entry[T any] struct {
	p Point
	v T
}

// NewGrid returns an empty grid with the given cell size in degrees.
func NewGrid[T any](size float64) *Grid[T] {
	return &Grid[T]{size: size, cells: make(map[Cell][]entry[T])}
}

// Insert adds v at p.
func (g *Grid[T]) Insert(p Point, v T) {
	c := CellOf(p, g.size)
	g.cells[c] = append(g.cells[c], entry[T]{p: p, v: v})
	g.n++
}

// Len returns the number of items.
func (g *Grid[T]) Len() int { return g.n }

// Search calls fn for every item inside b. It stops early when fn returns
// false and reports whether the search ran to completion.
func (g *Grid[T]) Search(b BBox, fn func(Point, T) bool) bool {
	lo := CellOf(Point{b.MinLon, b.MinLat}, g.size)
	hi := CellOf(Point{b.MaxLon, b.MaxLat}, g.size)
	span := (hi.X - lo.X + 1) * (hi.Y - lo.Y + 1)
	if span > int64(len(g.cells)) {
		// The box covers more cells than are occupied; walk occupied ones.
		for c, es := range g.cells {
			if c.X < lo.X || c.X > hi.X || c.Y < lo.Y || c.Y > hi.Y {
				continue
			}
			if !visit(es, b, fn) {
				return false
			}
		}
		return true
	}
	for x := lo.X; x <= hi.X; x++ {
		for y := lo.Y; y <= hi.Y; y++ {
			if !visit(g.cells[Cell{x, y}], b, fn) {
				return false
			}
		}
	}
	return true
}

// All calls fn for every item.
func (g *Grid[T]) All(fn func(Point, T) bool) bool {
	for _, es := range g.cells {
		for _, e := range es {
			if !fn(e.p, e.v) {
				return false
			}
		}
	}
	return true
}

func visit[T any](es []entry[T], b BBox, fn func(Point, T) bool) bool {
	for _, e := range es {
		if b.Contains(e.p) && !fn(e.p, e.v) {
			return false
		}
	}
	return true
}
