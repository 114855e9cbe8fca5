package geo

import (
	"sort"
	"testing"
)

func TestCellOf_Floors(t *testing.T) {
	cases := []struct {
		p    Point
		size float64
		want Cell
	}{
		{Point{0.5, 0.5}, 1, Cell{0, 0}},
		{Point{-0.5, -0.5}, 1, Cell{-1, -1}},
		{Point{10.26, 45.01}, 0.5, Cell{20, 90}},
		{Point{-180, -90}, 10, Cell{-18, -9}},
	}
	for _, tc := range cases {
		if got := CellOf(tc.p, tc.size); got != tc.want {
			t.Errorf("CellOf(%v, %v): got %v, want %v", tc.p, tc.size, got, tc.want)
		}
	}
}

func TestCellOf_MinCellSizeFitsInt64(t *testing.T) {
	lo := CellOf(Point{-180, -90}, MinCellSize)
	hi := CellOf(Point{180, 90}, MinCellSize)
	if lo.X >= 0 || lo.Y >= 0 || hi.X <= 0 || hi.Y <= 0 {
		t.Errorf("world corners at MinCellSize overflowed: lo %v, hi %v", lo, hi)
	}
}

func TestCellCount_TinySize(t *testing.T) {
	world := BBox{MinLon: -180, MinLat: -90, MaxLon: 180, MaxLat: 90}
	if got := CellCount(world, 1e-300); got < 1e300 {
		t.Errorf("CellCount(world, 1e-300): got %g, want a huge count", got)
	}
	if got := CellCount(BBox{0, 0, 0.99, 0.99}, 1); got != 1 {
		t.Errorf("CellCount(unit box, 1): got %g, want 1", got)
	}
	if got := CellCount(world, 10); got != 37*19 {
		t.Errorf("CellCount(world, 10): got %g, want %d", got, 37*19)
	}
}

func TestCellBounds(t *testing.T) {
	b := Cell{X: -2, Y: 3}.Bounds(0.5)
	want := BBox{MinLon: -1, MinLat: 1.5, MaxLon: -0.5, MaxLat: 2}
	if b != want {
		t.Errorf("Bounds: got %+v, want %+v", b, want)
	}
}

func TestBBoxValidate(t *testing.T) {
	cases := []struct {
		b  BBox
		ok bool
	}{
		{BBox{-10, -10, 10, 10}, true},
		{BBox{10, -10, -10, 10}, false},
		{BBox{-10, 10, 10, -10}, false},
		{BBox{-181, 0, 0, 0}, false},
		{BBox{0, -91, 0, 0}, false},
	}
	for _, tc := range cases {
		if err := tc.b.Validate(); (err == nil) != tc.ok {
			t.Errorf("Validate(%+v): got %v, want ok=%v", tc.b, err, tc.ok)
		}
	}
}

func TestGridSearch(t *testing.T) {
	g := NewGrid[string](1)
	g.Insert(Point{0.5, 0.5}, "a")
	g.Insert(Point{1.5, 1.5}, "b")
	g.Insert(Point{-5, -5}, "c")
	g.Insert(Point{0.9, 0.1}, "d")

	var got []string
	g.Search(BBox{0, 0, 1, 1}, func(_ Point, v string) bool {
		got = append(got, v)
		return true
	})
	sort.Strings(got)
	if len(got) != 2 || got[0] != "a" || got[1] != "d" {
		t.Errorf("Search: got %v, want [a d]", got)
	}
	if g.Len() != 4 {
		t.Errorf("Len: got %d, want 4", g.Len())
	}
}

func TestGridSearch_WideBoxWalksOccupiedCells(t *testing.T) {
	g := NewGrid[int](0.01)
	g.Insert(Point{170, 80}, 1)
	g.Insert(Point{-170, -80}, 2)

	n := 0
	g.Search(BBox{-180, -90, 180, 90}, func(Point, int) bool { n++; return true })
	if n != 2 {
		t.Errorf("Search world: got %d, want 2", n)
	}
}

func TestGridSearch_StopsEarly(t *testing.T) {
	g := NewGrid[int](1)
	for i := 0; i < 10; i++ {
		g.Insert(Point{0.5, 0.5}, i)
	}
	n := 0
	done := g.Search(BBox{0, 0, 1, 1}, func(Point, int) bool { n++; return n < 3 })
	if done || n != 3 {
		t.Errorf("Search early stop: done=%v n=%d, want false 3", done, n)
	}
}
