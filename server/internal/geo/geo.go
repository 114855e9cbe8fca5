package geo

import (
	"fmt"
	"math"
)

// Point is a WGS84 longitude/latitude pair in degrees.
type Point struct {
	Lon float64
	Lat float64
}

// ValidLon reports whether lon is a finite longitude in [-180, 180].
func ValidLon(lon float64) bool {
	return !math.IsNaN(lon) && lon >= -180 && lon <= 180
}

// ValidLat reports whether lat is a finite latitude in [-90, 90].
func ValidLat(lat float64) bool {
	return !math.IsNaN(lat) && lat >= -90 && lat <= 90
}

// BBox is an inclusive axis-aligned box. Boxes crossing the antimeridian
// are not supported.
type BBox struct {
	MinLon, MinLat, MaxLon, MaxLat float64
}

// Validate checks ranges and ordering.
func (b BBox) Validate() error {
	switch {
	case !ValidLon(b.MinLon) || !ValidLon(b.MaxLon):
		return fmt.Errorf("longitude out of range [-180, 180]")
	case !ValidLat(b.MinLat) || !ValidLat(b.MaxLat):
		return fmt.Errorf("latitude out of range [-90, 90]")
	case b.MinLon > b.MaxLon:
		return fmt.Errorf("minLon %v greater than maxLon %v", b.MinLon, b.MaxLon)
	case b.MinLat > b.MaxLat:
		return fmt.Errorf("minLat %v greater than maxLat %v", b.MinLat, b.MaxLat)
	}
	return nil
}

// Contains reports whether p lies inside b, edges included.
func (b BBox) Contains(p Point) bool {
	return p.Lon >= b.MinLon && p.Lon <= b.MaxLon && p.Lat >= b.MinLat && p.Lat <= b.MaxLat
}

// MinCellSize is the smallest cell edge, in degrees, whose floor indices
// over the whole globe still fit in an int64.
const MinCellSize = 1e-9

// Cell identifies a grid cell by its floor indices at a given cell size.
type Cell struct {
	X, Y int64
}

// CellOf returns the cell containing p: floor(lon/size), floor(lat/size).
func CellOf(p Point, size float64) Cell {
	return Cell{X: int64(math.Floor(p.Lon / size)), Y: int64(math.Floor(p.Lat / size))}
}

// Bounds returns the cell's extent at the given size.
func (c Cell) Bounds(size float64) BBox {
	return BBox{
		MinLon: float64(c.X) * size,
		MinLat: float64(c.Y) * size,
		MaxLon: float64(c.X+1) * size,
		MaxLat: float64(c.Y+1) * size,
	}
}

// Less orders cells by X then Y.
func (c Cell) Less(o Cell) bool {
	if c.X != o.X {
		return c.X < o.X
	}
	return c.Y < o.Y
}

// CellCount returns how many cells of the given size cover b. It is computed
// in float64 and does not overflow for tiny sizes.
func CellCount(b BBox, size float64) float64 {
	w := math.Floor(b.MaxLon/size) - math.Floor(b.MinLon/size) + 1
	h := math.Floor(b.MaxLat/size) - math.Floor(b.MinLat/size) + 1
	return w * h
}
