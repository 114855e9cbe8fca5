// Package geo holds the minimal geometry fieldgrid needs: WGS84 points,
// axis-aligned bounding boxes, floor-based grid cells and a uniform grid
// used as an in-memory spatial index.
package geo
