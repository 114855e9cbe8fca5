// Package analytics computes the map and chart views over a project's
// measurements: paginated features, the out-of-spec list, coverage grids
// and trend series. Coverage and trend binning fan out to a fixed pool of
// workers fed from a single index scan; partial results are merged in a
// fixed order so output never depends on scheduling.
package analytics
