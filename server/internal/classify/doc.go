// Package classify maps a measured value onto Pass, Warn or Fail given a
// test type's inclusive thresholds and a warn margin. It is pure: the same
// inputs always yield the same verdict and nothing is read from storage.
package classify
