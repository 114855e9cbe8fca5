// Package index exposes store scans as lazy, restartable iterators. Each
// range over a sequence starts a fresh scan; breaking out of the loop stops
// the underlying scan early.
package index
