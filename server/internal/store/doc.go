// Package store defines the persistence contract for measurements and batch
// idempotency records, and provides the in-memory backend. Memory keeps one
// shard per project, each with its own lock and a uniform grid index, so
// commits to different projects never contend. SQL backends live in
// store/sqldb.
package store
