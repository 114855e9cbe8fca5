// Package sqldb is the database/sql backend of store.Store. It runs on
// SQLite through modernc.org/sqlite and on PostgreSQL through the pgx
// stdlib driver; the schema is managed with golang-migrate from migrations
// embedded per dialect.
//
// Timestamps are stored as Unix milliseconds. A batch commit inserts the
// idempotency record first and the results after it in one transaction, so
// the primary key on (project_id, idem_key) decides concurrent races.
package sqldb
