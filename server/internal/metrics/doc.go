// Package metrics owns the server's Prometheus registry and the collectors
// fed by ingestion, analytics and the idempotency sweeper.
package metrics
