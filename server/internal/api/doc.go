// Package api implements the HTTP REST API for fieldgrid-server.
//
// New(ingester, analytics, opts) returns an http.Handler that serves:
//
//	POST /api/v1/projects/{id}/test-results:batch  ingest a batch; 201 created, 200 replay
//	GET  /api/v1/projects/{id}/features            paged tests, observations, sensor readings
//	GET  /api/v1/projects/{id}/out-of-spec         warn/fail results, most severe first
//	GET  /api/v1/projects/{id}/coverage            non-empty grid cells with counts
//	GET  /api/v1/projects/{id}/trends              avg/min/max/median per bucket and test type
//	GET  /api/v1/projects/{id}/alerts              recent out-of-spec alerts
//	GET  /ws/projects/{id}/events                  websocket batch notifications
//	GET  /api/v1/health                            backend readiness, unauthenticated
//
// Read endpoints share the filters minLon, minLat, maxLon, maxLat (all four
// or none), from and to (RFC 3339, half-open), testTypeId and status.
//
// Errors are JSON: {"message": "...", "errors": [{"field", "detail"}]}.
// Validation 400, unknown project 404, body too large 413, rate limited
// 429, storage failure 503.
package api
