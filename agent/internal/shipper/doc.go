// Package shipper posts parsed batches to fieldgrid-server's
// POST /api/v1/projects/{id}/test-results:batch endpoint.
//
// Send retries transport errors, 5xx, 408 and 429 with exponential backoff
// (1s→60s, cenkalti/backoff) until the configured max_elapsed horizon. Other
// 4xx responses stop immediately with a *RejectedError carrying the server's
// message and field errors. Because every batch carries an idempotency key,
// a retry after a lost response is answered from the server's stored outcome.
//
// Auth: mTLS client certificates, an API key header, a bearer token or basic
// auth, injected by authRoundTripper. Technician, when set, is sent as
// X-Actor for servers running without auth.
package shipper
