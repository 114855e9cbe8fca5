// Package ws pushes batch notifications to WebSocket clients.
//
// Clients connect to /ws/projects/{id}/events and receive
//
//	{"event": "subscribed", "projectId": "p1"}
//
// immediately, then one message per batch committed to that project:
//
//	{
//	  "event": "batch.committed",
//	  "projectId": "p1",
//	  "data": {"idempotencyKey": "...", "created": 3, "counts": {...}, ...}
//	}
//
// Replayed (duplicate) batches are not announced. The upgrader accepts all
// origins.
package ws
