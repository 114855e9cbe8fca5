// Package reader parses field-equipment exports dropped into the agent's
// watch directory.
//
// Two formats are understood, chosen by file extension:
//   - .csv: a header row then one measurement per row. Headers are matched
//     case-insensitively and tolerate snake_case (test_type_id, lon, lat).
//     Timestamps are RFC 3339.
//   - .json: an array of items, or {"items": [...]} as posted to the server.
//
// Read returns a File carrying the parsed items and the sha256 digest of the
// raw bytes. File.Batches chunks the items into BatchRequests whose
// idempotency keys are derived from the digest, so a crash between shipping
// and archiving replays keys the server already holds.
package reader
