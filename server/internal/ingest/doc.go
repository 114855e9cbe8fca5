// Package ingest implements idempotent batch intake of test results.
//
// A batch is validated in full, classified item by item and committed
// together with its idempotency record. Resubmitting a key returns the
// recorded outcome unchanged. When two requests race on one key the store's
// uniqueness check picks the winner and the loser answers from the winner's
// record.
package ingest
