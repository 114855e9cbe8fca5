// Package dropdir turns a directory into an ingestion inbox.
//
// Watcher lists the directory at start-up and every minute, and reacts to
// fsnotify create/write events after a settle delay so half-written files
// are not read. Each export is parsed by package reader, chunked, and
// shipped batch by batch through a Sender.
//
// Outcomes per file:
//   - every batch accepted (created or replayed): moved to archive_dir
//   - unreadable, or a batch refused with a non-retryable 4xx: moved to
//     failed_dir with a <name>.error.json report
//   - anything else: left in place and retried on the next scan
//
// The queue holds at most buffer_size files. One worker ships files in
// order so batches for the same export never interleave.
package dropdir
