package sqldb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fieldgrid/fieldgrid/pkg/types"
)

func (db *DB) LookupOutcome(ctx context.Context, projectID, key string) (types.BatchOutcome, error) {
	var raw []byte
	err := db.db.QueryRowContext(ctx, db.dialect.rebind(
		`SELECT outcome FROM idempotency_records WHERE project_id = ? AND idem_key = ?`), projectID, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return types.BatchOutcome{}, fmt.Errorf("batch %q: %w", key, types.ErrNotFound)
	}
	if err != nil {
		return types.BatchOutcome{}, types.StorageError("select idempotency record", err)
	}
	var o types.BatchOutcome
	if err := json.Unmarshal(raw, &o); err != nil {
		return types.BatchOutcome{}, types.StorageError("decode idempotency record", err)
	}
	return o, nil
}

const insertResult = `INSERT INTO test_results (
	id, project_id, test_type_id, ts, value, status, min_threshold, max_threshold,
	longitude, latitude, source, technician, client_status, batch_key, created_by, created_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// CommitBatch writes the idempotency record and every result in one
// transaction. The record goes first so a racing commit of the same key
// fails before inserting any rows.
func (db *DB) CommitBatch(ctx context.Context, outcome types.BatchOutcome, results []types.TestResult) error {
	raw, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("encode idempotency record: %w", err)
	}

	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return types.StorageError("begin tx", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, db.dialect.rebind(
		`INSERT INTO idempotency_records (project_id, idem_key, outcome, committed_at) VALUES (?, ?, ?, ?)`),
		outcome.ProjectID, outcome.IdempotencyKey, string(raw), ms(outcome.CommittedAt))
	if isUniqueViolation(err) {
		return types.ErrIdempotencyConflict
	}
	if err != nil {
		return types.StorageError("insert idempotency record", err)
	}

	stmt, err := tx.PrepareContext(ctx, db.dialect.rebind(insertResult))
	if err != nil {
		return types.StorageError("prepare result insert", err)
	}
	defer stmt.Close()
	for i, r := range results {
		_, err := stmt.ExecContext(ctx,
			r.ID, r.ProjectID, r.TestTypeID, ms(r.Timestamp), r.Value, int(r.Status),
			nullFloat(r.MinThreshold), nullFloat(r.MaxThreshold), r.Longitude, r.Latitude,
			r.Source, r.Technician, r.ClientStatus, r.BatchKey, r.CreatedBy, ms(r.CreatedAt))
		if err != nil {
			return types.StorageError(fmt.Sprintf("insert result %d", i), err)
		}
	}

	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return types.ErrIdempotencyConflict
		}
		return types.StorageError("commit", err)
	}
	committed = true
	return nil
}

func (db *DB) PurgeOutcomes(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := db.db.ExecContext(ctx, db.dialect.rebind(
		`DELETE FROM idempotency_records WHERE committed_at < ?`), ms(cutoff))
	if err != nil {
		return 0, types.StorageError("purge idempotency records", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, types.StorageError("purge idempotency records", err)
	}
	return int(n), nil
}
