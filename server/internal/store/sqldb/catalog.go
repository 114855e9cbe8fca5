package sqldb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fieldgrid/fieldgrid/pkg/types"
)

func (db *DB) Project(ctx context.Context, id string) (types.Project, error) {
	var (
		p       types.Project
		created int64
	)
	err := db.db.QueryRowContext(ctx, db.dialect.rebind(
		`SELECT id, name, created_at FROM projects WHERE id = ?`), id).Scan(&p.ID, &p.Name, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Project{}, fmt.Errorf("project %q: %w", id, types.ErrNotFound)
	}
	if err != nil {
		return types.Project{}, types.StorageError("select project", err)
	}
	p.CreatedAt = fromMS(created)
	return p, nil
}

func (db *DB) TestType(ctx context.Context, id string) (types.TestType, error) {
	var (
		tt           types.TestType
		min, max, wm sql.NullFloat64
		metadata     sql.NullString
	)
	err := db.db.QueryRowContext(ctx, db.dialect.rebind(
		`SELECT id, name, unit, min_threshold, max_threshold, warn_margin, metadata
		 FROM test_types WHERE id = ?`), id).Scan(&tt.ID, &tt.Name, &tt.Unit, &min, &max, &wm, &metadata)
	if errors.Is(err, sql.ErrNoRows) {
		return types.TestType{}, fmt.Errorf("test type %q: %w", id, types.ErrNotFound)
	}
	if err != nil {
		return types.TestType{}, types.StorageError("select test type", err)
	}
	tt.MinThreshold, tt.MaxThreshold, tt.WarnMargin = floatPtr(min), floatPtr(max), floatPtr(wm)
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &tt.Metadata); err != nil {
			return types.TestType{}, types.StorageError("decode test type metadata", err)
		}
	}
	return tt, nil
}

func (db *DB) PutProject(ctx context.Context, p types.Project) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = db.now()
	}
	_, err := db.db.ExecContext(ctx, db.dialect.rebind(
		`INSERT INTO projects (id, name, created_at) VALUES (?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET name = excluded.name`), p.ID, p.Name, ms(p.CreatedAt))
	return types.StorageError("upsert project", err)
}

func (db *DB) PutTestType(ctx context.Context, tt types.TestType) error {
	var metadata sql.NullString
	if tt.Metadata != nil {
		b, err := json.Marshal(tt.Metadata)
		if err != nil {
			return fmt.Errorf("encode test type metadata: %w", err)
		}
		metadata = sql.NullString{String: string(b), Valid: true}
	}
	_, err := db.db.ExecContext(ctx, db.dialect.rebind(
		`INSERT INTO test_types (id, name, unit, min_threshold, max_threshold, warn_margin, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   name = excluded.name, unit = excluded.unit,
		   min_threshold = excluded.min_threshold, max_threshold = excluded.max_threshold,
		   warn_margin = excluded.warn_margin, metadata = excluded.metadata`),
		tt.ID, tt.Name, tt.Unit, nullFloat(tt.MinThreshold), nullFloat(tt.MaxThreshold), nullFloat(tt.WarnMargin), metadata)
	return types.StorageError("upsert test type", err)
}

// DeleteProject removes an empty project together with its idempotency
// records.
func (db *DB) DeleteProject(ctx context.Context, id string) error {
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

	var children int
	err = tx.QueryRowContext(ctx, db.dialect.rebind(
		`SELECT (SELECT COUNT(*) FROM test_results WHERE project_id = ?)
		      + (SELECT COUNT(*) FROM observations WHERE project_id = ?)
		      + (SELECT COUNT(*) FROM sensor_readings WHERE project_id = ?)`), id, id, id).Scan(&children)
	if err != nil {
		return types.StorageError("count project children", err)
	}
	if children > 0 {
		return fmt.Errorf("project %q: %w", id, types.ErrProjectHasChildren)
	}
	if _, err := tx.ExecContext(ctx, db.dialect.rebind(`DELETE FROM idempotency_records WHERE project_id = ?`), id); err != nil {
		return types.StorageError("delete idempotency records", err)
	}
	res, err := tx.ExecContext(ctx, db.dialect.rebind(`DELETE FROM projects WHERE id = ?`), id)
	if err != nil {
		return types.StorageError("delete project", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("project %q: %w", id, types.ErrNotFound)
	}
	if err := tx.Commit(); err != nil {
		return types.StorageError("commit", err)
	}
	committed = true
	return nil
}
