package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/fieldgrid/fieldgrid/pkg/types"
	"github.com/fieldgrid/fieldgrid/server/internal/store"
)

var tableFor = map[store.Kind]string{
	store.KindTest:          "test_results",
	store.KindObservation:   "observations",
	store.KindSensorReading: "sensor_readings",
}

// where builds the filter clause for q. Test-only filters are applied when
// kind is store.KindTest.
func where(sb *strings.Builder, kind store.Kind, q store.Query) []any {
	args := []any{q.ProjectID}
	sb.WriteString(" WHERE project_id = ?")
	if b := q.BBox; b != nil {
		sb.WriteString(" AND longitude >= ? AND longitude <= ? AND latitude >= ? AND latitude <= ?")
		args = append(args, b.MinLon, b.MaxLon, b.MinLat, b.MaxLat)
	}
	if !q.From.IsZero() {
		sb.WriteString(" AND ts >= ?")
		args = append(args, msCeil(q.From))
	}
	if !q.To.IsZero() {
		sb.WriteString(" AND ts < ?")
		args = append(args, msCeil(q.To))
	}
	if kind != store.KindTest {
		return args
	}
	if q.TestTypeID != "" {
		sb.WriteString(" AND test_type_id = ?")
		args = append(args, q.TestTypeID)
	}
	if len(q.Statuses) > 0 {
		sb.WriteString(" AND status IN (?" + strings.Repeat(", ?", len(q.Statuses)-1) + ")")
		for _, s := range q.Statuses {
			args = append(args, int(s))
		}
	}
	return args
}

func (db *DB) Count(ctx context.Context, kind store.Kind, q store.Query) (int, error) {
	table, ok := tableFor[kind]
	if !ok {
		return 0, fmt.Errorf("count %s: %w", kind, types.ErrValidation)
	}
	var sb strings.Builder
	sb.WriteString("SELECT COUNT(*) FROM " + table)
	args := where(&sb, kind, q)
	var n int
	if err := db.db.QueryRowContext(ctx, db.dialect.rebind(sb.String()), args...).Scan(&n); err != nil {
		return 0, types.StorageError("count "+table, err)
	}
	return n, nil
}

// scan runs an ordered, windowed select and hands each row to fn.
func (db *DB) scan(ctx context.Context, kind store.Kind, cols string, q store.Query, fn func(*sql.Rows) error) error {
	var sb strings.Builder
	sb.WriteString("SELECT " + cols + " FROM " + tableFor[kind])
	args := where(&sb, kind, q)
	args = db.dialect.window(&sb, args, q)

	rows, err := db.db.QueryContext(ctx, db.dialect.rebind(sb.String()), args...)
	if err != nil {
		return types.StorageError("select "+tableFor[kind], err)
	}
	defer rows.Close()
	for rows.Next() {
		if err := fn(rows); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return types.StorageError("scan "+tableFor[kind], err)
	}
	return nil
}

const testCols = `id, project_id, test_type_id, ts, value, status, min_threshold, max_threshold,
	longitude, latitude, source, technician, client_status, batch_key, created_by, created_at`

func (db *DB) ScanTests(ctx context.Context, q store.Query, fn func(types.TestResult) error) error {
	return db.scan(ctx, store.KindTest, testCols, q, func(rows *sql.Rows) error {
		var (
			r           types.TestResult
			ts, created int64
			status      int
			min, max    sql.NullFloat64
		)
		if err := rows.Scan(&r.ID, &r.ProjectID, &r.TestTypeID, &ts, &r.Value, &status, &min, &max,
			&r.Longitude, &r.Latitude, &r.Source, &r.Technician, &r.ClientStatus, &r.BatchKey, &r.CreatedBy, &created); err != nil {
			return types.StorageError("scan test result", err)
		}
		r.Timestamp, r.CreatedAt = fromMS(ts), fromMS(created)
		r.Status = types.Status(status)
		r.MinThreshold, r.MaxThreshold = floatPtr(min), floatPtr(max)
		return fn(r)
	})
}

func (db *DB) ScanObservations(ctx context.Context, q store.Query, fn func(types.Observation) error) error {
	return db.scan(ctx, store.KindObservation, `id, project_id, ts, longitude, latitude, category, note, source`, q,
		func(rows *sql.Rows) error {
			var (
				o  types.Observation
				ts int64
			)
			if err := rows.Scan(&o.ID, &o.ProjectID, &ts, &o.Longitude, &o.Latitude, &o.Category, &o.Note, &o.Source); err != nil {
				return types.StorageError("scan observation", err)
			}
			o.Timestamp = fromMS(ts)
			return fn(o)
		})
}

func (db *DB) ScanSensorReadings(ctx context.Context, q store.Query, fn func(types.SensorReading) error) error {
	return db.scan(ctx, store.KindSensorReading, `id, project_id, sensor_id, ts, value, unit, longitude, latitude`, q,
		func(rows *sql.Rows) error {
			var (
				r  types.SensorReading
				ts int64
			)
			if err := rows.Scan(&r.ID, &r.ProjectID, &r.SensorID, &ts, &r.Value, &r.Unit, &r.Longitude, &r.Latitude); err != nil {
				return types.StorageError("scan sensor reading", err)
			}
			r.Timestamp = fromMS(ts)
			return fn(r)
		})
}
