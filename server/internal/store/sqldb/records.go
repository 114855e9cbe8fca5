package sqldb

import (
	"context"
	"fmt"

	"github.com/fieldgrid/fieldgrid/pkg/types"
)

func (db *DB) AddObservations(ctx context.Context, obs []types.Observation) error {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return types.StorageError("begin tx", err)
	}
	defer func() { _ = tx.Rollback() }()
	for i, o := range obs {
		_, err := tx.ExecContext(ctx, db.dialect.rebind(
			`INSERT INTO observations (id, project_id, ts, longitude, latitude, category, note, source)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
			o.ID, o.ProjectID, ms(o.Timestamp), o.Longitude, o.Latitude, o.Category, o.Note, o.Source)
		if err != nil {
			return types.StorageError(fmt.Sprintf("insert observation %d", i), err)
		}
	}
	return types.StorageError("commit", tx.Commit())
}

func (db *DB) AddSensorReadings(ctx context.Context, rs []types.SensorReading) error {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return types.StorageError("begin tx", err)
	}
	defer func() { _ = tx.Rollback() }()
	for i, r := range rs {
		_, err := tx.ExecContext(ctx, db.dialect.rebind(
			`INSERT INTO sensor_readings (id, project_id, sensor_id, ts, value, unit, longitude, latitude)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
			r.ID, r.ProjectID, r.SensorID, ms(r.Timestamp), r.Value, r.Unit, r.Longitude, r.Latitude)
		if err != nil {
			return types.StorageError(fmt.Sprintf("insert sensor reading %d", i), err)
		}
	}
	return types.StorageError("commit", tx.Commit())
}
