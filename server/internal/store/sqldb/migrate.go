package sqldb

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations
var migrations embed.FS

// ErrSchemaOutdated is returned by CheckVersion when migrations are pending.
var ErrSchemaOutdated = errors.New("database schema is behind; run fieldgrid-server -migrate")

// Migrate applies every pending migration.
func (db *DB) Migrate() error {
	m, err := db.newMigrate()
	if err != nil {
		return err
	}
	// Not closing m: it would close the shared *sql.DB.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("sqldb: migrate up: %w", err)
	}
	return nil
}

// Version returns the applied schema version, 0 when none.
func (db *DB) Version() (uint, bool, error) {
	m, err := db.newMigrate()
	if err != nil {
		return 0, false, err
	}
	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("sqldb: schema version: %w", err)
	}
	return v, dirty, nil
}

// LatestVersion is the highest embedded migration version for the dialect.
func (db *DB) LatestVersion() (uint, error) {
	src, err := db.source()
	if err != nil {
		return 0, err
	}
	defer src.Close()
	v, err := src.First()
	if err != nil {
		return 0, fmt.Errorf("sqldb: read migrations: %w", err)
	}
	for {
		next, err := src.Next(v)
		if errors.Is(err, fs.ErrNotExist) {
			return v, nil
		}
		if err != nil {
			return 0, fmt.Errorf("sqldb: read migrations: %w", err)
		}
		v = next
	}
}

// CheckVersion returns ErrSchemaOutdated when the database is dirty or
// behind the embedded migrations.
func (db *DB) CheckVersion() error {
	current, dirty, err := db.Version()
	if err != nil {
		return err
	}
	latest, err := db.LatestVersion()
	if err != nil {
		return err
	}
	if dirty || current < latest {
		return fmt.Errorf("%w (at %d, dirty=%v, latest %d)", ErrSchemaOutdated, current, dirty, latest)
	}
	return nil
}

func (db *DB) source() (source.Driver, error) {
	src, err := iofs.New(migrations, "migrations/"+db.dialect.name)
	if err != nil {
		return nil, fmt.Errorf("sqldb: migrations source: %w", err)
	}
	return src, nil
}

func (db *DB) newMigrate() (*migrate.Migrate, error) {
	src, err := db.source()
	if err != nil {
		return nil, err
	}
	var driver database.Driver
	switch db.dialect.name {
	case DriverPostgres:
		driver, err = migratepgx.WithInstance(db.db, &migratepgx.Config{})
	default:
		driver, err = migratesqlite.WithInstance(db.db, &migratesqlite.Config{})
	}
	if err != nil {
		return nil, fmt.Errorf("sqldb: migrate driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, db.dialect.name, driver)
	if err != nil {
		return nil, fmt.Errorf("sqldb: migrate: %w", err)
	}
	m.Log = migrateLogger{}
	return m, nil
}

// migrateLogger routes migrate's progress output to slog.
type migrateLogger struct{}

func (migrateLogger) Printf(format string, v ...any) {
	slog.Info("sqldb: " + fmt.Sprintf(format, v...))
}

func (migrateLogger) Verbose() bool { return false }
