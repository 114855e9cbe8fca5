package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // register "pgx" for database/sql
	_ "modernc.org/sqlite"             // register "sqlite" for database/sql

	"github.com/fieldgrid/fieldgrid/server/internal/store"
)

// Driver names accepted by Open.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

var _ store.Store = (*DB)(nil)

// Options configures Open.
type Options struct {
	// Driver is DriverSQLite or DriverPostgres.
	Driver string
	// DSN is a file path for SQLite or a connection URL for PostgreSQL.
	DSN          string
	MaxOpenConns int
}

// DB implements store.Store on a *sql.DB.
type DB struct {
	db      *sql.DB
	dialect dialect
	now     func() time.Time
}

type dialect struct {
	name string
	// numbered rewrites ? placeholders to $1, $2, ...
	numbered bool
	// collate forces byte-order comparison of IDs.
	collate string
	// bareOffset is whether OFFSET may appear without LIMIT.
	bareOffset bool
}

var (
	sqliteDialect   = dialect{name: DriverSQLite}
	postgresDialect = dialect{name: DriverPostgres, numbered: true, collate: ` COLLATE "C"`, bareOffset: true}
)

// Open connects to the database and verifies the connection. It does not
// migrate; see Migrate and CheckVersion.
func Open(ctx context.Context, opts Options) (*DB, error) {
	var (
		driverName, dsn string
		d               dialect
	)
	switch opts.Driver {
	case DriverSQLite:
		driverName, d = "sqlite", sqliteDialect
		dsn = sqliteDSN(opts.DSN)
	case DriverPostgres:
		driverName, d = "pgx", postgresDialect
		dsn = opts.DSN
	default:
		return nil, fmt.Errorf("sqldb: unknown driver %q", opts.Driver)
	}
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("sqldb: open %s: %w", opts.Driver, err)
	}
	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqldb: ping %s: %w", opts.Driver, err)
	}
	return &DB{db: db, dialect: d, now: time.Now}, nil
}

// sqliteDSN enables WAL, a busy timeout and foreign keys on every
// connection in the pool.
func sqliteDSN(path string) string {
	if strings.Contains(path, "_pragma=") {
		return path
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return "file:" + strings.TrimPrefix(path, "file:") + sep +
		"_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
}

// Close closes the connection pool.
func (db *DB) Close() error { return db.db.Close() }

// SQL exposes the pool for migrations and tests.
func (db *DB) SQL() *sql.DB { return db.db }

// rebind rewrites ? placeholders for dialects that number them.
func (d dialect) rebind(q string) string {
	if !d.numbered {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	for i := 0; i < len(q); i++ {
		if q[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(q[i])
	}
	return b.String()
}

// window appends the ORDER BY and paging clause for an ordered scan.
func (d dialect) window(sb *strings.Builder, args []any, q store.Query) []any {
	sb.WriteString(" ORDER BY ts, id")
	sb.WriteString(d.collate)
	switch {
	case q.Limit > 0:
		sb.WriteString(" LIMIT ? OFFSET ?")
		args = append(args, q.Limit, q.Offset)
	case q.Offset > 0 && d.bareOffset:
		sb.WriteString(" OFFSET ?")
		args = append(args, q.Offset)
	case q.Offset > 0:
		sb.WriteString(" LIMIT -1 OFFSET ?")
		args = append(args, q.Offset)
	}
	return args
}

func ms(t time.Time) int64 { return t.UnixMilli() }

// msCeil rounds a query bound up to the next stored millisecond, so
// "ts >= bound" and "ts < bound" match the nanosecond comparison.
func msCeil(t time.Time) int64 {
	m := t.UnixMilli()
	if time.UnixMilli(m).Before(t) {
		m++
	}
	return m
}

func fromMS(v int64) time.Time { return time.UnixMilli(v).UTC() }

func nullFloat(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}
