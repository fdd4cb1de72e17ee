// Package store persists exams, attempts and assessment history in SQLite
// or PostgreSQL through database/sql.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // driver: pgx
	_ "modernc.org/sqlite"             // driver: sqlite
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrStaleVersion is returned when an attempt changed since it was read.
	ErrStaleVersion = errors.New("attempt was modified concurrently")
)

// Driver names a supported database.
type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// ParseDriver validates a driver name. Empty means SQLite.
func ParseDriver(s string) (Driver, error) {
	switch Driver(strings.ToLower(strings.TrimSpace(s))) {
	case "", DriverSQLite:
		return DriverSQLite, nil
	case DriverPostgres, "pgx":
		return DriverPostgres, nil
	default:
		return "", fmt.Errorf("unsupported driver: %s", s)
	}
}

type Store struct {
	db     *sql.DB
	driver Driver
}

// Open connects to the database and ensures the schema exists.
func Open(ctx context.Context, driver Driver, dsn string) (*Store, error) {
	var drvName string
	switch driver {
	case DriverSQLite, "":
		driver = DriverSQLite
		drvName = "sqlite"
		dsn = sqliteDSN(dsn)
	case DriverPostgres:
		drvName = "pgx"
		if dsn == "" {
			dsn = "postgres://localhost:5432/bandexam?sslmode=disable"
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driver)
	}

	db, err := sql.Open(drvName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if driver == DriverSQLite {
		// One connection keeps :memory: databases shared and serializes writers.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db, driver: driver}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// New opens a SQLite database at path.
func New(path string) (*Store, error) {
	return Open(context.Background(), DriverSQLite, path)
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Driver returns the database driver in use.
func (s *Store) Driver() Driver {
	return s.driver
}

func sqliteDSN(path string) string {
	switch {
	case path == "":
		return "file:bandexam.db?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	case path == ":memory:", strings.Contains(path, "?"):
		return path
	default:
		return path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	}
}

func (s *Store) migrate(ctx context.Context) error {
	schema := schemaSQLite
	if s.driver == DriverPostgres {
		schema = schemaPostgres
	}
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

const schemaSQLite = `
CREATE TABLE IF NOT EXISTS exams (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	sections_json TEXT NOT NULL,
	active INTEGER NOT NULL DEFAULT 1,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS attempts (
	id TEXT PRIMARY KEY,
	exam_id TEXT NOT NULL REFERENCES exams(id),
	student_id TEXT NOT NULL,
	status TEXT NOT NULL,
	answers_json TEXT NOT NULL DEFAULT '{}',
	scores_json TEXT NOT NULL DEFAULT '{}',
	feedback_json TEXT NOT NULL DEFAULT '{}',
	overall_band REAL NOT NULL DEFAULT 0,
	started_at INTEGER NOT NULL,
	completed_at INTEGER,
	graded_at INTEGER,
	version INTEGER NOT NULL DEFAULT 1
);
CREATE INDEX IF NOT EXISTS idx_attempts_student ON attempts(student_id);
CREATE INDEX IF NOT EXISTS idx_attempts_exam ON attempts(exam_id);

CREATE TABLE IF NOT EXISTS assessment_history (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	attempt_id TEXT NOT NULL REFERENCES attempts(id),
	question_id TEXT NOT NULL,
	source TEXT NOT NULL,
	payload_json TEXT NOT NULL,
	recorded_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_history_attempt ON assessment_history(attempt_id, question_id);

CREATE TABLE IF NOT EXISTS metadata (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS exams (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	sections_json TEXT NOT NULL,
	active BOOLEAN NOT NULL DEFAULT TRUE,
	created_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS attempts (
	id TEXT PRIMARY KEY,
	exam_id TEXT NOT NULL REFERENCES exams(id),
	student_id TEXT NOT NULL,
	status TEXT NOT NULL,
	answers_json TEXT NOT NULL DEFAULT '{}',
	scores_json TEXT NOT NULL DEFAULT '{}',
	feedback_json TEXT NOT NULL DEFAULT '{}',
	overall_band DOUBLE PRECISION NOT NULL DEFAULT 0,
	started_at BIGINT NOT NULL,
	completed_at BIGINT,
	graded_at BIGINT,
	version BIGINT NOT NULL DEFAULT 1
);
CREATE INDEX IF NOT EXISTS idx_attempts_student ON attempts(student_id);
CREATE INDEX IF NOT EXISTS idx_attempts_exam ON attempts(exam_id);

CREATE TABLE IF NOT EXISTS assessment_history (
	seq BIGSERIAL PRIMARY KEY,
	attempt_id TEXT NOT NULL REFERENCES attempts(id),
	question_id TEXT NOT NULL,
	source TEXT NOT NULL,
	payload_json TEXT NOT NULL,
	recorded_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_history_attempt ON assessment_history(attempt_id, question_id);

CREATE TABLE IF NOT EXISTS metadata (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

type scanner interface {
	Scan(dest ...any) error
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func timePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromMillis(n.Int64)
	return &t
}
