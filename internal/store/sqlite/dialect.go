package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/loykin/botexport/internal/store/connector"
)

// Dialect implements SQL dialect for SQLite
type Dialect struct{}

func NewDialect() *Dialect {
	return &Dialect{}
}

func (d *Dialect) Name() string { return "sqlite" }

// Placeholder ignores the index; SQLite binds positionally with "?".
func (d *Dialect) Placeholder(int) string { return "?" }

// Connect opens the database with a single connection, since SQLite allows one writer.
func (d *Dialect) Connect(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping SQLite database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(10 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return db, nil
}

func (d *Dialect) EnsureStatements(th connector.TableNames) []string {
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL UNIQUE,
			bot_id TEXT NOT NULL,
			mode TEXT NOT NULL,
			status TEXT NOT NULL,
			topics INTEGER NOT NULL DEFAULT 0,
			steps_ok INTEGER NOT NULL DEFAULT 0,
			steps_skipped INTEGER NOT NULL DEFAULT 0,
			steps_failed INTEGER NOT NULL DEFAULT 0,
			output TEXT NULL,
			error TEXT NULL,
			started_at TEXT NOT NULL,
			finished_at TEXT NOT NULL
		)`, th.Runs),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			run_id TEXT PRIMARY KEY,
			body TEXT NOT NULL,
			saved_at TEXT NOT NULL
		)`, th.Documents),
	}
}

func (d *Dialect) UpsertDocument(th connector.TableNames) string {
	return fmt.Sprintf("INSERT OR REPLACE INTO %s(run_id, body, saved_at) VALUES(?, ?, ?)", th.Documents)
}

// TimeToStorage stores RFC3339Nano text in UTC.
func (d *Dialect) TimeToStorage(t time.Time) any {
	return t.UTC().Format(time.RFC3339Nano)
}

func (d *Dialect) TimeFromStorage(v any) (time.Time, error) {
	switch x := v.(type) {
	case string:
		return time.Parse(time.RFC3339Nano, x)
	case []byte:
		return time.Parse(time.RFC3339Nano, string(x))
	case time.Time:
		return x, nil
	case nil:
		return time.Time{}, nil
	}
	return time.Time{}, fmt.Errorf("unexpected sqlite time value %T", v)
}
