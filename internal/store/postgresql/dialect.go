package postgresql

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/loykin/botexport/internal/constants"
	"github.com/loykin/botexport/internal/store/connector"
)

// Dialect implements SQL dialect for PostgreSQL
type Dialect struct{}

func NewDialect() *Dialect {
	return &Dialect{}
}

func (d *Dialect) Name() string { return "postgresql" }

// Placeholder returns PostgreSQL-style placeholders ($1, $2, etc.)
func (d *Dialect) Placeholder(index int) string {
	return fmt.Sprintf("$%d", index)
}

func (d *Dialect) Connect(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open PostgreSQL connection: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL database: %w", err)
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(constants.DefaultMaxConnLifetime)
	return db, nil
}

func (d *Dialect) EnsureStatements(th connector.TableNames) []string {
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id BIGSERIAL PRIMARY KEY,
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
			started_at TIMESTAMPTZ NOT NULL,
			finished_at TIMESTAMPTZ NOT NULL
		)`, th.Runs),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			run_id TEXT PRIMARY KEY,
			body TEXT NOT NULL,
			saved_at TIMESTAMPTZ NOT NULL
		)`, th.Documents),
	}
}

func (d *Dialect) UpsertDocument(th connector.TableNames) string {
	return fmt.Sprintf(`INSERT INTO %s(run_id, body, saved_at) VALUES($1, $2, $3)
		ON CONFLICT (run_id) DO UPDATE SET body = EXCLUDED.body, saved_at = EXCLUDED.saved_at`, th.Documents)
}

// TimeToStorage passes native time.Time values.
func (d *Dialect) TimeToStorage(t time.Time) any {
	return t.UTC()
}

func (d *Dialect) TimeFromStorage(v any) (time.Time, error) {
	switch x := v.(type) {
	case time.Time:
		return x.UTC(), nil
	case *time.Time:
		if x == nil {
			return time.Time{}, nil
		}
		return x.UTC(), nil
	case nil:
		return time.Time{}, nil
	}
	return time.Time{}, fmt.Errorf("unexpected postgresql time value %T", v)
}
