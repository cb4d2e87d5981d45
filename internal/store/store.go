// Package store keeps a history of export runs, and optionally the exported
// documents, in SQLite or PostgreSQL.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/loykin/botexport/internal/common"
	"github.com/loykin/botexport/internal/constants"
	"github.com/loykin/botexport/internal/retry"
	"github.com/loykin/botexport/internal/store/connector"
	"github.com/loykin/botexport/internal/store/postgresql"
	"github.com/loykin/botexport/internal/store/sqlite"
)

const (
	DriverSqlite     = "sqlite"
	DriverPostgresql = "postgresql"
)

// Run statuses.
const (
	StatusCompleted = "completed"
	StatusAborted   = "aborted"
)

var ErrNotFound = errors.New("store: not found")

type (
	Run            = connector.Run
	TableNames     = connector.TableNames
	SqliteConfig   = sqlite.Config
	PostgresConfig = postgresql.Config
)

type Config struct {
	Driver     string         `mapstructure:"type" yaml:"type"`
	Sqlite     SqliteConfig   `mapstructure:"sqlite" yaml:"sqlite"`
	Postgres   PostgresConfig `mapstructure:"postgres" yaml:"postgres"`
	TableNames TableNames     `mapstructure:"table_names" yaml:"table_names"`
	// Retry governs writes; DefaultStoreConfig when nil.
	Retry  *retry.Config  `mapstructure:"-" yaml:"-"`
	Logger *common.Logger `mapstructure:"-" yaml:"-"`
}

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func (c Config) tables() (TableNames, error) {
	th := c.TableNames
	if th.Runs == "" {
		th.Runs = constants.DefaultRunsTable
	}
	if th.Documents == "" {
		th.Documents = constants.DefaultDocumentsTable
	}
	for _, n := range []string{th.Runs, th.Documents} {
		if !identifier.MatchString(n) {
			return th, fmt.Errorf("store: invalid table name %q", n)
		}
	}
	return th, nil
}

type Store struct {
	db      *sql.DB
	dialect connector.Dialect
	tables  TableNames
	retry   *retry.Config
	logger  *common.Logger
}

// Open connects to the configured backend and creates the tables when missing.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	th, err := cfg.tables()
	if err != nil {
		return nil, err
	}

	var (
		dialect connector.Dialect
		dsn     string
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", DriverSqlite, "sqlite3":
		dialect = sqlite.NewDialect()
		dsn = cfg.Sqlite.DSN()
	case DriverPostgresql, "postgres", "pg":
		dialect = postgresql.NewDialect()
		if dsn, err = cfg.Postgres.ConnString(); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("store: unsupported driver %q", cfg.Driver)
	}

	logger := common.OrDefault(cfg.Logger).WithStore(dialect.Name())
	rc := cfg.Retry
	if rc == nil {
		rc = retry.DefaultStoreConfig()
	}

	var db *sql.DB
	err = retry.WithRetry(ctx, rc, func() error {
		var cerr error
		db, cerr = dialect.Connect(dsn)
		return cerr
	})
	if err != nil {
		logger.Error("failed to connect", "error", err)
		return nil, err
	}

	s := &Store{db: db, dialect: dialect, tables: th, retry: rc, logger: logger}
	if err := s.ensure(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Debug("store ready", "runs_table", th.Runs, "documents_table", th.Documents)
	return s, nil
}

func (s *Store) ensure(ctx context.Context) error {
	for i, q := range s.dialect.EnsureStatements(s.tables) {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			s.logger.Error("failed to create table", "error", err, "statement", i+1)
			return fmt.Errorf("store: create table %d: %w", i+1, err)
		}
	}
	return nil
}

func (s *Store) Driver() string { return s.dialect.Name() }

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) placeholders(n int) string {
	ph := make([]string, n)
	for i := range ph {
		ph[i] = s.dialect.Placeholder(i + 1)
	}
	return strings.Join(ph, ", ")
}

// RecordRun inserts a run and returns its row id.
func (s *Store) RecordRun(ctx context.Context, r Run) (int64, error) {
	q := fmt.Sprintf(`INSERT INTO %s(run_id, bot_id, mode, status, topics, steps_ok, steps_skipped, steps_failed,
		output, error, started_at, finished_at) VALUES(%s) RETURNING id`, s.tables.Runs, s.placeholders(12))

	var id int64
	err := retry.WithRetry(ctx, s.retry, func() error {
		return s.db.QueryRowContext(ctx, q,
			r.RunID, r.BotID, r.Mode, r.Status, r.Topics, r.StepsOK, r.StepsSkipped, r.StepsFailed,
			nullable(r.Output), nullable(r.Error),
			s.dialect.TimeToStorage(r.StartedAt), s.dialect.TimeToStorage(r.FinishedAt),
		).Scan(&id)
	})
	if err != nil {
		s.logger.Error("failed to record run", "error", err, "run_id", r.RunID)
		return 0, fmt.Errorf("store: record run %s: %w", r.RunID, err)
	}
	s.logger.Debug("run recorded", "run_id", r.RunID, "id", id, "status", r.Status)
	return id, nil
}

// SaveDocument stores the serialized document of a run, replacing any earlier copy.
func (s *Store) SaveDocument(ctx context.Context, runID string, body []byte) error {
	q := s.dialect.UpsertDocument(s.tables)
	_, err := retry.WithRetryExec(ctx, s.retry, func() (sql.Result, error) {
		return s.db.ExecContext(ctx, q, runID, string(body), s.dialect.TimeToStorage(time.Now()))
	})
	if err != nil {
		s.logger.Error("failed to save document", "error", err, "run_id", runID)
		return fmt.Errorf("store: save document %s: %w", runID, err)
	}
	return nil
}

func (s *Store) LoadDocument(ctx context.Context, runID string) ([]byte, error) {
	q := fmt.Sprintf("SELECT body FROM %s WHERE run_id = %s", s.tables.Documents, s.dialect.Placeholder(1))
	var body string
	err := s.db.QueryRowContext(ctx, q, runID).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: document for run %s", ErrNotFound, runID)
	}
	if err != nil {
		return nil, err
	}
	return []byte(body), nil
}

const runColumns = `id, run_id, bot_id, mode, status, topics, steps_ok, steps_skipped, steps_failed,
	output, error, started_at, finished_at`

// ListRuns returns runs newest first; limit <= 0 returns all.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	q := fmt.Sprintf("SELECT %s FROM %s ORDER BY id DESC", runColumns, s.tables.Runs)
	var args []any
	if limit > 0 {
		q += " LIMIT " + s.dialect.Placeholder(1)
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Run
	for rows.Next() {
		r, err := s.scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetRun finds a run by its run id.
func (s *Store) GetRun(ctx context.Context, runID string) (Run, error) {
	q := fmt.Sprintf("SELECT %s FROM %s WHERE run_id = %s", runColumns, s.tables.Runs, s.dialect.Placeholder(1))
	r, err := s.scanRun(s.db.QueryRowContext(ctx, q, runID))
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: run %s", ErrNotFound, runID)
	}
	return r, err
}

type scanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanRun(sc scanner) (Run, error) {
	var (
		r                 Run
		output, errText   sql.NullString
		started, finished any
	)
	if err := sc.Scan(&r.ID, &r.RunID, &r.BotID, &r.Mode, &r.Status, &r.Topics, &r.StepsOK, &r.StepsSkipped,
		&r.StepsFailed, &output, &errText, &started, &finished); err != nil {
		return Run{}, err
	}
	r.Output = output.String
	r.Error = errText.String
	var err error
	if r.StartedAt, err = s.dialect.TimeFromStorage(started); err != nil {
		return Run{}, err
	}
	if r.FinishedAt, err = s.dialect.TimeFromStorage(finished); err != nil {
		return Run{}, err
	}
	return r, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
