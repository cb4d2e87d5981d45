package connector

import (
	"database/sql"
	"time"
)

// Run is one row of the runs table.
type Run struct {
	ID           int64
	RunID        string
	BotID        string
	Mode         string
	Status       string
	Topics       int
	StepsOK      int
	StepsSkipped int
	StepsFailed  int
	Output       string
	Error        string
	StartedAt    time.Time
	FinishedAt   time.Time
}

// TableNames represents database table names
type TableNames struct {
	Runs      string `mapstructure:"runs" yaml:"runs"`
	Documents string `mapstructure:"documents" yaml:"documents"`
}

// Dialect hides the SQL differences between backends.
type Dialect interface {
	Name() string
	// Placeholder returns the bind marker for the 1-based argument index.
	Placeholder(index int) string
	Connect(dsn string) (*sql.DB, error)
	EnsureStatements(th TableNames) []string
	// UpsertDocument returns an insert that replaces an existing document for the run.
	UpsertDocument(th TableNames) string
	TimeToStorage(t time.Time) any
	TimeFromStorage(v any) (time.Time, error)
}
