package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/botexport/internal/common"
)

func openSqlite(t *testing.T) *Store {
	t.Helper()
	st, err := Open(context.Background(), Config{
		Driver: DriverSqlite,
		Sqlite: SqliteConfig{Path: filepath.Join(t.TempDir(), "runs.db")},
		Logger: common.Discard(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func sampleRun(id string, started time.Time) Run {
	return Run{
		RunID:        id,
		BotID:        "123",
		Mode:         "token",
		Status:       StatusCompleted,
		Topics:       42,
		StepsOK:      40,
		StepsSkipped: 1,
		StepsFailed:  1,
		Output:       "discord_bot_export_123_20240501_120000.json",
		StartedAt:    started,
		FinishedAt:   started.Add(3 * time.Second),
	}
}

func TestSqliteRecordAndList(t *testing.T) {
	ctx := context.Background()
	st := openSqlite(t)
	assert.Equal(t, "sqlite", st.Driver())

	base := time.Date(2024, 5, 1, 12, 0, 0, 123456789, time.UTC)
	id1, err := st.RecordRun(ctx, sampleRun("run-a", base))
	require.NoError(t, err)
	aborted := sampleRun("run-b", base.Add(time.Hour))
	aborted.Status = StatusAborted
	aborted.Error = "GET /users/@me: credential rejected by platform (401)"
	aborted.Output = ""
	id2, err := st.RecordRun(ctx, aborted)
	require.NoError(t, err)
	assert.Greater(t, id2, id1)

	runs, err := st.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-b", runs[0].RunID)
	assert.Equal(t, StatusAborted, runs[0].Status)
	assert.Empty(t, runs[0].Output)
	assert.Contains(t, runs[0].Error, "401")
	assert.True(t, runs[1].StartedAt.Equal(base))
	assert.Equal(t, 3*time.Second, runs[1].FinishedAt.Sub(runs[1].StartedAt))

	limited, err := st.ListRuns(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	got, err := st.GetRun(ctx, "run-a")
	require.NoError(t, err)
	assert.Equal(t, 42, got.Topics)
	assert.Equal(t, 1, got.StepsFailed)

	_, err = st.GetRun(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSqliteDuplicateRunID(t *testing.T) {
	ctx := context.Background()
	st := openSqlite(t)
	_, err := st.RecordRun(ctx, sampleRun("dup", time.Now()))
	require.NoError(t, err)
	_, err = st.RecordRun(ctx, sampleRun("dup", time.Now()))
	assert.Error(t, err)
}

func TestSqliteDocuments(t *testing.T) {
	ctx := context.Background()
	st := openSqlite(t)

	_, err := st.LoadDocument(ctx, "run-a")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, st.SaveDocument(ctx, "run-a", []byte(`{"guilds":[]}`)))
	require.NoError(t, st.SaveDocument(ctx, "run-a", []byte(`{"guilds":[{"id":"1"}]}`)))
	body, err := st.LoadDocument(ctx, "run-a")
	require.NoError(t, err)
	assert.JSONEq(t, `{"guilds":[{"id":"1"}]}`, string(body))
}

func TestReopenKeepsHistory(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "runs.db")
	cfg := Config{Sqlite: SqliteConfig{Path: path}, Logger: common.Discard()}

	st, err := Open(ctx, cfg)
	require.NoError(t, err)
	_, err = st.RecordRun(ctx, sampleRun("run-a", time.Now()))
	require.NoError(t, err)
	require.NoError(t, st.Close())

	st, err = Open(ctx, cfg)
	require.NoError(t, err)
	defer func() { _ = st.Close() }()
	runs, err := st.ListRuns(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestCustomTableNames(t *testing.T) {
	ctx := context.Background()
	st, err := Open(ctx, Config{
		TableNames: TableNames{Runs: "bot_runs", Documents: "bot_docs"},
		Logger:     common.Discard(),
	})
	require.NoError(t, err)
	defer func() { _ = st.Close() }()

	_, err = st.RecordRun(ctx, sampleRun("run-a", time.Now()))
	require.NoError(t, err)
	var n int
	require.NoError(t, st.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM bot_runs").Scan(&n))
	assert.Equal(t, 1, n)
}

func TestOpenRejectsBadConfig(t *testing.T) {
	ctx := context.Background()
	_, err := Open(ctx, Config{Driver: "mysql"})
	assert.Error(t, err)

	_, err = Open(ctx, Config{TableNames: TableNames{Runs: "runs; DROP TABLE x"}})
	assert.Error(t, err)

	_, err = Open(ctx, Config{Driver: DriverPostgresql})
	assert.Error(t, err)
}
