package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/loykin/botexport"
	"github.com/loykin/botexport/internal/common"
	"github.com/loykin/botexport/internal/sandbox"
	"github.com/loykin/botexport/internal/store"
)

func sandboxViper(t *testing.T) (*viper.Viper, *sandbox.Server, string) {
	t.Helper()
	sb := sandbox.New(sandbox.Options{Logger: common.Discard()})
	srv := httptest.NewServer(sb.Handler())
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	v := viper.New()
	v.Set("token", sb.Token())
	v.Set("auth_scheme", "Bot")
	v.Set("base_url", srv.URL+sandbox.BasePath)
	v.Set("pacing", "0s")
	v.Set("output_dir", dir)
	v.Set("db", filepath.Join(dir, "runs.db"))
	v.Set("log_level", "error")
	return v, sb, dir
}

func openRuns(t *testing.T, dir string) *store.Store {
	t.Helper()
	st, err := store.Open(context.Background(), store.Config{Driver: store.DriverSqlite, Sqlite: store.SqliteConfig{Path: filepath.Join(dir, "runs.db")}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestExportCommandWritesDocumentAndHistory(t *testing.T) {
	v, sb, dir := sandboxViper(t)
	v.Set("save_document", true)
	v.Set("metrics_textfile", filepath.Join(dir, "botexport.prom"))

	var stdout, stderr bytes.Buffer
	require.NoError(t, runExport(context.Background(), v, &stdout, &stderr))
	assert.Empty(t, stdout.String())
	assert.Contains(t, stderr.String(), "0 failed")

	matches, err := filepath.Glob(filepath.Join(dir, "discord_bot_export_"+sb.Fixture().AppID+"_*.json"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
	body, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	assert.Len(t, gjson.GetBytes(body, "guilds").Array(), 2)

	runs, err := openRuns(t, dir).ListRuns(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, store.StatusCompleted, runs[0].Status)
	assert.Equal(t, matches[0], runs[0].Output)
	assert.Equal(t, "token", runs[0].Mode)

	stored, err := openRuns(t, dir).LoadDocument(context.Background(), runs[0].RunID)
	require.NoError(t, err)
	assert.JSONEq(t, string(body), string(stored))

	prom, err := os.ReadFile(filepath.Join(dir, "botexport.prom"))
	require.NoError(t, err)
	assert.Contains(t, string(prom), "botexport_requests_total")

	var listing bytes.Buffer
	require.NoError(t, showRuns(context.Background(), v, "", &listing))
	assert.Contains(t, listing.String(), runs[0].RunID)
	assert.Contains(t, listing.String(), "completed")
}

func TestExportCommandStdout(t *testing.T) {
	v, _, dir := sandboxViper(t)
	v.Set("stdout", true)
	v.Set("only", []string{"basic_info"})
	v.Set("no_store", true)

	var stdout, stderr bytes.Buffer
	require.NoError(t, runExport(context.Background(), v, &stdout, &stderr))
	assert.True(t, gjson.Get(stdout.String(), "user_info.id").Exists())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestExportCommandAbortWritesNoDocument(t *testing.T) {
	v, sb, dir := sandboxViper(t)
	v.Set("token", sb.Fixture().Token("wrong"))

	var stdout, stderr bytes.Buffer
	err := runExport(context.Background(), v, &stdout, &stderr)
	require.Error(t, err)
	assert.ErrorIs(t, err, botexport.ErrUnauthorized)
	assert.Contains(t, stderr.String(), "aborted")

	matches, _ := filepath.Glob(filepath.Join(dir, "discord_bot_export_*"))
	assert.Empty(t, matches)

	runs, err := openRuns(t, dir).ListRuns(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, store.StatusAborted, runs[0].Status)
	assert.Empty(t, runs[0].Output)
	assert.Contains(t, runs[0].Error, "401")
}

func TestActionCommandSavesResult(t *testing.T) {
	v, sb, dir := sandboxViper(t)
	v.Set("action_output_dir", dir)
	params, err := parseParams([]string{"guild-id=" + sb.Fixture().Guilds[0].ID, "name=mods"})
	require.NoError(t, err)

	require.NoError(t, runAction(context.Background(), v, "create-role", params, &bytes.Buffer{}))
	body, err := os.ReadFile(filepath.Join(dir, "role_mods.json"))
	require.NoError(t, err)
	assert.Equal(t, "mods", gjson.GetBytes(body, "name").String())
	assert.Len(t, sb.Requests(), 1)
}

func TestActionCommandStdoutAndErrors(t *testing.T) {
	v, sb, _ := sandboxViper(t)
	v.Set("action_stdout", true)

	var out bytes.Buffer
	cid := sb.Fixture().Guilds[0].Channels[0].ID
	require.NoError(t, runAction(context.Background(), v, "get-messages", map[string]any{"channel_id": cid}, &out))
	assert.Len(t, gjson.Parse(out.String()).Array(), 2)

	err := runAction(context.Background(), v, "launch-rocket", nil, &out)
	assert.ErrorIs(t, err, botexport.ErrUnknownAction)

	err = runAction(context.Background(), v, "create-role", map[string]any{"name": "x"}, &out)
	assert.ErrorIs(t, err, botexport.ErrPrerequisite)

	err = runAction(context.Background(), v, "create-role", map[string]any{"guild_id": "1", "name": "x"}, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404: Unknown Guild")
}

func TestParseParams(t *testing.T) {
	got, err := parseParams([]string{"name=a=b", "--guild-id=1", "content="})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "a=b", "guild-id": "1", "content": ""}, got)

	_, err = parseParams([]string{"novalue"})
	assert.Error(t, err)
	_, err = parseParams([]string{"=x"})
	assert.Error(t, err)
}

func TestFunctionsListing(t *testing.T) {
	var out bytes.Buffer
	printFunctions(&out)
	text := out.String()
	for _, want := range []string{"Export steps", "application_info", "metadata", "Actions", "create-role", "guild_id, name"} {
		assert.Contains(t, text, want)
	}
	for _, a := range botexport.Actions() {
		assert.Contains(t, text, a.Name)
	}
}
