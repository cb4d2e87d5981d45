package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/botexport/internal/constants"
	"github.com/loykin/botexport/internal/output"
	"github.com/loykin/botexport/internal/store"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigDocument(t *testing.T) {
	path := writeConfig(t, `
api:
  base_url: http://localhost:9999/api/v10
  timeout: 10s
  auth_scheme: Bot
auth:
  token: from-file
retry:
  max_attempts: 5
  retry_delay: 2s
pacing: 250ms
steps:
  only: [guilds]
output:
  format: yaml
  pretty: true
store:
  type: sqlite
  sqlite:
    path: runs.db
  table_prefix: bx
logging:
  level: debug
`)
	v := viper.New()
	v.Set("config", path)
	doc, err := loadConfig(v)
	require.NoError(t, err)

	assert.Equal(t, "from-file", doc.Auth.Token)
	assert.Equal(t, []string{"guilds"}, doc.Steps.Only)

	rc, err := doc.RetryConfig()
	require.NoError(t, err)
	assert.Equal(t, 5, rc.MaxAttempts)
	assert.Equal(t, 2*time.Second, rc.RetryDelay)
	assert.Equal(t, constants.DefaultRateLimitWait, rc.RateLimitDefault)

	opts, err := doc.ExporterOptions(nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, opts.Pacing)
	assert.Equal(t, 10*time.Second, opts.Timeout)
	assert.Equal(t, "http://localhost:9999/api/v10", opts.BaseURL)

	out, err := doc.OutputOptions()
	require.NoError(t, err)
	assert.Equal(t, output.FormatYAML, out.Format)
	assert.True(t, out.Pretty)

	sc, err := doc.Store.ToStoreConfig(nil)
	require.NoError(t, err)
	assert.Equal(t, store.DriverSqlite, sc.Driver)
	assert.Equal(t, "runs.db", sc.Sqlite.Path)
	assert.Equal(t, store.TableNames{Runs: "bx_runs", Documents: "bx_documents"}, sc.TableNames)
}

func TestFlagsOverrideConfig(t *testing.T) {
	path := writeConfig(t, "auth:\n  token: from-file\npacing: 1s\n")
	v := viper.New()
	v.Set("config", path)
	v.Set("token", "from-flag")
	v.Set("pacing", "0s")
	v.Set("skip", []string{"guild_bans"})
	v.Set("no_store", true)

	doc, err := loadConfig(v)
	require.NoError(t, err)
	assert.Equal(t, "from-flag", doc.Auth.Token)
	assert.Equal(t, "0s", doc.Pacing)
	assert.Equal(t, []string{"guild_bans"}, doc.Steps.Skip)

	sc, err := doc.Store.ToStoreConfig(nil)
	require.NoError(t, err)
	assert.Nil(t, sc)
}

func TestEnvOverridesConfig(t *testing.T) {
	t.Setenv("BOTEXPORT_BOT_ID", "4242")
	v := viper.New()
	v.SetEnvPrefix(constants.EnvPrefix)
	v.AutomaticEnv()

	doc, err := loadConfig(v)
	require.NoError(t, err)
	cred, err := doc.Credential(context.Background())
	require.NoError(t, err)
	assert.False(t, cred.HasToken())
	assert.Equal(t, "4242", cred.BotID())
}

func TestTokenFromEnv(t *testing.T) {
	t.Setenv("MY_BOT_TOKEN", "MTIz.abc.def")
	doc := &ConfigDoc{Auth: AuthConfig{TokenFromEnv: "MY_BOT_TOKEN"}, API: APIConfig{AuthScheme: "Bot"}}
	cred, err := doc.Credential(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bot MTIz.abc.def", cred.AuthorizationHeader())
	assert.Equal(t, "123", cred.BotID())
}

func TestConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  ConfigDoc
		run  func(*ConfigDoc) error
	}{
		{"bad pacing", ConfigDoc{Pacing: "soon"}, func(d *ConfigDoc) error { _, err := d.ExporterOptions(nil, nil, nil); return err }},
		{"negative delay", ConfigDoc{Retry: RetryConfig{RetryDelay: "-1s"}}, func(d *ConfigDoc) error { _, err := d.RetryConfig(); return err }},
		{"bad format", ConfigDoc{Output: OutputConfig{Format: "xml"}}, func(d *ConfigDoc) error { _, err := d.OutputOptions(); return err }},
		{"bad store", ConfigDoc{Store: StoreConfig{Type: "mysql"}}, func(d *ConfigDoc) error { _, err := d.Store.ToStoreConfig(nil); return err }},
		{"bad level", ConfigDoc{Logging: LoggingConfig{Level: "loud"}}, func(d *ConfigDoc) error { _, err := d.SetupLogging(); return err }},
		{"bad log format", ConfigDoc{Logging: LoggingConfig{Format: "xml"}}, func(d *ConfigDoc) error { _, err := d.SetupLogging(); return err }},
		{"no credential", ConfigDoc{}, func(d *ConfigDoc) error { _, err := d.Credential(context.Background()); return err }},
		{"both credentials", ConfigDoc{Auth: AuthConfig{Token: "a.b.c", BotID: "1"}}, func(d *ConfigDoc) error { _, err := d.Credential(context.Background()); return err }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.run(&tt.doc))
		})
	}
}

func TestLoadRejectsUnknownKeysAndDirectories(t *testing.T) {
	var doc ConfigDoc
	assert.Error(t, doc.Load(writeConfig(t, "not_a_section: 1\n")))
	assert.Error(t, doc.Load(t.TempDir()))
}

func TestPostgresStoreConfig(t *testing.T) {
	sc := StoreConfig{Type: "postgres", Postgres: PostgresStoreConfig{Host: "db", User: "u", DBName: "runs"}}
	cfg, err := sc.ToStoreConfig(nil)
	require.NoError(t, err)
	assert.Equal(t, store.DriverPostgresql, cfg.Driver)
	assert.Equal(t, "db", cfg.Postgres.Host)
}
