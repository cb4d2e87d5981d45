package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/loykin/botexport"
	"github.com/loykin/botexport/internal/common"
	"github.com/loykin/botexport/internal/constants"
	"github.com/loykin/botexport/internal/credential"
	"github.com/loykin/botexport/internal/output"
	"github.com/loykin/botexport/internal/store"
	"github.com/loykin/botexport/internal/telemetry"
)

type APIConfig struct {
	BaseURL    string `mapstructure:"base_url" yaml:"base_url"`
	UserAgent  string `mapstructure:"user_agent" yaml:"user_agent"`
	Timeout    string `mapstructure:"timeout" yaml:"timeout"`
	AuthScheme string `mapstructure:"auth_scheme" yaml:"auth_scheme"`
}

type ClientConfig struct {
	Insecure      bool   `mapstructure:"insecure" yaml:"insecure"`
	MinTLSVersion string `mapstructure:"min_tls_version" yaml:"min_tls_version"`
	MaxTLSVersion string `mapstructure:"max_tls_version" yaml:"max_tls_version"`
}

type AuthConfig struct {
	Token string `mapstructure:"token" yaml:"token"`
	// TokenFromEnv names an environment variable holding the token.
	TokenFromEnv string                              `mapstructure:"token_from_env" yaml:"token_from_env"`
	BotID        string                              `mapstructure:"bot_id" yaml:"bot_id"`
	OAuth2       *credential.ClientCredentialsConfig `mapstructure:"oauth2" yaml:"oauth2"`
}

// RetryConfig holds durations as strings such as "5s" or "500ms".
type RetryConfig struct {
	MaxAttempts      int     `mapstructure:"max_attempts" yaml:"max_attempts"`
	RetryDelay       string  `mapstructure:"retry_delay" yaml:"retry_delay"`
	RateLimitDefault string  `mapstructure:"rate_limit_default" yaml:"rate_limit_default"`
	BackoffFactor    float64 `mapstructure:"backoff_factor" yaml:"backoff_factor"`
	MaxDelay         string  `mapstructure:"max_delay" yaml:"max_delay"`
}

type StepsConfig struct {
	Only []string `mapstructure:"only" yaml:"only"`
	Skip []string `mapstructure:"skip" yaml:"skip"`
}

type OutputConfig struct {
	Path   string `mapstructure:"path" yaml:"path"`
	Dir    string `mapstructure:"dir" yaml:"dir"`
	Format string `mapstructure:"format" yaml:"format"`
	Pretty bool   `mapstructure:"pretty" yaml:"pretty"`
	Stdout bool   `mapstructure:"stdout" yaml:"stdout"`
}

type SQLiteStoreConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

type PostgresStoreConfig struct {
	DSN      string `mapstructure:"dsn" yaml:"dsn"`
	Host     string `mapstructure:"host" yaml:"host"`
	Port     int    `mapstructure:"port" yaml:"port"`
	User     string `mapstructure:"user" yaml:"user"`
	Password string `mapstructure:"password" yaml:"password"`
	DBName   string `mapstructure:"dbname" yaml:"dbname"`
	SSLMode  string `mapstructure:"sslmode" yaml:"sslmode"`
}

type StoreConfig struct {
	Disabled     bool                `mapstructure:"disabled" yaml:"disabled"`
	Type         string              `mapstructure:"type" yaml:"type"`
	SQLite       SQLiteStoreConfig   `mapstructure:"sqlite" yaml:"sqlite"`
	Postgres     PostgresStoreConfig `mapstructure:"postgres" yaml:"postgres"`
	SaveDocument bool                `mapstructure:"save_document" yaml:"save_document"`
	// Optional table name customization
	TablePrefix    string `mapstructure:"table_prefix" yaml:"table_prefix"`
	TableRuns      string `mapstructure:"table_runs" yaml:"table_runs"`
	TableDocuments string `mapstructure:"table_documents" yaml:"table_documents"`
}

type LoggingConfig struct {
	Level         string `mapstructure:"level" yaml:"level"`                   // error, warn, info, debug
	Format        string `mapstructure:"format" yaml:"format"`                 // text, json, color
	MaskSensitive *bool  `mapstructure:"mask_sensitive" yaml:"mask_sensitive"` // enable/disable sensitive data masking
	Color         *bool  `mapstructure:"color" yaml:"color"`                   // enable/disable colorized output
}

type MetricsConfig struct {
	// Textfile is written in the node exporter textfile format after a run.
	Textfile string `mapstructure:"textfile" yaml:"textfile"`
}

type ConfigDoc struct {
	API       APIConfig        `mapstructure:"api" yaml:"api"`
	Client    ClientConfig     `mapstructure:"client" yaml:"client"`
	Auth      AuthConfig       `mapstructure:"auth" yaml:"auth"`
	Retry     RetryConfig      `mapstructure:"retry" yaml:"retry"`
	Pacing    string           `mapstructure:"pacing" yaml:"pacing"`
	Steps     StepsConfig      `mapstructure:"steps" yaml:"steps"`
	Output    OutputConfig     `mapstructure:"output" yaml:"output"`
	Store     StoreConfig      `mapstructure:"store" yaml:"store"`
	Logging   LoggingConfig    `mapstructure:"logging" yaml:"logging"`
	Telemetry telemetry.Config `mapstructure:"telemetry" yaml:"telemetry"`
	Metrics   MetricsConfig    `mapstructure:"metrics" yaml:"metrics"`
}

func (c *ConfigDoc) Load(path string) error {
	clean := filepath.Clean(path)
	// Ensure path points to a regular file to avoid opening directories/special files
	if info, statErr := os.Stat(clean); statErr != nil || !info.Mode().IsRegular() {
		if statErr != nil {
			return statErr
		}
		return fmt.Errorf("not a regular file: %s", clean)
	}
	// #nosec G304 -- config path is provided intentionally by the user/CI; cleaned and validated above
	f, err := os.Open(clean)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		return fmt.Errorf("parse %s: %w", clean, err)
	}
	return nil
}

// loadConfig reads the config file when one is named, then lets flags and
// BOTEXPORT_* variables override it.
func loadConfig(v *viper.Viper) (*ConfigDoc, error) {
	var doc ConfigDoc
	if path := strings.TrimSpace(v.GetString("config")); path != "" {
		if err := doc.Load(path); err != nil {
			return nil, err
		}
	}
	doc.override(v)
	return &doc, nil
}

func (c *ConfigDoc) override(v *viper.Viper) {
	str := func(key string, dst *string) {
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}
	flag := func(key string, dst *bool) {
		if v.IsSet(key) {
			*dst = v.GetBool(key)
		}
	}
	list := func(key string, dst *[]string) {
		if v.IsSet(key) {
			*dst = v.GetStringSlice(key)
		}
	}
	str("token", &c.Auth.Token)
	str("bot_id", &c.Auth.BotID)
	str("auth_scheme", &c.API.AuthScheme)
	str("base_url", &c.API.BaseURL)
	str("pacing", &c.Pacing)
	list("only", &c.Steps.Only)
	list("skip", &c.Steps.Skip)
	str("output", &c.Output.Path)
	str("output_dir", &c.Output.Dir)
	str("format", &c.Output.Format)
	flag("pretty", &c.Output.Pretty)
	flag("stdout", &c.Output.Stdout)
	str("log_level", &c.Logging.Level)
	str("log_format", &c.Logging.Format)
	flag("no_store", &c.Store.Disabled)
	str("db", &c.Store.SQLite.Path)
	flag("save_document", &c.Store.SaveDocument)
	str("metrics_textfile", &c.Metrics.Textfile)
	str("otlp_endpoint", &c.Telemetry.Endpoint)
}

func parseDuration(field, s string, def time.Duration) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", field, s, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid %s %q: negative", field, s)
	}
	return d, nil
}

func (c *ConfigDoc) credentialSource() credential.Source {
	token := strings.TrimSpace(c.Auth.Token)
	if token == "" && strings.TrimSpace(c.Auth.TokenFromEnv) != "" {
		token = os.Getenv(strings.TrimSpace(c.Auth.TokenFromEnv))
		if token == "" {
			common.LogWarn("token variable requested but empty or not set", "env_var", c.Auth.TokenFromEnv)
		}
	}
	return credential.Source{Token: token, Scheme: c.API.AuthScheme, BotID: c.Auth.BotID, OAuth2: c.Auth.OAuth2}
}

// Credential resolves the configured credential and registers its secret with the log masker.
func (c *ConfigDoc) Credential(ctx context.Context) (*botexport.Credential, error) {
	cred, err := credential.Resolve(ctx, c.credentialSource())
	if err != nil {
		return nil, err
	}
	if cred.HasToken() {
		common.GetGlobalMasker().AddLiteral(cred.Token())
	}
	return cred, nil
}

func (c *ConfigDoc) RetryConfig() (*botexport.RetryConfig, error) {
	rc := botexport.DefaultRetryConfig()
	if c.Retry.MaxAttempts > 0 {
		rc.MaxAttempts = c.Retry.MaxAttempts
	}
	if c.Retry.BackoffFactor > 0 {
		rc.BackoffFactor = c.Retry.BackoffFactor
	}
	var err error
	if rc.RetryDelay, err = parseDuration("retry.retry_delay", c.Retry.RetryDelay, rc.RetryDelay); err != nil {
		return nil, err
	}
	if rc.RateLimitDefault, err = parseDuration("retry.rate_limit_default", c.Retry.RateLimitDefault, rc.RateLimitDefault); err != nil {
		return nil, err
	}
	if rc.MaxDelay, err = parseDuration("retry.max_delay", c.Retry.MaxDelay, rc.MaxDelay); err != nil {
		return nil, err
	}
	return rc, nil
}

// ExporterOptions maps the document onto the library options.
func (c *ConfigDoc) ExporterOptions(cred *botexport.Credential, logger *botexport.Logger, m *botexport.Metrics) (botexport.Options, error) {
	rc, err := c.RetryConfig()
	if err != nil {
		return botexport.Options{}, err
	}
	pacing, err := parseDuration("pacing", c.Pacing, constants.DefaultPacing)
	if err != nil {
		return botexport.Options{}, err
	}
	timeout, err := parseDuration("api.timeout", c.API.Timeout, constants.DefaultRequestTimeout)
	if err != nil {
		return botexport.Options{}, err
	}
	return botexport.Options{
		Credential:    cred,
		BaseURL:       strings.TrimSpace(c.API.BaseURL),
		UserAgent:     strings.TrimSpace(c.API.UserAgent),
		Timeout:       timeout,
		Insecure:      c.Client.Insecure,
		MinTLSVersion: c.Client.MinTLSVersion,
		MaxTLSVersion: c.Client.MaxTLSVersion,
		Trace:         c.Telemetry.Enabled(),
		Retry:         rc,
		Pacing:        pacing,
		Only:          c.Steps.Only,
		Skip:          c.Steps.Skip,
		Logger:        logger,
		Metrics:       m,
	}, nil
}

func (c *ConfigDoc) OutputOptions() (output.Options, error) {
	f, err := output.ParseFormat(c.Output.Format)
	if err != nil {
		return output.Options{}, err
	}
	return output.Options{
		Path:   strings.TrimSpace(c.Output.Path),
		Dir:    strings.TrimSpace(c.Output.Dir),
		Format: f,
		Pretty: c.Output.Pretty,
		Stdout: c.Output.Stdout,
	}, nil
}

func (c *StoreConfig) deriveTableNames() store.TableNames {
	prefix := strings.TrimSpace(c.TablePrefix)
	runs := strings.TrimSpace(c.TableRuns)
	docs := strings.TrimSpace(c.TableDocuments)
	if prefix != "" {
		if runs == "" {
			runs = prefix + "_runs"
		}
		if docs == "" {
			docs = prefix + "_documents"
		}
	}
	return store.TableNames{Runs: runs, Documents: docs}
}

// ToStoreConfig returns nil when the store is disabled.
func (c *StoreConfig) ToStoreConfig(logger *botexport.Logger) (*store.Config, error) {
	if c.Disabled {
		return nil, nil
	}
	out := &store.Config{TableNames: c.deriveTableNames(), Logger: logger}
	switch strings.ToLower(strings.TrimSpace(c.Type)) {
	case "", store.DriverSqlite:
		out.Driver = store.DriverSqlite
		out.Sqlite.Path = strings.TrimSpace(c.SQLite.Path)
		if out.Sqlite.Path == "" {
			out.Sqlite.Path = constants.DefaultSQLitePath
		}
	case store.DriverPostgresql, "postgres":
		out.Driver = store.DriverPostgresql
		out.Postgres = store.PostgresConfig{
			DSN:      strings.TrimSpace(c.Postgres.DSN),
			Host:     strings.TrimSpace(c.Postgres.Host),
			Port:     c.Postgres.Port,
			User:     strings.TrimSpace(c.Postgres.User),
			Password: c.Postgres.Password,
			DBName:   strings.TrimSpace(c.Postgres.DBName),
			SSLMode:  strings.TrimSpace(c.Postgres.SSLMode),
		}
	default:
		return nil, fmt.Errorf("unsupported store type %q (valid: sqlite, postgresql)", c.Type)
	}
	return out, nil
}

// SetupLogging configures the global logger based on config settings
func (c *ConfigDoc) SetupLogging() (*botexport.Logger, error) {
	level := strings.ToLower(strings.TrimSpace(c.Logging.Level))
	switch level {
	case "", "error", "warn", "warning", "info", "debug":
	default:
		return nil, fmt.Errorf("invalid logging level: %s (valid: error, warn, info, debug)", c.Logging.Level)
	}

	format := common.Format(strings.ToLower(strings.TrimSpace(c.Logging.Format)))
	switch format {
	case "", common.FormatText:
		format = common.FormatText
		if c.Logging.Color != nil && *c.Logging.Color {
			format = common.FormatColor
		}
	case common.FormatJSON, common.FormatColor:
	case "colour":
		format = common.FormatColor
	default:
		return nil, fmt.Errorf("invalid logging format: %s (valid: text, json, color)", c.Logging.Format)
	}

	logger := common.New(common.Options{Level: common.ParseLogLevel(level), Format: format, Color: c.Logging.Color})

	maskingEnabled := true
	if c.Logging.MaskSensitive != nil {
		maskingEnabled = *c.Logging.MaskSensitive
	}
	common.EnableMasking(maskingEnabled)
	common.SetDefaultLogger(logger)

	logger.Debug("logging configured", "level", logger.Level().String(), "format", string(format), "mask_sensitive", maskingEnabled)
	return logger, nil
}
