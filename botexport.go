// Package botexport exports a bot application's configuration and usage data
// from the platform REST API into one document, and runs single mutating
// actions against the same API.
package botexport

import (
	"context"

	"github.com/loykin/botexport/internal/common"
	"github.com/loykin/botexport/internal/credential"
	"github.com/loykin/botexport/internal/dispatch"
	"github.com/loykin/botexport/internal/document"
	"github.com/loykin/botexport/internal/pipeline"
	"github.com/loykin/botexport/internal/retry"
	"github.com/loykin/botexport/internal/store"
	"github.com/loykin/botexport/internal/transport"
)

// Re-export commonly used types for public API

type (
	Document   = document.Document
	Value      = document.Value
	Credential = credential.Credential
	// CredentialSource is the loose credential input from flags and config.
	CredentialSource  = credential.Source
	ClientCredentials = credential.ClientCredentialsConfig

	Step       = pipeline.Step
	Report     = pipeline.Report
	StepReport = pipeline.StepReport

	Action = dispatch.Action
	Result = dispatch.Result

	RetryConfig = retry.Config

	Store          = store.Store
	StoreConfig    = store.Config
	SqliteConfig   = store.SqliteConfig
	PostgresConfig = store.PostgresConfig
	Run            = store.Run

	Logger   = common.Logger
	LogLevel = common.LogLevel
)

var (
	ErrUnauthorized  = transport.ErrUnauthorized
	ErrPrerequisite  = dispatch.ErrPrerequisite
	ErrUnknownAction = dispatch.ErrUnknownAction
	ErrUnknownStep   = pipeline.ErrUnknownStep
	ErrNoCredential  = credential.ErrNoCredential
)

// FromToken builds a token credential; scheme "" means Bearer.
func FromToken(token, scheme string) (*Credential, error) { return credential.FromToken(token, scheme) }

// FromIdentifier builds an identifier-only credential.
func FromIdentifier(botID string) (*Credential, error) { return credential.FromIdentifier(botID) }

// ResolveCredential picks exactly one credential from src.
func ResolveCredential(ctx context.Context, src CredentialSource) (*Credential, error) {
	return credential.Resolve(ctx, src)
}

// Steps lists the default export steps in execution order.
func Steps() []Step { return pipeline.Default().Steps() }

// Actions lists the registered actions.
func Actions() []Action { return dispatch.Actions() }

// LookupAction finds an action by dashed or underscored name.
func LookupAction(name string) (Action, bool) { return dispatch.Lookup(name) }

// IsFatal reports whether err must end the process, such as a rejected credential.
func IsFatal(err error) bool { return transport.IsFatal(err) }

// DefaultRetryConfig is the transport retry policy.
func DefaultRetryConfig() *RetryConfig { return retry.DefaultConfig() }

const (
	DriverSqlite     = store.DriverSqlite
	DriverPostgresql = store.DriverPostgresql

	StatusCompleted = store.StatusCompleted
	StatusAborted   = store.StatusAborted
)

// OpenStore opens the run history store.
func OpenStore(ctx context.Context, cfg StoreConfig) (*Store, error) { return store.Open(ctx, cfg) }

// Logging

const (
	LogLevelError = common.LogLevelError
	LogLevelWarn  = common.LogLevelWarn
	LogLevelInfo  = common.LogLevelInfo
	LogLevelDebug = common.LogLevelDebug
)

// NewLogger creates a text logger on stderr.
func NewLogger(level LogLevel) *Logger { return common.NewLogger(level) }

// SetDefaultLogger replaces the process wide logger.
func SetDefaultLogger(l *Logger) { common.SetDefaultLogger(l) }
