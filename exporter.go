package botexport

import (
	"context"
	"errors"
	"time"

	"github.com/loykin/botexport/internal/common"
	"github.com/loykin/botexport/internal/dispatch"
	"github.com/loykin/botexport/internal/httpc"
	"github.com/loykin/botexport/internal/metrics"
	"github.com/loykin/botexport/internal/pipeline"
	"github.com/loykin/botexport/internal/retry"
	"github.com/loykin/botexport/internal/transport"
)

// Metrics is the prometheus registry wrapper used by an Exporter.
type Metrics = metrics.Metrics

// NewMetrics creates a private metrics registry.
func NewMetrics() *Metrics { return metrics.New() }

// Options configures an Exporter. Only Credential is required.
type Options struct {
	Credential *Credential

	BaseURL       string
	UserAgent     string
	Timeout       time.Duration
	Insecure      bool
	MinTLSVersion string
	MaxTLSVersion string
	// Trace emits a client span per HTTP attempt.
	Trace bool

	Retry *RetryConfig
	// Pacing is the pause between sub-requests of a step; zero disables it.
	Pacing time.Duration
	// Only and Skip select steps by name, topic or group.
	Only []string
	Skip []string

	Logger  *Logger
	Metrics *Metrics
	Now     func() time.Time
}

// Exporter owns one HTTP session and runs exports and actions over it.
type Exporter struct {
	opts     Options
	client   *transport.Client
	pipeline *pipeline.Pipeline
	dispatch *dispatch.Dispatcher
}

func New(opts Options) (*Exporter, error) {
	if opts.Credential == nil {
		return nil, ErrNoCredential
	}
	p, err := pipeline.Default().Select(opts.Only, opts.Skip)
	if err != nil {
		return nil, err
	}
	logger := common.OrDefault(opts.Logger)
	rc := opts.Retry
	if rc == nil {
		rc = retry.DefaultConfig()
	}
	client := transport.New(transport.Options{
		Session: httpc.Options{
			BaseURL:       opts.BaseURL,
			UserAgent:     opts.UserAgent,
			Timeout:       opts.Timeout,
			Insecure:      opts.Insecure,
			MinTLSVersion: opts.MinTLSVersion,
			MaxTLSVersion: opts.MaxTLSVersion,
			Trace:         opts.Trace,
		},
		Credential: opts.Credential,
		Retry:      rc,
		Logger:     logger,
		Metrics:    opts.Metrics,
	})
	return &Exporter{
		opts:     opts,
		client:   client,
		pipeline: p,
		dispatch: dispatch.New(client, dispatch.Options{
			Credential: opts.Credential,
			Logger:     logger,
			Metrics:    opts.Metrics,
			Now:        opts.Now,
		}),
	}, nil
}

// Steps returns the selected steps in execution order.
func (e *Exporter) Steps() []Step { return e.pipeline.Steps() }

// Export runs the selected steps. On a fatal credential error or cancellation
// the partial report is returned with the error; callers should not persist it.
func (e *Exporter) Export(ctx context.Context, runID string) (*Report, error) {
	return e.pipeline.Run(ctx, pipeline.Options{
		Client:     e.client,
		Credential: e.opts.Credential,
		Pacing:     e.opts.Pacing,
		RunID:      runID,
		Logger:     e.opts.Logger,
		Metrics:    e.opts.Metrics,
		Now:        e.opts.Now,
	})
}

// Action runs one named action with loosely typed params.
func (e *Exporter) Action(ctx context.Context, name string, params map[string]any) (*Result, error) {
	return e.dispatch.Run(ctx, name, params)
}

// Close releases idle connections.
func (e *Exporter) Close() { e.client.Close() }

// Aborted reports whether err came from an aborted run rather than a step.
func Aborted(err error) bool {
	return IsFatal(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
