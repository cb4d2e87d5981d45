// Package dispatch runs one named mutating action against the platform API.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/loykin/botexport/internal/common"
	"github.com/loykin/botexport/internal/credential"
	"github.com/loykin/botexport/internal/document"
	"github.com/loykin/botexport/internal/metrics"
	"github.com/loykin/botexport/internal/telemetry"
	"github.com/loykin/botexport/internal/transport"
)

var (
	// ErrPrerequisite means the action was not attempted.
	ErrPrerequisite  = errors.New("prerequisite not met")
	ErrUnknownAction = errors.New("unknown action")
)

// Client is the part of the transport the dispatcher needs.
type Client interface {
	Do(ctx context.Context, req transport.Request) (*transport.Result, error)
	Fetch(ctx context.Context, url string) ([]byte, string, error)
}

// Call is what an action's Build sees.
type Call struct {
	Client Client
	Cred   *credential.Credential
	Logger *common.Logger
	Now    func() time.Time
}

// Action describes one command. Build turns params into exactly one request;
// it may use Call.Client.Fetch for auxiliary downloads.
type Action struct {
	Name        string
	Description string
	Requires    []string
	TokenOnly   bool
	// Validate checks parameter combinations beyond presence.
	Validate func(p Params) error
	Build    func(ctx context.Context, c *Call, p Params) (transport.Request, error)
	// Expect names a field the success body must carry; empty accepts any 2xx.
	Expect string
	// Save names the result file as kind and key; nil saves nothing.
	Save func(p Params, now time.Time) (kind, key string)
	// Note derives a follow-up line from a successful response.
	Note func(v document.Value) string
}

// Result of an attempted action. OK is false when the platform rejected it.
type Result struct {
	Action string
	OK     bool
	Method string
	Path   string
	Status int
	Value  document.Value
	// Message is the platform's reason for a rejection.
	Message string
	// File is the suggested output name, empty when nothing is saved.
	File string
	// Note is a human readable follow-up such as an invite URL.
	Note string
}

var (
	registry = map[string]Action{}
	order    []string
)

// Register adds or replaces an action.
func Register(a Action) {
	key := normalizeKey(a.Name)
	if key == "" || a.Build == nil {
		return
	}
	if _, ok := registry[key]; !ok {
		order = append(order, key)
	}
	registry[key] = a
}

// Lookup accepts dashed or underscored names.
func Lookup(name string) (Action, bool) {
	a, ok := registry[normalizeKey(name)]
	return a, ok
}

// Actions lists registered actions in registration order.
func Actions() []Action {
	out := make([]Action, 0, len(order))
	for _, k := range order {
		out = append(out, registry[k])
	}
	return out
}

// Options configures New.
type Options struct {
	Credential *credential.Credential
	Logger     *common.Logger
	Metrics    *metrics.Metrics
	Now        func() time.Time
}

type Dispatcher struct {
	client  Client
	cred    *credential.Credential
	logger  *common.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func New(client Client, opts Options) *Dispatcher {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Dispatcher{
		client:  client,
		cred:    opts.Credential,
		logger:  common.OrDefault(opts.Logger).WithComponent("dispatch"),
		metrics: opts.Metrics,
		now:     now,
	}
}

// Run executes the named action. Unmet prerequisites return ErrPrerequisite
// without any network call; a rejected request returns a Result with OK false
// and a nil error; only fatal credential errors and cancellation are returned
// after a call was made.
func (d *Dispatcher) Run(ctx context.Context, name string, raw map[string]any) (*Result, error) {
	a, ok := Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAction, name)
	}
	log := d.logger.WithAction(a.Name)

	p, err := DecodeParams(raw)
	if err != nil {
		return nil, err
	}
	if p.ApplicationID == "" && d.cred != nil {
		p.ApplicationID = d.cred.BotID()
	}
	if err := d.check(a, p); err != nil {
		log.Warn("action not attempted", "reason", err)
		d.metrics.RecordAction(a.Name, "prerequisite")
		return nil, err
	}

	ctx, span := telemetry.Start(ctx, "action "+a.Name, attribute.String("action", a.Name))
	res, err := d.run(ctx, a, p)
	telemetry.End(span, err)
	if err != nil {
		log.Error("action aborted", "error", err)
		d.metrics.RecordAction(a.Name, "error")
		return res, err
	}

	if res.OK {
		log.Info("action succeeded", "status", res.Status, "path", res.Path)
		d.metrics.RecordAction(a.Name, "ok")
	} else {
		log.Warn("action rejected", "status", res.Status, "path", res.Path,
			"message", res.Message)
		d.metrics.RecordAction(a.Name, "rejected")
	}
	if res.Note != "" {
		log.Info(res.Note)
	}
	return res, nil
}

func (d *Dispatcher) check(a Action, p Params) error {
	if a.TokenOnly && !d.cred.HasToken() {
		return fmt.Errorf("%w: %s requires token authentication", ErrPrerequisite, a.Name)
	}
	if missing := p.Missing(a.Requires...); len(missing) > 0 {
		return fmt.Errorf("%w: %s needs %s", ErrPrerequisite, a.Name, strings.Join(missing, ", "))
	}
	if a.Validate != nil {
		if err := a.Validate(p); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrPrerequisite, a.Name, err)
		}
	}
	return nil
}

func (d *Dispatcher) run(ctx context.Context, a Action, p Params) (*Result, error) {
	call := &Call{Client: d.client, Cred: d.cred, Logger: d.logger.WithAction(a.Name), Now: d.now}
	req, err := a.Build(ctx, call, p)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrPrerequisite, a.Name, err)
	}
	tr, err := d.client.Do(ctx, req)
	res := &Result{Action: a.Name, Method: req.Method, Path: req.Path}
	if tr != nil {
		res.Method = tr.Method
		res.Status = tr.Status
		res.Value = tr.Value
		res.Message = tr.Message
	}
	if err != nil {
		return res, err
	}
	res.OK = tr.OK() && (a.Expect == "" || tr.Value.Get(a.Expect).Exists())
	if res.OK && a.Note != nil {
		res.Note = a.Note(tr.Value)
	}
	if res.OK && a.Save != nil {
		kind, key := a.Save(p, d.now())
		res.File = FileName(kind, key)
	}
	return res, nil
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// FileName builds "<kind>_<key>.json" with path-unsafe characters replaced.
func FileName(kind, key string) string {
	key = strings.Trim(unsafeName.ReplaceAllString(key, "_"), "_.")
	if key == "" {
		return kind + ".json"
	}
	return kind + "_" + key + ".json"
}
