package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/loykin/botexport/internal/common"
	"github.com/loykin/botexport/internal/credential"
	"github.com/loykin/botexport/internal/document"
	"github.com/loykin/botexport/internal/metrics"
	"github.com/loykin/botexport/internal/telemetry"
	"github.com/loykin/botexport/internal/transport"
)

var ErrUnknownStep = errors.New("unknown step")

// Pipeline is an ordered, validated step table.
type Pipeline struct {
	steps []Step
	paths map[string]*template.Template
}

// New validates steps: topics are unique and every dependency is produced by an earlier step.
func New(steps ...Step) (*Pipeline, error) {
	return build(steps, true)
}

// MustNew is New for tables defined in code.
func MustNew(steps ...Step) *Pipeline {
	p, err := New(steps...)
	if err != nil {
		panic(err)
	}
	return p
}

func build(steps []Step, strict bool) (*Pipeline, error) {
	p := &Pipeline{steps: steps, paths: make(map[string]*template.Template)}
	seen := map[string]bool{}
	for _, s := range steps {
		t := s.topic()
		if s.Name == "" {
			return nil, errors.New("step without a name")
		}
		if seen[t] {
			return nil, fmt.Errorf("duplicate topic %s", t)
		}
		seen[t] = true

		switch s.Kind {
		case KindFetch, KindEach:
			if s.Path == "" {
				return nil, fmt.Errorf("step %s: path is required for %s steps", s.Name, s.Kind)
			}
			tmpl, err := template.New(s.Name).Option("missingkey=error").Parse(s.Path)
			if err != nil {
				return nil, fmt.Errorf("step %s: parse path: %w", s.Name, err)
			}
			p.paths[s.Name] = tmpl
		case KindCustom:
			if s.Run == nil {
				return nil, fmt.Errorf("step %s: custom step without Run", s.Name)
			}
		}
		if (s.Kind == KindEach || s.Kind == KindPluck) && s.Parent == "" {
			return nil, fmt.Errorf("step %s: parent topic is required for %s steps", s.Name, s.Kind)
		}
		if s.Kind == KindPluck && s.Field == "" {
			return nil, fmt.Errorf("step %s: field is required for pluck steps", s.Name)
		}
	}
	if err := newDepGraph(steps).check(strict); err != nil {
		return nil, err
	}
	return p, nil
}

// Steps returns a copy of the table in execution order.
func (p *Pipeline) Steps() []Step {
	return append([]Step(nil), p.steps...)
}

// Lookup finds a step by name.
func (p *Pipeline) Lookup(name string) (Step, bool) {
	for _, s := range p.steps {
		if s.Name == name {
			return s, true
		}
	}
	return Step{}, false
}

func (s Step) matches(name string) bool {
	name = strings.TrimSpace(name)
	return name == s.Name || name == s.topic() || (s.Group != "" && name == s.Group)
}

// Select narrows the pipeline. only keeps the named steps (by name, topic or
// group) plus their transitive dependencies; skip drops steps. Always steps
// survive both.
func (p *Pipeline) Select(only, skip []string) (*Pipeline, error) {
	if len(only) == 0 && len(skip) == 0 {
		return p, nil
	}
	g := newDepGraph(p.steps)

	keep := map[string]bool{}
	if len(only) == 0 {
		for _, s := range p.steps {
			keep[s.topic()] = true
		}
	} else {
		var roots []string
		for _, name := range only {
			found := false
			for _, s := range p.steps {
				if s.matches(name) {
					roots = append(roots, s.topic())
					found = true
				}
			}
			if !found {
				return nil, fmt.Errorf("%w: %s", ErrUnknownStep, name)
			}
		}
		keep = g.closure(roots)
	}
	for _, name := range skip {
		found := false
		for _, s := range p.steps {
			if s.matches(name) {
				delete(keep, s.topic())
				found = true
			}
		}
		if !found {
			return nil, fmt.Errorf("%w: %s", ErrUnknownStep, name)
		}
	}

	var out []Step
	for _, s := range p.steps {
		if keep[s.topic()] || s.Always {
			out = append(out, s)
		}
	}
	return build(out, false)
}

// Options configures a run.
type Options struct {
	Client     Caller
	Credential *credential.Credential
	// Document receives the fragments; a new one is created when nil.
	Document *document.Document
	Pacing   time.Duration
	RunID    string
	Logger   *common.Logger
	Metrics  *metrics.Metrics
	Now      func() time.Time
}

// Run executes every step in order. Step failures are recorded and the run
// continues; a fatal credential error or cancellation stops the run and is
// returned along with the partial report.
func (p *Pipeline) Run(ctx context.Context, opts Options) (*Report, error) {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	doc := opts.Document
	if doc == nil {
		doc = document.New()
	}
	runID := opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	env := &Env{
		Client:  opts.Client,
		Doc:     doc,
		Cred:    opts.Credential,
		RunID:   runID,
		Started: now(),
		Pacing:  opts.Pacing,
		Logger:  common.OrDefault(opts.Logger).WithComponent("pipeline").WithRun(runID),
		Now:     now,
	}
	report := &Report{RunID: runID, Started: env.Started, Document: doc}
	if opts.Credential != nil {
		report.Mode = opts.Credential.Mode().String()
		report.BotID = opts.Credential.BotID()
	}

	ctx, span := telemetry.Start(ctx, "export",
		attribute.String("run_id", runID),
		attribute.String("mode", report.Mode))
	var runErr error
	defer func() { telemetry.End(span, runErr) }()

	env.Logger.Info("export started", "steps", len(p.steps), "mode", report.Mode)
	for _, s := range p.steps {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		sr := p.runStep(ctx, env, s, opts.Metrics)
		report.Steps = append(report.Steps, sr)
		if sr.fatal {
			runErr = sr.Err
			break
		}
	}
	report.Finished = now()
	if report.BotID == "" {
		report.BotID = env.BotID()
	}
	if runErr != nil {
		report.Aborted = true
		report.Err = runErr
		env.Logger.Error("export aborted", "error", runErr, "topics", doc.Len())
		return report, runErr
	}
	ok, skipped, failed := report.Counts()
	env.Logger.Info("export completed",
		"duration", report.Finished.Sub(report.Started).Round(time.Millisecond),
		"topics", doc.Len(), "ok", ok, "skipped", skipped, "failed", failed)
	return report, nil
}

func (p *Pipeline) runStep(ctx context.Context, env *Env, s Step, m *metrics.Metrics) StepReport {
	sr := StepReport{Name: s.Name, Topic: s.topic()}
	log := env.Logger.WithStep(s.Name)

	if reason := gate(env, s); reason != "" {
		sr.Status = StatusSkipped
		sr.Reason = reason
		log.Info("step skipped", "reason", reason)
		m.RecordStep(s.Name, string(sr.Status), 0)
		return sr
	}

	start := env.now()
	sctx, span := telemetry.Start(ctx, "step "+s.Name,
		attribute.String("step", s.Name),
		attribute.String("kind", s.Kind.String()))
	v, err := p.execute(sctx, env, s)
	sr.Duration = env.now().Sub(start)
	telemetry.End(span, err)

	if err != nil {
		sr.Status = StatusFailed
		sr.Err = err
		sr.fatal = transport.IsFatal(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		if sr.fatal {
			log.Error("step aborted the run", "error", err)
		} else {
			log.Warn("step failed", "error", err)
		}
		m.RecordStep(s.Name, string(sr.Status), sr.Duration)
		return sr
	}

	env.Doc.Set(sr.Topic, v)
	sr.Status = StatusOK
	sr.Items = countItems(v)
	log.Info("step completed", "topic", sr.Topic, "items", sr.Items, "duration", sr.Duration.Round(time.Millisecond))
	m.RecordStep(s.Name, string(sr.Status), sr.Duration)
	return sr
}

func gate(env *Env, s Step) string {
	if s.RequiresToken && !env.Cred.HasToken() {
		return "requires token authentication"
	}
	if s.RequiresApp && env.AppID() == "" {
		return "application id unavailable"
	}
	return ""
}

// execute recovers panics so one broken step cannot take the run down.
func (p *Pipeline) execute(ctx context.Context, env *Env, s Step) (v document.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("step %s panicked: %v", s.Name, r)
		}
	}()

	switch s.Kind {
	case KindFetch:
		path, err := p.render(s, env, "")
		if err != nil {
			return nil, err
		}
		got, err := env.Get(ctx, path)
		if err != nil {
			return nil, err
		}
		return got.Or(s.empty()), nil
	case KindEach:
		return p.each(ctx, env, s)
	case KindPluck:
		return pluck(env, s)
	default:
		got, err := s.Run(ctx, env)
		if err != nil {
			return nil, err
		}
		if got == nil {
			return s.empty(), nil
		}
		return got, nil
	}
}

type pathData struct {
	AppID string
	ID    string
}

func (p *Pipeline) render(s Step, env *Env, id string) (string, error) {
	var buf bytes.Buffer
	if err := p.paths[s.Name].Execute(&buf, pathData{AppID: env.AppID(), ID: id}); err != nil {
		return "", fmt.Errorf("render path for %s: %w", s.Name, err)
	}
	return buf.String(), nil
}

func (p *Pipeline) each(ctx context.Context, env *Env, s Step) (document.Value, error) {
	pacer := env.NewPacer()
	keyed := make(map[string]document.Value)
	var ids []string
	var list []document.Value

	for _, rec := range parentRecords(env.Doc, s) {
		if err := pacer.Wait(ctx); err != nil {
			return nil, err
		}
		path, err := p.render(s, env, rec.ID)
		if err != nil {
			return nil, err
		}
		child, err := env.Get(ctx, path)
		pacer.Done()
		if err != nil {
			return nil, err
		}
		if child.IsEmpty() {
			continue
		}
		if s.Shape == ShapeList {
			list = append(list, child)
			continue
		}
		if _, dup := keyed[rec.ID]; !dup {
			ids = append(ids, rec.ID)
		}
		keyed[rec.ID] = child
	}

	if s.Shape == ShapeList {
		return listValue(list), nil
	}
	return mapValue(ids, keyed), nil
}

func pluck(env *Env, s Step) (document.Value, error) {
	keyed := make(map[string]document.Value)
	var ids []string
	for _, rec := range parentRecords(env.Doc, s) {
		f := rec.Record.Get(s.Field)
		if !f.Exists() {
			continue
		}
		v := document.Value(f.Raw)
		if v.IsEmpty() {
			continue
		}
		if _, dup := keyed[rec.ID]; !dup {
			ids = append(ids, rec.ID)
		}
		keyed[rec.ID] = v
	}
	return mapValue(ids, keyed), nil
}
