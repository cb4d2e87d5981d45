// Package pipeline drives an export run: a table of step descriptors
// interpreted in order, each writing one topic into the aggregate document.
package pipeline

import (
	"context"
	"time"

	"github.com/tidwall/gjson"

	"github.com/loykin/botexport/internal/common"
	"github.com/loykin/botexport/internal/credential"
	"github.com/loykin/botexport/internal/document"
	"github.com/loykin/botexport/internal/transport"
)

// Kind selects how the engine interprets a Step.
type Kind int

const (
	// KindFetch issues one GET to Path.
	KindFetch Kind = iota
	// KindEach issues one GET per record of the Parent topic.
	KindEach
	// KindPluck copies Field out of every record of the Parent topic, without network.
	KindPluck
	// KindCustom calls Run.
	KindCustom
)

func (k Kind) String() string {
	switch k {
	case KindFetch:
		return "fetch"
	case KindEach:
		return "each"
	case KindPluck:
		return "pluck"
	default:
		return "custom"
	}
}

// Shape is the aggregate built by KindEach.
type Shape int

const (
	// ShapeMap keys child results by parent id, omitting empty results.
	ShapeMap Shape = iota
	// ShapeList appends non-empty child results in parent order.
	ShapeList
)

// Step describes one export step. Topic defaults to Name.
type Step struct {
	Name        string
	Topic       string
	Group       string
	Description string
	Kind        Kind

	// Path is a text/template rendered with .AppID and, for KindEach, .ID.
	Path         string
	Parent       string
	ParentIDPath string
	Field        string
	Shape        Shape
	// Filter restricts the parent records visited by KindEach and KindPluck.
	Filter func(record gjson.Result) bool

	DependsOn     []string
	RequiresToken bool
	RequiresApp   bool
	// Always keeps the step when a run is narrowed to a subset of steps.
	Always bool

	// Empty is written when the call yields nothing. Defaults to {}.
	Empty document.Value

	Run func(ctx context.Context, env *Env) (document.Value, error)
}

func (s Step) topic() string {
	if s.Topic != "" {
		return s.Topic
	}
	return s.Name
}

func (s Step) idPath() string {
	if s.ParentIDPath != "" {
		return s.ParentIDPath
	}
	return "id"
}

func (s Step) empty() document.Value {
	if s.Empty != nil {
		return s.Empty
	}
	return document.EmptyObject
}

// deps returns DependsOn plus Parent.
func (s Step) deps() []string {
	out := append([]string{}, s.DependsOn...)
	if s.Parent != "" {
		seen := false
		for _, d := range out {
			if d == s.Parent {
				seen = true
			}
		}
		if !seen {
			out = append(out, s.Parent)
		}
	}
	return out
}

// Caller performs one logical API call.
type Caller interface {
	Do(ctx context.Context, req transport.Request) (*transport.Result, error)
}

// Env is what a step sees of the run.
type Env struct {
	Client  Caller
	Doc     *document.Document
	Cred    *credential.Credential
	RunID   string
	Started time.Time
	Pacing  time.Duration
	Logger  *common.Logger
	Now     func() time.Time
}

// AppID resolves the application id: application_info.id, then the credential's bot id.
func (e *Env) AppID() string {
	if id := e.Doc.Get("application_info").Get("id").String(); id != "" {
		return id
	}
	if e.Cred != nil {
		return e.Cred.BotID()
	}
	return ""
}

// BotID is the credential's bot id, or application_info.id when none was derived.
func (e *Env) BotID() string {
	if e.Cred != nil && e.Cred.BotID() != "" {
		return e.Cred.BotID()
	}
	return e.Doc.Get("application_info").Get("id").String()
}

// Get issues a GET and returns its value. Only fatal and cancellation errors surface.
func (e *Env) Get(ctx context.Context, path string) (document.Value, error) {
	res, err := e.Client.Do(ctx, transport.Request{Method: "GET", Path: path})
	if err != nil {
		return nil, err
	}
	return res.Value, nil
}

func (e *Env) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// NewPacer returns a pacer spacing calls by the run's pacing interval.
func (e *Env) NewPacer() *Pacer {
	return NewPacer(e.Pacing)
}
