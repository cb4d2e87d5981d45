package pipeline

import (
	"time"

	"github.com/loykin/botexport/internal/document"
)

// Status of a step within a run.
type Status string

const (
	StatusOK      Status = "ok"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

type StepReport struct {
	Name     string        `json:"name"`
	Topic    string        `json:"topic"`
	Status   Status        `json:"status"`
	Reason   string        `json:"reason,omitempty"`
	Items    int           `json:"items"`
	Duration time.Duration `json:"duration"`
	Err      error         `json:"-"`

	fatal bool
}

// Report summarises a run. Document holds whatever was written, even after an abort.
type Report struct {
	RunID    string
	Mode     string
	BotID    string
	Started  time.Time
	Finished time.Time
	Steps    []StepReport
	Aborted  bool
	Err      error
	Document *document.Document
}

// Counts returns the number of steps per status.
func (r *Report) Counts() (ok, skipped, failed int) {
	for _, s := range r.Steps {
		switch s.Status {
		case StatusOK:
			ok++
		case StatusSkipped:
			skipped++
		case StatusFailed:
			failed++
		}
	}
	return ok, skipped, failed
}

// FailedSteps lists the names of failed steps.
func (r *Report) FailedSteps() []string {
	var out []string
	for _, s := range r.Steps {
		if s.Status == StatusFailed {
			out = append(out, s.Name)
		}
	}
	return out
}

// Step returns the report for the named step.
func (r *Report) Step(name string) (StepReport, bool) {
	for _, s := range r.Steps {
		if s.Name == name {
			return s, true
		}
	}
	return StepReport{}, false
}
