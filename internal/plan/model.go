package plan

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle position of a single step.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// Terminal reports whether the status ends a step's attempt.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// Icon returns a display icon for the status.
func (s Status) Icon() string {
	switch s {
	case StatusPending:
		return "○"
	case StatusInProgress:
		return "◐"
	case StatusCompleted:
		return "●"
	case StatusError:
		return "✗"
	default:
		return "?"
	}
}

// Classification is the tri-state judgment of a step's raw outcome.
type Classification string

const (
	ClassSuccess   Classification = "success"
	ClassError     Classification = "error"
	ClassAmbiguous Classification = "ambiguous"
)

// Valid reports whether c is one of the known classifications.
func (c Classification) Valid() bool {
	switch c {
	case ClassSuccess, ClassError, ClassAmbiguous:
		return true
	}
	return false
}

// Result is the classified outcome of one step attempt.
type Result struct {
	Classification Classification `json:"status" yaml:"status"`
	Message        string         `json:"message" yaml:"message"`
	Suggestion     string         `json:"suggestion,omitempty" yaml:"suggestion,omitempty"`
}

// Step represents a single unit of plan work.
type Step struct {
	ID          string  `json:"id" yaml:"id"`
	Title       string  `json:"title" yaml:"title"`
	Description string  `json:"description,omitempty" yaml:"description,omitempty"`
	Prompt      string  `json:"prompt" yaml:"prompt"`
	Status      Status  `json:"status" yaml:"status"`
	Result      *Result `json:"result,omitempty" yaml:"result,omitempty"`
	// Skipped marks an operator skip. The status stays error so sequencing treats it as terminal.
	Skipped    bool      `json:"skipped,omitempty" yaml:"skipped,omitempty"`
	Output     string    `json:"output,omitempty" yaml:"output,omitempty"`
	Attempts   int       `json:"attempts,omitempty" yaml:"attempts,omitempty"`
	StartedAt  time.Time `json:"started_at,omitempty" yaml:"started_at,omitempty"`
	FinishedAt time.Time `json:"finished_at,omitempty" yaml:"finished_at,omitempty"`
}

// Clone returns a deep copy of the step.
func (s Step) Clone() Step {
	out := s
	if s.Result != nil {
		r := *s.Result
		out.Result = &r
	}
	return out
}

// Duration returns how long the last attempt took.
func (s Step) Duration() time.Duration {
	if s.StartedAt.IsZero() {
		return 0
	}
	if s.FinishedAt.IsZero() {
		return time.Since(s.StartedAt)
	}
	return s.FinishedAt.Sub(s.StartedAt)
}

// Label is the short human name used in logs and notifications.
func (s Step) Label() string {
	if s.Title != "" {
		return s.Title
	}
	return s.ID
}

// Plan is an ordered sequence of steps. Order is execution order.
type Plan struct {
	ID        string    `json:"id" yaml:"id"`
	Title     string    `json:"title,omitempty" yaml:"title,omitempty"`
	Request   string    `json:"request,omitempty" yaml:"request,omitempty"`
	ProjectID string    `json:"project_id,omitempty" yaml:"project_id,omitempty"`
	Steps     []Step    `json:"steps" yaml:"steps"`
	CreatedAt time.Time `json:"created_at,omitempty" yaml:"created_at,omitempty"`
}

// Clone returns a deep copy of the plan.
func (p *Plan) Clone() *Plan {
	if p == nil {
		return nil
	}
	out := *p
	out.Steps = cloneSteps(p.Steps)
	return &out
}

func cloneSteps(steps []Step) []Step {
	if steps == nil {
		return nil
	}
	out := make([]Step, len(steps))
	for i, s := range steps {
		out[i] = s.Clone()
	}
	return out
}

// Validate checks the structural invariants of a plan and reports every
// problem found in a single error wrapping ErrInvalidPlan.
func (p *Plan) Validate() error {
	if p == nil {
		return fmt.Errorf("%w: plan is nil", ErrInvalidPlan)
	}
	if len(p.Steps) == 0 {
		return fmt.Errorf("%w: %w", ErrInvalidPlan, ErrNoSteps)
	}
	var problems []error
	seen := make(map[string]int, len(p.Steps))
	inProgress := 0
	for i, s := range p.Steps {
		id := strings.TrimSpace(s.ID)
		if id == "" {
			problems = append(problems, fmt.Errorf("step %d: id is required", i+1))
		} else if prev, dup := seen[id]; dup {
			problems = append(problems, fmt.Errorf("step %d: id %q duplicates step %d", i+1, id, prev+1))
		} else {
			seen[id] = i
		}
		if strings.TrimSpace(s.Prompt) == "" {
			problems = append(problems, fmt.Errorf("step %d: prompt is required", i+1))
		}
		switch s.Status {
		case "", StatusPending, StatusCompleted, StatusError:
		case StatusInProgress:
			inProgress++
		default:
			problems = append(problems, fmt.Errorf("step %d: unknown status %q", i+1, s.Status))
		}
	}
	if inProgress > 1 {
		problems = append(problems, fmt.Errorf("%d steps are in_progress, at most one is allowed", inProgress))
	}
	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidPlan, errors.Join(problems...))
}

// Normalize fills defaults for steps loaded from files or generated by a model.
func (p *Plan) Normalize() {
	for i := range p.Steps {
		s := &p.Steps[i]
		s.ID = strings.TrimSpace(s.ID)
		if s.ID == "" {
			s.ID = fmt.Sprintf("step-%d", i+1)
		}
		if s.Status == "" {
			s.Status = StatusPending
		}
	}
}

// Reset returns every step to pending and clears results from earlier runs.
func (p *Plan) Reset() {
	for i := range p.Steps {
		s := &p.Steps[i]
		s.Status = StatusPending
		s.Result = nil
		s.Skipped = false
		s.Output = ""
		s.Attempts = 0
		s.StartedAt = time.Time{}
		s.FinishedAt = time.Time{}
	}
}

// Progress summarises step outcomes for reporting.
type Progress struct {
	Total      int     `json:"total"`
	Completed  int     `json:"completed"`
	Failed     int     `json:"failed"`
	Skipped    int     `json:"skipped"`
	Pending    int     `json:"pending"`
	InProgress int     `json:"in_progress"`
	Percent    float64 `json:"percent"`
}

// Progress counts step statuses. Skipped steps are reported apart from failed
// ones, and only completed steps count toward the percentage.
func (p *Plan) Progress() Progress {
	var pr Progress
	if p == nil {
		return pr
	}
	pr.Total = len(p.Steps)
	for _, s := range p.Steps {
		switch {
		case s.Skipped:
			pr.Skipped++
		case s.Status == StatusCompleted:
			pr.Completed++
		case s.Status == StatusError:
			pr.Failed++
		case s.Status == StatusInProgress:
			pr.InProgress++
		default:
			pr.Pending++
		}
	}
	if pr.Total > 0 {
		pr.Percent = float64(pr.Completed) * 100 / float64(pr.Total)
	}
	return pr
}

// String renders the progress in one line.
func (pr Progress) String() string {
	return fmt.Sprintf("%d/%d completed (%.0f%%), %d failed, %d skipped, %d pending",
		pr.Completed, pr.Total, pr.Percent, pr.Failed, pr.Skipped, pr.Pending+pr.InProgress)
}
