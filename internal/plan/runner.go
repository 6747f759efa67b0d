package plan

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Fallback text used when the classifier is unavailable.
const (
	ClassifierUnavailableMessage    = "Result classification unavailable."
	ClassifierUnavailableSuggestion = "Review the step output manually before continuing."
)

// ActionRequest is the payload sent to the external action for one step.
type ActionRequest struct {
	StepID    string `json:"stepId"`
	Prompt    string `json:"prompt"`
	ProjectID string `json:"projectId,omitempty"`
}

// ActionResponse carries the raw textual outcome of an action call.
type ActionResponse struct {
	RawResult string `json:"rawResult"`
}

// ActionInvoker performs the external work for a step. Any returned error is
// treated as a transport failure.
type ActionInvoker interface {
	Invoke(ctx context.Context, req ActionRequest) (ActionResponse, error)
}

// ClassifyRequest is the input to the result classifier.
type ClassifyRequest struct {
	StepID      string
	StepPrompt  string
	StepTitle   string
	RawResponse string
}

// Classifier turns a raw action outcome into a classified Result.
type Classifier interface {
	Classify(ctx context.Context, req ClassifyRequest) (Result, error)
}

// Runner executes exactly one step. publish receives the in_progress copy
// before the action is invoked. The returned step is never in_progress.
type Runner interface {
	Run(ctx context.Context, step Step, publish func(Step)) Step
}

// StepRunner is the default Runner: action call, then classification.
type StepRunner struct {
	action     ActionInvoker
	classifier Classifier
	projectID  string
	clock      func() time.Time
}

// RunnerOption customizes a StepRunner.
type RunnerOption func(*StepRunner)

// WithProjectID tags every action request with the given project.
func WithProjectID(id string) RunnerOption {
	return func(r *StepRunner) {
		r.projectID = id
	}
}

// WithRunnerClock injects a deterministic clock.
func WithRunnerClock(clock func() time.Time) RunnerOption {
	return func(r *StepRunner) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// NewStepRunner wires a runner to its two collaborators.
func NewStepRunner(action ActionInvoker, classifier Classifier, opts ...RunnerOption) (*StepRunner, error) {
	if action == nil {
		return nil, fmt.Errorf("step runner: action invoker is required")
	}
	if classifier == nil {
		return nil, fmt.Errorf("step runner: classifier is required")
	}
	r := &StepRunner{
		action:     action,
		classifier: classifier,
		clock:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Run executes step and returns it with Result populated.
func (r *StepRunner) Run(ctx context.Context, step Step, publish func(Step)) Step {
	s := step.Clone()
	s.Status = StatusInProgress
	s.Result = nil
	s.Skipped = false
	s.Output = ""
	s.Attempts++
	s.StartedAt = r.clock()
	s.FinishedAt = time.Time{}
	if publish != nil {
		publish(s.Clone())
	}

	resp, err := r.action.Invoke(ctx, ActionRequest{
		StepID:    s.ID,
		Prompt:    s.Prompt,
		ProjectID: r.projectID,
	})
	if err != nil {
		return r.finish(s, Result{
			Classification: ClassError,
			Message:        transportMessage(err),
		})
	}
	s.Output = resp.RawResult

	res := r.classify(ctx, ClassifyRequest{
		StepID:      s.ID,
		StepPrompt:  s.Prompt,
		StepTitle:   s.Title,
		RawResponse: resp.RawResult,
	})
	return r.finish(s, res)
}

// classify never fails: collaborator errors, panics and unknown labels all
// collapse to the ambiguous fallback.
func (r *StepRunner) classify(ctx context.Context, req ClassifyRequest) (res Result) {
	defer func() {
		if recover() != nil {
			res = fallbackResult()
		}
	}()
	res, err := r.classifier.Classify(ctx, req)
	if err != nil || !res.Classification.Valid() {
		return fallbackResult()
	}
	return res
}

func (r *StepRunner) finish(s Step, res Result) Step {
	s.Result = &res
	if res.Classification == ClassSuccess {
		s.Status = StatusCompleted
	} else {
		s.Status = StatusError
	}
	s.FinishedAt = r.clock()
	return s
}

func fallbackResult() Result {
	return Result{
		Classification: ClassAmbiguous,
		Message:        ClassifierUnavailableMessage,
		Suggestion:     ClassifierUnavailableSuggestion,
	}
}

func transportMessage(err error) string {
	msg := strings.TrimSpace(err.Error())
	if msg == "" {
		msg = "unknown transport error"
	}
	return "Action call failed: " + msg
}
