package governance

import (
	"context"
	"fmt"
	"regexp"
)

// Effect defines the result of a policy evaluation.
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// Request describes a call to be evaluated: a worker tool call, or a step
// prompt (Tool == ActionTool) about to leave for the action backend.
type Request struct {
	Tool      string
	Arguments string
	StepID    string
	ProjectID string
}

// Result contains the outcome of a policy evaluation.
type Result struct {
	Effect Effect
	Reason string
}

// PolicyEngine evaluates calls against a set of rules.
type PolicyEngine interface {
	Evaluate(ctx context.Context, req Request) (Result, error)
}

// Rules is one set of restrictions. The zero value allows everything.
type Rules struct {
	DeniedTools      map[string]bool
	DeniedPatterns   []*regexp.Regexp
	MaxArgumentChars int
}

func (r *Rules) DenyTool(name string) {
	if r.DeniedTools == nil {
		r.DeniedTools = make(map[string]bool)
	}
	r.DeniedTools[name] = true
}

func (r *Rules) DenyArguments(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	r.DeniedPatterns = append(r.DeniedPatterns, re)
	return nil
}

// check returns the reason req breaks r, or "".
func (r *Rules) check(req Request) string {
	if r.DeniedTools[req.Tool] {
		if req.Tool == ActionTool {
			return "Step prompts are restricted by system policy"
		}
		return fmt.Sprintf("Tool '%s' is restricted by system policy", req.Tool)
	}
	if r.MaxArgumentChars > 0 && len(req.Arguments) > r.MaxArgumentChars {
		return fmt.Sprintf("Arguments exceed %d characters", r.MaxArgumentChars)
	}
	for _, re := range r.DeniedPatterns {
		if re.MatchString(req.Arguments) {
			return fmt.Sprintf("Arguments match restricted pattern: %s", re.String())
		}
	}
	return ""
}

// DefaultPolicyEngine applies its global rules to every request, then the
// rules of the request's project, if any.
type DefaultPolicyEngine struct {
	Rules
	Projects map[string]*Rules
}

func NewDefaultPolicyEngine() *DefaultPolicyEngine {
	return &DefaultPolicyEngine{
		Rules:    Rules{DeniedTools: make(map[string]bool)},
		Projects: make(map[string]*Rules),
	}
}

// Project returns the rules for one project, creating them on first use.
func (e *DefaultPolicyEngine) Project(id string) *Rules {
	if e.Projects == nil {
		e.Projects = make(map[string]*Rules)
	}
	r, ok := e.Projects[id]
	if !ok {
		r = &Rules{}
		e.Projects[id] = r
	}
	return r
}

func (e *DefaultPolicyEngine) Evaluate(ctx context.Context, req Request) (Result, error) {
	if reason := e.Rules.check(req); reason != "" {
		return Result{Effect: EffectDeny, Reason: reason}, nil
	}
	if r, ok := e.Projects[req.ProjectID]; ok && req.ProjectID != "" {
		if reason := r.check(req); reason != "" {
			return Result{
				Effect: EffectDeny,
				Reason: fmt.Sprintf("project %s: %s", req.ProjectID, reason),
			}, nil
		}
	}

	return Result{
		Effect: EffectAllow,
		Reason: "Approved by default policy",
	}, nil
}
