package governance

import (
	"context"
	"fmt"

	"github.com/rahul/planpilot/internal/plan"
)

// ActionTool is the tool name under which step prompts are evaluated.
const ActionTool = "action"

// DeniedError reports a step prompt refused by policy.
type DeniedError struct {
	StepID string
	Reason string
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("step %s denied by policy: %s", e.StepID, e.Reason)
}

// Guard evaluates every step prompt before forwarding it to the wrapped
// invoker. A denial never reaches the network.
type Guard struct {
	next   plan.ActionInvoker
	policy PolicyEngine
}

func NewGuard(next plan.ActionInvoker, policy PolicyEngine) *Guard {
	return &Guard{next: next, policy: policy}
}

func (g *Guard) Invoke(ctx context.Context, req plan.ActionRequest) (plan.ActionResponse, error) {
	if g.policy != nil {
		res, err := g.policy.Evaluate(ctx, Request{
			Tool:      ActionTool,
			Arguments: req.Prompt,
			StepID:    req.StepID,
			ProjectID: req.ProjectID,
		})
		if err != nil {
			return plan.ActionResponse{}, fmt.Errorf("policy check: %w", err)
		}
		if res.Effect == EffectDeny {
			return plan.ActionResponse{}, &DeniedError{StepID: req.StepID, Reason: res.Reason}
		}
	}
	return g.next.Invoke(ctx, req)
}
