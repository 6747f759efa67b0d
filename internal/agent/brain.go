package agent

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/rahul/planpilot/internal/governance"
	"github.com/rahul/planpilot/internal/plan"
	"github.com/rahul/planpilot/internal/tools"
	"github.com/tmc/langchaingo/llms"
)

// ErrReasoningLimit is returned when the worker never produces a final answer.
var ErrReasoningLimit = errors.New("worker reached the maximum reasoning steps")

// Worker is a ReAct agent that executes one plan step with the registered
// tools. It satisfies plan.ActionInvoker for setups without a backend function.
type Worker struct {
	Model    llms.Model
	Registry *tools.Registry
	Prompts  *PromptManager
	Policy   governance.PolicyEngine
	Logger   EventLogger
	MaxSteps int
}

func NewWorker(model llms.Model, registry *tools.Registry, prompts *PromptManager, policy governance.PolicyEngine, logger EventLogger) *Worker {
	return &Worker{
		Model:    model,
		Registry: registry,
		Prompts:  prompts,
		Policy:   policy,
		Logger:   logger,
		MaxSteps: 10,
	}
}

// Invoke runs the reasoning loop for the step prompt and returns the final answer.
func (b *Worker) Invoke(ctx context.Context, req plan.ActionRequest) (plan.ActionResponse, error) {
	var systemPrompt string
	if b.Prompts != nil {
		var err error
		systemPrompt, err = b.Prompts.GetWorkerPrompt()
		if err != nil {
			log.Printf("Warning: Failed to load worker prompt: %v", err)
		}
	}

	var messages []llms.MessageContent
	if systemPrompt != "" {
		messages = append(messages, llms.MessageContent{
			Role:  llms.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{llms.TextPart(systemPrompt)},
		})
	}

	input := req.Prompt
	if req.ProjectID != "" {
		input = fmt.Sprintf("PROJECT: %s\n\nTASK: %s", req.ProjectID, req.Prompt)
	}
	messages = append(messages, llms.MessageContent{
		Role:  llms.ChatMessageTypeHuman,
		Parts: []llms.ContentPart{llms.TextPart(input)},
	})

	var llmTools []llms.Tool
	if b.Registry != nil {
		for _, t := range b.Registry.List() {
			llmTools = append(llmTools, llms.Tool{
				Type: "function",
				Function: &llms.FunctionDefinition{
					Name:        t.Name(),
					Description: t.Description(),
					Parameters:  t.Parameters(),
				},
			})
		}
	}

	var opts []llms.CallOption
	if len(llmTools) > 0 {
		opts = append(opts, llms.WithTools(llmTools))
	}

	maxSteps := b.MaxSteps
	if maxSteps <= 0 {
		maxSteps = 10
	}

	for i := 0; i < maxSteps; i++ {
		resp, err := b.Model.GenerateContent(ctx, messages, opts...)
		if err != nil {
			return plan.ActionResponse{}, err
		}
		if resp == nil || len(resp.Choices) == 0 {
			return plan.ActionResponse{}, fmt.Errorf("worker: model returned no choices")
		}

		choice := resp.Choices[0]
		if b.Logger != nil {
			b.Logger.LogLLM("", req.StepID, input, choice.Content, choice.ToolCalls)
		}

		var assistantParts []llms.ContentPart
		if choice.Content != "" {
			assistantParts = append(assistantParts, llms.TextContent{Text: choice.Content})
		}
		for _, tc := range choice.ToolCalls {
			assistantParts = append(assistantParts, tc)
		}
		messages = append(messages, llms.MessageContent{
			Role:  llms.ChatMessageTypeAI,
			Parts: assistantParts,
		})

		if len(choice.ToolCalls) == 0 {
			return plan.ActionResponse{RawResult: choice.Content}, nil
		}

		for _, tc := range choice.ToolCalls {
			result := b.callTool(ctx, req, i+1, tc)
			messages = append(messages, llms.MessageContent{
				Role: llms.ChatMessageTypeTool,
				Parts: []llms.ContentPart{
					llms.ToolCallResponse{
						ToolCallID: tc.ID,
						Name:       tc.FunctionCall.Name,
						Content:    result,
					},
				},
			})
		}
	}

	return plan.ActionResponse{}, ErrReasoningLimit
}

func (b *Worker) callTool(ctx context.Context, req plan.ActionRequest, turn int, tc llms.ToolCall) string {
	stepID := req.StepID
	if tc.FunctionCall == nil {
		return "Error: empty tool call"
	}
	name, args := tc.FunctionCall.Name, tc.FunctionCall.Arguments

	var tool tools.Tool
	if b.Registry != nil {
		tool = b.Registry.Get(name)
	}
	if tool == nil {
		return fmt.Sprintf("Error: Tool %s not found", name)
	}

	if b.Policy != nil {
		verdict, err := b.Policy.Evaluate(ctx, governance.Request{Tool: name, Arguments: args, StepID: stepID, ProjectID: req.ProjectID})
		if err != nil {
			return fmt.Sprintf("Error: policy check failed: %v", err)
		}
		if verdict.Effect == governance.EffectDeny {
			log.Printf("[Step %s/%d] Tool %s denied: %s", stepID, turn, name, verdict.Reason)
			return "Denied: " + verdict.Reason
		}
	}

	log.Printf("[Step %s/%d] Executing tool %s with args: %s", stepID, turn, name, args)
	res, err := tool.Execute(ctx, args)
	if err != nil {
		res = fmt.Sprintf("Error: %v", err)
	}
	log.Printf("[Step %s/%d] Tool %s returned %d bytes", stepID, turn, name, len(res))
	return res
}
