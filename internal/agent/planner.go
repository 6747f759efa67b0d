package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rahul/planpilot/internal/plan"
	"github.com/tmc/langchaingo/llms"
)

// HistoryStore keeps the conversation that led to a plan.
type HistoryStore interface {
	AddMessage(chatID string, role string, content string) error
	GetHistory(chatID string, limit int) ([]llms.MessageContent, error)
}

// Planner asks the model for a structured plan.
type Planner struct {
	Model   llms.Model
	History HistoryStore
	Prompts *PromptManager
	Logger  EventLogger
}

func NewPlanner(model llms.Model, history HistoryStore, prompts *PromptManager, logger EventLogger) *Planner {
	return &Planner{
		Model:   model,
		History: history,
		Prompts: prompts,
		Logger:  logger,
	}
}

var proposePlanTool = llms.Tool{
	Type: "function",
	Function: &llms.FunctionDefinition{
		Name:        "propose_plan",
		Description: "Submit a structured plan consisting of ordered steps.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"title": map[string]any{
					"type": "string",
				},
				"steps": map[string]any{
					"type": "array",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"id":          map[string]any{"type": "string"},
							"title":       map[string]any{"type": "string"},
							"description": map[string]any{"type": "string"},
							"prompt":      map[string]any{"type": "string"},
						},
						"required": []string{"title", "prompt"},
					},
				},
			},
			"required": []string{"steps"},
		},
	},
}

type proposal struct {
	Title string `json:"title"`
	Steps []struct {
		ID          string `json:"id"`
		Title       string `json:"title"`
		Description string `json:"description"`
		Prompt      string `json:"prompt"`
	} `json:"steps"`
}

// Generate produces a validated plan for request. chatID scopes the history
// used as context and where the exchange is recorded.
func (p *Planner) Generate(ctx context.Context, chatID, request string) (*plan.Plan, error) {
	messages := []llms.MessageContent{
		{
			Role:  llms.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{llms.TextPart(p.Prompts.GetPlannerPrompt())},
		},
	}
	if p.History != nil {
		history, _ := p.History.GetHistory(chatID, 5)
		messages = append(messages, history...)
	}
	messages = append(messages, llms.MessageContent{
		Role:  llms.ChatMessageTypeHuman,
		Parts: []llms.ContentPart{llms.TextPart(request)},
	})

	resp, err := p.Model.GenerateContent(ctx, messages, llms.WithTools([]llms.Tool{proposePlanTool}))
	if err != nil {
		return nil, fmt.Errorf("planning error: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return nil, fmt.Errorf("planner returned no choices")
	}
	choice := resp.Choices[0]
	if p.Logger != nil {
		p.Logger.LogLLM(chatID, "planner", request, choice.Content, choice.ToolCalls)
	}

	var args string
	for _, tc := range choice.ToolCalls {
		if tc.FunctionCall != nil && tc.FunctionCall.Name == "propose_plan" {
			args = tc.FunctionCall.Arguments
			break
		}
	}
	if args == "" {
		if choice.Content != "" {
			return nil, fmt.Errorf("planner answered without a plan: %s", choice.Content)
		}
		return nil, fmt.Errorf("planner failed to provide a plan")
	}

	var prop proposal
	if err := json.Unmarshal([]byte(args), &prop); err != nil {
		return nil, fmt.Errorf("failed to parse propose_plan arguments: %w", err)
	}

	out := &plan.Plan{
		ID:        uuid.NewString(),
		Title:     prop.Title,
		Request:   request,
		CreatedAt: time.Now().UTC(),
	}
	for _, s := range prop.Steps {
		out.Steps = append(out.Steps, plan.Step{
			ID:          s.ID,
			Title:       s.Title,
			Description: s.Description,
			Prompt:      s.Prompt,
			Status:      plan.StatusPending,
		})
	}
	out.Normalize()
	if err := out.Validate(); err != nil {
		return nil, err
	}

	if p.History != nil {
		_ = p.History.AddMessage(chatID, "human", request)
		_ = p.History.AddMessage(chatID, "ai", summarize(out))
	}
	return out, nil
}

func summarize(p *plan.Plan) string {
	s := fmt.Sprintf("Proposed plan %q with %d steps:", p.Title, len(p.Steps))
	for i, st := range p.Steps {
		s += fmt.Sprintf("\n%d. %s", i+1, st.Label())
	}
	return s
}
