package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/rahul/planpilot/internal/plan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

func TestPlanner_Generate(t *testing.T) {
	model := &scriptedModel{choices: []*llms.ContentChoice{
		toolChoice("call_1", "propose_plan", `{
			"title": "Bakery site",
			"steps": [
				{"title": "Create page", "prompt": "Create a landing page for a bakery"},
				{"id": "copy", "title": "Write copy", "description": "hero text", "prompt": "Write the hero copy"}
			]
		}`),
	}}
	history := newMemoryHistory()
	planner := NewPlanner(model, history, NewPromptManager(t.TempDir()), nil)

	p, err := planner.Generate(context.Background(), "chat-1", "Build me a bakery website")
	require.NoError(t, err)

	assert.NotEmpty(t, p.ID)
	assert.Equal(t, "Bakery site", p.Title)
	assert.Equal(t, "Build me a bakery website", p.Request)
	require.Len(t, p.Steps, 2)
	assert.Equal(t, "step-1", p.Steps[0].ID)
	assert.Equal(t, "copy", p.Steps[1].ID)
	for _, s := range p.Steps {
		assert.Equal(t, plan.StatusPending, s.Status)
	}

	msgs, _ := history.GetHistory("chat-1", 10)
	require.Len(t, msgs, 2)
	assert.Contains(t, lastText(msgs), "Write copy")
}

func TestPlanner_Failures(t *testing.T) {
	tests := []struct {
		name   string
		model  *scriptedModel
		target error
		text   string
	}{
		{
			name:  "model error",
			model: &scriptedModel{err: errors.New("boom")},
			text:  "planning error",
		},
		{
			name:  "plain answer",
			model: &scriptedModel{choices: []*llms.ContentChoice{textChoice("I need more details")}},
			text:  "without a plan",
		},
		{
			name:  "bad arguments",
			model: &scriptedModel{choices: []*llms.ContentChoice{toolChoice("c", "propose_plan", "{")}},
			text:  "failed to parse",
		},
		{
			name:   "empty plan",
			model:  &scriptedModel{choices: []*llms.ContentChoice{toolChoice("c", "propose_plan", `{"steps":[]}`)}},
			target: plan.ErrNoSteps,
		},
		{
			name:   "step without prompt",
			model:  &scriptedModel{choices: []*llms.ContentChoice{toolChoice("c", "propose_plan", `{"steps":[{"title":"a"}]}`)}},
			target: plan.ErrInvalidPlan,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			history := newMemoryHistory()
			planner := NewPlanner(tt.model, history, nil, nil)
			_, err := planner.Generate(context.Background(), "chat", "do it")
			require.Error(t, err)
			if tt.target != nil {
				assert.ErrorIs(t, err, tt.target)
			}
			if tt.text != "" {
				assert.ErrorContains(t, err, tt.text)
			}
			assert.Empty(t, history.messages["chat"])
		})
	}
}
