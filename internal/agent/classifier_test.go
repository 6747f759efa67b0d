package agent

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/rahul/planpilot/internal/plan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

func TestParseVerdict(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    plan.Classification
		message string
	}{
		{"plain", `{"status":"success","message":"Page created."}`, plan.ClassSuccess, "Page created."},
		{"fenced", "```json\n{\"status\": \"Error\", \"message\": \"404\", \"suggestion\": \"retry\"}\n```", plan.ClassError, "404"},
		{"prose around", `Verdict: {"status":"ambiguous","message":"unclear"} thanks`, plan.ClassAmbiguous, "unclear"},
		{"missing message", `{"status":"success"}`, plan.ClassSuccess, "Step judged success."},
		{"unknown label", `{"status":"maybe","message":"?"}`, plan.ClassAmbiguous, unreadableVerdictMessage},
		{"not json", `looks fine to me`, plan.ClassAmbiguous, unreadableVerdictMessage},
		{"broken json", `{"status": success}`, plan.ClassAmbiguous, unreadableVerdictMessage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseVerdict(tt.content)
			assert.Equal(t, tt.want, got.Classification)
			assert.Equal(t, tt.message, got.Message)
		})
	}
}

func TestClassifier_Classify(t *testing.T) {
	model := &scriptedModel{choices: []*llms.ContentChoice{
		textChoice(`{"status":"error","message":"The function returned 500.","suggestion":"Check the API key."}`),
	}}
	c := NewClassifier(model, NewPromptManager(t.TempDir()), nil)

	res, err := c.Classify(context.Background(), plan.ClassifyRequest{
		StepTitle:   "Create page",
		StepPrompt:  "Create the landing page",
		RawResponse: strings.Repeat("x", maxRawChars+10),
	})
	require.NoError(t, err)
	assert.Equal(t, plan.ClassError, res.Classification)
	assert.Equal(t, "Check the API key.", res.Suggestion)

	require.Len(t, model.requests, 1)
	sent := lastText(model.requests[0])
	assert.Contains(t, sent, "STEP TITLE: Create page")
	assert.Contains(t, sent, "(result truncated)")
}

func TestClassifier_ModelFailure(t *testing.T) {
	model := &scriptedModel{err: errors.New("quota exceeded")}
	c := NewClassifier(model, nil, nil)

	_, err := c.Classify(context.Background(), plan.ClassifyRequest{StepTitle: "x"})
	assert.ErrorContains(t, err, "quota exceeded")
}

func TestRuneCut(t *testing.T) {
	s := "ab€cd" // € is three bytes at offsets 2..4
	assert.Equal(t, 2, runeCut(s, 2))
	assert.Equal(t, 2, runeCut(s, 3))
	assert.Equal(t, 2, runeCut(s, 4))
	assert.Equal(t, 5, runeCut(s, 5))
	assert.Equal(t, len(s), runeCut(s, 100))

	raw := strings.Repeat("x", maxRawChars-1) + "€"
	model := &scriptedModel{choices: []*llms.ContentChoice{textChoice(`{"status":"success","message":"ok"}`)}}
	_, err := NewClassifier(model, nil, nil).Classify(context.Background(), plan.ClassifyRequest{RawResponse: raw})
	require.NoError(t, err)
	sent := lastText(model.requests[0])
	assert.True(t, utf8.ValidString(sent))
	assert.Contains(t, sent, strings.Repeat("x", maxRawChars-1)+"\n... (result truncated) ...")
}

type verdictRecorder struct {
	llmTasks []string
	verdicts map[string]plan.Result
}

func (r *verdictRecorder) LogLLM(chatID, taskID string, prompt any, response string, toolCalls any) {
	r.llmTasks = append(r.llmTasks, taskID)
}

func (r *verdictRecorder) LogClassify(taskID string, res plan.Result) {
	r.verdicts[taskID] = res
}

func TestClassifier_LogsVerdictByStepID(t *testing.T) {
	model := &scriptedModel{choices: []*llms.ContentChoice{textChoice(`{"status":"ambiguous","message":"Unclear output"}`)}}
	rec := &verdictRecorder{verdicts: map[string]plan.Result{}}

	res, err := NewClassifier(model, nil, rec).Classify(context.Background(), plan.ClassifyRequest{
		StepID:      "hero",
		StepTitle:   "Write hero section",
		RawResponse: "???",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"hero"}, rec.llmTasks)
	assert.Equal(t, res, rec.verdicts["hero"])
	assert.Equal(t, plan.ClassAmbiguous, rec.verdicts["hero"].Classification)
}
