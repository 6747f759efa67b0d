package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rahul/planpilot/internal/plan"
	"github.com/tmc/langchaingo/llms"
)

// maxRawChars bounds how much of a raw action result is sent for review.
const maxRawChars = 20000

// Messages used when the model's verdict cannot be read.
const (
	unreadableVerdictMessage    = "The reviewer returned an unreadable verdict."
	unreadableVerdictSuggestion = "Review the step output manually."
)

// EventLogger records model exchanges.
type EventLogger interface {
	LogLLM(chatID, taskID string, prompt any, response string, toolCalls any)
}

// VerdictLogger is implemented by loggers that also record each verdict.
type VerdictLogger interface {
	LogClassify(taskID string, res plan.Result)
}

// Classifier judges raw step outcomes with a language model.
type Classifier struct {
	Model   llms.Model
	Prompts *PromptManager
	Logger  EventLogger
}

func NewClassifier(model llms.Model, prompts *PromptManager, logger EventLogger) *Classifier {
	return &Classifier{
		Model:   model,
		Prompts: prompts,
		Logger:  logger,
	}
}

// Classify returns an error only when the model call itself fails. Output
// that cannot be parsed is reported as ambiguous.
func (c *Classifier) Classify(ctx context.Context, req plan.ClassifyRequest) (plan.Result, error) {
	raw := req.RawResponse
	if len(raw) > maxRawChars {
		raw = raw[:runeCut(raw, maxRawChars)] + "\n... (result truncated) ..."
	}

	messages := []llms.MessageContent{
		{
			Role:  llms.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{llms.TextPart(c.Prompts.GetClassifierPrompt())},
		},
		{
			Role: llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{llms.TextPart(fmt.Sprintf(
				"STEP TITLE: %s\n\nSTEP INSTRUCTION:\n%s\n\nRAW RESULT:\n%s",
				req.StepTitle, req.StepPrompt, raw,
			))},
		},
	}

	resp, err := c.Model.GenerateContent(ctx, messages, llms.WithTemperature(0), llms.WithJSONMode())
	if err != nil {
		return plan.Result{}, fmt.Errorf("classify: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return unreadableVerdict(), nil
	}

	content := resp.Choices[0].Content
	if c.Logger != nil {
		c.Logger.LogLLM("", req.StepID, messages, content, nil)
	}
	res := ParseVerdict(content)
	if vl, ok := c.Logger.(VerdictLogger); ok {
		vl.LogClassify(req.StepID, res)
	}
	return res, nil
}

type verdict struct {
	Status     string `json:"status"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion"`
}

// ParseVerdict extracts a classification from model output. Code fences and
// surrounding prose are tolerated; anything else maps to ambiguous.
func ParseVerdict(content string) plan.Result {
	body := extractJSONObject(content)
	if body == "" {
		return unreadableVerdict()
	}
	var v verdict
	if err := json.Unmarshal([]byte(body), &v); err != nil {
		return unreadableVerdict()
	}
	class := plan.Classification(strings.ToLower(strings.TrimSpace(v.Status)))
	if !class.Valid() {
		return unreadableVerdict()
	}
	msg := strings.TrimSpace(v.Message)
	if msg == "" {
		msg = fmt.Sprintf("Step judged %s.", class)
	}
	return plan.Result{
		Classification: class,
		Message:        msg,
		Suggestion:     strings.TrimSpace(v.Suggestion),
	}
}

// runeCut returns the largest offset <= n that starts a rune in s.
func runeCut(s string, n int) int {
	if n >= len(s) {
		return len(s)
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return n
}

func extractJSONObject(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}

func unreadableVerdict() plan.Result {
	return plan.Result{
		Classification: plan.ClassAmbiguous,
		Message:        unreadableVerdictMessage,
		Suggestion:     unreadableVerdictSuggestion,
	}
}
