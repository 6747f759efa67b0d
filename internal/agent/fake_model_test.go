package agent

import (
	"context"
	"errors"
	"sync"

	"github.com/tmc/langchaingo/llms"
)

// scriptedModel replays canned choices in order and records every request.
type scriptedModel struct {
	mu       sync.Mutex
	choices  []*llms.ContentChoice
	err      error
	requests [][]llms.MessageContent
}

func (m *scriptedModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, append([]llms.MessageContent(nil), messages...))
	if m.err != nil {
		return nil, m.err
	}
	if len(m.choices) == 0 {
		return nil, errors.New("script exhausted")
	}
	next := m.choices[0]
	m.choices = m.choices[1:]
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{next}}, nil
}

func (m *scriptedModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

func textChoice(s string) *llms.ContentChoice {
	return &llms.ContentChoice{Content: s}
}

func toolChoice(id, name, args string) *llms.ContentChoice {
	return &llms.ContentChoice{ToolCalls: []llms.ToolCall{{
		ID:           id,
		Type:         "function",
		FunctionCall: &llms.FunctionCall{Name: name, Arguments: args},
	}}}
}

func lastText(msgs []llms.MessageContent) string {
	if len(msgs) == 0 {
		return ""
	}
	for _, p := range msgs[len(msgs)-1].Parts {
		switch v := p.(type) {
		case llms.TextContent:
			return v.Text
		case llms.ToolCallResponse:
			return v.Content
		}
	}
	return ""
}

type memoryHistory struct {
	messages map[string][]llms.MessageContent
}

func newMemoryHistory() *memoryHistory {
	return &memoryHistory{messages: map[string][]llms.MessageContent{}}
}

func (h *memoryHistory) AddMessage(chatID, role, content string) error {
	kind := llms.ChatMessageTypeHuman
	if role == "ai" {
		kind = llms.ChatMessageTypeAI
	}
	h.messages[chatID] = append(h.messages[chatID], llms.TextParts(kind, content))
	return nil
}

func (h *memoryHistory) GetHistory(chatID string, limit int) ([]llms.MessageContent, error) {
	msgs := h.messages[chatID]
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}
