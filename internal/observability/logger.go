package observability

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rahul/planpilot/internal/plan"
)

// EventType defines the category of the log event.
type EventType string

const (
	EventTypeSession   EventType = "session"
	EventTypeStep      EventType = "step"
	EventTypeClassify  EventType = "classify"
	EventTypeCommand   EventType = "command"
	EventTypePlan      EventType = "plan"
	EventTypeHeartbeat EventType = "heartbeat"
	EventTypeLLM       EventType = "llm"
)

// Event represents a structured log entry.
type Event struct {
	Type      EventType `json:"type"`
	ChatID    string    `json:"chat_id,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	TaskID    string    `json:"task_id,omitempty"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// Logger writes one JSON object per line. LLM exchanges are additionally
// appended to a rotating file because they are too large for the console.
type Logger struct {
	mu         sync.Mutex
	out        io.Writer
	llmLogPath string
	maxSize    int64
}

func NewLogger() *Logger {
	return &Logger{
		out:        os.Stdout,
		llmLogPath: filepath.Join("logs", "llm.jsonl"),
		maxSize:    10 * 1024 * 1024, // 10MB
	}
}

// WithOutput redirects console events; w may be io.Discard.
func (l *Logger) WithOutput(w io.Writer) *Logger {
	l.out = w
	return l
}

// WithLLMLog changes where model exchanges are written. An empty path
// disables the file.
func (l *Logger) WithLLMLog(path string) *Logger {
	l.llmLogPath = path
	return l
}

// Log emits a structured JSON event.
func (l *Logger) Log(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	data, err := json.Marshal(evt)
	if err != nil {
		data = []byte(fmt.Sprintf(`{"error": "failed to marshal event: %v"}`, err))
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintln(l.out, string(data))

	if evt.Type == EventTypeLLM && l.llmLogPath != "" {
		l.writeToFile(data)
	}
}

func (l *Logger) writeToFile(data []byte) {
	if err := os.MkdirAll(filepath.Dir(l.llmLogPath), 0755); err != nil {
		log.Printf("failed to create log directory: %v", err)
		return
	}

	info, err := os.Stat(l.llmLogPath)
	if err == nil && info.Size() > l.maxSize {
		l.rotateLogs()
	}

	f, err := os.OpenFile(l.llmLogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.Printf("failed to open log file: %v", err)
		return
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		log.Printf("failed to write to log file: %v", err)
	}
}

func (l *Logger) rotateLogs() {
	// Simple rotation: keep one .old file
	oldPath := l.llmLogPath + ".old"
	_ = os.Remove(oldPath)
	_ = os.Rename(l.llmLogPath, oldPath)
}

// Notify implements plan.Listener.
func (l *Logger) Notify(ev plan.Event) {
	evt := Event{
		Type:      EventTypeSession,
		SessionID: ev.SessionID,
		Timestamp: ev.At,
	}
	data := map[string]any{
		"kind":  ev.Kind,
		"state": ev.State,
		"mode":  ev.Mode,
		"index": ev.Index,
		"total": ev.Total,
	}
	if ev.Step != nil {
		evt.Type = EventTypeStep
		evt.TaskID = ev.Step.ID
		data["status"] = ev.Step.Status
		data["attempts"] = ev.Step.Attempts
		if ev.Step.Skipped {
			data["skipped"] = true
		}
		if ev.Step.Result != nil {
			data["classification"] = ev.Step.Result.Classification
			data["message"] = ev.Step.Result.Message
		}
		if d := ev.Step.Duration(); d > 0 {
			data["duration_ms"] = d.Milliseconds()
		}
	}
	if ev.Decision != nil {
		data["decision"] = ev.Decision.Kind.String()
		if ev.Decision.Delay > 0 {
			data["delay_ms"] = ev.Decision.Delay.Milliseconds()
		}
	}
	if ev.Progress != nil {
		data["progress"] = ev.Progress
	}
	if ev.Message != "" {
		data["message"] = ev.Message
	}
	evt.Data = data
	l.Log(evt)
}

// AppendLog implements plan.LogSink.
func (l *Logger) AppendLog(sessionID string, entry plan.LogEntry) {
	l.Log(Event{
		Type:      EventTypeSession,
		SessionID: sessionID,
		Data:      map[string]string{"log": entry.Text},
		Timestamp: entry.At,
	})
}

// Helper methods for common events

func (l *Logger) LogCommand(chatID, command string, err error) {
	data := map[string]string{"command": command}
	if err != nil {
		data["error"] = err.Error()
	}
	l.Log(Event{
		Type:   EventTypeCommand,
		ChatID: chatID,
		Data:   data,
	})
}

func (l *Logger) LogClassify(taskID string, res plan.Result) {
	data := map[string]string{
		"classification": string(res.Classification),
		"message":        res.Message,
	}
	if res.Suggestion != "" {
		data["suggestion"] = res.Suggestion
	}
	l.Log(Event{
		Type:   EventTypeClassify,
		TaskID: taskID,
		Data:   data,
	})
}

func (l *Logger) LogPlan(chatID string, p *plan.Plan) {
	l.Log(Event{
		Type:   EventTypePlan,
		ChatID: chatID,
		TaskID: p.ID,
		Data: map[string]any{
			"title": p.Title,
			"steps": len(p.Steps),
		},
	})
}

func (l *Logger) LogHeartbeat() {
	l.Log(Event{
		Type: EventTypeHeartbeat,
		Data: map[string]string{"status": "alive"},
	})
}

func (l *Logger) LogLLM(chatID, taskID string, prompt any, response string, toolCalls any) {
	l.Log(Event{
		Type:   EventTypeLLM,
		ChatID: chatID,
		TaskID: taskID,
		Data: map[string]any{
			"prompt":     prompt,
			"response":   response,
			"tool_calls": toolCalls,
		},
	})
}
