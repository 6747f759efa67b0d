package observability

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rahul/planpilot/internal/plan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestLogger_NotifyStepEvent(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger().WithOutput(&buf).WithLLMLog("")

	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	step := plan.Step{
		ID:         "create",
		Status:     plan.StatusCompleted,
		Attempts:   1,
		Result:     &plan.Result{Classification: plan.ClassSuccess, Message: "Created"},
		StartedAt:  start,
		FinishedAt: start.Add(1500 * time.Millisecond),
	}
	dec := plan.Decision{Kind: plan.AdvanceAfterDelay, Delay: 3 * time.Second}
	l.Notify(plan.Event{Kind: plan.EventStepFinished, SessionID: "s1", Step: &step, Decision: &dec, At: start})

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "step", lines[0]["type"])
	assert.Equal(t, "create", lines[0]["task_id"])
	data := lines[0]["data"].(map[string]any)
	assert.Equal(t, "success", data["classification"])
	assert.Equal(t, float64(1500), data["duration_ms"])
	assert.Equal(t, float64(3000), data["delay_ms"])
}

func TestLogger_LLMFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "llm.jsonl")
	var buf bytes.Buffer
	l := NewLogger().WithOutput(&buf).WithLLMLog(path)

	l.LogLLM("chat", "planner", "prompt", "response", nil)
	l.LogCommand("chat", "/start", nil)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(data), "\n"))
	assert.Contains(t, string(data), `"type":"llm"`)
	assert.Len(t, decodeLines(t, &buf), 2)
}

func TestStatusTracker(t *testing.T) {
	tr := NewStatusTracker()
	step := plan.Step{ID: "a", Title: "Create page", Status: plan.StatusCompleted}
	tr.Notify(plan.Event{SessionID: "s", State: plan.StateRunning, Index: 0, Total: 2, Step: &step})

	state, task, progress, _ := GetStatus()
	assert.Equal(t, plan.StateRunning, state)
	assert.Equal(t, "Create page", task)
	assert.Equal(t, 1, progress.Completed)
	assert.Equal(t, 2, progress.Total)

	final := plan.Progress{Total: 2, Completed: 2, Percent: 100}
	tr.Notify(plan.Event{SessionID: "s", State: plan.StateFinished, Index: 2, Total: 2, Progress: &final})
	state, _, progress, _ = GetStatus()
	assert.Equal(t, plan.StateFinished, state)
	assert.Equal(t, 2, progress.Completed)
}

func TestLogger_LogClassify(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger().WithOutput(&buf).WithLLMLog("")

	l.LogClassify("publish", plan.Result{Classification: plan.ClassError, Message: "Deploy failed", Suggestion: "Retry later"})

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "classify", lines[0]["type"])
	assert.Equal(t, "publish", lines[0]["task_id"])
	data := lines[0]["data"].(map[string]any)
	assert.Equal(t, "error", data["classification"])
	assert.Equal(t, "Retry later", data["suggestion"])
}
