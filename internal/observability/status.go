package observability

import (
	"sync"
	"time"

	"github.com/rahul/planpilot/internal/plan"
)

type SystemStatus struct {
	mu            sync.RWMutex
	State         plan.State
	ActiveTask    string
	Progress      plan.Progress
	LastHeartbeat time.Time
}

var globalStatus = &SystemStatus{
	State:         plan.StateIdle,
	LastHeartbeat: time.Now(),
}

// SetStatus updates the global system status.
func SetStatus(state plan.State, task string, progress plan.Progress) {
	globalStatus.mu.Lock()
	defer globalStatus.mu.Unlock()
	globalStatus.State = state
	globalStatus.ActiveTask = task
	globalStatus.Progress = progress
}

// GetStatus retrieves a copy of the global system status.
func GetStatus() (plan.State, string, plan.Progress, time.Time) {
	globalStatus.mu.RLock()
	defer globalStatus.mu.RUnlock()
	return globalStatus.State, globalStatus.ActiveTask, globalStatus.Progress, globalStatus.LastHeartbeat
}

// Heartbeat updates the last heartbeat time.
func Heartbeat() {
	globalStatus.mu.Lock()
	defer globalStatus.mu.Unlock()
	globalStatus.LastHeartbeat = time.Now()
}

// StatusTracker feeds driver events into the global status line.
type StatusTracker struct {
	mu    sync.Mutex
	steps map[string][]plan.Step
}

func NewStatusTracker() *StatusTracker {
	return &StatusTracker{steps: make(map[string][]plan.Step)}
}

func (t *StatusTracker) Notify(ev plan.Event) {
	t.mu.Lock()
	steps := t.steps[ev.SessionID]
	if len(steps) != ev.Total {
		steps = make([]plan.Step, ev.Total)
		t.steps[ev.SessionID] = steps
	}
	if ev.Step != nil && ev.Index >= 0 && ev.Index < len(steps) {
		steps[ev.Index] = *ev.Step
	}
	progress := (&plan.Plan{Steps: steps}).Progress()
	if ev.Progress != nil {
		progress = *ev.Progress
	}
	if ev.State.Terminal() {
		delete(t.steps, ev.SessionID)
	}
	t.mu.Unlock()

	task := ""
	if ev.Step != nil {
		task = ev.Step.Label()
	}
	SetStatus(ev.State, task, progress)
}
