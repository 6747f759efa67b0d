package gateway

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/rahul/planpilot/internal/plan"
	"github.com/rahul/planpilot/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptRunner struct {
	fail map[string]bool
}

func (r scriptRunner) Run(ctx context.Context, step plan.Step, publish func(plan.Step)) plan.Step {
	step.Status = plan.StatusInProgress
	step.Attempts++
	publish(step)
	if r.fail[step.ID] {
		step.Status = plan.StatusError
		step.Result = &plan.Result{Classification: plan.ClassError, Message: "backend refused"}
	} else {
		step.Status = plan.StatusCompleted
		step.Result = &plan.Result{Classification: plan.ClassSuccess, Message: "done " + step.ID}
	}
	return step
}

type recordingMessenger struct {
	mu   sync.Mutex
	sent []string
}

func (m *recordingMessenger) Start() error { return nil }
func (m *recordingMessenger) Stop() error  { return nil }
func (m *recordingMessenger) Send(chatID, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, chatID+": "+text)
	return nil
}

func (m *recordingMessenger) all() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return strings.Join(m.sent, "\n")
}

type fakePlanner struct {
	plan *plan.Plan
	err  error
}

func (f fakePlanner) Generate(ctx context.Context, chatID, request string) (*plan.Plan, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.plan.Clone(), nil
}

type memoryPlans struct {
	plans map[string]*plan.Plan
}

func (m *memoryPlans) SavePlan(p *plan.Plan) error {
	m.plans[p.ID] = p.Clone()
	return nil
}

func (m *memoryPlans) LoadPlan(id string) (*plan.Plan, error) {
	p, ok := m.plans[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return p.Clone(), nil
}

func threeSteps() *plan.Plan {
	return &plan.Plan{
		ID:    "p1",
		Title: "Bakery",
		Steps: []plan.Step{
			{ID: "a", Title: "Create page", Prompt: "create", Status: plan.StatusPending},
			{ID: "b", Title: "Write copy", Prompt: "write", Status: plan.StatusPending},
			{ID: "c", Title: "Publish", Prompt: "publish", Status: plan.StatusPending},
		},
	}
}

func waitSettled(t *testing.T, drv *plan.Driver, cond func(plan.Snapshot) bool) plan.Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	snap, err := drv.WaitFor(ctx, cond)
	require.NoError(t, err)
	return snap
}

func heldAt(i int) func(plan.Snapshot) bool {
	return func(s plan.Snapshot) bool {
		return (s.State == plan.StatePaused && s.Index == i) || s.State.Terminal()
	}
}

func TestDispatcher_ManualSession(t *testing.T) {
	ctx := context.Background()
	d, err := NewDispatcher(ctx, scriptRunner{})
	require.NoError(t, err)

	_, err = d.Handle(ctx, "c1", "/start")
	assert.ErrorIs(t, err, ErrNoPlan)

	require.NoError(t, d.SetPlan("c1", threeSteps()))
	out, err := d.Handle(ctx, "c1", "/show")
	require.NoError(t, err)
	assert.Contains(t, out, "1. Create page")
	assert.Contains(t, out, "3. Publish")

	out, err = d.Handle(ctx, "c1", "/start manual")
	require.NoError(t, err)
	assert.Contains(t, out, "manual mode")

	drv := d.Driver("c1")
	require.NotNil(t, drv)
	waitSettled(t, drv, heldAt(0))

	out, err = d.Handle(ctx, "c1", "/status")
	require.NoError(t, err)
	assert.Contains(t, out, "State: paused")
	assert.Contains(t, out, "Waiting for confirmation")

	_, err = d.Handle(ctx, "c1", "/start")
	assert.ErrorIs(t, err, plan.ErrInvalidCommand)
	require.Error(t, d.SetPlan("c1", threeSteps()))

	_, err = d.Handle(ctx, "c1", "/continue")
	require.NoError(t, err)
	waitSettled(t, drv, heldAt(1))

	_, err = d.Handle(ctx, "c1", "/skip")
	require.NoError(t, err)
	snap := waitSettled(t, drv, heldAt(2))
	assert.Equal(t, plan.StatusCompleted, snap.Steps[1].Status, "completed step keeps its status on skip")

	out, err = d.Handle(ctx, "c1", "/stop")
	require.NoError(t, err)
	assert.Equal(t, "Session stopped.", out)

	out, err = d.Handle(ctx, "c1", "/log 2")
	require.NoError(t, err)
	assert.Contains(t, out, "Session stopped by operator")
	assert.Equal(t, 2, len(strings.Split(out, "\n")))

	_, err = d.Handle(ctx, "c1", "/pause")
	assert.ErrorIs(t, err, plan.ErrInvalidCommand)
}

func TestDispatcher_FullAutoNotifies(t *testing.T) {
	ctx := context.Background()
	m := &recordingMessenger{}
	d, err := NewDispatcher(ctx, scriptRunner{fail: map[string]bool{"b": true}}, WithNotifier(m))
	require.NoError(t, err)
	require.NoError(t, d.SetPlan("42", threeSteps()))

	_, err = d.Handle(ctx, "42", "/start full-auto")
	require.NoError(t, err)
	drv := d.Driver("42")
	<-drv.Done()

	snap := drv.Snapshot()
	assert.Equal(t, plan.StateFinished, snap.State)
	assert.Equal(t, plan.StatusError, snap.Steps[1].Status)

	sent := m.all()
	assert.Contains(t, sent, "42: 🚀 Session started in full-auto mode with 3 steps.")
	assert.Contains(t, sent, "❌ Step 2/3 error: backend refused")
	assert.Contains(t, sent, "🏁 Plan finished")

	// A finished session can be rerun from scratch.
	_, err = d.Handle(ctx, "42", "/start full-auto")
	require.NoError(t, err)
	rerun := d.Driver("42")
	assert.NotEqual(t, drv.ID(), rerun.ID())
	<-rerun.Done()
	assert.Equal(t, 1, rerun.Snapshot().Steps[0].Attempts)
}

func TestDispatcher_PlanAndLoad(t *testing.T) {
	ctx := context.Background()
	saved := &memoryPlans{plans: map[string]*plan.Plan{}}
	d, err := NewDispatcher(ctx, scriptRunner{},
		WithPlanner(fakePlanner{plan: threeSteps()}),
		WithPlanStore(saved),
	)
	require.NoError(t, err)

	out, err := d.Handle(ctx, "c", "/plan build a bakery site")
	require.NoError(t, err)
	assert.Contains(t, out, "Plan id: p1")
	assert.Contains(t, saved.plans, "p1")

	_, err = d.Handle(ctx, "c", "/plans")
	assert.Error(t, err, "memory store cannot list plans")

	out, err = d.Handle(ctx, "c2", "/load p1")
	require.NoError(t, err)
	assert.Contains(t, out, "Bakery (3 steps)")

	_, err = d.Handle(ctx, "c2", "/load missing")
	assert.Error(t, err)

	_, err = d.Handle(ctx, "c", "/plan")
	assert.ErrorIs(t, err, plan.ErrInvalidCommand)

	out, err = d.Handle(ctx, "c3", "make me a website")
	require.NoError(t, err)
	assert.Contains(t, out, "Plan id: p1")
}

func TestDispatcher_Commands(t *testing.T) {
	ctx := context.Background()
	d, err := NewDispatcher(ctx, scriptRunner{})
	require.NoError(t, err)

	_, err = d.Handle(ctx, "c", "/dance")
	assert.ErrorIs(t, err, plan.ErrInvalidCommand)

	_, err = d.Handle(ctx, "c", "hello")
	assert.ErrorIs(t, err, plan.ErrInvalidCommand)

	out, err := d.Handle(ctx, "c", "/HELP@planpilot_bot")
	require.NoError(t, err)
	assert.Contains(t, out, "/retry")

	require.NoError(t, d.SetPlan("c", threeSteps()))
	_, err = d.Handle(ctx, "c", "/start sometimes")
	assert.ErrorIs(t, err, plan.ErrInvalidMode)

	_, err = d.Handle(ctx, "c", "/log x")
	assert.ErrorIs(t, err, plan.ErrInvalidCommand)

	out, err = d.Handle(ctx, "c", "  ")
	require.NoError(t, err)
	assert.Empty(t, out)

	assert.Equal(t, "⚠️ boom", ReplyText("ignored", errors.New("boom")))
}

func TestSplitMessage(t *testing.T) {
	text := strings.Repeat("line\n", 10)
	chunks := splitMessage(text, 12)
	assert.Equal(t, text, strings.Join(chunks, ""))
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c), 12)
	}

	text = strings.Repeat("é", 9) // 18 bytes, no newlines
	chunks = splitMessage(text, 7)
	assert.Equal(t, text, strings.Join(chunks, ""))
	for _, c := range chunks {
		assert.True(t, utf8.ValidString(c), "chunk %q splits a rune", c)
		assert.LessOrEqual(t, len(c), 7)
	}
}

func TestDispatcher_ConcurrentStartAndStatus(t *testing.T) {
	ctx := context.Background()
	d, err := NewDispatcher(ctx, scriptRunner{})
	require.NoError(t, err)
	require.NoError(t, d.SetPlan("c", threeSteps()))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := d.Handle(ctx, "c", "/start full-auto")
		assert.NoError(t, err)
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			_, err := d.Handle(ctx, "c", "/status")
			assert.NoError(t, err)
			_, err = d.Handle(ctx, "c", "/show")
			assert.NoError(t, err)
		}
	}()
	wg.Wait()

	drv := d.Driver("c")
	require.NotNil(t, drv)
	<-drv.Done()
	assert.Equal(t, plan.StateFinished, drv.Snapshot().State)
}

func TestDispatcher_SavedPlansAndSessions(t *testing.T) {
	ctx := context.Background()
	st, err := store.Open(filepath.Join(t.TempDir(), "planpilot.db"))
	require.NoError(t, err)
	defer st.Close()

	d, err := NewDispatcher(ctx, scriptRunner{fail: map[string]bool{"c": true}},
		WithPlanStore(st),
		WithSessionArchive(st),
		WithSessionLog(st),
		WithChatListener(func(chatID string) plan.Listener { return store.NewRecorder(st, chatID) }),
	)
	require.NoError(t, err)

	out, err := d.Handle(ctx, "c1", "/plans")
	require.NoError(t, err)
	assert.Equal(t, "No saved plans.", out)

	require.NoError(t, st.SavePlan(threeSteps()))
	out, err = d.Handle(ctx, "c1", "/plans")
	require.NoError(t, err)
	assert.Contains(t, out, "p1  Bakery (3 steps)")

	_, err = d.Handle(ctx, "c1", "/load p1")
	require.NoError(t, err)
	_, err = d.Handle(ctx, "c1", "/start full-auto")
	require.NoError(t, err)
	drv := d.Driver("c1")
	<-drv.Done()

	out, err = d.Handle(ctx, "c1", "/session "+drv.ID()+" 50")
	require.NoError(t, err)
	assert.Contains(t, out, "Plan: p1")
	assert.Contains(t, out, "Mode: full-auto")
	assert.Contains(t, out, "State: finished")
	assert.Contains(t, out, "Session started in full-auto mode")
	assert.Contains(t, out, "Plan finished")

	_, err = d.Handle(ctx, "c1", "/session missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = d.Handle(ctx, "c1", "/session")
	assert.ErrorIs(t, err, plan.ErrInvalidCommand)
	_, err = d.Handle(ctx, "c1", "/session "+drv.ID()+" zero")
	assert.ErrorIs(t, err, plan.ErrInvalidCommand)
}

func TestDispatcher_ShutdownWaitsForFinalEvents(t *testing.T) {
	ctx := context.Background()
	m := &recordingMessenger{}
	d, err := NewDispatcher(ctx, scriptRunner{}, WithNotifier(m))
	require.NoError(t, err)
	require.NoError(t, d.SetPlan("c", threeSteps()))

	_, err = d.Handle(ctx, "c", "/start manual")
	require.NoError(t, err)
	drv := d.Driver("c")
	waitSettled(t, drv, heldAt(0))

	sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, d.Shutdown(sctx))

	select {
	case <-drv.Done():
	default:
		t.Fatal("Shutdown returned before the session delivered its events")
	}
	assert.Equal(t, plan.StateStopped, drv.Snapshot().State)
	assert.Contains(t, m.all(), "⏹ Session stopped.")
}
