package gateway

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rahul/planpilot/internal/plan"
	"github.com/rahul/planpilot/internal/store"
)

// ErrNoPlan is returned by commands that need a plan before one was created
// or loaded for the chat.
var ErrNoPlan = errors.New("no plan loaded; use /plan <request> or /load <id>")

// PlanGenerator builds a plan from a natural language request.
type PlanGenerator interface {
	Generate(ctx context.Context, chatID, request string) (*plan.Plan, error)
}

// PlanStore keeps plans between sessions.
type PlanStore interface {
	SavePlan(p *plan.Plan) error
	LoadPlan(id string) (*plan.Plan, error)
}

// PlanCatalog lists saved plans, newest first. A PlanStore that also
// implements it enables /plans.
type PlanCatalog interface {
	ListPlans(limit int) ([]store.PlanSummary, error)
}

// SessionArchive reads back recorded sessions for /session.
type SessionArchive interface {
	GetSession(id string) (store.SessionRecord, error)
	ListLogs(sessionID string) ([]plan.LogEntry, error)
}

// CommandLogger records every handled command.
type CommandLogger interface {
	LogCommand(chatID, command string, err error)
}

const helpText = `Commands:
/plan <request>  generate a plan
/load <id>       load a saved plan
/plans           list saved plans
/show            list the plan steps
/start [mode]    run the plan (manual, auto, full-auto)
/pause           hold after the current step
/resume          continue past a held step
/continue        confirm a held step or skip the countdown
/retry           run the held step again
/skip            skip the held step
/stop            end the session
/status          show progress
/log [n]         show the last n log lines
/session <id>    show a recorded session
/help            this message`

type chatSession struct {
	plan   *plan.Plan
	driver *plan.Driver
}

// Dispatcher maps chat commands onto one plan session per chat.
type Dispatcher struct {
	mu       sync.Mutex
	sessions map[string]*chatSession

	ctx       context.Context
	runner    plan.Runner
	planner   PlanGenerator
	plans     PlanStore
	archive   SessionArchive
	sink      plan.LogSink
	listeners []plan.Listener
	perChat   []func(chatID string) plan.Listener
	logger    CommandLogger
	mode      plan.Mode
	autoDelay time.Duration
	clock     func() time.Time
}

// DispatcherOption customises a Dispatcher.
type DispatcherOption func(*Dispatcher)

func WithPlanner(g PlanGenerator) DispatcherOption {
	return func(d *Dispatcher) { d.planner = g }
}

func WithPlanStore(s PlanStore) DispatcherOption {
	return func(d *Dispatcher) { d.plans = s }
}

func WithSessionArchive(a SessionArchive) DispatcherOption {
	return func(d *Dispatcher) { d.archive = a }
}

func WithSessionLog(sink plan.LogSink) DispatcherOption {
	return func(d *Dispatcher) { d.sink = sink }
}

// WithListeners attaches listeners to every session.
func WithListeners(ls ...plan.Listener) DispatcherOption {
	return func(d *Dispatcher) { d.listeners = append(d.listeners, ls...) }
}

// WithChatListener attaches a listener built for the chat that starts a session.
func WithChatListener(fn func(chatID string) plan.Listener) DispatcherOption {
	return func(d *Dispatcher) { d.perChat = append(d.perChat, fn) }
}

// WithNotifier pushes session events to the chat through m.
func WithNotifier(m Messenger) DispatcherOption {
	return WithChatListener(func(chatID string) plan.Listener {
		return NewNotifier(m, chatID)
	})
}

func WithCommandLogger(l CommandLogger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = l }
}

func WithDefaultMode(m plan.Mode) DispatcherOption {
	return func(d *Dispatcher) { d.mode = m }
}

func WithSessionAutoDelay(delay time.Duration) DispatcherOption {
	return func(d *Dispatcher) { d.autoDelay = delay }
}

// NewDispatcher returns a dispatcher whose sessions run under ctx.
func NewDispatcher(ctx context.Context, runner plan.Runner, opts ...DispatcherOption) (*Dispatcher, error) {
	if runner == nil {
		return nil, errors.New("gateway: runner is required")
	}
	d := &Dispatcher{
		sessions: make(map[string]*chatSession),
		ctx:      ctx,
		runner:   runner,
		mode:     plan.ModeManual,
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// SetPlan makes p the chat's plan, replacing any ended session.
func (d *Dispatcher) SetPlan(chatID string, p *plan.Plan) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if s := d.sessions[chatID]; s != nil && active(s) {
		return fmt.Errorf("%w: a session is still active; /stop it first", plan.ErrInvalidCommand)
	}
	d.sessions[chatID] = &chatSession{plan: p.Clone()}
	return nil
}

// Driver returns the chat's current driver, or nil before /start.
func (d *Dispatcher) Driver(chatID string) *plan.Driver {
	d.mu.Lock()
	defer d.mu.Unlock()
	if s := d.sessions[chatID]; s != nil {
		return s.driver
	}
	return nil
}

// StopAll stops every active session.
func (d *Dispatcher) StopAll() {
	for _, drv := range d.drivers() {
		if st := drv.Snapshot().State; st != plan.StateIdle && !st.Terminal() {
			_ = drv.Stop()
		}
	}
}

// Shutdown stops every active session and waits until each driver has
// delivered its final events to listeners and log sinks.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.StopAll()
	for _, drv := range d.drivers() {
		select {
		case <-drv.Done():
		case <-ctx.Done():
			return fmt.Errorf("waiting for session %s: %w", drv.ID(), ctx.Err())
		}
	}
	return nil
}

func (d *Dispatcher) drivers() []*plan.Driver {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []*plan.Driver
	for _, s := range d.sessions {
		if s.driver != nil {
			out = append(out, s.driver)
		}
	}
	return out
}

// session returns the chat's plan and driver as of now. Both are replaced,
// never mutated, so they are safe to use after the lock is released.
func (d *Dispatcher) session(chatID string) (*plan.Plan, *plan.Driver, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := d.sessions[chatID]
	if s == nil {
		return nil, nil, false
	}
	return s.plan, s.driver, true
}

func active(s *chatSession) bool {
	if s.driver == nil {
		return false
	}
	st := s.driver.Snapshot().State
	return st != plan.StateIdle && !st.Terminal()
}

func (d *Dispatcher) Handle(ctx context.Context, chatID, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", nil
	}
	cmd, arg := parseCommand(text)

	var reply string
	var err error
	switch cmd {
	case "/plan":
		reply, err = d.generate(ctx, chatID, arg)
	case "/load":
		reply, err = d.load(chatID, arg)
	case "/plans":
		reply, err = d.listPlans()
	case "/show":
		reply, err = d.show(chatID)
	case "/start":
		reply, err = d.start(chatID, arg)
	case "/pause":
		reply, err = d.withDriver(chatID, func(drv *plan.Driver) (string, error) {
			if err := drv.Pause(); err != nil {
				return "", err
			}
			if drv.Snapshot().PauseRequested {
				return "Pause requested; the current step will finish first.", nil
			}
			return "Paused.", nil
		})
	case "/resume":
		reply, err = d.withDriver(chatID, func(drv *plan.Driver) (string, error) {
			return "Resumed.", drv.Resume()
		})
	case "/continue":
		reply, err = d.withDriver(chatID, func(drv *plan.Driver) (string, error) {
			if drv.Snapshot().State == plan.StatePaused {
				return "Continuing.", drv.Resume()
			}
			return "Continuing now.", drv.ContinueNow()
		})
	case "/retry":
		reply, err = d.withDriver(chatID, func(drv *plan.Driver) (string, error) {
			return "Retrying.", drv.Retry()
		})
	case "/skip":
		reply, err = d.withDriver(chatID, func(drv *plan.Driver) (string, error) {
			return "Skipped.", drv.Skip()
		})
	case "/stop":
		reply, err = d.withDriver(chatID, func(drv *plan.Driver) (string, error) {
			return "Session stopped.", drv.Stop()
		})
	case "/status":
		reply, err = d.status(chatID)
	case "/log":
		reply, err = d.logTail(chatID, arg)
	case "/session":
		reply, err = d.recorded(arg)
	case "/help":
		reply = helpText
	default:
		if !strings.HasPrefix(cmd, "/") && d.planner != nil {
			reply, err = d.generate(ctx, chatID, text)
			break
		}
		err = fmt.Errorf("%w: unknown command %s; try /help", plan.ErrInvalidCommand, cmd)
	}

	if d.logger != nil {
		d.logger.LogCommand(chatID, cmd, err)
	}
	if err != nil {
		return "", err
	}
	return reply, nil
}

// parseCommand splits "/cmd@bot arg" into "/cmd" and "arg".
func parseCommand(text string) (string, string) {
	head, rest, _ := strings.Cut(text, " ")
	head = strings.ToLower(head)
	if at := strings.Index(head, "@"); at > 0 && strings.HasPrefix(head, "/") {
		head = head[:at]
	}
	return head, strings.TrimSpace(rest)
}

func (d *Dispatcher) generate(ctx context.Context, chatID, request string) (string, error) {
	if d.planner == nil {
		return "", errors.New("plan generation is not configured")
	}
	if request == "" {
		return "", fmt.Errorf("%w: usage /plan <request>", plan.ErrInvalidCommand)
	}
	p, err := d.planner.Generate(ctx, chatID, request)
	if err != nil {
		return "", err
	}
	if err := d.SetPlan(chatID, p); err != nil {
		return "", err
	}
	if d.plans != nil {
		if err := d.plans.SavePlan(p); err != nil {
			return "", fmt.Errorf("save plan: %w", err)
		}
	}
	return fmt.Sprintf("%s\n\nPlan id: %s\nUse /start [manual|auto|full-auto] to run it.", RenderPlan(p), p.ID), nil
}

func (d *Dispatcher) load(chatID, id string) (string, error) {
	if d.plans == nil {
		return "", errors.New("plan storage is not configured")
	}
	if id == "" {
		return "", fmt.Errorf("%w: usage /load <plan id>", plan.ErrInvalidCommand)
	}
	p, err := d.plans.LoadPlan(id)
	if err != nil {
		return "", err
	}
	p.Reset()
	if err := d.SetPlan(chatID, p); err != nil {
		return "", err
	}
	return RenderPlan(p), nil
}

func (d *Dispatcher) listPlans() (string, error) {
	catalog, ok := d.plans.(PlanCatalog)
	if !ok {
		return "", errors.New("plan storage is not configured")
	}
	plans, err := catalog.ListPlans(10)
	if err != nil {
		return "", fmt.Errorf("list plans: %w", err)
	}
	return RenderPlanList(plans), nil
}

func (d *Dispatcher) show(chatID string) (string, error) {
	p, drv, ok := d.session(chatID)
	if !ok {
		return "", ErrNoPlan
	}
	if drv != nil {
		snap := drv.Snapshot()
		current := -1
		if !snap.State.Terminal() {
			current = snap.Index
		}
		return strings.TrimRight(RenderSteps(snap.Steps, current), "\n"), nil
	}
	return RenderPlan(p), nil
}

func (d *Dispatcher) start(chatID, arg string) (string, error) {
	mode := d.mode
	if arg != "" {
		m, err := plan.ParseMode(arg)
		if err != nil {
			return "", err
		}
		mode = m
	}

	d.mu.Lock()
	s := d.sessions[chatID]
	if s == nil {
		d.mu.Unlock()
		return "", ErrNoPlan
	}
	if active(s) {
		d.mu.Unlock()
		return "", fmt.Errorf("%w: session already running", plan.ErrInvalidCommand)
	}
	// Every run starts from a clean copy, including reruns after /stop.
	p := s.plan.Clone()
	p.Reset()

	opts := []plan.Option{plan.WithClock(d.clock)}
	if d.autoDelay > 0 {
		opts = append(opts, plan.WithAutoDelay(d.autoDelay))
	}
	if d.sink != nil {
		opts = append(opts, plan.WithLogSink(d.sink))
	}
	for _, l := range d.listeners {
		opts = append(opts, plan.WithListener(l))
	}
	for _, fn := range d.perChat {
		if l := fn(chatID); l != nil {
			opts = append(opts, plan.WithListener(l))
		}
	}
	drv, err := plan.NewDriver(p, d.runner, opts...)
	if err != nil {
		d.mu.Unlock()
		return "", err
	}
	if err := drv.Start(d.ctx, mode); err != nil {
		d.mu.Unlock()
		return "", err
	}
	s.driver = drv
	d.mu.Unlock()

	return fmt.Sprintf("Started %q in %s mode (%d steps). Session %s.", p.Title, mode, len(p.Steps), drv.ID()), nil
}

func (d *Dispatcher) withDriver(chatID string, fn func(*plan.Driver) (string, error)) (string, error) {
	drv := d.Driver(chatID)
	if drv == nil {
		return "", fmt.Errorf("%w: no session started; use /start", plan.ErrInvalidCommand)
	}
	reply, err := fn(drv)
	if err != nil {
		return "", err
	}
	return reply, nil
}

func (d *Dispatcher) status(chatID string) (string, error) {
	p, drv, ok := d.session(chatID)
	if !ok {
		return "", ErrNoPlan
	}
	if drv == nil {
		return fmt.Sprintf("State: idle\nProgress: %s\nUse /start to run the plan.", p.Progress()), nil
	}
	return RenderStatus(drv.Snapshot(), d.clock()), nil
}

func (d *Dispatcher) logTail(chatID, arg string) (string, error) {
	n := 10
	if arg != "" {
		v, err := strconv.Atoi(arg)
		if err != nil || v <= 0 {
			return "", fmt.Errorf("%w: usage /log [n]", plan.ErrInvalidCommand)
		}
		n = v
	}
	drv := d.Driver(chatID)
	if drv == nil {
		return "", fmt.Errorf("%w: no session started; use /start", plan.ErrInvalidCommand)
	}
	return RenderLog(drv.Snapshot().Log, n), nil
}

func (d *Dispatcher) recorded(arg string) (string, error) {
	if d.archive == nil {
		return "", errors.New("session storage is not configured")
	}
	id, rest, _ := strings.Cut(arg, " ")
	if id == "" {
		return "", fmt.Errorf("%w: usage /session <id> [n]", plan.ErrInvalidCommand)
	}
	n := 10
	if rest = strings.TrimSpace(rest); rest != "" {
		v, err := strconv.Atoi(rest)
		if err != nil || v <= 0 {
			return "", fmt.Errorf("%w: usage /session <id> [n]", plan.ErrInvalidCommand)
		}
		n = v
	}
	rec, err := d.archive.GetSession(id)
	if err != nil {
		return "", err
	}
	entries, err := d.archive.ListLogs(id)
	if err != nil {
		return "", fmt.Errorf("session log: %w", err)
	}
	return RenderSessionRecord(rec) + "\n\n" + RenderLog(entries, n), nil
}
