package plan

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// State enumerates execution session phases.
type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StatePaused   State = "paused"
	StateFinished State = "finished"
	StateStopped  State = "stopped"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateFinished || s == StateStopped
}

// Timer is the part of *time.Timer the driver uses.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d. Implementations must call f on another
// goroutine, never synchronously.
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Snapshot is a consistent copy of the session state.
type Snapshot struct {
	SessionID      string
	PlanID         string
	State          State
	Mode           Mode
	Index          int
	Steps          []Step
	LastResult     *Result
	InFlight       bool
	PauseRequested bool
	AdvanceAt      time.Time
	Log            []LogEntry
}

// Current returns the step at the session index, if any.
func (s Snapshot) Current() (Step, bool) {
	if s.Index < 0 || s.Index >= len(s.Steps) {
		return Step{}, false
	}
	return s.Steps[s.Index], true
}

// AdvancePending reports whether an auto-advance countdown is running.
func (s Snapshot) AdvancePending() bool {
	return !s.AdvanceAt.IsZero()
}

// Progress summarises the snapshot's steps.
func (s Snapshot) Progress() Progress {
	p := Plan{Steps: s.Steps}
	return p.Progress()
}

type pendingAdvance struct {
	token uint64
	at    time.Time
	timer Timer
}

// Driver sequences the steps of one plan through a Runner under a Mode.
// It owns the session index, the running flag and the only writable copy of
// the plan; callers observe it through Snapshot, WaitFor and listeners.
type Driver struct {
	mu        sync.Mutex
	id        string
	plan      *Plan
	runner    Runner
	clock     func() time.Time
	afterFunc AfterFunc
	autoDelay time.Duration
	sink      LogSink
	listeners []Listener

	ctx            context.Context
	mode           Mode
	state          State
	index          int
	lastResult     *Result
	inFlight       bool
	preRun         Step
	pauseRequested bool
	gen            uint64
	advance        *pendingAdvance
	advanceSeq     uint64
	log            []LogEntry

	changed     chan struct{}
	queue       *eventQueue
	dispatching bool
	done        chan struct{}
}

// Option customizes the driver instance.
type Option func(*Driver)

// WithSessionID overrides the generated session id.
func WithSessionID(id string) Option {
	return func(d *Driver) {
		if id != "" {
			d.id = id
		}
	}
}

// WithClock injects a deterministic clock (primarily for tests).
func WithClock(clock func() time.Time) Option {
	return func(d *Driver) {
		if clock != nil {
			d.clock = clock
		}
	}
}

// WithAfterFunc replaces the timer used for auto-advance delays.
func WithAfterFunc(fn AfterFunc) Option {
	return func(d *Driver) {
		if fn != nil {
			d.afterFunc = fn
		}
	}
}

// WithAutoDelay overrides the policy delay used in auto mode.
func WithAutoDelay(delay time.Duration) Option {
	return func(d *Driver) {
		if delay > 0 {
			d.autoDelay = delay
		}
	}
}

// WithLogSink forwards every session log entry to sink.
func WithLogSink(sink LogSink) Option {
	return func(d *Driver) {
		d.sink = sink
	}
}

// WithListener registers an event listener. May be repeated.
func WithListener(l Listener) Option {
	return func(d *Driver) {
		if l != nil {
			d.listeners = append(d.listeners, l)
		}
	}
}

// NewDriver prepares an idle session for p. The driver works on its own copy
// of the plan.
func NewDriver(p *Plan, runner Runner, opts ...Option) (*Driver, error) {
	if p == nil {
		return nil, fmt.Errorf("plan driver: plan is required")
	}
	if runner == nil {
		return nil, fmt.Errorf("plan driver: step runner is required")
	}
	d := &Driver{
		id:        uuid.NewString(),
		plan:      p.Clone(),
		runner:    runner,
		clock:     time.Now,
		afterFunc: realAfterFunc,
		state:     StateIdle,
		changed:   make(chan struct{}),
		queue:     newEventQueue(),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// ID returns the session id.
func (d *Driver) ID() string { return d.id }

// Done is closed once the session is terminal and every event was delivered.
func (d *Driver) Done() <-chan struct{} { return d.done }

// Start begins executing from the first step. ctx is passed to every action
// and classifier call; Stop does not cancel it.
func (d *Driver) Start(ctx context.Context, mode Mode) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != StateIdle {
		return reject("start", d.state, "session already started")
	}
	if !mode.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}
	if len(d.plan.Steps) == 0 {
		return fmt.Errorf("start: %w", ErrNoSteps)
	}
	if err := d.plan.Validate(); err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	d.ctx = ctx
	d.mode = mode
	d.state = StateRunning
	d.index = 0
	d.startDispatcherLocked()
	d.logf("Session started in %s mode with %d steps", mode, len(d.plan.Steps))
	d.emit(Event{Kind: EventSessionStarted})
	d.launchLocked()
	d.touchLocked()
	return nil
}

// Pause holds the session. While a step is in flight the pause is queued and
// takes effect when the step finishes; a pending auto-advance is cancelled.
func (d *Driver) Pause() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch d.state {
	case StateRunning:
	case StatePaused:
		return reject("pause", d.state, "session is already paused")
	default:
		return reject("pause", d.state, "session is not running")
	}
	switch {
	case d.advance != nil:
		d.cancelAdvanceLocked()
		d.holdLocked("Paused by operator")
	case d.inFlight:
		if d.pauseRequested {
			return nil
		}
		d.pauseRequested = true
		d.logf("Pause requested; step %q will finish first", d.plan.Steps[d.index].Label())
	default:
		d.holdLocked("Paused by operator")
	}
	d.touchLocked()
	return nil
}

// Resume continues past the held step without retrying it. While a queued
// pause is outstanding, Resume withdraws it instead.
func (d *Driver) Resume() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == StateRunning && d.pauseRequested {
		d.pauseRequested = false
		d.logf("Pause request withdrawn")
		d.touchLocked()
		return nil
	}
	if d.state != StatePaused {
		return reject("resume", d.state, "session is not paused")
	}
	d.logf("Resumed by operator")
	d.emit(Event{Kind: EventResumed})
	d.advanceLocked()
	d.touchLocked()
	return nil
}

// ContinueNow collapses a pending auto-advance delay.
func (d *Driver) ContinueNow() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.advance == nil {
		return reject("continue", d.state, "no auto-advance is pending")
	}
	pa := d.advance
	if pa.timer != nil {
		pa.timer.Stop()
	}
	if !d.takeAdvanceLocked(pa.token) {
		return reject("continue", d.state, "auto-advance already fired")
	}
	d.logf("Continuing immediately")
	d.advanceLocked()
	d.touchLocked()
	return nil
}

// Retry re-runs the held step at the same index.
func (d *Driver) Retry() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != StatePaused {
		return reject("retry", d.state, "no held step to retry")
	}
	d.state = StateRunning
	d.logf("Retrying step %q", d.plan.Steps[d.index].Label())
	d.emit(Event{Kind: EventRetrying})
	d.launchLocked()
	d.touchLocked()
	return nil
}

// Skip marks the held step as skipped and advances by exactly one. A step
// that already completed keeps its status.
func (d *Driver) Skip() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != StatePaused {
		return reject("skip", d.state, "no held step to skip")
	}
	s := d.plan.Steps[d.index].Clone()
	if s.Status != StatusCompleted {
		s.Status = StatusError
		s.Skipped = true
		if s.FinishedAt.IsZero() {
			s.FinishedAt = d.clock()
		}
	}
	d.plan.Steps[d.index] = s
	d.logf("Skipped step %q", s.Label())
	d.emit(Event{Kind: EventStepSkipped, Step: &s})
	d.advanceLocked()
	d.touchLocked()
	return nil
}

// Stop cancels the session. An in-flight call keeps running but its result
// is discarded and the step is restored to its pre-run copy.
func (d *Driver) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state.Terminal() {
		return reject("stop", d.state, "session already ended")
	}
	d.cancelAdvanceLocked()
	if d.inFlight {
		d.plan.Steps[d.index] = d.preRun.Clone()
		d.inFlight = false
		d.gen++
	}
	d.pauseRequested = false
	d.logf("Session stopped by operator")
	d.finishLocked(StateStopped)
	d.touchLocked()
	return nil
}

// Snapshot returns a copy of the current session state.
func (d *Driver) Snapshot() Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.snapshotLocked()
}

// WaitFor blocks until cond holds for a snapshot or ctx is done.
func (d *Driver) WaitFor(ctx context.Context, cond func(Snapshot) bool) (Snapshot, error) {
	for {
		d.mu.Lock()
		snap := d.snapshotLocked()
		ch := d.changed
		d.mu.Unlock()
		if cond(snap) {
			return snap, nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return snap, ctx.Err()
		}
	}
}

// Settled matches snapshots where the driver waits on the operator or has ended.
func Settled(s Snapshot) bool {
	return s.State == StatePaused || s.State.Terminal()
}

func (d *Driver) snapshotLocked() Snapshot {
	snap := Snapshot{
		SessionID:      d.id,
		PlanID:         d.plan.ID,
		State:          d.state,
		Mode:           d.mode,
		Index:          d.index,
		Steps:          cloneSteps(d.plan.Steps),
		InFlight:       d.inFlight,
		PauseRequested: d.pauseRequested,
		Log:            append([]LogEntry(nil), d.log...),
	}
	if d.lastResult != nil {
		r := *d.lastResult
		snap.LastResult = &r
	}
	if d.advance != nil {
		snap.AdvanceAt = d.advance.at
	}
	return snap
}

func (d *Driver) launchLocked() {
	idx := d.index
	d.gen++
	gen := d.gen
	step := d.plan.Steps[idx].Clone()
	d.preRun = step.Clone()
	d.inFlight = true
	d.lastResult = nil
	go d.execute(d.ctx, gen, idx, step)
}

func (d *Driver) execute(ctx context.Context, gen uint64, idx int, step Step) {
	publish := func(s Step) {
		d.mu.Lock()
		defer d.mu.Unlock()
		if gen != d.gen || d.state.Terminal() {
			return
		}
		d.plan.Steps[idx] = s.Clone()
		d.logf("Step %d/%d %q started", idx+1, len(d.plan.Steps), s.Label())
		d.emit(Event{Kind: EventStepStarted, Step: &s})
		d.touchLocked()
	}
	final := d.runSafely(ctx, step, publish)
	d.complete(gen, idx, final)
}

func (d *Driver) runSafely(ctx context.Context, step Step, publish func(Step)) (out Step) {
	defer func() {
		if r := recover(); r != nil {
			out = step.Clone()
			out.Status = StatusError
			out.Result = &Result{Classification: ClassError, Message: fmt.Sprintf("Step runner failed: %v", r)}
			out.FinishedAt = d.clock()
		}
	}()
	return d.runner.Run(ctx, step, publish)
}

func (d *Driver) complete(gen uint64, idx int, s Step) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if gen != d.gen || d.state.Terminal() {
		d.logf("Discarded late result for step %q", s.Label())
		d.touchLocked()
		return
	}
	if s.Result == nil || !s.Status.Terminal() {
		s.Status = StatusError
		if s.Result == nil {
			s.Result = &Result{Classification: ClassError, Message: "Step runner returned no result."}
		}
	}
	d.plan.Steps[idx] = s.Clone()
	d.inFlight = false
	res := *s.Result
	d.lastResult = &res
	d.logf("Step %q finished: %s - %s", s.Label(), res.Classification, res.Message)

	var dec Decision
	if d.pauseRequested {
		dec = Decision{Kind: HoldForOperator}
	} else {
		dec = Decide(d.mode, res)
	}
	d.emit(Event{Kind: EventStepFinished, Step: &s, Decision: &dec})

	switch {
	case d.pauseRequested:
		d.pauseRequested = false
		d.holdLocked("Paused by operator")
	case dec.Kind == Advance:
		d.advanceLocked()
	case dec.Kind == AdvanceAfterDelay:
		d.scheduleLocked(dec)
	default:
		d.holdLocked(holdReason(res))
	}
	d.touchLocked()
}

func holdReason(res Result) string {
	if res.Classification == ClassSuccess {
		return "Waiting for operator confirmation"
	}
	return "Waiting for operator: retry or skip"
}

func (d *Driver) holdLocked(reason string) {
	d.state = StatePaused
	d.logf("%s", reason)
	d.emit(Event{Kind: EventHeld, Message: reason})
}

func (d *Driver) advanceLocked() {
	d.index++
	d.lastResult = nil
	if d.index >= len(d.plan.Steps) {
		d.finishLocked(StateFinished)
		return
	}
	d.state = StateRunning
	d.launchLocked()
}

func (d *Driver) scheduleLocked(dec Decision) {
	delay := dec.Delay
	if d.autoDelay > 0 {
		delay = d.autoDelay
	}
	d.advanceSeq++
	token := d.advanceSeq
	pa := &pendingAdvance{token: token, at: d.clock().Add(delay)}
	d.advance = pa
	pa.timer = d.afterFunc(delay, func() { d.fireAdvance(token) })
	d.logf("Continuing in %s", delay)
	d.emit(Event{Kind: EventAdvanceScheduled, Decision: &Decision{Kind: AdvanceAfterDelay, Delay: delay}})
}

func (d *Driver) fireAdvance(token uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.takeAdvanceLocked(token) {
		return
	}
	d.advanceLocked()
	d.touchLocked()
}

// takeAdvanceLocked is the single-fire guard shared by the timer and
// ContinueNow: only the first caller holding the current token proceeds.
func (d *Driver) takeAdvanceLocked(token uint64) bool {
	if d.advance == nil || d.advance.token != token || d.state != StateRunning {
		return false
	}
	d.advance = nil
	return true
}

func (d *Driver) cancelAdvanceLocked() {
	if d.advance == nil {
		return
	}
	if d.advance.timer != nil {
		d.advance.timer.Stop()
	}
	d.advance = nil
}

func (d *Driver) finishLocked(state State) {
	d.state = state
	progress := d.plan.Progress()
	kind := EventFinished
	if state == StateStopped {
		kind = EventStopped
	} else {
		d.logf("Plan finished: %s", progress)
	}
	ev := Event{Kind: kind, Progress: &progress, Message: progress.String()}
	if d.index < len(d.plan.Steps) {
		s := d.plan.Steps[d.index].Clone()
		ev.Step = &s
	}
	d.emit(ev)
	d.startDispatcherLocked()
	d.queue.close()
}

func (d *Driver) startDispatcherLocked() {
	if d.dispatching {
		return
	}
	d.dispatching = true
	go func() {
		defer close(d.done)
		d.queue.run(d.deliver)
	}()
}

func (d *Driver) deliver(item dispatchItem) {
	if item.log != nil && d.sink != nil {
		d.sink.AppendLog(d.id, *item.log)
	}
	if item.event != nil {
		for _, l := range d.listeners {
			l.Notify(*item.event)
		}
	}
}

func (d *Driver) emit(ev Event) {
	ev.SessionID = d.id
	ev.PlanID = d.plan.ID
	ev.Mode = d.mode
	ev.State = d.state
	ev.Index = d.index
	ev.Total = len(d.plan.Steps)
	ev.At = d.clock()
	d.queue.push(dispatchItem{event: &ev})
}

func (d *Driver) logf(format string, args ...any) {
	entry := LogEntry{At: d.clock(), Text: fmt.Sprintf(format, args...)}
	d.log = append(d.log, entry)
	d.queue.push(dispatchItem{log: &entry})
}

func (d *Driver) touchLocked() {
	close(d.changed)
	d.changed = make(chan struct{})
}
