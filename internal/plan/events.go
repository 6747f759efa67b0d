package plan

import (
	"sync"
	"time"
)

// EventKind categorises driver notifications.
type EventKind string

const (
	EventSessionStarted   EventKind = "session_started"
	EventStepStarted      EventKind = "step_started"
	EventStepFinished     EventKind = "step_finished"
	EventStepSkipped      EventKind = "step_skipped"
	EventAdvanceScheduled EventKind = "advance_scheduled"
	EventHeld             EventKind = "held"
	EventResumed          EventKind = "resumed"
	EventRetrying         EventKind = "retrying"
	EventFinished         EventKind = "finished"
	EventStopped          EventKind = "stopped"
)

// Event is emitted by the Driver on every observable transition.
type Event struct {
	Kind      EventKind
	SessionID string
	PlanID    string
	Mode      Mode
	State     State
	Index     int
	Total     int
	Step      *Step
	Decision  *Decision
	Progress  *Progress
	Message   string
	At        time.Time
}

// Listener receives driver events in emission order. Notify is never called
// with the driver lock held, so it may call back into the Driver.
type Listener interface {
	Notify(Event)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(Event)

func (f ListenerFunc) Notify(e Event) { f(e) }

// LogEntry is one timestamped line of the session log.
type LogEntry struct {
	At   time.Time `json:"at"`
	Text string    `json:"text"`
}

// LogSink receives every session log entry as it is appended.
type LogSink interface {
	AppendLog(sessionID string, entry LogEntry)
}

// LogSinks fans entries out to several sinks in order.
type LogSinks []LogSink

func (ls LogSinks) AppendLog(sessionID string, entry LogEntry) {
	for _, s := range ls {
		s.AppendLog(sessionID, entry)
	}
}

type dispatchItem struct {
	event *Event
	log   *LogEntry
}

// eventQueue is an unbounded FIFO drained by one goroutine.
type eventQueue struct {
	mu     sync.Mutex
	items  []dispatchItem
	closed bool
	wake   chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{wake: make(chan struct{}, 1)}
}

func (q *eventQueue) push(item dispatchItem) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, item)
	q.mu.Unlock()
	q.signal()
}

func (q *eventQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

func (q *eventQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// run delivers items until the queue is closed and empty.
func (q *eventQueue) run(deliver func(dispatchItem)) {
	for {
		q.mu.Lock()
		batch := q.items
		q.items = nil
		closed := q.closed
		q.mu.Unlock()
		for _, item := range batch {
			deliver(item)
		}
		if closed {
			return
		}
		<-q.wake
	}
}
