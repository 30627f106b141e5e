// Package progress implements the progress sink the orchestrator emits
// stage updates to (spec.md §6, §9): a single-threaded, ordered,
// possibly-null callback that must never let a slow consumer back-pressure
// the pipeline beyond a documented bound.
package progress

import "sync"

// Stage names the orchestrator emits, in order (spec.md §6).
const (
	StageInit     = "init"
	StageDiff     = "diff"
	StageSync     = "sync"
	StageAI       = "ai"
	StageRag      = "rag"
	StageComplete = "complete"
)

// Event is the key-value progress map spec.md §6 specifies.
type Event = map[string]any

// Sink accepts progress events. Emit must never block the caller; the core
// does not synchronize on it.
type Sink interface {
	Emit(event Event)
}

// Noop discards every event. Used when a caller passes no sink.
type Noop struct{}

func (Noop) Emit(Event) {}

// bufferBound is the documented bound (SPEC_FULL.md §4, §9's "if buffering
// is used, document the bound") on the default ring-buffer sink.
const bufferBound = 256

// RingBuffer is the default progress.Sink: a fixed-capacity, drop-oldest
// buffer that a CLI printer or websocket broadcaster can drain at its own
// pace without ever blocking Emit.
type RingBuffer struct {
	mu     sync.Mutex
	events []Event
	cap    int
}

// NewRingBuffer returns a RingBuffer bounded at bufferBound entries.
func NewRingBuffer() *RingBuffer {
	return &RingBuffer{cap: bufferBound}
}

var _ Sink = (*RingBuffer)(nil)

// Emit appends event, dropping the oldest buffered event if at capacity.
func (r *RingBuffer) Emit(event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) >= r.cap {
		r.events = r.events[1:]
	}
	r.events = append(r.events, event)
}

// Drain returns and clears every buffered event, in emission order.
func (r *RingBuffer) Drain() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	drained := r.events
	r.events = nil
	return drained
}

// Snapshot returns a copy of the currently buffered events without clearing them.
func (r *RingBuffer) Snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Fanout emits every event to each of its sinks. Used to feed a CLI printer
// and a websocket Broadcaster from the same Process call without the
// orchestrator knowing about either.
type Fanout struct {
	sinks []Sink
}

// NewFanout returns a Sink that forwards to every sink given, skipping nils.
func NewFanout(sinks ...Sink) *Fanout {
	f := &Fanout{}
	for _, s := range sinks {
		if s != nil {
			f.sinks = append(f.sinks, s)
		}
	}
	return f
}

var _ Sink = (*Fanout)(nil)

func (f *Fanout) Emit(event Event) {
	for _, s := range f.sinks {
		s.Emit(event)
	}
}
