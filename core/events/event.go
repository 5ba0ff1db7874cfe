package events

import "sync"

// Event represents a structured state change emitted by the engine.
type Event interface {
	EventType() string
}

// Record is the flattened, transport friendly form of an event.
type Record struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// Recordable events know how to render themselves as a Record.
type Recordable interface {
	Event
	Record() Record
}

// Emitter broadcasts events to downstream subscribers (e.g. RPC, indexers).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Buffer holds events raised inside a transaction until it commits. Events
// from an aborted transaction are dropped with Reset.
type Buffer struct {
	pending []Event
}

// Emit queues the event.
func (b *Buffer) Emit(evt Event) {
	if evt == nil {
		return
	}
	b.pending = append(b.pending, evt)
}

// Len reports the number of queued events.
func (b *Buffer) Len() int { return len(b.pending) }

// Flush forwards queued events to the target in emission order and clears the
// buffer.
func (b *Buffer) Flush(target Emitter) {
	if target == nil {
		target = NoopEmitter{}
	}
	for _, evt := range b.pending {
		target.Emit(evt)
	}
	b.pending = nil
}

// Reset discards queued events.
func (b *Buffer) Reset() { b.pending = nil }

// Log is an in-memory Emitter retaining the most recent records. It backs the
// service event feed.
type Log struct {
	mu      sync.RWMutex
	records []Record
	limit   int
}

// NewLog constructs a Log retaining at most limit records. A non-positive limit
// defaults to 1024.
func NewLog(limit int) *Log {
	if limit <= 0 {
		limit = 1024
	}
	return &Log{limit: limit}
}

// Emit stores recordable events; other events are ignored.
func (l *Log) Emit(evt Event) {
	recordable, ok := evt.(Recordable)
	if !ok {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, recordable.Record())
	if overflow := len(l.records) - l.limit; overflow > 0 {
		l.records = append([]Record(nil), l.records[overflow:]...)
	}
}

// Records returns a copy of the retained records, oldest first.
func (l *Log) Records() []Record {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Record(nil), l.records...)
}

// Multi fans events out to several emitters.
type Multi []Emitter

// Emit implements Emitter.
func (m Multi) Emit(evt Event) {
	for _, target := range m {
		if target != nil {
			target.Emit(evt)
		}
	}
}
