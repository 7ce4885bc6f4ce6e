package audit

import (
	"sync"
	"time"

	"github.com/componentkit/enclave/errors"
)

// EventType labels a security- or lifecycle-relevant occurrence.
type EventType string

const (
	EventComponentRegistered   EventType = "component_registered"
	EventComponentUnregistered EventType = "component_unregistered"
	EventStateTransition       EventType = "state_transition"
	EventInvocationSuccess     EventType = "invocation_success"
	EventInvocationFailure     EventType = "invocation_failure"
	EventSecurityViolation     EventType = "security_violation"
	EventMemoryAllocated       EventType = "memory_allocated"
	EventMemoryFreed           EventType = "memory_freed"
	EventMemoryShared          EventType = "memory_shared"
	EventBridgeRegistered      EventType = "bridge_registered"
)

// Event is one audit record. Kind is empty for successes.
type Event struct {
	Type        EventType
	Time        time.Time
	ComponentID string
	Method      string
	Kind        errors.Kind
	Detail      string
}

// DefaultCapacity is used when a log is created without an explicit
// size.
const DefaultCapacity = 1024

// Log is a fixed-capacity ring of audit events. Once full, the oldest
// event is overwritten; the write cursor truly wraps instead of
// resetting, so the ring always holds the most recent capacity events.
// Writes never fail and never block the operation they document.
type Log struct {
	mu      sync.Mutex
	events  []Event
	next    int
	written uint64
}

func NewLog(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{events: make([]Event, capacity)}
}

// Record stores an event, stamping the time if the caller left it
// zero. It cannot fail; a full ring overwrites the oldest entry.
func (l *Log) Record(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	l.mu.Lock()
	l.events[l.next] = ev
	l.next = (l.next + 1) % len(l.events)
	l.written++
	l.mu.Unlock()
}

// Events returns a snapshot ordered oldest to newest.
func (l *Log) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.written < uint64(len(l.events)) {
		out := make([]Event, l.next)
		copy(out, l.events[:l.next])
		return out
	}

	out := make([]Event, 0, len(l.events))
	out = append(out, l.events[l.next:]...)
	out = append(out, l.events[:l.next]...)
	return out
}

// ByComponent returns the snapshot filtered to one component.
func (l *Log) ByComponent(componentID string) []Event {
	var out []Event
	for _, ev := range l.Events() {
		if ev.ComponentID == componentID {
			out = append(out, ev)
		}
	}
	return out
}

// Written returns the total number of events ever recorded, including
// ones already overwritten.
func (l *Log) Written() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.written
}

// Capacity returns the ring size.
func (l *Log) Capacity() int {
	return len(l.events)
}
