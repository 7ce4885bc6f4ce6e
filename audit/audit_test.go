package audit

import (
	"fmt"
	"testing"
	"time"

	"github.com/componentkit/enclave/errors"
)

func TestRecord_PartialFill(t *testing.T) {
	l := NewLog(4)
	l.Record(Event{Type: EventInvocationSuccess, ComponentID: "a", Method: "m1"})
	l.Record(Event{Type: EventInvocationFailure, ComponentID: "a", Method: "m2", Kind: errors.KindTimeout})

	evs := l.Events()
	if len(evs) != 2 {
		t.Fatalf("events = %d", len(evs))
	}
	if evs[0].Method != "m1" || evs[1].Method != "m2" {
		t.Fatalf("order wrong: %+v", evs)
	}
	if evs[0].Time.IsZero() {
		t.Fatal("timestamp not stamped")
	}
	if l.Written() != 2 {
		t.Fatalf("written = %d", l.Written())
	}
}

// Pins down overflow behavior: the cursor wraps and overwrites the
// oldest entries, it does not reset to the start and truncate.
func TestRecord_TrueWraparound(t *testing.T) {
	l := NewLog(4)
	for i := 0; i < 6; i++ {
		l.Record(Event{Type: EventStateTransition, Detail: fmt.Sprintf("ev%d", i)})
	}

	evs := l.Events()
	if len(evs) != 4 {
		t.Fatalf("events = %d, want capacity", len(evs))
	}
	// Oldest two (ev0, ev1) are gone; ev2..ev5 remain in order.
	for i, ev := range evs {
		want := fmt.Sprintf("ev%d", i+2)
		if ev.Detail != want {
			t.Fatalf("event %d = %q, want %q", i, ev.Detail, want)
		}
	}
	if l.Written() != 6 {
		t.Fatalf("written = %d", l.Written())
	}
}

func TestRecord_ExactCapacityBoundary(t *testing.T) {
	l := NewLog(3)
	for i := 0; i < 3; i++ {
		l.Record(Event{Detail: fmt.Sprintf("ev%d", i)})
	}
	evs := l.Events()
	if len(evs) != 3 || evs[0].Detail != "ev0" || evs[2].Detail != "ev2" {
		t.Fatalf("events = %+v", evs)
	}
}

func TestByComponent(t *testing.T) {
	l := NewLog(8)
	l.Record(Event{ComponentID: "a", Detail: "one"})
	l.Record(Event{ComponentID: "b", Detail: "two"})
	l.Record(Event{ComponentID: "a", Detail: "three"})

	got := l.ByComponent("a")
	if len(got) != 2 || got[0].Detail != "one" || got[1].Detail != "three" {
		t.Fatalf("filtered = %+v", got)
	}
}

func TestCallerTimestampKept(t *testing.T) {
	l := NewLog(2)
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	l.Record(Event{Detail: "stamped", Time: ts})
	if got := l.Events()[0].Time; !got.Equal(ts) {
		t.Fatalf("time = %v", got)
	}
}

func TestDefaultCapacity(t *testing.T) {
	if got := NewLog(0).Capacity(); got != DefaultCapacity {
		t.Fatalf("capacity = %d", got)
	}
}
