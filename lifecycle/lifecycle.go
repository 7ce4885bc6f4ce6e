package lifecycle

import (
	"fmt"

	"github.com/componentkit/enclave/errors"
)

// State is one of the eight component lifecycle states.
type State uint8

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateExecuting
	StateSuspended
	StateError
	StateCleanup
	StateDestroyed

	stateCount = int(StateDestroyed) + 1
)

var stateNames = [stateCount]string{
	"uninitialized", "initializing", "ready", "executing",
	"suspended", "error", "cleanup", "destroyed",
}

func (s State) String() string {
	if int(s) < stateCount {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	return int(s) < stateCount
}

// Terminal reports whether no transition may ever leave s.
func (s State) Terminal() bool {
	return s == StateDestroyed
}

// transitions is the single source of truth for legal state changes.
// Rows are current states, columns are target states. Destroyed is
// terminal; Error recovers only through an explicit reset to Ready.
var transitions = [stateCount][stateCount]bool{
	//                 uninit init   ready  exec   susp   error  clean  dest
	StateUninitialized: {false, true, false, false, false, false, false, false},
	StateInitializing:  {false, false, true, false, false, true, false, false},
	StateReady:         {false, false, false, true, true, true, true, false},
	StateExecuting:     {false, false, true, false, false, true, false, false},
	StateSuspended:     {false, false, true, false, false, true, true, false},
	StateError:         {false, false, true, false, false, false, true, false},
	StateCleanup:       {false, false, false, false, false, false, false, true},
	StateDestroyed:     {false, false, false, false, false, false, false, false},
}

// CanTransition reports whether the table allows from -> to.
func CanTransition(from, to State) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	return transitions[from][to]
}

// Transition validates from -> to for a component, returning a
// LifecycleViolation for any pair the table forbids.
func Transition(componentID string, from, to State) error {
	if !CanTransition(from, to) {
		return errors.LifecycleViolation(componentID, from.String(), to.String())
	}
	return nil
}
