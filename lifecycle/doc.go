// Package lifecycle defines the eight-state component state machine
// and its transition table. The table is the only authority on legal
// transitions; callers never hand-roll state checks.
package lifecycle
