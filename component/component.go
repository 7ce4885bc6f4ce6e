package component

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/componentkit/enclave/bridge"
	"github.com/componentkit/enclave/errors"
	"github.com/componentkit/enclave/lifecycle"
	"github.com/componentkit/enclave/security"
	"github.com/componentkit/enclave/value"
)

// Method is one invokable signature: its parameter and return kinds,
// the permissions an invocation requires, and an optional per-method
// execution budget overriding the policy default.
type Method struct {
	Name     string
	Params   []value.Kind
	Returns  value.Kind
	Required security.Permission
	Timeout  time.Duration
}

// Stats aggregates a component's running counters. Violations are
// sticky: nothing but destroying the component resets them.
type Stats struct {
	Invocations    uint64
	Failures       uint64
	TotalExecution time.Duration
	LastExecution  time.Duration
	BytesAllocated uint64
	PeakBytes      uint64
	Allocations    uint64
	Frees          uint64
	Violations     int
}

// Component is one registered, isolated unit of guest code. The id is
// immutable after registration and unique within an adapter. State
// changes go through the lifecycle table; invocations serialize on the
// component's own semaphore.
type Component struct {
	id       string
	name     string
	version  string
	language bridge.Language
	policy   security.Policy
	methods  map[string]Method
	guest    []byte
	handlers map[string]bridge.Handler

	mu       sync.Mutex
	state    lifecycle.State
	instance bridge.Instance
	stats    Stats

	// sem serializes invocations: one call in flight per component.
	sem *semaphore.Weighted
}

// New builds a component record from a validated config. The component
// starts in the initializing state; it reaches ready only through a
// successful Initialize on the adapter.
func New(cfg Config) (*Component, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	methods := make(map[string]Method, len(cfg.Methods))
	for _, m := range cfg.Methods {
		methods[m.Name] = m
	}

	pol := cfg.Policy
	if pol == nil {
		def := security.DefaultPolicy(cfg.Isolation)
		pol = &def
	}

	name := cfg.Name
	if name == "" {
		name = cfg.ID
	}

	return &Component{
		id:       cfg.ID,
		name:     name,
		version:  cfg.Version,
		language: cfg.Language,
		policy:   *pol,
		methods:  methods,
		guest:    cfg.Guest,
		handlers: cfg.Handlers,
		state:    lifecycle.StateInitializing,
		sem:      semaphore.NewWeighted(1),
	}, nil
}

func (c *Component) ID() string                { return c.id }
func (c *Component) Name() string              { return c.name }
func (c *Component) Version() string           { return c.version }
func (c *Component) Language() bridge.Language { return c.language }
func (c *Component) Policy() security.Policy   { return c.policy }

// Guest returns the guest binary supplied at registration, if any.
func (c *Component) Guest() []byte { return c.guest }

// Handlers returns the native handler map supplied at registration.
func (c *Component) Handlers() map[string]bridge.Handler { return c.handlers }

// Method resolves a method signature by name.
func (c *Component) Method(name string) (Method, bool) {
	m, ok := c.methods[name]
	return m, ok
}

// Methods returns the component's method table.
func (c *Component) Methods() []Method {
	out := make([]Method, 0, len(c.methods))
	for _, m := range c.methods {
		out = append(out, m)
	}
	return out
}

// State returns the current lifecycle state.
func (c *Component) State() lifecycle.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Transition moves the component to a new state if the lifecycle table
// allows it.
func (c *Component) Transition(to lifecycle.State) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := lifecycle.Transition(c.id, c.state, to); err != nil {
		return err
	}
	c.state = to
	return nil
}

// ForceState sets the state without consulting the table. Reserved for
// failure paths that must land in the error state from anywhere.
func (c *Component) ForceState(s lifecycle.State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
}

// Instance returns the bridge execution context, nil before
// initialization.
func (c *Component) Instance() bridge.Instance {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.instance
}

// SetInstance attaches the bridge execution context.
func (c *Component) SetInstance(inst bridge.Instance) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.instance = inst
}

// Acquire claims the component's single invocation slot, blocking
// until it is free or the context is done.
func (c *Component) Acquire(ctx context.Context) error {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return errors.Wrap(errors.PhaseInvoke, errors.KindInvokeFailed, err,
			"waiting for invocation slot on "+c.id)
	}
	return nil
}

// Release frees the invocation slot.
func (c *Component) Release() {
	c.sem.Release(1)
}

// Stats returns a snapshot of the running counters.
func (c *Component) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// RecordInvocation folds one finished call into the statistics.
func (c *Component) RecordInvocation(elapsed time.Duration, failed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.Invocations++
	c.stats.TotalExecution += elapsed
	c.stats.LastExecution = elapsed
	if failed {
		c.stats.Failures++
	}
}

// RecordViolation bumps the sticky violation counter.
func (c *Component) RecordViolation() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.Violations++
}

// SetBytesAllocated mirrors the memory manager's accounting into the
// component's statistics.
func (c *Component) SetBytesAllocated(n uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.BytesAllocated = n
}
