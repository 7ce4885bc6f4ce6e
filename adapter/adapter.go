package adapter

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/componentkit/enclave/audit"
	"github.com/componentkit/enclave/bridge"
	"github.com/componentkit/enclave/component"
	"github.com/componentkit/enclave/errors"
	"github.com/componentkit/enclave/invoke"
	"github.com/componentkit/enclave/lifecycle"
	"github.com/componentkit/enclave/memory"
	"github.com/componentkit/enclave/security"
	"github.com/componentkit/enclave/value"
)

// Adapter is the composition root: it owns the component registry, the
// bridge registry, the memory manager, the security engine and the
// audit log. Callers construct adapters and nothing else; independent
// adapters share no state.
type Adapter struct {
	cfg    Config
	logger *zap.Logger

	mu         sync.RWMutex
	components map[string]*component.Component
	closed     bool

	bridges  *bridge.Registry
	memory   *memory.Manager
	security *security.Engine
	audit    *audit.Log
	invoker  *invoke.Engine
}

// New builds an adapter from a validated config. The native bridge is
// always registered; further bridges arrive through RegisterBridge or,
// when enabled, path discovery.
func New(cfg Config) (*Adapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := cfg.logger()

	mem := memory.NewManager(logger)
	sec := security.NewEngine(security.Config{
		ZeroTrust:     cfg.ZeroTrust,
		MaxViolations: cfg.MaxViolations,
		AuditAll:      cfg.AuditAll,
	}, mem, logger)
	aud := audit.NewLog(cfg.AuditCapacity)

	var discoverer bridge.Discoverer
	if cfg.BridgeDiscovery {
		discoverer = bridge.NewPathDiscoverer(logger)
	}
	bridges := bridge.NewRegistry(discoverer, logger)
	if err := bridges.Register(bridge.NewNativeBridge()); err != nil {
		return nil, err
	}

	a := &Adapter{
		cfg:        cfg,
		logger:     logger,
		components: make(map[string]*component.Component),
		bridges:    bridges,
		memory:     mem,
		security:   sec,
		audit:      aud,
		invoker:    invoke.NewEngine(sec, mem, aud, cfg.MaxExecutionTime, logger),
	}
	logger.Info("adapter initialized",
		zap.String("default_isolation", cfg.DefaultIsolation.String()),
		zap.Bool("zero_trust", cfg.ZeroTrust),
	)
	return a, nil
}

// Register validates the config and creates the component record in
// the initializing state. An unset isolation level takes the adapter's
// configured default; explicit None isolation requires an explicit
// Policy. Ids are unique for the adapter's lifetime; a duplicate
// registration fails without touching the existing component.
func (a *Adapter) Register(cfg component.Config) (*component.Component, error) {
	if cfg.Policy == nil && cfg.Isolation == security.IsolationNone {
		cfg.Isolation = a.cfg.DefaultIsolation
	}

	comp, err := component.New(cfg)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil, errors.InvalidState(errors.PhaseRegister, "adapter is closed")
	}
	if _, exists := a.components[comp.ID()]; exists {
		return nil, errors.InvalidParameter(errors.PhaseRegister,
			"component id "+comp.ID()+" already registered")
	}
	a.components[comp.ID()] = comp

	a.audit.Record(audit.Event{
		Type:        audit.EventComponentRegistered,
		ComponentID: comp.ID(),
		Detail:      cfg.Describe(),
	})
	a.logger.Info("component registered",
		zap.String("component", comp.ID()),
		zap.String("language", string(comp.Language())),
		zap.String("isolation", comp.Policy().Isolation.String()),
	)
	return comp, nil
}

// Find returns a registered component by id.
func (a *Adapter) Find(id string) (*component.Component, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	comp, ok := a.components[id]
	if !ok {
		return nil, errors.NotFound(errors.PhaseRegister, id)
	}
	return comp, nil
}

// Components lists registered component ids.
func (a *Adapter) Components() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]string, 0, len(a.components))
	for id := range a.components {
		out = append(out, id)
	}
	return out
}

// Initialize moves a registered component to ready: the bridge for its
// language must exist, and its execution instance must come up. Any
// failure lands the component in the error state with the runtime
// context rolled back.
func (a *Adapter) Initialize(ctx context.Context, id string) error {
	comp, err := a.Find(id)
	if err != nil {
		return err
	}

	b, err := a.bridges.Get(ctx, comp.Language())
	if err != nil {
		comp.ForceState(lifecycle.StateError)
		return err
	}

	inst, err := b.NewInstance(ctx, bridge.InstanceConfig{
		ComponentID: id,
		Handlers:    comp.Handlers(),
		Guest:       comp.Guest(),
	})
	if err != nil {
		comp.ForceState(lifecycle.StateError)
		return err
	}

	// Instance first: a component observed as ready must already be
	// invokable.
	comp.SetInstance(inst)
	if err := comp.Transition(lifecycle.StateReady); err != nil {
		comp.SetInstance(nil)
		_ = inst.Close(ctx)
		comp.ForceState(lifecycle.StateError)
		return err
	}

	a.audit.Record(audit.Event{
		Type:        audit.EventStateTransition,
		ComponentID: id,
		Detail:      "initialized to ready",
	})
	return nil
}

// Suspend parks a ready component.
func (a *Adapter) Suspend(id string) error {
	return a.transition(id, lifecycle.StateSuspended, "suspended")
}

// Resume returns a suspended component to ready.
func (a *Adapter) Resume(id string) error {
	comp, err := a.Find(id)
	if err != nil {
		return err
	}
	if comp.State() != lifecycle.StateSuspended {
		return errors.LifecycleViolation(id, comp.State().String(), lifecycle.StateReady.String())
	}
	return a.transition(id, lifecycle.StateReady, "resumed")
}

// Reset recovers a component from the error state. It is the only way
// back to ready after a failure, and it deliberately keeps the sticky
// violation counters.
func (a *Adapter) Reset(id string) error {
	comp, err := a.Find(id)
	if err != nil {
		return err
	}
	if comp.State() != lifecycle.StateError {
		return errors.LifecycleViolation(id, comp.State().String(), lifecycle.StateReady.String())
	}
	return a.transition(id, lifecycle.StateReady, "reset")
}

func (a *Adapter) transition(id string, to lifecycle.State, detail string) error {
	comp, err := a.Find(id)
	if err != nil {
		return err
	}
	if err := comp.Transition(to); err != nil {
		return err
	}
	a.audit.Record(audit.Event{
		Type:        audit.EventStateTransition,
		ComponentID: id,
		Detail:      detail,
	})
	return nil
}

// Unregister destroys a component: cleanup then destroyed, releasing
// every owned region, boundary and the bridge instance. The id becomes
// available again afterwards.
func (a *Adapter) Unregister(ctx context.Context, id string) error {
	comp, err := a.Find(id)
	if err != nil {
		return err
	}

	// A never-initialized component has no direct path to cleanup;
	// route it through the error state first.
	if comp.State() == lifecycle.StateInitializing {
		if err := comp.Transition(lifecycle.StateError); err != nil {
			return err
		}
	}
	if err := comp.Transition(lifecycle.StateCleanup); err != nil {
		return err
	}

	if inst := comp.Instance(); inst != nil {
		if cerr := inst.Close(ctx); cerr != nil {
			a.logger.Warn("instance close failed",
				zap.String("component", id),
				zap.Error(cerr),
			)
		}
		comp.SetInstance(nil)
	}
	a.memory.ReleaseAll(id)

	if err := comp.Transition(lifecycle.StateDestroyed); err != nil {
		return err
	}

	a.mu.Lock()
	delete(a.components, id)
	a.mu.Unlock()

	a.audit.Record(audit.Event{
		Type:        audit.EventComponentUnregistered,
		ComponentID: id,
	})
	a.logger.Info("component unregistered", zap.String("component", id))
	return nil
}

// Invoke runs a method on a registered component through the full
// pipeline, with the method's declared timeout.
func (a *Adapter) Invoke(ctx context.Context, id, method string, params ...value.Value) (*invoke.Result, error) {
	return a.InvokeWithTimeout(ctx, id, method, 0, params...)
}

// InvokeWithTimeout overrides the method's declared timeout for one
// call. The component policy's execution bound still caps it.
func (a *Adapter) InvokeWithTimeout(ctx context.Context, id, method string, timeout time.Duration, params ...value.Value) (*invoke.Result, error) {
	comp, err := a.Find(id)
	if err != nil {
		return nil, err
	}
	return a.invoker.Invoke(ctx, comp, method, timeout, params)
}

// RegisterBridge adds a bridge for a new language.
func (a *Adapter) RegisterBridge(b bridge.Bridge) error {
	if err := a.bridges.Register(b); err != nil {
		return err
	}
	a.audit.Record(audit.Event{
		Type:   audit.EventBridgeRegistered,
		Detail: string(b.Language()),
	})
	return nil
}

// Bridge resolves the bridge for a language, discovering it on demand
// when discovery is enabled.
func (a *Adapter) Bridge(ctx context.Context, lang bridge.Language) (bridge.Bridge, error) {
	return a.bridges.Get(ctx, lang)
}

// UnregisterBridge removes and closes the bridge for a language.
// Components already holding instances keep them until destroyed.
func (a *Adapter) UnregisterBridge(ctx context.Context, lang bridge.Language) error {
	b, err := a.bridges.Unregister(lang)
	if err != nil {
		return err
	}
	return b.Close(ctx)
}

// Languages lists the registered bridge languages.
func (a *Adapter) Languages() []bridge.Language {
	return a.bridges.Languages()
}

// TrustComponent adds a component to the Zero-Trust exemption list.
func (a *Adapter) TrustComponent(id string) {
	a.security.Trust(id)
}

// RevokeTrust removes a component from the trust list.
func (a *Adapter) RevokeTrust(id string) {
	a.security.Revoke(id)
}

// Violations returns the sticky violation count for a component.
func (a *Adapter) Violations(id string) int {
	return a.security.Violations(id)
}

// Audit records an event into the adapter's ring. It never fails.
func (a *Adapter) Audit(ev audit.Event) {
	a.audit.Record(ev)
}

// AuditEvents returns a snapshot of the audit ring, oldest first.
func (a *Adapter) AuditEvents() []audit.Event {
	return a.audit.Events()
}

// Stats returns the running statistics of a component.
func (a *Adapter) Stats(id string) (component.Stats, error) {
	comp, err := a.Find(id)
	if err != nil {
		return component.Stats{}, err
	}
	st := comp.Stats()
	st.Violations = a.security.Violations(id)
	u := a.memory.UsageStatsOf(id)
	st.BytesAllocated = u.BytesInUse
	st.PeakBytes = u.PeakBytes
	st.Allocations = u.Allocations
	st.Frees = u.Frees
	return st, nil
}

// Close destroys every component and closes every bridge. The adapter
// accepts no further operations.
func (a *Adapter) Close(ctx context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	ids := make([]string, 0, len(a.components))
	for id := range a.components {
		ids = append(ids, id)
	}
	a.mu.Unlock()

	var first error
	for _, id := range ids {
		if err := a.Unregister(ctx, id); err != nil && first == nil {
			first = err
		}
	}
	if err := a.bridges.Close(ctx); err != nil && first == nil {
		first = err
	}
	a.logger.Info("adapter closed")
	return first
}
