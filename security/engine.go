package security

import (
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/componentkit/enclave/errors"
)

// Violation is one permanently recorded security failure. The log only
// grows; entries are never removed for the lifetime of the engine.
type Violation struct {
	ComponentID string
	Operation   string
	Kind        errors.Kind
	Time        time.Time
	Detail      string
}

// BoundaryChecker validates memory boundaries for a component before a
// memory-touching operation proceeds. Implemented by the memory manager.
type BoundaryChecker interface {
	CheckBoundaries(componentID, operation string) error
}

// Subject identifies the component being validated together with the
// policy it runs under. The engine keeps the violation history itself.
type Subject struct {
	ID     string
	Policy Policy
}

// Config tunes the validation engine.
type Config struct {
	// ZeroTrust requires untrusted components to run at Standard
	// isolation or above with a clean violation history.
	ZeroTrust bool

	// MaxViolations is the violation count at which a component is
	// refused unconditionally. Zero means no threshold.
	MaxViolations int

	// AuditAll records successful validations too, not only failures.
	AuditAll bool
}

// Engine enforces the permission rule table against component policies
// and keeps the per-component violation history. Violation counts are
// monotonic: they are a reputation signal, not a transient lock, and
// nothing short of engine teardown clears them.
type Engine struct {
	mu       sync.Mutex
	cfg      Config
	trusted  map[string]struct{}
	log      []Violation
	counts   map[string]int
	checked  uint64
	boundary BoundaryChecker
	logger   *zap.Logger
}

func NewEngine(cfg Config, boundary BoundaryChecker, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cfg:      cfg,
		trusted:  make(map[string]struct{}),
		counts:   make(map[string]int),
		boundary: boundary,
		logger:   logger,
	}
}

// Trust adds a component to the explicit trust list, exempting it from
// the zero-trust baseline checks. Rule-table checks still apply.
func (e *Engine) Trust(componentID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.trusted[componentID] = struct{}{}
}

// Revoke removes a component from the trust list.
func (e *Engine) Revoke(componentID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.trusted, componentID)
}

func (e *Engine) IsTrusted(componentID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.trusted[componentID]
	return ok
}

// Violations returns the number of recorded violations for a component.
func (e *Engine) Violations(componentID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.counts[componentID]
}

// ViolationLog returns a snapshot of the full violation history.
func (e *Engine) ViolationLog() []Violation {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Violation, len(e.log))
	copy(out, e.log)
	return out
}

// Checked returns the total number of validations performed.
func (e *Engine) Checked() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.checked
}

// AuditAll reports whether successful operations should be audited too.
func (e *Engine) AuditAll() bool {
	return e.cfg.AuditAll
}

// RecordViolation appends a violation against a component's history.
// Used by the engine itself and by collaborators (memory manager,
// invocation engine) when a security-class failure occurs outside
// Validate.
func (e *Engine) RecordViolation(componentID, operation string, kind errors.Kind, detail string) {
	e.mu.Lock()
	e.log = append(e.log, Violation{
		ComponentID: componentID,
		Operation:   operation,
		Kind:        kind,
		Time:        time.Now(),
		Detail:      detail,
	})
	e.counts[componentID]++
	count := e.counts[componentID]
	e.mu.Unlock()

	e.logger.Warn("security violation recorded",
		zap.String("component", componentID),
		zap.String("operation", operation),
		zap.String("kind", string(kind)),
		zap.Int("total", count),
	)
}

// Validate checks whether a component may perform an operation. Checks
// run in a fixed order and every failure is recorded against the
// component before the error returns:
//
//  1. zero-trust baseline for components not on the trust list
//  2. violation threshold, refusing repeat offenders outright
//  3. permission superset/denied-intersection against the rule table
//  4. isolation-level minimum from the rule table
//  5. memory-boundary delegation for memory-touching operations
func (e *Engine) Validate(sub Subject, operation string) error {
	e.mu.Lock()
	e.checked++
	_, trusted := e.trusted[sub.ID]
	count := e.counts[sub.ID]
	e.mu.Unlock()

	if e.cfg.ZeroTrust && !trusted {
		if count > 0 {
			err := errors.SecurityViolation(errors.PhaseSecurity, sub.ID,
				"untrusted component has prior violations")
			e.RecordViolation(sub.ID, operation, errors.KindSecurityViolation, "trust check: tainted history")
			return err
		}
		if sub.Policy.Isolation < IsolationStandard {
			err := errors.SecurityViolation(errors.PhaseSecurity, sub.ID,
				"untrusted component below standard isolation")
			e.RecordViolation(sub.ID, operation, errors.KindSecurityViolation, "trust check: isolation too low")
			return err
		}
	}

	if e.cfg.MaxViolations > 0 && count >= e.cfg.MaxViolations {
		err := errors.SecurityViolation(errors.PhaseSecurity, sub.ID,
			"violation threshold exceeded")
		e.RecordViolation(sub.ID, operation, errors.KindSecurityViolation, "violation threshold reached")
		return err
	}

	if rule, ok := RuleFor(operation); ok {
		if !sub.Policy.Allowed.Has(rule.Required) {
			err := errors.PermissionDenied(errors.PhaseSecurity, sub.ID,
				"operation "+operation+" requires "+rule.Required.String())
			e.RecordViolation(sub.ID, operation, errors.KindPermissionDenied, "missing permissions")
			return err
		}
		if rule.Required.Intersects(sub.Policy.Denied) {
			err := errors.PermissionDenied(errors.PhaseSecurity, sub.ID,
				"operation "+operation+" intersects denied permissions")
			e.RecordViolation(sub.ID, operation, errors.KindPermissionDenied, "explicitly denied")
			return err
		}
		if sub.Policy.Isolation < rule.MinIsolation {
			err := errors.IsolationBreach(errors.PhaseSecurity, sub.ID,
				"operation "+operation+" requires "+rule.MinIsolation.String()+" isolation")
			e.RecordViolation(sub.ID, operation, errors.KindIsolationBreach, "isolation level too low")
			return err
		}
	}

	if e.boundary != nil && strings.HasPrefix(operation, "memory_") {
		if err := e.boundary.CheckBoundaries(sub.ID, operation); err != nil {
			e.RecordViolation(sub.ID, operation, errors.KindOf(err), "boundary check failed")
			return err
		}
	}

	if e.cfg.AuditAll {
		e.logger.Debug("validation passed",
			zap.String("component", sub.ID),
			zap.String("operation", operation),
		)
	}
	return nil
}
