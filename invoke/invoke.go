package invoke

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/componentkit/enclave/audit"
	"github.com/componentkit/enclave/bridge"
	"github.com/componentkit/enclave/component"
	"github.com/componentkit/enclave/errors"
	"github.com/componentkit/enclave/lifecycle"
	"github.com/componentkit/enclave/memory"
	"github.com/componentkit/enclave/security"
	"github.com/componentkit/enclave/value"
)

// maxBytesParam caps a single binary parameter. Anything larger is
// treated as hostile, not merely invalid.
const maxBytesParam = 1 << 20

// Result is the outcome of one successful invocation.
type Result struct {
	Value      value.Value
	Elapsed    time.Duration
	MemoryUsed uint64
}

// Engine drives the invocation pipeline: signature resolution,
// security validation, execution-context preparation, monitored bridge
// execution, result validation, then statistics and audit.
type Engine struct {
	security       *security.Engine
	memory         *memory.Manager
	audit          *audit.Log
	defaultTimeout time.Duration
	logger         *zap.Logger
}

func NewEngine(sec *security.Engine, mem *memory.Manager, aud *audit.Log, defaultTimeout time.Duration, logger *zap.Logger) *Engine {
	if defaultTimeout <= 0 {
		defaultTimeout = security.DefaultExecutionTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		security:       sec,
		memory:         mem,
		audit:          aud,
		defaultTimeout: defaultTimeout,
		logger:         logger,
	}
}

// Invoke runs one method call against a ready component. Calls against
// the same component serialize on its invocation slot. A positive
// timeout overrides the method's own; either way the policy's
// execution bound is a hard ceiling. Validation failures before
// execution leave the component ready; failures during or after
// execution move it to the error state, recoverable only through an
// explicit reset.
func (e *Engine) Invoke(ctx context.Context, comp *component.Component, methodName string, timeout time.Duration, params []value.Value) (*Result, error) {
	if err := comp.Acquire(ctx); err != nil {
		return nil, err
	}
	defer comp.Release()

	id := comp.ID()

	if st := comp.State(); st != lifecycle.StateReady {
		return nil, errors.InvalidState(errors.PhaseInvoke,
			"component "+id+" is "+st.String()+", not ready")
	}

	// Step 1: resolve the signature and validate parameters against
	// it. Nothing reaches a bridge before this passes.
	method, ok := comp.Method(methodName)
	if !ok {
		e.auditFailure(id, methodName, errors.KindComponentNotFound, "method not registered")
		return nil, errors.MethodNotFound(id, methodName)
	}
	if err := e.validateParams(comp, method, params); err != nil {
		e.auditFailure(id, methodName, errors.KindOf(err), "parameter validation failed")
		return nil, err
	}

	// Step 2: Zero-Trust validation with the method's required
	// permissions on top of the invoke-local rule.
	sub := security.Subject{ID: id, Policy: comp.Policy()}
	if err := e.security.Validate(sub, security.OpInvokeLocal); err != nil {
		comp.RecordViolation()
		e.auditFailure(id, methodName, errors.KindOf(err), "security validation failed")
		return nil, err
	}
	if !comp.Policy().Allowed.Has(method.Required) {
		comp.RecordViolation()
		e.security.RecordViolation(id, security.OpInvokeLocal, errors.KindPermissionDenied,
			"method "+methodName+" requires "+method.Required.String())
		err := errors.PermissionDenied(errors.PhaseInvoke, id,
			"method "+methodName+" requires "+method.Required.String())
		e.auditFailure(id, methodName, errors.KindPermissionDenied, "method permissions not granted")
		return nil, err
	}
	budget, err := e.effectiveTimeout(comp, method, timeout)
	if err != nil {
		comp.RecordViolation()
		e.security.RecordViolation(id, security.OpInvokeLocal, errors.KindSecurityViolation,
			"requested execution time exceeds policy bound")
		e.auditFailure(id, methodName, errors.KindSecurityViolation, "execution time bound exceeded")
		return nil, err
	}

	// Step 3: prepare the execution context. Strict isolation and
	// above double-checks the memory budget before the guest runs.
	usage := e.memory.UsageOf(id)
	comp.SetBytesAllocated(usage)
	if comp.Policy().Isolation >= security.IsolationStrict && usage > comp.Policy().MaxMemory {
		err := errors.IsolationBreach(errors.PhaseInvoke, id, "memory usage exceeds policy budget")
		e.auditFailure(id, methodName, errors.KindIsolationBreach, "budget exceeded before execution")
		return nil, err
	}
	inst := comp.Instance()
	if inst == nil {
		return nil, errors.InvalidState(errors.PhaseInvoke,
			"component "+id+" has no bridge instance")
	}
	if err := comp.Transition(lifecycle.StateExecuting); err != nil {
		return nil, err
	}

	// Step 4: monitored execution. The timeout is measured, not
	// preemptive: a hung guest is only reported after it returns.
	start := time.Now()
	out, execErr := inst.Invoke(ctx, bridge.Invocation{
		ComponentID: id,
		Method:      methodName,
		Params:      params,
		Returns:     method.Returns,
		Timeout:     budget,
	})
	elapsed := time.Since(start)

	if execErr != nil {
		return nil, e.fail(comp, methodName, elapsed, execErr)
	}
	if elapsed > budget {
		err := errors.Timeout(id, methodName, elapsed.Milliseconds(), budget.Milliseconds())
		return nil, e.fail(comp, methodName, elapsed, err)
	}

	// Step 5: validate the result against the declared return kind.
	if !out.Matches(method.Returns) {
		err := errors.New(errors.PhaseInvoke, errors.KindInvokeFailed).
			Component(id).
			Method(methodName).
			Detail("guest returned %s, declared %s", out.Kind(), method.Returns).
			Build()
		return nil, e.fail(comp, methodName, elapsed, err)
	}

	// Step 6: statistics and audit.
	if err := comp.Transition(lifecycle.StateReady); err != nil {
		return nil, err
	}
	comp.RecordInvocation(elapsed, false)
	e.auditEvent(audit.Event{
		Type:        audit.EventInvocationSuccess,
		ComponentID: id,
		Method:      methodName,
	})
	e.logger.Debug("invocation complete",
		zap.String("component", id),
		zap.String("method", methodName),
		zap.Duration("elapsed", elapsed),
	)

	return &Result{Value: out, Elapsed: elapsed, MemoryUsed: e.memory.UsageOf(id)}, nil
}

// fail finalizes an execution-phase failure: the component lands in
// the error state and the failure is counted and audited.
func (e *Engine) fail(comp *component.Component, methodName string, elapsed time.Duration, err error) error {
	comp.ForceState(lifecycle.StateError)
	comp.RecordInvocation(elapsed, true)
	e.auditFailure(comp.ID(), methodName, errors.KindOf(err), "execution failed")
	e.logger.Warn("invocation failed",
		zap.String("component", comp.ID()),
		zap.String("method", methodName),
		zap.Duration("elapsed", elapsed),
		zap.Error(err),
	)
	return err
}

// validateParams checks count and kinds against the signature, then
// screens for obviously hostile payloads. Hostile payloads are a
// security violation, not a type error, and count against the
// component's history.
func (e *Engine) validateParams(comp *component.Component, method component.Method, params []value.Value) error {
	id := comp.ID()
	if len(params) != len(method.Params) {
		return errors.New(errors.PhaseInvoke, errors.KindInvalidParameter).
			Component(id).
			Method(method.Name).
			Detail("got %d parameters, signature declares %d", len(params), len(method.Params)).
			Build()
	}
	for i, p := range params {
		if !p.Matches(method.Params[i]) {
			return errors.New(errors.PhaseInvoke, errors.KindInvalidParameter).
				Component(id).
				Method(method.Name).
				Detail("parameter %d is %s, signature declares %s", i, p.Kind(), method.Params[i]).
				Build()
		}
		if err := screenParam(id, p); err != nil {
			comp.RecordViolation()
			e.security.RecordViolation(id, security.OpInvokeLocal, errors.KindSecurityViolation,
				"hostile parameter rejected")
			return err
		}
	}
	return nil
}

// screenParam rejects path-traversal strings and oversized binary
// blobs before they reach any bridge.
func screenParam(componentID string, p value.Value) error {
	switch p.Kind() {
	case value.KindString:
		s := p.AsString()
		if strings.Contains(s, "../") || strings.Contains(s, `..\`) {
			return errors.SecurityViolation(errors.PhaseInvoke, componentID,
				"path traversal sequence in string parameter")
		}
	case value.KindBytes:
		if p.Size() > maxBytesParam {
			return errors.SecurityViolation(errors.PhaseInvoke, componentID,
				"binary parameter exceeds size limit")
		}
	case value.KindArray:
		for _, el := range p.AsArray() {
			if err := screenParam(componentID, el); err != nil {
				return err
			}
		}
	}
	return nil
}

// effectiveTimeout resolves the per-invocation budget: the caller's
// override, else the method's own timeout, else the policy maximum,
// else the engine default. The policy's execution bound is a ceiling
// on all of them; asking for more time than the policy grants is a
// security violation, refused before the guest runs.
func (e *Engine) effectiveTimeout(comp *component.Component, method component.Method, override time.Duration) (time.Duration, error) {
	limit := comp.Policy().MaxExecution
	timeout := e.defaultTimeout
	switch {
	case override > 0:
		timeout = override
	case method.Timeout > 0:
		timeout = method.Timeout
	case limit > 0:
		timeout = limit
	}
	if limit > 0 && timeout > limit {
		return 0, errors.SecurityViolation(errors.PhaseInvoke, comp.ID(),
			"requested execution time "+timeout.String()+" exceeds policy bound "+limit.String())
	}
	return timeout, nil
}

func (e *Engine) auditFailure(componentID, method string, kind errors.Kind, detail string) {
	e.auditEvent(audit.Event{
		Type:        audit.EventInvocationFailure,
		ComponentID: componentID,
		Method:      method,
		Kind:        kind,
		Detail:      detail,
	})
}

func (e *Engine) auditEvent(ev audit.Event) {
	if e.audit != nil {
		e.audit.Record(ev)
	}
}
