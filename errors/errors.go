package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in the engine the error occurred
type Phase string

const (
	PhaseRegister  Phase = "register"  // component registration
	PhaseLifecycle Phase = "lifecycle" // state transitions
	PhaseSecurity  Phase = "security"  // Zero-Trust validation
	PhaseMemory    Phase = "memory"    // region allocation and boundaries
	PhaseInvoke    Phase = "invoke"    // method invocation pipeline
	PhaseBridge    Phase = "bridge"    // language bridge operations
	PhaseValue     Phase = "value"     // value conversion and validation
	PhaseConfig    Phase = "config"    // configuration parsing
	PhaseAudit     Phase = "audit"     // audit buffer operations
)

// Kind categorizes the error
type Kind string

const (
	KindInvalidParameter     Kind = "invalid_parameter"
	KindInvalidState         Kind = "invalid_state"
	KindMemoryAllocation     Kind = "memory_allocation"
	KindSecurityViolation    Kind = "security_violation"
	KindPermissionDenied     Kind = "permission_denied"
	KindComponentNotFound    Kind = "component_not_found"
	KindBridgeUnavailable    Kind = "bridge_unavailable"
	KindIsolationBreach      Kind = "isolation_breach"
	KindInvokeFailed         Kind = "invoke_failed"
	KindLifecycleViolation   Kind = "lifecycle_violation"
	KindConfigurationInvalid Kind = "configuration_invalid"
	KindTimeout              Kind = "timeout"
	KindNotImplemented       Kind = "not_implemented"
	KindUnknown              Kind = "unknown"
)

// Error is the structured error type used throughout the kernel
type Error struct {
	Cause     error
	Phase     Phase
	Kind      Kind
	Component string
	Method    string
	Detail    string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Component != "" {
		b.WriteString(" component ")
		b.WriteString(e.Component)
	}
	if e.Method != "" {
		b.WriteString(" method ")
		b.WriteString(e.Method)
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error. Two Errors match when their
// Kinds are equal; a target with an empty Phase matches any phase.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		if t.Phase != "" && e.Phase != t.Phase {
			return false
		}
		return e.Kind == t.Kind
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Component sets the component id
func (b *Builder) Component(id string) *Builder {
	b.err.Component = id
	return b
}

// Method sets the method name
func (b *Builder) Method(name string) *Builder {
	b.err.Method = name
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// InvalidParameter creates an invalid parameter error
func InvalidParameter(phase Phase, detail string) *Error {
	return &Error{Phase: phase, Kind: KindInvalidParameter, Detail: detail}
}

// InvalidState creates an invalid state error
func InvalidState(phase Phase, detail string) *Error {
	return &Error{Phase: phase, Kind: KindInvalidState, Detail: detail}
}

// NotFound creates a component-not-found error
func NotFound(phase Phase, componentID string) *Error {
	return &Error{
		Phase:     phase,
		Kind:      KindComponentNotFound,
		Component: componentID,
		Detail:    "not found",
	}
}

// MethodNotFound reports an unregistered method on a known component
func MethodNotFound(componentID, method string) *Error {
	return &Error{
		Phase:     PhaseInvoke,
		Kind:      KindComponentNotFound,
		Component: componentID,
		Method:    method,
		Detail:    "method not registered",
	}
}

// PermissionDenied creates a permission denied error
func PermissionDenied(phase Phase, componentID, detail string) *Error {
	return &Error{
		Phase:     phase,
		Kind:      KindPermissionDenied,
		Component: componentID,
		Detail:    detail,
	}
}

// SecurityViolation creates a security violation error
func SecurityViolation(phase Phase, componentID, detail string) *Error {
	return &Error{
		Phase:     phase,
		Kind:      KindSecurityViolation,
		Component: componentID,
		Detail:    detail,
	}
}

// IsolationBreach creates an isolation breach error
func IsolationBreach(phase Phase, componentID, detail string) *Error {
	return &Error{
		Phase:     phase,
		Kind:      KindIsolationBreach,
		Component: componentID,
		Detail:    detail,
	}
}

// LifecycleViolation reports an illegal state transition
func LifecycleViolation(componentID, from, to string) *Error {
	return &Error{
		Phase:     PhaseLifecycle,
		Kind:      KindLifecycleViolation,
		Component: componentID,
		Detail:    fmt.Sprintf("transition %s -> %s is not allowed", from, to),
	}
}

// ConfigurationInvalid creates a configuration error
func ConfigurationInvalid(detail string, args ...any) *Error {
	return &Error{
		Phase:  PhaseConfig,
		Kind:   KindConfigurationInvalid,
		Detail: fmt.Sprintf(detail, args...),
	}
}

// BridgeUnavailable reports a missing language bridge
func BridgeUnavailable(language string) *Error {
	return &Error{
		Phase:  PhaseBridge,
		Kind:   KindBridgeUnavailable,
		Detail: fmt.Sprintf("no bridge registered for language %q", language),
	}
}

// Timeout reports an execution that exceeded its budget. Measured after the
// guest callback returns, never preemptive.
func Timeout(componentID, method string, elapsedMs, limitMs int64) *Error {
	return &Error{
		Phase:     PhaseInvoke,
		Kind:      KindTimeout,
		Component: componentID,
		Method:    method,
		Detail:    fmt.Sprintf("execution took %dms, limit %dms", elapsedMs, limitMs),
	}
}

// InvokeFailed wraps a bridge execution failure
func InvokeFailed(componentID, method string, cause error) *Error {
	return &Error{
		Phase:     PhaseInvoke,
		Kind:      KindInvokeFailed,
		Component: componentID,
		Method:    method,
		Cause:     cause,
	}
}

// NotImplemented creates a not-implemented error
func NotImplemented(phase Phase, what string) *Error {
	return &Error{Phase: phase, Kind: KindNotImplemented, Detail: what}
}

// Wrap wraps an existing error with phase and kind context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{Phase: phase, Kind: kind, Detail: detail, Cause: cause}
}

// KindOf extracts the Kind from err, or KindUnknown for foreign errors.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	if e, ok := err.(*Error); ok {
		return e.Kind
	}
	return KindUnknown
}
