package bridge

import (
	"context"
	"time"

	"github.com/componentkit/enclave/value"
)

// Language identifies a guest runtime. Exactly one bridge may be
// registered per language.
type Language string

const (
	LanguageNative Language = "native"
	LanguageWasm   Language = "wasm"
)

// Handler is an in-process method implementation used by the native
// bridge. Values pass through unchanged; no marshalling happens on
// either side.
type Handler func(ctx context.Context, params []value.Value) (value.Value, error)

// Invocation carries one method call through a bridge.
type Invocation struct {
	ComponentID string
	Method      string
	Params      []value.Value
	Returns     value.Kind
	Timeout     time.Duration
}

// InstanceConfig configures one component's runtime inside a bridge.
// Handlers feeds the native bridge; Guest carries a compiled guest
// binary for runtime-backed bridges that were not preloaded through
// discovery.
type InstanceConfig struct {
	ComponentID string
	Handlers    map[string]Handler
	Guest       []byte
}

// Bridge adapts the engine to one guest-language runtime.
type Bridge interface {
	Language() Language

	// NewInstance prepares a per-component execution context. Called
	// during component initialization; a failure rolls the component
	// back to the error state.
	NewInstance(ctx context.Context, cfg InstanceConfig) (Instance, error)

	Close(ctx context.Context) error
}

// Instance is one component's live execution context inside a bridge.
type Instance interface {
	Invoke(ctx context.Context, inv Invocation) (value.Value, error)
	Close(ctx context.Context) error
}

// Stats counts per-bridge activity.
type Stats struct {
	Instances   int
	Invocations uint64
	Failures    uint64
}
