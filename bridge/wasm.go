package bridge

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"go.uber.org/zap"

	"github.com/componentkit/enclave/errors"
	"github.com/componentkit/enclave/value"
)

// WasmBridge runs components compiled to core WebAssembly through a
// shared wazero runtime. A bridge either carries a preloaded guest
// binary (discovery) or compiles the guest each instance brings in its
// config. Method calls map to exported functions by name; scalar
// values cross the boundary on the wasm stack.
type WasmBridge struct {
	runtime  wazero.Runtime
	preload  wazero.CompiledModule
	logger   *zap.Logger
	mu       sync.Mutex
	closed   bool
	invokes  atomic.Uint64
	failures atomic.Uint64
}

// NewWasmBridge creates a bridge whose instances compile the guest
// binary from their own InstanceConfig.
func NewWasmBridge(ctx context.Context, logger *zap.Logger) (*WasmBridge, error) {
	return newWasmBridge(ctx, nil, logger)
}

func newWasmBridge(ctx context.Context, guest []byte, logger *zap.Logger) (*WasmBridge, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	runtime := wazero.NewRuntime(ctx)
	wasi_snapshot_preview1.MustInstantiate(ctx, runtime)

	b := &WasmBridge{runtime: runtime, logger: logger}
	if guest != nil {
		compiled, err := runtime.CompileModule(ctx, guest)
		if err != nil {
			_ = runtime.Close(ctx)
			return nil, errors.Wrap(errors.PhaseBridge, errors.KindBridgeUnavailable, err,
				"compile guest module")
		}
		b.preload = compiled
	}
	return b, nil
}

func (b *WasmBridge) Language() Language { return LanguageWasm }

func (b *WasmBridge) NewInstance(ctx context.Context, cfg InstanceConfig) (Instance, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, errors.InvalidState(errors.PhaseBridge, "wasm bridge is closed")
	}

	compiled := b.preload
	if compiled == nil {
		if len(cfg.Guest) == 0 {
			return nil, errors.InvalidParameter(errors.PhaseBridge,
				"wasm component "+cfg.ComponentID+" carries no guest binary")
		}
		var err error
		compiled, err = b.runtime.CompileModule(ctx, cfg.Guest)
		if err != nil {
			return nil, errors.Wrap(errors.PhaseBridge, errors.KindBridgeUnavailable, err,
				"compile guest module for "+cfg.ComponentID)
		}
	}

	// Module names must be unique within the runtime even when the
	// same guest backs several components.
	name := fmt.Sprintf("%s-%s", cfg.ComponentID, uuid.NewString())
	mod, err := b.runtime.InstantiateModule(ctx, compiled,
		wazero.NewModuleConfig().WithName(name).WithStartFunctions("_initialize", "_start"))
	if err != nil {
		return nil, errors.Wrap(errors.PhaseBridge, errors.KindInvokeFailed, err,
			"instantiate guest module for "+cfg.ComponentID)
	}

	b.logger.Debug("wasm instance created",
		zap.String("component", cfg.ComponentID),
		zap.String("module", name),
	)
	return &wasmInstance{bridge: b, componentID: cfg.ComponentID, module: mod}, nil
}

func (b *WasmBridge) Close(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.runtime.Close(ctx)
}

// Stats returns a snapshot of bridge activity.
func (b *WasmBridge) Stats() Stats {
	return Stats{
		Invocations: b.invokes.Load(),
		Failures:    b.failures.Load(),
	}
}

type wasmInstance struct {
	bridge      *WasmBridge
	componentID string
	module      api.Module
}

func (i *wasmInstance) Invoke(ctx context.Context, inv Invocation) (value.Value, error) {
	fn := i.module.ExportedFunction(inv.Method)
	if fn == nil {
		return value.Null(), errors.MethodNotFound(i.componentID, inv.Method)
	}

	stack := make([]uint64, 0, len(inv.Params))
	for idx, p := range inv.Params {
		enc, err := encodeWasmParam(p)
		if err != nil {
			return value.Null(), errors.New(errors.PhaseBridge, errors.KindInvalidParameter).
				Component(i.componentID).
				Method(inv.Method).
				Cause(err).
				Detail("parameter %d", idx).
				Build()
		}
		stack = append(stack, enc)
	}

	i.bridge.invokes.Add(1)
	results, err := fn.Call(ctx, stack...)
	if err != nil {
		i.bridge.failures.Add(1)
		return value.Null(), errors.InvokeFailed(i.componentID, inv.Method, err)
	}

	return decodeWasmResult(inv.Returns, results)
}

func (i *wasmInstance) Close(ctx context.Context) error {
	return i.module.Close(ctx)
}

// encodeWasmParam lowers a scalar value onto the wasm stack. Compound
// values need guest-side linear-memory conventions the core bridge
// does not define.
func encodeWasmParam(v value.Value) (uint64, error) {
	switch v.Kind() {
	case value.KindNull:
		return 0, nil
	case value.KindBool:
		if v.AsBool() {
			return 1, nil
		}
		return 0, nil
	case value.KindInt32:
		return api.EncodeI32(v.AsInt32()), nil
	case value.KindInt64:
		return api.EncodeI64(v.AsInt64()), nil
	case value.KindUint32:
		return uint64(v.AsUint32()), nil
	case value.KindUint64:
		return v.AsUint64(), nil
	case value.KindFloat32:
		return api.EncodeF32(v.AsFloat32()), nil
	case value.KindFloat64:
		return api.EncodeF64(v.AsFloat64()), nil
	default:
		return 0, errors.NotImplemented(errors.PhaseBridge,
			"passing "+v.Kind().String()+" values into wasm guests")
	}
}

// decodeWasmResult lifts the wasm result stack into the declared
// return kind.
func decodeWasmResult(kind value.Kind, results []uint64) (value.Value, error) {
	if kind == value.KindNull {
		return value.Null(), nil
	}
	if len(results) == 0 {
		return value.Null(), errors.InvalidState(errors.PhaseBridge,
			"guest returned nothing for a "+kind.String()+" method")
	}
	raw := results[0]

	switch kind {
	case value.KindBool:
		return value.Bool(raw != 0), nil
	case value.KindInt32:
		return value.Int32(api.DecodeI32(raw)), nil
	case value.KindInt64:
		return value.Int64(int64(raw)), nil
	case value.KindUint32:
		return value.Uint32(uint32(raw)), nil
	case value.KindUint64:
		return value.Uint64(raw), nil
	case value.KindFloat32:
		return value.Float32(api.DecodeF32(raw)), nil
	case value.KindFloat64:
		return value.Float64(api.DecodeF64(raw)), nil
	default:
		return value.Null(), errors.NotImplemented(errors.PhaseBridge,
			"returning "+kind.String()+" values from wasm guests")
	}
}
