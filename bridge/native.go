package bridge

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/componentkit/enclave/errors"
	"github.com/componentkit/enclave/value"
)

// NativeBridge runs components implemented as in-process Go handlers.
// It needs no runtime setup and performs no value marshalling.
type NativeBridge struct {
	mu        sync.Mutex
	instances int
	invokes   atomic.Uint64
	failures  atomic.Uint64
	closed    bool
}

func NewNativeBridge() *NativeBridge {
	return &NativeBridge{}
}

func (b *NativeBridge) Language() Language { return LanguageNative }

func (b *NativeBridge) NewInstance(_ context.Context, cfg InstanceConfig) (Instance, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, errors.InvalidState(errors.PhaseBridge, "native bridge is closed")
	}
	if len(cfg.Handlers) == 0 {
		return nil, errors.InvalidParameter(errors.PhaseBridge,
			"native component "+cfg.ComponentID+" has no handlers")
	}

	handlers := make(map[string]Handler, len(cfg.Handlers))
	for name, h := range cfg.Handlers {
		if h == nil {
			return nil, errors.InvalidParameter(errors.PhaseBridge,
				"nil handler for method "+name)
		}
		handlers[name] = h
	}

	b.instances++
	return &nativeInstance{bridge: b, componentID: cfg.ComponentID, handlers: handlers}, nil
}

func (b *NativeBridge) Close(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// Stats returns a snapshot of bridge activity.
func (b *NativeBridge) Stats() Stats {
	b.mu.Lock()
	instances := b.instances
	b.mu.Unlock()
	return Stats{
		Instances:   instances,
		Invocations: b.invokes.Load(),
		Failures:    b.failures.Load(),
	}
}

type nativeInstance struct {
	bridge      *NativeBridge
	componentID string
	handlers    map[string]Handler
}

func (i *nativeInstance) Invoke(ctx context.Context, inv Invocation) (value.Value, error) {
	h, ok := i.handlers[inv.Method]
	if !ok {
		return value.Null(), errors.MethodNotFound(i.componentID, inv.Method)
	}

	i.bridge.invokes.Add(1)
	out, err := h(ctx, inv.Params)
	if err != nil {
		i.bridge.failures.Add(1)
		return value.Null(), errors.InvokeFailed(i.componentID, inv.Method, err)
	}
	return out, nil
}

func (i *nativeInstance) Close(context.Context) error {
	i.bridge.mu.Lock()
	i.bridge.instances--
	i.bridge.mu.Unlock()
	return nil
}
