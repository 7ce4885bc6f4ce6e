package bridge

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/componentkit/enclave/errors"
)

// Registry maps languages to bridges. It is owned by an adapter, not
// process-global, so independent adapters can carry different bridge
// sets.
type Registry struct {
	mu       sync.RWMutex
	bridges  map[Language]Bridge
	discover Discoverer
	logger   *zap.Logger
}

// Discoverer locates and loads a bridge for a language on demand.
type Discoverer interface {
	Discover(ctx context.Context, language Language) (Bridge, error)
}

// NewRegistry creates a registry. discover may be nil, in which case
// Get only returns explicitly registered bridges.
func NewRegistry(discover Discoverer, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		bridges:  make(map[Language]Bridge),
		discover: discover,
		logger:   logger,
	}
}

// Register adds a bridge for its language. A second bridge for an
// already-registered language is rejected.
func (r *Registry) Register(b Bridge) error {
	if b == nil {
		return errors.InvalidParameter(errors.PhaseBridge, "nil bridge")
	}
	lang := b.Language()
	if lang == "" {
		return errors.InvalidParameter(errors.PhaseBridge, "bridge has empty language")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.bridges[lang]; exists {
		return errors.InvalidParameter(errors.PhaseBridge,
			"bridge already registered for language "+string(lang))
	}
	r.bridges[lang] = b
	r.logger.Info("bridge registered", zap.String("language", string(lang)))
	return nil
}

// Get returns the bridge for a language. When no bridge is registered
// and a discoverer is configured, the registry attempts discovery once
// and registers the result before returning it.
func (r *Registry) Get(ctx context.Context, lang Language) (Bridge, error) {
	r.mu.RLock()
	b, ok := r.bridges[lang]
	r.mu.RUnlock()
	if ok {
		return b, nil
	}

	if r.discover == nil {
		return nil, errors.BridgeUnavailable(string(lang))
	}

	found, err := r.discover.Discover(ctx, lang)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Another caller may have won the race.
	if b, ok := r.bridges[lang]; ok {
		_ = found.Close(ctx)
		return b, nil
	}
	r.bridges[lang] = found
	r.logger.Info("bridge discovered", zap.String("language", string(lang)))
	return found, nil
}

// Unregister removes and returns the bridge for a language. The caller
// owns closing it.
func (r *Registry) Unregister(lang Language) (Bridge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bridges[lang]
	if !ok {
		return nil, errors.BridgeUnavailable(string(lang))
	}
	delete(r.bridges, lang)
	r.logger.Info("bridge unregistered", zap.String("language", string(lang)))
	return b, nil
}

// Languages lists registered languages in stable order.
func (r *Registry) Languages() []Language {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Language, 0, len(r.bridges))
	for lang := range r.bridges {
		out = append(out, lang)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Close closes every registered bridge, keeping the first error.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var first error
	for lang, b := range r.bridges {
		if err := b.Close(ctx); err != nil && first == nil {
			first = err
		}
		delete(r.bridges, lang)
	}
	return first
}
