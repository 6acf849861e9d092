package oracle

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Rogers-F/storyboard-engine/internal/config"
	"github.com/Rogers-F/storyboard-engine/internal/domain"
)

// Factory builds a backend client from its configuration.
type Factory func(ctx context.Context, cfg config.OracleConfig) (Client, error)

// Registry is a thread-safe registry of backend factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// DefaultRegistry returns a registry with the openai and gemini backends.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	_ = r.Register("openai", func(_ context.Context, cfg config.OracleConfig) (Client, error) {
		return NewOpenAI(cfg), nil
	})
	_ = r.Register("gemini", func(ctx context.Context, cfg config.OracleConfig) (Client, error) {
		return NewGemini(ctx, cfg)
	})
	return r
}

// Register adds a backend factory.
// Returns ErrUnknownBackend if the name is already registered.
func (r *Registry) Register(name string, f Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[name]; exists {
		return domain.NewEngineError(domain.ErrUnknownBackend.Code, "backend already registered: "+name)
	}
	r.factories[name] = f
	return nil
}

// Get returns the factory for the named backend, or ErrUnknownBackend.
func (r *Registry) Get(name string) (Factory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.factories[name]
	if !ok {
		return nil, domain.ErrUnknownBackend
	}
	return f, nil
}

// List returns all registered backend names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build creates the configured backend wrapped with the per-call timeout and
// instrumentation. Returns ErrOracleUnconfigured when no API key is set.
func (r *Registry) Build(ctx context.Context, cfg config.OracleConfig, logger *zap.Logger) (Client, error) {
	if cfg.APIKey == "" {
		return nil, domain.ErrOracleUnconfigured
	}
	f, err := r.Get(cfg.Backend)
	if err != nil {
		return nil, err
	}
	c, err := f(ctx, cfg)
	if err != nil {
		return nil, domain.WrapEngineError(domain.ErrOracleUnconfigured.Code, "build oracle backend", err)
	}
	c = WithTimeout(c, time.Duration(cfg.TimeoutSec)*time.Second)
	return Instrument(c, cfg.Backend, logger), nil
}
