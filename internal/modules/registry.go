package modules

import (
	"fmt"
	"sync"

	"github.com/outboundhq/engine/internal/domain"
)

// Registry resolves the concrete Module implementation for a
// SendConfig's (module, provider) pair, falling back to the mock
// adapter for dryRun batches or an explicit "mock" provider.
type Registry struct {
	mu    sync.RWMutex
	byKey map[string]Module
	mocks map[domain.ModuleType]Module
}

// NewRegistry creates an empty registry; callers register each real
// provider adapter plus a mock adapter per module at startup.
func NewRegistry() *Registry {
	return &Registry{byKey: make(map[string]Module), mocks: make(map[domain.ModuleType]Module)}
}

// Register binds a provider name (e.g. "ses", "resend", "telnyx") to a
// module implementation.
func (r *Registry) Register(provider string, m Module) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byKey[registryKey(m.Type(), provider)] = m
}

// RegisterMock binds the dry-run fallback for a channel.
func (r *Registry) RegisterMock(m Module) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mocks[m.Type()] = m
}

// Resolve returns the module for the given SendConfig, honoring dryRun
// (or an explicit "mock" provider) before falling back to the real
// provider adapter.
func (r *Registry) Resolve(sc *domain.SendConfig, dryRun bool) (Module, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if dryRun {
		if m, ok := r.mocks[sc.Module]; ok {
			return m, nil
		}
		return nil, fmt.Errorf("modules: no mock adapter registered for %s", sc.Module)
	}

	cfg, err := sc.DecodeConfig()
	if err != nil {
		return nil, fmt.Errorf("modules: decode send config: %w", err)
	}
	provider := providerOf(cfg)
	if provider == "mock" {
		if m, ok := r.mocks[sc.Module]; ok {
			return m, nil
		}
	}
	if m, ok := r.byKey[registryKey(sc.Module, provider)]; ok {
		return m, nil
	}
	return nil, fmt.Errorf("modules: no adapter registered for module=%s provider=%q", sc.Module, provider)
}

func providerOf(cfg domain.ModuleConfig) string {
	switch c := cfg.(type) {
	case domain.EmailConfig:
		return c.Provider
	case domain.SMSConfig:
		return c.Provider
	case domain.PushConfig:
		return c.Provider
	case domain.WebhookConfig:
		return "webhook"
	default:
		return ""
	}
}

func registryKey(module domain.ModuleType, provider string) string {
	return string(module) + ":" + provider
}
