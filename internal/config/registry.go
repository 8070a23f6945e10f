package config

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MrWong99/parley/pkg/provider/llm"
	"github.com/MrWong99/parley/pkg/provider/stt"
	"github.com/MrWong99/parley/pkg/provider/tts"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// BackendFactory builds an uninitialised generation backend. name is the
// backend's configured name; cfg carries its kind and provider.
type BackendFactory func(name string, cfg BackendConfig) (llm.Backend, error)

// Registry maps provider names to their constructor functions for each
// stage. Generation backends are keyed by kind. It is safe for concurrent use.
type Registry struct {
	mu  sync.RWMutex
	llm map[string]BackendFactory
	stt map[string]func(ProviderEntry) (stt.Provider, error)
	tts map[string]func(ProviderEntry) (tts.Provider, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		llm: make(map[string]BackendFactory),
		stt: make(map[string]func(ProviderEntry) (stt.Provider, error)),
		tts: make(map[string]func(ProviderEntry) (tts.Provider, error)),
	}
}

// RegisterBackend registers a generation backend factory under kind.
// Subsequent calls with the same kind overwrite the previous registration.
func (r *Registry) RegisterBackend(kind string, factory BackendFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm[kind] = factory
}

// RegisterSTT registers an STT provider factory under name.
func (r *Registry) RegisterSTT(name string, factory func(ProviderEntry) (stt.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt[name] = factory
}

// RegisterTTS registers a TTS provider factory under name.
func (r *Registry) RegisterTTS(name string, factory func(ProviderEntry) (tts.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts[name] = factory
}

// CreateBackend instantiates the backend called name using the factory
// registered under cfg.Kind. Returns [ErrProviderNotRegistered] if no factory
// has been registered for that kind.
func (r *Registry) CreateBackend(name string, cfg BackendConfig) (llm.Backend, error) {
	r.mu.RLock()
	factory, ok := r.llm[cfg.Kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: llm/%q", ErrProviderNotRegistered, cfg.Kind)
	}
	return factory(name, cfg)
}

// CreateSTT instantiates an STT provider using the factory registered under entry.Name.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	r.mu.RLock()
	factory, ok := r.stt[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: stt/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateTTS instantiates a TTS provider using the factory registered under entry.Name.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) {
	r.mu.RLock()
	factory, ok := r.tts[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: tts/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// LLMConfig converts b into the Initialize-time configuration of its backend.
func (b BackendConfig) LLMConfig(timeout time.Duration) *llm.Config {
	return &llm.Config{
		Model:       b.Model,
		APIKeys:     append([]string(nil), b.APIKeys...),
		BaseURL:     b.BaseURL,
		Provider:    b.Provider,
		Timeout:     timeout,
		MaxTokens:   b.MaxTokens,
		Temperature: b.Temperature,
	}
}

// LLMConfigs returns the Initialize-time configuration of every backend in g,
// keyed by backend name.
func (g GenerationConfig) LLMConfigs() map[string]*llm.Config {
	out := make(map[string]*llm.Config, len(g.Backends))
	for name, b := range g.Backends {
		out[name] = b.LLMConfig(g.Timeout())
	}
	return out
}
