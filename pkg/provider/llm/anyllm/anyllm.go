// Package anyllm provides a generation backend on top of
// github.com/mozilla-ai/any-llm-go, a unified client for OpenAI, Anthropic,
// Gemini, Ollama, DeepSeek, Mistral, Groq, llama.cpp and llamafile.
//
// The upstream is chosen by [llm.Config].Provider:
//
//	b := anyllm.New()
//	err := b.Initialize(ctx, llm.Config{Provider: "anthropic", Model: "claude-3-5-haiku-latest", APIKeys: keys})
package anyllm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/MrWong99/parley/pkg/provider/llm"
)

var _ llm.Backend = (*Backend)(nil)

// localKey stands in for the credential of providers that need none, so the
// key ring still holds exactly one entry.
const localKey = "local"

// keyless lists the providers that run without an API key.
var keyless = map[string]bool{
	"ollama":    true,
	"llamacpp":  true,
	"llamafile": true,
}

// Option configures a [Backend].
type Option func(*Backend)

// WithName sets the name used in logs. Defaults to "anyllm".
func WithName(name string) Option {
	return func(b *Backend) { b.name = name }
}

// WithRetryPolicy replaces [llm.DefaultRetryPolicy].
func WithRetryPolicy(p llm.RetryPolicy) Option {
	return func(b *Backend) { b.policy = p }
}

// Backend implements [llm.Backend] by wrapping any-llm-go.
type Backend struct {
	name     string
	policy   llm.RetryPolicy
	counters llm.Counters

	mu    sync.RWMutex
	cfg   llm.Config
	ring  *llm.KeyRing[anyllmlib.Provider]
	ready bool
}

// New returns an uninitialised Backend.
func New(opts ...Option) *Backend {
	b := &Backend{name: "anyllm", policy: llm.DefaultRetryPolicy()}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Initialize implements [llm.Backend]. Hosted providers without credentials
// leave the backend unavailable; local providers need none.
func (b *Backend) Initialize(_ context.Context, cfg llm.Config) error {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		return errors.New("anyllm: provider must not be empty")
	}
	if cfg.Model == "" {
		return errors.New("anyllm: model must not be empty")
	}
	keys := cfg.APIKeys
	if keyless[provider] && len(nonBlank(keys)) == 0 {
		keys = []string{localKey}
	}

	ring, err := llm.NewKeyRing(keys, func(key string) (anyllmlib.Provider, error) {
		var opts []anyllmlib.Option
		if key != localKey {
			opts = append(opts, anyllmlib.WithAPIKey(key))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(cfg.BaseURL))
		}
		return createBackend(provider, opts...)
	})

	b.mu.Lock()
	defer b.mu.Unlock()
	switch {
	case errors.Is(err, llm.ErrNoCredentials):
		b.cfg, b.ring, b.ready = cfg, nil, false
		slog.Warn("anyllm: no API keys configured, backend stays unavailable", "backend", b.name, "provider", provider)
		return nil
	case err != nil:
		return fmt.Errorf("anyllm: %s: %w", provider, err)
	}
	cfg.Provider = provider
	b.cfg, b.ring, b.ready = cfg, ring, true
	slog.Info("anyllm: backend initialised", "backend", b.name, "provider", provider, "model", cfg.Model, "keys", ring.Len())
	return nil
}

// Available implements [llm.Backend].
func (b *Backend) Available() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.ready
}

// Usage implements [llm.Backend].
func (b *Backend) Usage() llm.Usage {
	return b.counters.Snapshot()
}

// Generate implements [llm.Backend].
func (b *Backend) Generate(ctx context.Context, prompt string, history []llm.Message) (llm.Completion, error) {
	b.mu.RLock()
	cfg, ring, ready := b.cfg, b.ring, b.ready
	b.mu.RUnlock()
	if !ready {
		return llm.Completion{}, fmt.Errorf("anyllm: %w", llm.ErrUnavailable)
	}

	params := buildParams(cfg, prompt, history)
	return llm.Invoke(ctx, b.name, ring, b.policy, &b.counters, func(ctx context.Context, client anyllmlib.Provider) (llm.Completion, error) {
		if cfg.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
			defer cancel()
		}
		resp, err := client.Completion(ctx, params)
		if err != nil {
			return llm.Completion{}, fmt.Errorf("anyllm: %s completion: %w", cfg.Provider, err)
		}
		if len(resp.Choices) == 0 {
			return llm.Completion{}, fmt.Errorf("anyllm: %w", llm.ErrEmptyResponse)
		}
		text := resp.Choices[0].Message.ContentString()
		if strings.TrimSpace(text) == "" {
			return llm.Completion{}, fmt.Errorf("anyllm: %w", llm.ErrEmptyResponse)
		}
		tokens := 0
		if resp.Usage != nil {
			tokens = resp.Usage.TotalTokens
		}
		if tokens == 0 {
			tokens = llm.EstimateTokens(prompt, text)
		}
		return llm.Completion{Text: text, Tokens: tokens}, nil
	})
}

// createBackend creates the any-llm-go client for providerName.
func createBackend(providerName string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch providerName {
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "gemini":
		return gemini.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	case "deepseek":
		return deepseek.New(opts...)
	case "mistral":
		return mistral.New(opts...)
	case "groq":
		return groq.New(opts...)
	case "llamacpp":
		return llamacpp.New(opts...)
	case "llamafile":
		return llamafile.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported provider %q; supported: openai, anthropic, gemini, ollama, deepseek, mistral, groq, llamacpp, llamafile", providerName)
	}
}

func buildParams(cfg llm.Config, prompt string, history []llm.Message) anyllmlib.CompletionParams {
	messages := make([]anyllmlib.Message, 0, len(history)+1)
	for _, m := range history {
		messages = append(messages, anyllmlib.Message{Role: string(m.Role), Content: m.Content})
	}
	messages = append(messages, anyllmlib.Message{Role: string(llm.RoleUser), Content: prompt})

	params := anyllmlib.CompletionParams{
		Model:    cfg.Model,
		Messages: messages,
	}
	if cfg.Temperature != 0 {
		t := cfg.Temperature
		params.Temperature = &t
	}
	if cfg.MaxTokens > 0 {
		mt := cfg.MaxTokens
		params.MaxTokens = &mt
	}
	return params
}

func nonBlank(keys []string) []string {
	var out []string
	for _, k := range keys {
		if strings.TrimSpace(k) != "" {
			out = append(out, k)
		}
	}
	return out
}
