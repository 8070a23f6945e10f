// Package openai provides a generation backend for the OpenAI chat
// completions API and any server that speaks it.
package openai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/MrWong99/parley/pkg/provider/llm"
)

var _ llm.Backend = (*Backend)(nil)

// Option configures a [Backend].
type Option func(*Backend)

// WithName sets the name used in logs. Defaults to "openai".
func WithName(name string) Option {
	return func(b *Backend) { b.name = name }
}

// WithOrganization sets the OpenAI organization ID on all requests.
func WithOrganization(org string) Option {
	return func(b *Backend) { b.organization = org }
}

// WithHTTPClient replaces the HTTP client used by every credential's client.
func WithHTTPClient(c *http.Client) Option {
	return func(b *Backend) { b.httpClient = c }
}

// WithRetryPolicy replaces [llm.DefaultRetryPolicy].
func WithRetryPolicy(p llm.RetryPolicy) Option {
	return func(b *Backend) { b.policy = p }
}

// Backend implements [llm.Backend] using the OpenAI Go SDK. It holds one
// SDK client per credential.
type Backend struct {
	name         string
	organization string
	httpClient   *http.Client
	policy       llm.RetryPolicy
	counters     llm.Counters

	mu    sync.RWMutex
	cfg   llm.Config
	ring  *llm.KeyRing[oai.Client]
	ready bool
}

// New returns an uninitialised Backend.
func New(opts ...Option) *Backend {
	b := &Backend{name: "openai", policy: llm.DefaultRetryPolicy()}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Initialize implements [llm.Backend]. A config without credentials is
// accepted but leaves the backend unavailable.
func (b *Backend) Initialize(_ context.Context, cfg llm.Config) error {
	if cfg.Model == "" {
		return errors.New("openai: model must not be empty")
	}
	ring, err := llm.NewKeyRing(cfg.APIKeys, func(key string) (oai.Client, error) {
		return oai.NewClient(b.requestOptions(cfg, key)...), nil
	})

	b.mu.Lock()
	defer b.mu.Unlock()
	switch {
	case errors.Is(err, llm.ErrNoCredentials):
		b.cfg, b.ring, b.ready = cfg, nil, false
		slog.Warn("openai: no API keys configured, backend stays unavailable", "backend", b.name)
		return nil
	case err != nil:
		return fmt.Errorf("openai: %w", err)
	}
	b.cfg, b.ring, b.ready = cfg, ring, true
	slog.Info("openai: backend initialised", "backend", b.name, "model", cfg.Model, "keys", ring.Len())
	return nil
}

func (b *Backend) requestOptions(cfg llm.Config, key string) []option.RequestOption {
	opts := []option.RequestOption{
		option.WithAPIKey(key),
		// Quota retries belong to the policy, not the SDK.
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if b.organization != "" {
		opts = append(opts, option.WithOrganization(b.organization))
	}
	if b.httpClient != nil {
		opts = append(opts, option.WithHTTPClient(b.httpClient))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	return opts
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
		return llm.Completion{}, fmt.Errorf("openai: %w", llm.ErrUnavailable)
	}

	params, err := buildParams(cfg, prompt, history)
	if err != nil {
		return llm.Completion{}, err
	}
	return llm.Invoke(ctx, b.name, ring, b.policy, &b.counters, func(ctx context.Context, client oai.Client) (llm.Completion, error) {
		resp, err := client.Chat.Completions.New(ctx, params)
		if err != nil {
			return llm.Completion{}, classify(err)
		}
		if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
			return llm.Completion{}, fmt.Errorf("openai: %w", llm.ErrEmptyResponse)
		}
		text := resp.Choices[0].Message.Content
		tokens := int(resp.Usage.TotalTokens)
		if tokens == 0 {
			tokens = llm.EstimateTokens(prompt, text)
		}
		return llm.Completion{Text: text, Tokens: tokens}, nil
	})
}

// classify marks HTTP 429 responses as [llm.ErrRateLimited].
func classify(err error) error {
	var apiErr *oai.Error
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("openai: chat completion: %w: %w", llm.ErrRateLimited, err)
	}
	return fmt.Errorf("openai: chat completion: %w", err)
}

func buildParams(cfg llm.Config, prompt string, history []llm.Message) (oai.ChatCompletionNewParams, error) {
	messages := make([]oai.ChatCompletionMessageParamUnion, 0, len(history)+1)
	for _, m := range history {
		msg, err := convertMessage(m)
		if err != nil {
			return oai.ChatCompletionNewParams{}, err
		}
		messages = append(messages, msg)
	}
	messages = append(messages, oai.UserMessage(prompt))

	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(cfg.Model),
		Messages: messages,
	}
	if cfg.Temperature != 0 {
		params.Temperature = param.NewOpt(cfg.Temperature)
	}
	if cfg.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(cfg.MaxTokens))
	}
	return params, nil
}

func convertMessage(m llm.Message) (oai.ChatCompletionMessageParamUnion, error) {
	switch m.Role {
	case llm.RoleSystem:
		return oai.SystemMessage(m.Content), nil
	case llm.RoleUser:
		return oai.UserMessage(m.Content), nil
	case llm.RoleAssistant:
		return oai.AssistantMessage(m.Content), nil
	default:
		return oai.ChatCompletionMessageParamUnion{}, fmt.Errorf("openai: unknown message role %q", m.Role)
	}
}
