// Package mock provides a test double for [llm.Backend].
//
//	b := &mock.Backend{Ready: true, Reply: "Hello!"}
//	c, _ := b.Generate(ctx, "hi", nil)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/parley/pkg/provider/llm"
)

// GenerateCall records one invocation of Backend.Generate.
type GenerateCall struct {
	Prompt  string
	History []llm.Message
}

// Backend is a mock implementation of [llm.Backend].
type Backend struct {
	mu sync.Mutex

	// Ready is reported by Available. Initialize sets it to true when
	// InitErr is nil and the config holds at least one key or NoKeysNeeded
	// is set.
	Ready        bool
	NoKeysNeeded bool

	// InitErr is returned by Initialize.
	InitErr error

	// Reply is returned by Generate when Err is nil.
	Reply string

	// Err, if non-nil, is returned by Generate.
	Err error

	// GenerateFunc, when set, overrides Reply and Err.
	GenerateFunc func(ctx context.Context, prompt string, history []llm.Message) (llm.Completion, error)

	InitConfigs []llm.Config
	Calls       []GenerateCall
}

var _ llm.Backend = (*Backend)(nil)

// Initialize implements [llm.Backend].
func (b *Backend) Initialize(_ context.Context, cfg llm.Config) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.InitConfigs = append(b.InitConfigs, cfg)
	if b.InitErr != nil {
		return b.InitErr
	}
	b.Ready = b.NoKeysNeeded || len(cfg.APIKeys) > 0
	return nil
}

// Available implements [llm.Backend].
func (b *Backend) Available() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.Ready
}

// Generate implements [llm.Backend]. History is copied before recording.
func (b *Backend) Generate(ctx context.Context, prompt string, history []llm.Message) (llm.Completion, error) {
	b.mu.Lock()
	b.Calls = append(b.Calls, GenerateCall{Prompt: prompt, History: append([]llm.Message(nil), history...)})
	fn, reply, err := b.GenerateFunc, b.Reply, b.Err
	b.mu.Unlock()

	if fn != nil {
		return fn(ctx, prompt, history)
	}
	if err != nil {
		return llm.Completion{}, err
	}
	return llm.Completion{Text: reply, Tokens: llm.EstimateTokens(prompt, reply)}, nil
}

// Usage implements [llm.Backend].
func (b *Backend) Usage() llm.Usage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return llm.Usage{Requests: int64(len(b.Calls))}
}

// SetErr swaps the error returned by Generate.
func (b *Backend) SetErr(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Err = err
}

// CallCount returns the number of Generate calls.
func (b *Backend) CallCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.Calls)
}

// LastCall returns the most recent Generate call.
func (b *Backend) LastCall() (GenerateCall, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.Calls) == 0 {
		return GenerateCall{}, false
	}
	return b.Calls[len(b.Calls)-1], true
}

// Reset clears recorded calls.
func (b *Backend) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Calls = nil
	b.InitConfigs = nil
}
