// Package llm defines the generation backend capability used by the
// generation engine, together with the credential rotation and retry
// machinery shared by every concrete backend.
//
// A [Backend] is initialised once from a [Config], reports whether it can
// serve requests through Available, and answers one prompt at a time given
// the prior conversation. Backends own a [KeyRing] of credentials; on a quota
// error they rotate to the next credential and retry once, as governed by a
// [RetryPolicy]. Every other error is returned to the caller unchanged so the
// engine can fail over to another backend.
//
// Implementations must be safe for concurrent use.
package llm

import (
	"context"
	"time"
)

// Role identifies the author of a [Message].
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of a conversation.
type Message struct {
	Role    Role
	Content string
}

// Config configures a backend at Initialize time.
type Config struct {
	// Model is the backend-specific model name.
	Model string

	// APIKeys is the rotating credential set. Order is rotation order.
	// Backends that require credentials stay unavailable when it is empty.
	APIKeys []string

	// BaseURL overrides the provider endpoint. Optional.
	BaseURL string

	// Provider selects the upstream for multi-provider backends
	// ("anthropic", "gemini", "ollama", ...). Ignored by single-provider
	// backends.
	Provider string

	// Timeout bounds one upstream request. Zero means no per-request limit
	// beyond the caller's context.
	Timeout time.Duration

	// MaxTokens caps the reply length. Zero uses the provider default.
	MaxTokens int

	// Temperature is forwarded when non-zero.
	Temperature float64
}

// Completion is the result of one successful Generate call.
type Completion struct {
	Text string

	// Tokens is the total token count reported by the upstream, or an
	// estimate when the upstream reports none.
	Tokens int
}

// Usage is a snapshot of a backend's counters.
type Usage struct {
	Requests  int64
	Tokens    int64
	Rotations int64
}

// Backend is one generation capability.
type Backend interface {
	// Initialize configures the backend. It may be called again to
	// reconfigure; in-flight requests finish on the old configuration.
	Initialize(ctx context.Context, cfg Config) error

	// Available reports whether the backend is initialised and holds at
	// least one usable credential.
	Available() bool

	// Generate answers prompt given history. history is passed through
	// as-is; it normally starts with a system message.
	Generate(ctx context.Context, prompt string, history []Message) (Completion, error)

	// Usage returns the backend's counters.
	Usage() Usage
}

// EstimateTokens approximates a token count at ~4 characters per token plus
// a per-message overhead.
func EstimateTokens(texts ...string) int {
	total := 0
	for _, t := range texts {
		total += (len(t)+3)/4 + 4
	}
	return total
}
