// Package mock provides a test double for [stt.Provider].
//
//	p := &mock.Provider{Text: "hello"}
//	text, _ := p.Transcribe(ctx, a, []string{"en"})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/parley/pkg/provider/stt"
)

// TranscribeCall records one invocation of Provider.Transcribe.
type TranscribeCall struct {
	Audio stt.Audio
	Hints []string
}

// Provider is a mock implementation of [stt.Provider].
type Provider struct {
	mu sync.Mutex

	// Text is returned on success.
	Text string

	// Err, if non-nil, is returned instead of Text.
	Err error

	// Block, when non-nil, makes Transcribe wait until it is closed or the
	// context is done.
	Block chan struct{}

	// TranscribeFunc, when set, overrides Text and Err.
	TranscribeFunc func(ctx context.Context, a stt.Audio, hints []string) (string, error)

	Calls []TranscribeCall
}

var _ stt.Provider = (*Provider)(nil)

// Transcribe implements [stt.Provider].
func (p *Provider) Transcribe(ctx context.Context, a stt.Audio, hints []string) (string, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, TranscribeCall{Audio: a, Hints: append([]string(nil), hints...)})
	fn, text, err, block := p.TranscribeFunc, p.Text, p.Err, p.Block
	p.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if fn != nil {
		return fn(ctx, a, hints)
	}
	return text, err
}

// CallCount returns the number of Transcribe calls.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// Reset clears recorded calls.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = nil
}
