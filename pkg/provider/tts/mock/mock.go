// Package mock provides a test double for [tts.Provider].
//
//	p := &mock.Provider{Result: tts.Audio{PCM: pcm, Format: audio.FormatSpeech}}
//	clip, _ := p.Synthesize(ctx, "hello", "voice-1")
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/parley/pkg/provider/tts"
)

// SynthesizeCall records one invocation of Provider.Synthesize.
type SynthesizeCall struct {
	Text  string
	Voice string
}

// Provider is a mock implementation of [tts.Provider].
type Provider struct {
	mu sync.Mutex

	// Result is returned on success.
	Result tts.Audio

	// Err, if non-nil, is returned instead of Result.
	Err error

	// SynthesizeFunc, when set, overrides Result and Err.
	SynthesizeFunc func(ctx context.Context, text, voice string) (tts.Audio, error)

	Calls []SynthesizeCall
}

var _ tts.Provider = (*Provider)(nil)

// Synthesize implements [tts.Provider].
func (p *Provider) Synthesize(ctx context.Context, text, voice string) (tts.Audio, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, SynthesizeCall{Text: text, Voice: voice})
	fn, res, err := p.SynthesizeFunc, p.Result, p.Err
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, text, voice)
	}
	if err != nil {
		return tts.Audio{}, err
	}
	return res, nil
}

// CallCount returns the number of Synthesize calls.
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
