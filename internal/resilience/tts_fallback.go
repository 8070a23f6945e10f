package resilience

import (
	"context"

	"github.com/MrWong99/parley/pkg/provider/tts"
)

// TTSFallback is a [tts.Provider] that fails over across several synthesis
// backends. Voice names are passed through unchanged; backends that do not
// know a voice are expected to fall back to their own default.
type TTSFallback struct {
	group *FallbackGroup[tts.Provider]
}

var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] with primary preferred.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers another backend.
func (f *TTSFallback) AddFallback(name string, p tts.Provider) {
	f.group.AddFallback(name, p)
}

// States reports each backend's breaker state.
func (f *TTSFallback) States() map[string]State { return f.group.States() }

// Synthesize implements [tts.Provider].
func (f *TTSFallback) Synthesize(ctx context.Context, text, voice string) (tts.Audio, error) {
	return ExecuteWithResult(ctx, f.group, func(ctx context.Context, p tts.Provider) (tts.Audio, error) {
		return p.Synthesize(ctx, text, voice)
	})
}
