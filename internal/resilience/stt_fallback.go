package resilience

import (
	"context"
	"errors"

	"github.com/MrWong99/parley/pkg/provider/stt"
)

// STTFallback is an [stt.Provider] that fails over across several
// transcription backends. [stt.ErrNoSpeech] from any backend ends the walk:
// silence stays silence on every engine.
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary preferred.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	userFinal := cfg.Final
	cfg.Final = func(err error) bool {
		return errors.Is(err, stt.ErrNoSpeech) || (userFinal != nil && userFinal(err))
	}
	return &STTFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers another backend.
func (f *STTFallback) AddFallback(name string, p stt.Provider) {
	f.group.AddFallback(name, p)
}

// States reports each backend's breaker state.
func (f *STTFallback) States() map[string]State { return f.group.States() }

// Transcribe implements [stt.Provider].
func (f *STTFallback) Transcribe(ctx context.Context, a stt.Audio, hints []string) (string, error) {
	return ExecuteWithResult(ctx, f.group, func(ctx context.Context, p stt.Provider) (string, error) {
		return p.Transcribe(ctx, a, hints)
	})
}
