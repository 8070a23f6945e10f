package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/tts"
)

// Synthesizer renders reply text into PCM ready for the transport.
type Synthesizer struct {
	provider tts.Provider
	voice    string
	out      audio.Format
	metrics  *observe.Metrics
}

// SynthesizerOption configures a [Synthesizer].
type SynthesizerOption func(*Synthesizer)

// WithVoice selects the provider voice. Empty uses the provider default.
func WithVoice(name string) SynthesizerOption {
	return func(s *Synthesizer) { s.voice = name }
}

// WithOutputFormat sets the transport format. Default: [audio.FormatDiscord].
func WithOutputFormat(f audio.Format) SynthesizerOption {
	return func(s *Synthesizer) { s.out = f }
}

// WithSynthesizerMetrics records synthesis latency.
func WithSynthesizerMetrics(m *observe.Metrics) SynthesizerOption {
	return func(s *Synthesizer) { s.metrics = m }
}

// NewSynthesizer wraps p.
func NewSynthesizer(p tts.Provider, opts ...SynthesizerOption) *Synthesizer {
	s := &Synthesizer{provider: p, out: audio.FormatDiscord}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Synthesize returns text as PCM in the output format. Failures wrap
// [tts.ErrSynthesisFailed] unless ctx itself was cancelled.
func (s *Synthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	ctx, span := observe.StartSpan(ctx, "pipeline.synthesize")
	start := time.Now()

	clip, err := s.provider.Synthesize(ctx, text, s.voice)
	s.metrics.RecordStage(ctx, observe.StageSynthesize, time.Since(start))

	switch {
	case err == nil && len(clip.PCM) == 0:
		err = fmt.Errorf("%w: empty audio", tts.ErrSynthesisFailed)
	case err == nil && !clip.Format.Valid():
		err = fmt.Errorf("%w: invalid format %+v", tts.ErrSynthesisFailed, clip.Format)
	case err == nil:
	case ctx.Err() != nil:
		err = ctx.Err()
	case !errors.Is(err, tts.ErrSynthesisFailed):
		err = fmt.Errorf("%w: %w", tts.ErrSynthesisFailed, err)
	}
	observe.EndSpan(span, err)
	if err != nil {
		return nil, err
	}
	return audio.Convert(clip.PCM, clip.Format, s.out), nil
}
