package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/turn"
	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/stt"
)

// DefaultTranscriptionTimeout bounds one transcription.
const DefaultTranscriptionTimeout = 10 * time.Second

// Transcriber turns a [turn.Turn] into text. Audio is converted to the
// provider's input format, the call is bounded by a hard timeout, and every
// failure other than [stt.ErrNoSpeech] or caller cancellation is reported as
// [stt.ErrTranscriptionFailed].
type Transcriber struct {
	provider stt.Provider
	hints    []string
	timeout  time.Duration
	format   audio.Format
	metrics  *observe.Metrics
}

// TranscriberOption configures a [Transcriber].
type TranscriberOption func(*Transcriber)

// WithLanguageHints passes BCP-47 language preferences to the provider.
func WithLanguageHints(hints ...string) TranscriberOption {
	return func(t *Transcriber) { t.hints = append([]string(nil), hints...) }
}

// WithTranscriptionTimeout sets the hard timeout. Zero keeps the default.
func WithTranscriptionTimeout(d time.Duration) TranscriberOption {
	return func(t *Transcriber) {
		if d > 0 {
			t.timeout = d
		}
	}
}

// WithInputFormat sets the format the provider expects. Default:
// [audio.FormatSpeech].
func WithInputFormat(f audio.Format) TranscriberOption {
	return func(t *Transcriber) { t.format = f }
}

// WithTranscriberMetrics records transcription latency.
func WithTranscriberMetrics(m *observe.Metrics) TranscriberOption {
	return func(t *Transcriber) { t.metrics = m }
}

// NewTranscriber wraps p.
func NewTranscriber(p stt.Provider, opts ...TranscriberOption) *Transcriber {
	t := &Transcriber{
		provider: p,
		timeout:  DefaultTranscriptionTimeout,
		format:   audio.FormatSpeech,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Transcribe returns the trimmed text of tr. Blank results are reported as
// [stt.ErrNoSpeech].
func (t *Transcriber) Transcribe(ctx context.Context, tr turn.Turn) (string, error) {
	if len(tr.Audio) == 0 {
		return "", stt.ErrNoSpeech
	}
	ctx, span := observe.StartSpan(ctx, "pipeline.transcribe")
	start := time.Now()

	callCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	a := stt.Audio{PCM: audio.Convert(tr.Audio, tr.Format, t.format), Format: t.format}
	text, err := t.provider.Transcribe(callCtx, a, t.hints)
	t.metrics.RecordStage(ctx, observe.StageTranscribe, time.Since(start))

	switch {
	case err == nil:
		text = strings.TrimSpace(text)
		if text == "" {
			err = stt.ErrNoSpeech
		}
	case ctx.Err() != nil:
		err = ctx.Err()
	case errors.Is(err, stt.ErrNoSpeech), errors.Is(err, stt.ErrTranscriptionFailed):
	case callCtx.Err() != nil:
		err = fmt.Errorf("%w: timed out after %v", stt.ErrTranscriptionFailed, t.timeout)
	default:
		err = fmt.Errorf("%w: %w", stt.ErrTranscriptionFailed, err)
	}
	observe.EndSpan(span, err)
	if err != nil {
		return "", err
	}
	return text, nil
}
