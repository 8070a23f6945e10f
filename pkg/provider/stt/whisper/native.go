// This file holds the in-process backend built on the whisper.cpp cgo
// bindings. libwhisper.a and whisper.h must be reachable through
// LIBRARY_PATH and C_INCLUDE_PATH at build time.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/stt"
)

var _ stt.Provider = (*NativeProvider)(nil)

// NativeProvider runs whisper.cpp in-process. The model is loaded once and
// shared; each call gets its own inference context, so concurrent calls do
// not interfere.
type NativeProvider struct {
	model    whisperlib.Model
	language string
}

// NativeOption configures a [NativeProvider].
type NativeOption func(*NativeProvider)

// WithNativeLanguage sets the fallback language used when no hint is given.
// Defaults to "en".
func WithNativeLanguage(lang string) NativeOption {
	return func(p *NativeProvider) { p.language = lang }
}

// NewNative loads the ggml model at modelPath. Call Close to release it.
func NewNative(modelPath string, opts ...NativeOption) (*NativeProvider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}
	p := &NativeProvider{model: model, language: defaultLanguage}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Close releases the model.
func (p *NativeProvider) Close() error {
	if p.model != nil {
		return p.model.Close()
	}
	return nil
}

// Transcribe implements [stt.Provider]. Input is converted to 16 kHz mono.
// Inference itself cannot be interrupted; on cancellation the call returns
// immediately and the result is discarded when inference finishes.
func (p *NativeProvider) Transcribe(ctx context.Context, a stt.Audio, hints []string) (string, error) {
	if len(a.PCM) == 0 {
		return "", stt.ErrNoSpeech
	}
	if !a.Format.Valid() {
		return "", fmt.Errorf("%w: whisper: invalid audio format %+v", stt.ErrTranscriptionFailed, a.Format)
	}
	samples := pcmToFloat32(audio.Convert(a.PCM, a.Format, audio.FormatSpeech))
	lang := pickLanguage(hints, p.language)

	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		text, err := p.infer(samples, lang)
		done <- result{text, err}
	}()

	select {
	case <-ctx.Done():
		return "", fmt.Errorf("%w: whisper: %w", stt.ErrTranscriptionFailed, ctx.Err())
	case r := <-done:
		if r.err != nil {
			return "", fmt.Errorf("%w: %w", stt.ErrTranscriptionFailed, r.err)
		}
		return cleanTranscript(r.text)
	}
}

func (p *NativeProvider) infer(samples []float32, lang string) (string, error) {
	wctx, err := p.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper: create context: %w", err)
	}
	if err := wctx.SetLanguage(lang); err != nil {
		slog.Warn("whisper: failed to set language, using model default", "language", lang, "err", err)
	}
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		seg, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("whisper: read segment: %w", err)
		}
		if text := strings.TrimSpace(seg.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}
