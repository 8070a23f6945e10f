// Package stt defines the speech-to-text capability consumed by the turn
// pipeline.
//
// A [Provider] transcribes one complete utterance at a time. Streaming
// partials are not part of the contract: turns are segmented upstream, so
// every call carries a finished utterance.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"

	"github.com/MrWong99/parley/pkg/audio"
)

var (
	// ErrNoSpeech means the audio held no recognisable speech. Callers treat
	// it as a silent no-op, not a failure.
	ErrNoSpeech = errors.New("stt: no speech detected")

	// ErrTranscriptionFailed wraps every other transcription failure,
	// including timeouts.
	ErrTranscriptionFailed = errors.New("stt: transcription failed")
)

// Audio is one utterance of 16-bit little-endian PCM.
type Audio struct {
	PCM    []byte
	Format audio.Format
}

// Provider transcribes utterances.
type Provider interface {
	// Transcribe returns the text spoken in a. hints lists BCP-47 language
	// tags in order of preference; an empty list lets the backend detect the
	// language. An utterance without speech yields [ErrNoSpeech].
	Transcribe(ctx context.Context, a Audio, hints []string) (string, error)
}
