// Package tts defines the text-to-speech capability consumed by the turn
// pipeline.
//
// A [Provider] turns one complete reply into one clip of PCM audio. The
// clip's [audio.Format] is whatever the backend produces natively; callers
// convert it to the transport format.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"errors"
	"time"

	"github.com/MrWong99/parley/pkg/audio"
)

// ErrSynthesisFailed wraps every synthesis failure.
var ErrSynthesisFailed = errors.New("tts: synthesis failed")

// Audio is one synthesised clip of 16-bit little-endian PCM.
type Audio struct {
	PCM    []byte
	Format audio.Format
}

// Duration reports the playback length of the clip.
func (a Audio) Duration() time.Duration {
	return a.Format.Duration(len(a.PCM))
}

// Provider synthesises speech.
type Provider interface {
	// Synthesize renders text in the given voice. voice is a backend-specific
	// identifier; empty selects the backend's default voice where one exists.
	Synthesize(ctx context.Context, text, voice string) (Audio, error)
}
