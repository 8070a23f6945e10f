// Package mock provides a test double for [vad.Detector].
//
// Detector classifies frames by a caller-supplied predicate, or by the first
// byte of the frame when no predicate is set (non-zero means speech). That
// lets tests script speech and silence without synthesising audio.
package mock

import (
	"sync"

	"github.com/MrWong99/parley/pkg/provider/vad"
)

// Detector is a mock implementation of [vad.Detector].
type Detector struct {
	mu sync.Mutex

	// Func, when set, decides every verdict.
	Func func(frame []byte) bool

	// Calls counts IsSpeech invocations.
	Calls int
}

var _ vad.Detector = (*Detector)(nil)

// IsSpeech implements [vad.Detector].
func (d *Detector) IsSpeech(frame []byte) bool {
	d.mu.Lock()
	d.Calls++
	fn := d.Func
	d.mu.Unlock()
	if fn != nil {
		return fn(frame)
	}
	return len(frame) > 0 && frame[0] != 0
}

// Reset clears the call counter.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Calls = 0
}
