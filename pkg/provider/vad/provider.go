// Package vad defines the frame-level speech detector used to gate turn
// segmentation.
//
// A [Detector] classifies one PCM frame at a time as speech or silence. It
// carries no per-stream state, so a single Detector may be shared by every
// participant. The baseline implementation is [EnergyDetector]; model-backed
// classifiers plug in by implementing the same interface.
package vad

// DefaultThreshold is the RMS level, in int16 sample units, above which a
// frame counts as speech. Suitable for close-talk microphones.
const DefaultThreshold = 300.0

// Detector classifies audio frames.
//
// Implementations must be safe for concurrent use and must not retain frame.
type Detector interface {
	// IsSpeech reports whether the 16-bit little-endian PCM frame contains
	// speech.
	IsSpeech(frame []byte) bool
}

// Config holds the detector settings recognised by [New].
type Config struct {
	// Enabled turns detection on. When false every frame is treated as speech.
	Enabled bool

	// Threshold is the RMS level above which a frame counts as speech. Zero
	// selects [DefaultThreshold].
	Threshold float64
}

// New returns the detector described by cfg.
func New(cfg Config) Detector {
	threshold := cfg.Threshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &EnergyDetector{Threshold: threshold, Disabled: !cfg.Enabled}
}
