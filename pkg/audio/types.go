package audio

import "time"

// BytesPerSample is the width of one 16-bit linear PCM sample.
const BytesPerSample = 2

// AudioFrame is a fixed-duration block of 16-bit little-endian linear PCM.
// Frames are immutable once produced; consumers must copy Data before
// modifying it.
type AudioFrame struct {
	// Data holds interleaved int16 samples.
	Data []byte

	// SampleRate in Hz (48000 for Discord Opus, 16000 for most STT engines).
	SampleRate int

	// Channels: 1 for mono, 2 for stereo.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Format returns the sample format of the frame.
func (f AudioFrame) Format() Format {
	return Format{SampleRate: f.SampleRate, Channels: f.Channels}
}

// Duration returns the playback length of the frame derived from its byte
// count. A frame with an invalid format has zero duration.
func (f AudioFrame) Duration() time.Duration {
	return f.Format().Duration(len(f.Data))
}

// Format describes the sample rate and channel count of a PCM stream.
type Format struct {
	SampleRate int
	Channels   int
}

// Common formats used across the pipeline.
var (
	// FormatDiscord is what the Discord voice gateway decodes to and expects.
	FormatDiscord = Format{SampleRate: 48000, Channels: 2}

	// FormatSpeech is the narrowband mono format most STT engines expect.
	FormatSpeech = Format{SampleRate: 16000, Channels: 1}
)

// Valid reports whether both fields are positive.
func (f Format) Valid() bool {
	return f.SampleRate > 0 && f.Channels > 0
}

// BytesPerSecond returns the PCM byte rate for this format.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * BytesPerSample
}

// Duration converts a PCM byte count into playback time.
func (f Format) Duration(n int) time.Duration {
	if !f.Valid() {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(f.BytesPerSecond())
}

// FrameBytes returns the byte size of one frame of length d, rounded down to a
// whole multi-channel sample.
func (f Format) FrameBytes(d time.Duration) int {
	if !f.Valid() {
		return 0
	}
	block := f.Channels * BytesPerSample
	n := int(int64(f.BytesPerSecond()) * int64(d) / int64(time.Second))
	return n - n%block
}
