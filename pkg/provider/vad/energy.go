package vad

import (
	"encoding/binary"
	"math"
)

var _ Detector = (*EnergyDetector)(nil)

// EnergyDetector is a stateless root-mean-square energy gate.
//
// When Disabled is set every frame is reported as speech, so the pipeline
// degrades to always listening rather than never listening.
type EnergyDetector struct {
	Threshold float64
	Disabled  bool
}

// IsSpeech implements [Detector]. A trailing odd byte is ignored.
func (d *EnergyDetector) IsSpeech(frame []byte) bool {
	if d.Disabled {
		return true
	}
	return RMS(frame) > d.Threshold
}

// RMS returns the root-mean-square amplitude of 16-bit little-endian PCM, in
// sample units (0–32768). Buffers shorter than one sample yield 0.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		v := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}
