package vad_test

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/MrWong99/parley/pkg/provider/vad"
)

func constantPCM(v int16, samples int) []byte {
	buf := make([]byte, samples*2)
	for i := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(v))
	}
	return buf
}

func sinePCM(amplitude float64, samples int) []byte {
	buf := make([]byte, samples*2)
	for i := range samples {
		v := int16(amplitude * math.Sin(2*math.Pi*440*float64(i)/16000))
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(v))
	}
	return buf
}

func TestRMS(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		pcm  []byte
		want float64
	}{
		{"empty", nil, 0},
		{"single byte", []byte{0xff}, 0},
		{"silence", constantPCM(0, 320), 0},
		{"constant positive", constantPCM(1000, 320), 1000},
		{"constant negative", constantPCM(-500, 320), 500},
		{"odd length truncated", append(constantPCM(200, 4), 0x7f), 200},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := vad.RMS(tt.pcm); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("RMS = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEnergyDetector_IsSpeech(t *testing.T) {
	t.Parallel()
	d := &vad.EnergyDetector{Threshold: 300}

	if d.IsSpeech(constantPCM(0, 320)) {
		t.Error("silence classified as speech")
	}
	if !d.IsSpeech(sinePCM(10_000, 320)) {
		t.Error("loud sine classified as silence")
	}
	// Exactly at the threshold is not speech.
	if d.IsSpeech(constantPCM(300, 320)) {
		t.Error("frame at threshold classified as speech")
	}
	if !d.IsSpeech(constantPCM(301, 320)) {
		t.Error("frame just above threshold classified as silence")
	}
}

func TestEnergyDetector_DisabledFailsOpen(t *testing.T) {
	t.Parallel()
	d := vad.New(vad.Config{Enabled: false, Threshold: 300})
	if !d.IsSpeech(constantPCM(0, 320)) {
		t.Error("disabled detector must report speech")
	}
	if !d.IsSpeech(nil) {
		t.Error("disabled detector must report speech for empty frames")
	}
}

func TestNew_DefaultThreshold(t *testing.T) {
	t.Parallel()
	d := vad.New(vad.Config{Enabled: true})
	e, ok := d.(*vad.EnergyDetector)
	if !ok {
		t.Fatalf("New returned %T, want *vad.EnergyDetector", d)
	}
	if e.Threshold != vad.DefaultThreshold {
		t.Errorf("Threshold = %v, want %v", e.Threshold, vad.DefaultThreshold)
	}
}
