package discord

import (
	"encoding/binary"
	"fmt"
	"time"

	"layeh.com/gopus"

	"github.com/MrWong99/parley/pkg/audio"
)

// opusFrame is the packet duration Discord sends and expects.
const opusFrame = 20 * time.Millisecond

var (
	opusSampleRate = audio.FormatDiscord.SampleRate
	opusChannels   = audio.FormatDiscord.Channels

	// samples per channel in one packet (960)
	opusFrameSize = int(int64(opusSampleRate) * int64(opusFrame) / int64(time.Second))

	// PCM bytes consumed per encoded packet
	opusFrameBytes = audio.FormatDiscord.FrameBytes(opusFrame)
)

// opusDecoder turns one speaker's packets into PCM. Opus decoding is
// stateful, so each SSRC gets its own.
type opusDecoder struct {
	dec *gopus.Decoder
}

func newOpusDecoder() (*opusDecoder, error) {
	dec, err := gopus.NewDecoder(opusSampleRate, opusChannels)
	if err != nil {
		return nil, fmt.Errorf("discord: opus decoder: %w", err)
	}
	return &opusDecoder{dec: dec}, nil
}

func (d *opusDecoder) decode(packet []byte) ([]byte, error) {
	samples, err := d.dec.Decode(packet, opusFrameSize, false)
	if err != nil {
		return nil, fmt.Errorf("discord: opus decode: %w", err)
	}
	return int16sToBytes(samples), nil
}

// opusEncoder encodes exactly opusFrameBytes of PCM per call and reuses
// its sample buffer between calls.
type opusEncoder struct {
	enc     *gopus.Encoder
	samples []int16
}

func newOpusEncoder() (*opusEncoder, error) {
	// gopus.Voip favours intelligibility, which is all a spoken reply needs.
	enc, err := gopus.NewEncoder(opusSampleRate, opusChannels, gopus.Voip)
	if err != nil {
		return nil, fmt.Errorf("discord: opus encoder: %w", err)
	}
	return &opusEncoder{enc: enc, samples: make([]int16, opusFrameBytes/audio.BytesPerSample)}, nil
}

func (e *opusEncoder) encode(pcm []byte) ([]byte, error) {
	if len(pcm) != opusFrameBytes {
		return nil, fmt.Errorf("discord: opus encode: got %d bytes, want %d", len(pcm), opusFrameBytes)
	}
	for i := range e.samples {
		e.samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	packet, err := e.enc.Encode(e.samples, opusFrameSize, opusFrameBytes)
	if err != nil {
		return nil, fmt.Errorf("discord: opus encode: %w", err)
	}
	return packet, nil
}

func int16sToBytes(samples []int16) []byte {
	b := make([]byte, len(samples)*audio.BytesPerSample)
	for i, v := range samples {
		binary.LittleEndian.PutUint16(b[i*2:], uint16(v))
	}
	return b
}
