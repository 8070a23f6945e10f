package audio

import (
	"encoding/binary"
)

// Convert returns pcm re-encoded from one format into another. Resampling
// happens before channel conversion so stereo input destined for a mono
// target is only resampled once per output sample. Identical formats return
// pcm unchanged. Only mono and stereo are converted between; any other
// channel pairing is passed through after resampling.
func Convert(pcm []byte, from, to Format) []byte {
	if from == to || !from.Valid() || !to.Valid() {
		return pcm
	}
	pcm = truncateToBlock(pcm, from.Channels)
	if from.SampleRate != to.SampleRate {
		pcm = Resample(pcm, from.Channels, from.SampleRate, to.SampleRate)
	}
	switch {
	case from.Channels == 2 && to.Channels == 1:
		pcm = StereoToMono(pcm)
	case from.Channels == 1 && to.Channels == 2:
		pcm = MonoToStereo(pcm)
	}
	return pcm
}

// ConvertFrame converts a frame into format to, keeping its timestamp.
func ConvertFrame(f AudioFrame, to Format) AudioFrame {
	if f.Format() == to {
		return f
	}
	return AudioFrame{
		Data:       Convert(f.Data, f.Format(), to),
		SampleRate: to.SampleRate,
		Channels:   to.Channels,
		Timestamp:  f.Timestamp,
	}
}

// MonoToStereo duplicates every mono sample into an L+R pair.
func MonoToStereo(pcm []byte) []byte {
	n := len(pcm) / BytesPerSample
	out := make([]byte, n*2*BytesPerSample)
	for i := range n {
		s := pcm[i*2 : i*2+2]
		copy(out[i*4:], s)
		copy(out[i*4+2:], s)
	}
	return out
}

// StereoToMono averages each L+R pair.
func StereoToMono(pcm []byte) []byte {
	n := len(pcm) / (2 * BytesPerSample)
	out := make([]byte, n*BytesPerSample)
	for i := range n {
		l := int32(sampleAt(pcm, i*2))
		r := int32(sampleAt(pcm, i*2+1))
		putSample(out, i, int16((l+r)/2))
	}
	return out
}

// Resample converts interleaved PCM with the given channel count from srcRate
// to dstRate by linear interpolation between neighbouring frames.
func Resample(pcm []byte, channels, srcRate, dstRate int) []byte {
	if channels <= 0 || srcRate <= 0 || dstRate <= 0 || srcRate == dstRate {
		return pcm
	}
	srcFrames := len(pcm) / (channels * BytesPerSample)
	if srcFrames == 0 {
		return nil
	}
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	out := make([]byte, dstFrames*channels*BytesPerSample)
	step := float64(srcRate) / float64(dstRate)

	for i := range dstFrames {
		pos := float64(i) * step
		idx := int(pos)
		frac := pos - float64(idx)
		next := min(idx+1, srcFrames-1)
		for c := range channels {
			a := float64(sampleAt(pcm, idx*channels+c))
			b := float64(sampleAt(pcm, next*channels+c))
			putSample(out, i*channels+c, int16(a+(b-a)*frac))
		}
	}
	return out
}

func truncateToBlock(pcm []byte, channels int) []byte {
	block := channels * BytesPerSample
	return pcm[:len(pcm)-len(pcm)%block]
}

func sampleAt(pcm []byte, i int) int16 {
	return int16(binary.LittleEndian.Uint16(pcm[i*2:]))
}

func putSample(pcm []byte, i int, v int16) {
	binary.LittleEndian.PutUint16(pcm[i*2:], uint16(v))
}
