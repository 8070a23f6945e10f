// Package turn splits a participant's continuous audio into speech turns.
//
// A [Segmenter] is a three-state machine (idle, buffering, trailing silence)
// driven by a [vad.Detector] verdict per frame. Short pauses inside an
// utterance stay in the turn; a pause longer than the silence threshold ends
// it, and a hard cap bounds how long a single turn may grow.
//
// One Segmenter serves exactly one participant and is not safe for concurrent
// use; the owning goroutine feeds it frames in arrival order.
package turn

import (
	"fmt"
	"time"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/vad"
)

// Defaults applied by [Config.withDefaults].
const (
	DefaultSilenceThreshold = 500 * time.Millisecond
	DefaultHardCap          = 15 * time.Second
)

// State is the segmenter's position in the turn lifecycle.
type State int

const (
	StateIdle State = iota
	StateBuffering
	StateTrailingSilence
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBuffering:
		return "buffering"
	case StateTrailingSilence:
		return "trailing_silence"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Reason records why a turn ended.
type Reason int

const (
	// ReasonSilence means trailing silence exceeded the threshold.
	ReasonSilence Reason = iota

	// ReasonTimeout means the turn reached the hard cap.
	ReasonTimeout
)

// String returns the reason name.
func (r Reason) String() string {
	switch r {
	case ReasonSilence:
		return "silence"
	case ReasonTimeout:
		return "timeout"
	default:
		return fmt.Sprintf("Reason(%d)", int(r))
	}
}

// Turn is one completed utterance.
type Turn struct {
	Participant string

	// Audio is the concatenated PCM of the utterance, including pauses
	// shorter than the silence threshold but without the trailing silence
	// that closed it.
	Audio  []byte
	Format audio.Format

	// Start and End are stream-relative capture times.
	Start time.Duration
	End   time.Duration

	Reason Reason
}

// Duration returns the playback length of the turn's audio.
func (t Turn) Duration() time.Duration {
	return t.Format.Duration(len(t.Audio))
}

// Config bounds turn length. It is immutable and may be shared by every
// participant's Segmenter.
type Config struct {
	// SilenceThreshold is how long trailing silence must last, strictly, before
	// the turn closes.
	SilenceThreshold time.Duration

	// HardCap is the longest a single turn may buffer before it is closed
	// regardless of speech.
	HardCap time.Duration
}

func (c Config) withDefaults() Config {
	if c.SilenceThreshold <= 0 {
		c.SilenceThreshold = DefaultSilenceThreshold
	}
	if c.HardCap <= 0 {
		c.HardCap = DefaultHardCap
	}
	return c
}

// Segmenter turns one participant's frame stream into [Turn]s.
type Segmenter struct {
	participant string
	detector    vad.Detector
	cfg         Config

	state  State
	format audio.Format
	start  time.Duration

	buf       []byte
	speechEnd int // len(buf) after the last speech frame
	buffered  time.Duration
	silence   time.Duration
}

// New returns an idle Segmenter for participant.
func New(participant string, detector vad.Detector, cfg Config) *Segmenter {
	return &Segmenter{
		participant: participant,
		detector:    detector,
		cfg:         cfg.withDefaults(),
	}
}

// State returns the current state.
func (s *Segmenter) State() State { return s.state }

// Push feeds one frame and returns a completed turn when this frame closed
// one.
func (s *Segmenter) Push(frame audio.AudioFrame) (Turn, bool) {
	speech := s.detector.IsSpeech(frame.Data)

	if s.state == StateIdle {
		if !speech {
			return Turn{}, false
		}
		s.state = StateBuffering
		s.format = frame.Format()
		s.start = frame.Timestamp
	} else if frame.Format() != s.format {
		frame = audio.ConvertFrame(frame, s.format)
	}

	s.buf = append(s.buf, frame.Data...)
	s.buffered += s.format.Duration(len(frame.Data))

	if speech {
		s.state = StateBuffering
		s.silence = 0
		s.speechEnd = len(s.buf)
	} else {
		s.state = StateTrailingSilence
		s.silence += frame.Duration()
		if s.silence > s.cfg.SilenceThreshold {
			return s.emit(ReasonSilence), true
		}
	}

	if s.buffered >= s.cfg.HardCap {
		return s.emit(ReasonTimeout), true
	}
	return Turn{}, false
}

// Advance moves the silence clock forward by gap without appending audio.
// Transports that stop sending packets while a participant is quiet use this
// to let turns close on wall-clock silence.
func (s *Segmenter) Advance(gap time.Duration) (Turn, bool) {
	if s.state == StateIdle || gap <= 0 {
		return Turn{}, false
	}
	s.state = StateTrailingSilence
	s.silence += gap
	if s.silence > s.cfg.SilenceThreshold {
		return s.emit(ReasonSilence), true
	}
	return Turn{}, false
}

// Reset discards any partially buffered turn.
func (s *Segmenter) Reset() {
	s.state = StateIdle
	s.buf = nil
	s.speechEnd = 0
	s.buffered = 0
	s.silence = 0
}

// emit hands the buffer to a new Turn and returns to idle. The next turn
// starts on a fresh buffer.
func (s *Segmenter) emit(reason Reason) Turn {
	t := Turn{
		Participant: s.participant,
		Audio:       s.buf[:s.speechEnd:s.speechEnd],
		Format:      s.format,
		Start:       s.start,
		Reason:      reason,
	}
	t.End = t.Start + t.Duration()
	s.Reset()
	return t
}
