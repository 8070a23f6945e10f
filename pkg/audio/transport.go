package audio

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrUnknownParticipant is returned by [ConnTransport.Subscribe] when the
// connection has no input stream for the requested participant.
var ErrUnknownParticipant = errors.New("audio: unknown participant")

// DefaultFrameDuration is the Opus frame length used by Discord.
const DefaultFrameDuration = 20 * time.Millisecond

// ConnTransport adapts a [Connection] to the [Transport] interface. Published
// PCM is expected in Format and is chopped into FrameDuration frames.
type ConnTransport struct {
	Conn          Connection
	Format        Format
	FrameDuration time.Duration
}

var _ Transport = (*ConnTransport)(nil)

// NewConnTransport returns a ConnTransport for conn emitting frames of
// DefaultFrameDuration in format f.
func NewConnTransport(conn Connection, f Format) *ConnTransport {
	return &ConnTransport{Conn: conn, Format: f, FrameDuration: DefaultFrameDuration}
}

// Subscribe implements [Transport].
func (t *ConnTransport) Subscribe(participantID string) (<-chan AudioFrame, error) {
	ch, ok := t.Conn.InputStreams()[participantID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownParticipant, participantID)
	}
	return ch, nil
}

// Publish implements [Transport]. A trailing partial frame is zero-padded.
//
// Platforms buffer outgoing frames ahead of the wire, so handing the last
// frame over does not mean it has been heard. Publish therefore returns no
// earlier than the clip's duration after it started.
func (t *ConnTransport) Publish(ctx context.Context, pcm []byte) error {
	frameSize := t.Format.FrameBytes(t.frameDuration())
	if frameSize == 0 {
		return fmt.Errorf("audio: publish: invalid format %+v", t.Format)
	}
	out := t.Conn.OutputStream()
	if out == nil {
		return errors.New("audio: publish: connection has no output stream")
	}

	start := time.Now()
	var ts time.Duration
	for off := 0; off < len(pcm); off += frameSize {
		chunk := make([]byte, frameSize)
		copy(chunk, pcm[off:min(off+frameSize, len(pcm))])
		frame := AudioFrame{
			Data:       chunk,
			SampleRate: t.Format.SampleRate,
			Channels:   t.Format.Channels,
			Timestamp:  ts,
		}
		select {
		case out <- frame:
		case <-ctx.Done():
			return ctx.Err()
		}
		ts += t.frameDuration()
	}
	return waitUntil(ctx, start.Add(ts))
}

// waitUntil blocks until deadline passes or ctx is done.
func waitUntil(ctx context.Context, deadline time.Time) error {
	d := time.Until(deadline)
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *ConnTransport) frameDuration() time.Duration {
	if t.FrameDuration > 0 {
		return t.FrameDuration
	}
	return DefaultFrameDuration
}
