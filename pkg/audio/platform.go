// Package audio defines the transport-facing types of the voice pipeline.
//
// A [Platform] joins a voice channel and yields a [Connection], which exposes
// one input stream per speaking participant plus a single output stream.
// The pipeline itself only needs the narrower [Transport] view: subscribe to a
// participant's frames and publish a finished clip. [ConnTransport] adapts a
// Connection to that view.
//
// Platform adapters live in sub-packages (audio/discord).
package audio

import (
	"context"
)

// EventType classifies participant lifecycle events emitted by a [Connection].
type EventType int

const (
	// EventJoin is emitted when a participant enters the voice channel.
	EventJoin EventType = iota

	// EventLeave is emitted when a participant leaves the voice channel.
	EventLeave
)

// String returns the human-readable name of the event type.
func (e EventType) String() string {
	switch e {
	case EventJoin:
		return "JOIN"
	case EventLeave:
		return "LEAVE"
	default:
		return "UNKNOWN"
	}
}

// Event describes a participant joining or leaving a voice channel.
type Event struct {
	Type EventType

	// UserID is the platform-specific participant identifier.
	UserID string

	// Username is the display name, if the platform knows it.
	Username string
}

// Connection is an active session on a voice channel.
//
// Implementations must be safe for concurrent use.
type Connection interface {
	// InputStreams returns a snapshot of the per-participant input channels
	// keyed by participant ID. A channel is closed when its participant
	// leaves or the connection is torn down. Call again after [EventJoin] to
	// pick up new participants.
	InputStreams() map[string]<-chan AudioFrame

	// OutputStream returns the write side of the outgoing audio stream.
	// The caller owns the channel; the platform never closes it. Writes after
	// Disconnect are dropped.
	OutputStream() chan<- AudioFrame

	// OnParticipantChange registers the join/leave callback, replacing any
	// previous one. It is invoked on an internal goroutine and must not block.
	OnParticipantChange(cb func(Event))

	// Disconnect tears the connection down. Subsequent calls return nil.
	Disconnect() error
}

// Platform joins voice channels.
type Platform interface {
	// Connect joins channelID. ctx bounds the connection attempt only.
	Connect(ctx context.Context, channelID string) (Connection, error)
}

// Transport is the view of a voice session the turn pipeline consumes.
type Transport interface {
	// Subscribe returns the ordered frame stream of one participant.
	Subscribe(participantID string) (<-chan AudioFrame, error)

	// Publish plays pcm on the shared output and returns once the clip has
	// had time to play out, or ctx is done.
	Publish(ctx context.Context, pcm []byte) error
}
