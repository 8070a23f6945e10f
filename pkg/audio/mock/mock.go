// Package mock provides in-memory test doubles for the [audio.Platform],
// [audio.Connection] and [audio.Transport] interfaces.
//
// All mocks are safe for concurrent use. They record every call and expose
// exported fields that tests set to control return values.
//
//	out := make(chan audio.AudioFrame, 16)
//	conn := &mock.Connection{
//	    InputStreamsResult: map[string]<-chan audio.AudioFrame{"user-1": in},
//	    OutputStreamResult: out,
//	}
//	platform := &mock.Platform{ConnectResult: conn}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/parley/pkg/audio"
)

// ─── Connection ───────────────────────────────────────────────────────────────

// Connection is a mock implementation of [audio.Connection].
type Connection struct {
	mu sync.Mutex

	// InputStreamsResult is returned by [Connection.InputStreams]. A nil map
	// is reported as empty.
	InputStreamsResult map[string]<-chan audio.AudioFrame

	// OutputStreamResult is returned by [Connection.OutputStream].
	OutputStreamResult chan<- audio.AudioFrame

	// DisconnectError is returned by [Connection.Disconnect].
	DisconnectError error

	CallCountDisconnect int

	callback func(audio.Event)
}

var _ audio.Connection = (*Connection)(nil)

// InputStreams implements [audio.Connection].
func (c *Connection) InputStreams() map[string]<-chan audio.AudioFrame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]<-chan audio.AudioFrame, len(c.InputStreamsResult))
	for k, v := range c.InputStreamsResult {
		out[k] = v
	}
	return out
}

// SetInputStream adds or replaces one participant's input channel.
func (c *Connection) SetInputStream(id string, ch <-chan audio.AudioFrame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.InputStreamsResult == nil {
		c.InputStreamsResult = make(map[string]<-chan audio.AudioFrame)
	}
	c.InputStreamsResult[id] = ch
}

// OutputStream implements [audio.Connection].
func (c *Connection) OutputStream() chan<- audio.AudioFrame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.OutputStreamResult
}

// OnParticipantChange implements [audio.Connection].
func (c *Connection) OnParticipantChange(cb func(audio.Event)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callback = cb
}

// Disconnect implements [audio.Connection].
func (c *Connection) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountDisconnect++
	return c.DisconnectError
}

// EmitEvent invokes the registered participant callback, if any.
func (c *Connection) EmitEvent(ev audio.Event) {
	c.mu.Lock()
	cb := c.callback
	c.mu.Unlock()
	if cb != nil {
		cb(ev)
	}
}

// ─── Platform ─────────────────────────────────────────────────────────────────

// Platform is a mock implementation of [audio.Platform].
type Platform struct {
	mu sync.Mutex

	ConnectResult audio.Connection
	ConnectError  error

	// ConnectCalls records the channel IDs passed to Connect.
	ConnectCalls []string
}

var _ audio.Platform = (*Platform)(nil)

// Connect implements [audio.Platform].
func (p *Platform) Connect(_ context.Context, channelID string) (audio.Connection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls = append(p.ConnectCalls, channelID)
	return p.ConnectResult, p.ConnectError
}

// ─── Transport ────────────────────────────────────────────────────────────────

// Transport is a mock implementation of [audio.Transport]. Published clips are
// recorded in Published.
type Transport struct {
	mu sync.Mutex

	Streams map[string]<-chan audio.AudioFrame

	SubscribeError error
	PublishError   error

	Published [][]byte
}

var _ audio.Transport = (*Transport)(nil)

// Subscribe implements [audio.Transport].
func (t *Transport) Subscribe(participantID string) (<-chan audio.AudioFrame, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.SubscribeError != nil {
		return nil, t.SubscribeError
	}
	ch, ok := t.Streams[participantID]
	if !ok {
		return nil, audio.ErrUnknownParticipant
	}
	return ch, nil
}

// Publish implements [audio.Transport].
func (t *Transport) Publish(_ context.Context, pcm []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.PublishError != nil {
		return t.PublishError
	}
	t.Published = append(t.Published, append([]byte(nil), pcm...))
	return nil
}

// Reset clears recorded calls.
func (t *Transport) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Published = nil
}
