// Package mock provides test doubles for the Discord command surface.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/parley/internal/generation"
)

// Controller is a scripted commands.Controller. It keeps its own voice
// channel and active backend so commands observe their effects.
type Controller struct {
	mu sync.Mutex

	// Statuses is returned by BackendStatus. SwitchBackend flips Active on
	// the matching available entry.
	Statuses []generation.BackendStatus

	// JoinErr, LeaveErr and ClearErr are returned by the corresponding
	// methods when non-nil.
	JoinErr  error
	LeaveErr error
	ClearErr error

	// Channel is the connected voice channel; empty means not connected.
	Channel string

	JoinCalls   []string
	LeaveCalls  int
	SwitchCalls []string
	ClearCalls  []string
}

// JoinVoice records the call and connects to channelID unless JoinErr is set.
func (c *Controller) JoinVoice(_ context.Context, channelID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.JoinCalls = append(c.JoinCalls, channelID)
	if c.JoinErr != nil {
		return c.JoinErr
	}
	c.Channel = channelID
	return nil
}

// LeaveVoice records the call and disconnects unless LeaveErr is set.
func (c *Controller) LeaveVoice(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.LeaveCalls++
	if c.LeaveErr != nil {
		return c.LeaveErr
	}
	c.Channel = ""
	return nil
}

// VoiceChannel returns Channel.
func (c *Controller) VoiceChannel() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Channel, c.Channel != ""
}

// SwitchBackend activates name when it is listed and available.
func (c *Controller) SwitchBackend(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.SwitchCalls = append(c.SwitchCalls, name)
	idx := -1
	for i, st := range c.Statuses {
		if st.Name == name && st.Available {
			idx = i
		}
	}
	if idx < 0 {
		return false
	}
	for i := range c.Statuses {
		c.Statuses[i].Active = i == idx
	}
	return true
}

// BackendStatus returns a copy of Statuses.
func (c *Controller) BackendStatus() []generation.BackendStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]generation.BackendStatus(nil), c.Statuses...)
}

// ClearHistory records the call and returns ClearErr.
func (c *Controller) ClearHistory(_ context.Context, participantID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ClearCalls = append(c.ClearCalls, participantID)
	return c.ClearErr
}

// Reset clears recorded calls and injected errors.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.JoinErr, c.LeaveErr, c.ClearErr = nil, nil, nil
	c.JoinCalls, c.LeaveCalls, c.SwitchCalls, c.ClearCalls = nil, 0, nil, nil
}
