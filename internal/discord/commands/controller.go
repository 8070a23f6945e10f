// Package commands implements the Discord slash commands of Parley:
// /voice, /backend and /history.
package commands

import (
	"context"
	"time"

	"github.com/MrWong99/parley/internal/generation"
)

// commandTimeout bounds the work a single command may do.
const commandTimeout = 30 * time.Second

// Controller is the application surface the commands drive.
type Controller interface {
	// JoinVoice connects to channelID and starts listening.
	JoinVoice(ctx context.Context, channelID string) error

	// LeaveVoice disconnects from the current voice channel.
	LeaveVoice(ctx context.Context) error

	// VoiceChannel returns the connected channel, if any.
	VoiceChannel() (string, bool)

	// SwitchBackend makes name the active generation backend. It reports
	// false, leaving the active backend unchanged, when name is unknown or
	// unavailable.
	SwitchBackend(name string) bool

	// BackendStatus lists every backend in registration order.
	BackendStatus() []generation.BackendStatus

	// ClearHistory forgets participantID's conversation.
	ClearHistory(ctx context.Context, participantID string) error
}

// VoiceLocator finds the voice channel a user is in.
type VoiceLocator interface {
	UserVoiceChannel(userID string) (string, bool)
}
