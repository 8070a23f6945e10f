// Package memory defines the optional long-term conversation log.
//
// The log is an append-only record of exchanges keyed by participant. The
// generation engine writes every completed exchange to it and seeds a
// participant's in-memory history from the most recent entries the first
// time that participant speaks after a restart. The log is never the source
// of truth for the bounded in-memory context.
package memory

import (
	"context"
	"time"
)

// Entry is one message of a logged exchange.
type Entry struct {
	Participant string

	// Role is "user" or "assistant".
	Role string

	Text string

	// Backend names the generation backend that produced an assistant
	// entry. Empty for user entries.
	Backend string

	At time.Time
}

// Log is a per-participant append log.
//
// Implementations must be safe for concurrent use.
type Log interface {
	// Append records entries in order.
	Append(ctx context.Context, entries ...Entry) error

	// Recent returns at most limit entries for participant, oldest first.
	Recent(ctx context.Context, participant string, limit int) ([]Entry, error)

	// Clear removes every entry for participant.
	Clear(ctx context.Context, participant string) error
}
