// Package mock provides an in-memory [memory.Log] for tests.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/parley/pkg/memory"
)

// Log is an in-memory [memory.Log]. Set the Err fields to inject failures.
type Log struct {
	mu sync.Mutex

	AppendErr error
	RecentErr error
	ClearErr  error

	entries []memory.Entry

	AppendCalls int
	RecentCalls int
	ClearCalls  int
}

var _ memory.Log = (*Log)(nil)

// Append implements [memory.Log].
func (l *Log) Append(_ context.Context, entries ...memory.Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.AppendCalls++
	if l.AppendErr != nil {
		return l.AppendErr
	}
	l.entries = append(l.entries, entries...)
	return nil
}

// Recent implements [memory.Log].
func (l *Log) Recent(_ context.Context, participant string, limit int) ([]memory.Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.RecentCalls++
	if l.RecentErr != nil {
		return nil, l.RecentErr
	}
	var out []memory.Entry
	for _, e := range l.entries {
		if e.Participant == participant {
			out = append(out, e)
		}
	}
	if limit >= 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// Clear implements [memory.Log].
func (l *Log) Clear(_ context.Context, participant string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ClearCalls++
	if l.ClearErr != nil {
		return l.ClearErr
	}
	kept := l.entries[:0]
	for _, e := range l.entries {
		if e.Participant != participant {
			kept = append(kept, e)
		}
	}
	l.entries = kept
	return nil
}

// Entries returns a copy of everything appended.
func (l *Log) Entries() []memory.Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]memory.Entry(nil), l.entries...)
}
