package llm

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ErrNoCredentials is returned by NewKeyRing when no usable key is given.
var ErrNoCredentials = errors.New("llm: no credentials configured")

// KeyRing is a non-empty, round-robin set of credentials, each paired with
// the client built for it. The cursor always points at a valid entry.
type KeyRing[C any] struct {
	mu      sync.Mutex
	keys    []string
	clients []C
	cur     int
}

// NewKeyRing builds one client per non-blank key. Blank keys are skipped.
func NewKeyRing[C any](keys []string, build func(key string) (C, error)) (*KeyRing[C], error) {
	r := &KeyRing[C]{}
	for i, k := range keys {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		c, err := build(k)
		if err != nil {
			return nil, fmt.Errorf("llm: build client for key %d: %w", i, err)
		}
		r.keys = append(r.keys, k)
		r.clients = append(r.clients, c)
	}
	if len(r.keys) == 0 {
		return nil, ErrNoCredentials
	}
	return r, nil
}

// Current returns the client for the current credential and its index.
func (r *KeyRing[C]) Current() (C, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.clients[r.cur], r.cur
}

// Rotate advances the cursor to the next credential, wrapping around, and
// returns the new index.
func (r *KeyRing[C]) Rotate() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cur = (r.cur + 1) % len(r.keys)
	return r.cur
}

// Len returns the number of credentials.
func (r *KeyRing[C]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.keys)
}

// Hint returns a redacted form of the current key for logs.
func (r *KeyRing[C]) Hint() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := r.keys[r.cur]
	if len(k) <= 4 {
		return "****"
	}
	return "…" + k[len(k)-4:]
}
