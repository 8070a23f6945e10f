package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// DefaultReloadInterval is how often [Reloader.Run] re-reads the file.
const DefaultReloadInterval = 5 * time.Second

// Reloader re-reads a config file and hands every effective change to an
// apply callback as a [ConfigDiff]. A file that fails to parse or validate
// is logged and skipped; the last good config stays current.
type Reloader struct {
	path     string
	interval time.Duration
	apply    func(ConfigDiff)

	mu      sync.Mutex
	current *Config
	sum     [sha256.Size]byte
}

// ReloadOption configures a [Reloader].
type ReloadOption func(*Reloader)

// WithReloadInterval overrides [DefaultReloadInterval]. Non-positive values
// are ignored.
func WithReloadInterval(d time.Duration) ReloadOption {
	return func(r *Reloader) {
		if d > 0 {
			r.interval = d
		}
	}
}

// NewReloader starts from current, the config the process was built with,
// and fingerprints the file at path so unchanged content is never re-applied.
func NewReloader(path string, current *Config, apply func(ConfigDiff), opts ...ReloadOption) (*Reloader, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reloader: %w", err)
	}
	r := &Reloader{
		path:     path,
		interval: DefaultReloadInterval,
		apply:    apply,
		current:  current,
		sum:      sha256.Sum256(data),
	}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

// Current returns the last config that loaded successfully.
func (r *Reloader) Current() *Config {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Run calls [Reloader.Reload] on every tick until ctx is done.
func (r *Reloader) Run(ctx context.Context) {
	t := time.NewTicker(r.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := r.Reload(); err != nil {
				slog.Warn("config reload skipped", "path", r.path, "err", err)
			}
		}
	}
}

// Reload reads the file once. It returns the diff it applied, or an empty
// diff when the content is unchanged or only formatting differs. It is
// safe to call alongside Run, e.g. from a SIGHUP handler.
func (r *Reloader) Reload() (ConfigDiff, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return ConfigDiff{}, fmt.Errorf("config: reload: %w", err)
	}
	sum := sha256.Sum256(data)

	r.mu.Lock()
	if sum == r.sum {
		r.mu.Unlock()
		return ConfigDiff{}, nil
	}
	r.mu.Unlock()

	next, err := LoadFromReader(bytes.NewReader(data))

	r.mu.Lock()
	// A broken file is reported once, not on every tick.
	r.sum = sum
	if err != nil {
		r.mu.Unlock()
		return ConfigDiff{}, fmt.Errorf("config: reload: %w", err)
	}
	d := Diff(r.current, next)
	r.current = next
	r.mu.Unlock()

	if d.Empty() {
		return d, nil
	}
	slog.Info("config reloaded",
		"path", r.path,
		"persona", d.PersonaChanged,
		"history_pairs", d.HistoryPairsChanged,
		"log_level", d.LogLevelChanged,
		"restart_required", d.RestartRequired,
	)
	if r.apply != nil {
		r.apply(d)
	}
	return d, nil
}
