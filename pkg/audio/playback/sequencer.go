// Package playback serialises audio clips onto a single shared output.
//
// A [Sequencer] owns one dispatch goroutine that plays at most one clip at a
// time through a [Player]. Clips arriving while another plays are queued in
// FIFO order ([ModeQueue], the default) or replace everything pending
// ([ModePreempt]). A clip that fails to play is reported and skipped; the
// queue keeps moving.
package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"
)

var (
	// ErrPlaybackFailed wraps errors returned by the [Player].
	ErrPlaybackFailed = errors.New("playback: play failed")

	// ErrSuperseded is reported for clips dropped by a preempting clip or by
	// [Sequencer.Interrupt].
	ErrSuperseded = errors.New("playback: superseded")

	// ErrCancelled is reported for clips withdrawn through [Sequencer.Cancel].
	ErrCancelled = errors.New("playback: cancelled")

	// ErrClosed is reported for clips still pending when the sequencer closes
	// and for clips enqueued afterwards.
	ErrClosed = errors.New("playback: sequencer closed")
)

// DefaultGap is the pause inserted between consecutive clips.
const DefaultGap = 250 * time.Millisecond

// Mode selects what happens when a clip arrives while another is playing.
type Mode int

const (
	// ModeQueue appends the clip behind everything already pending.
	ModeQueue Mode = iota

	// ModePreempt stops the current clip and drops pending ones.
	ModePreempt
)

// String returns the configuration name of the mode.
func (m Mode) String() string {
	switch m {
	case ModeQueue:
		return "queue"
	case ModePreempt:
		return "preempt"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode maps a configuration string to a Mode. The empty string selects
// [ModeQueue].
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "queue":
		return ModeQueue, nil
	case "preempt":
		return ModePreempt, nil
	default:
		return ModeQueue, fmt.Errorf("playback: unknown mode %q", s)
	}
}

// Player renders PCM on the output. Play must return once the clip has been
// handed off or ctx is cancelled.
type Player interface {
	Play(ctx context.Context, pcm []byte) error
}

// PlayerFunc adapts a function to [Player].
type PlayerFunc func(ctx context.Context, pcm []byte) error

// Play implements [Player].
func (f PlayerFunc) Play(ctx context.Context, pcm []byte) error { return f(ctx, pcm) }

// Clip is one unit of playback.
type Clip struct {
	// Participant is the speaker whose turn produced the clip. Informational.
	Participant string

	// PCM is already in the output format expected by the Player.
	PCM []byte
}

// Ticket tracks one enqueued clip.
type Ticket struct {
	clip Clip
	done chan struct{}
	once sync.Once
	err  error
}

func newTicket(c Clip) *Ticket {
	return &Ticket{clip: c, done: make(chan struct{})}
}

// Done is closed once the clip has finished, failed or been dropped.
func (t *Ticket) Done() <-chan struct{} { return t.done }

// Err reports the outcome after Done is closed. Nil means the clip played.
func (t *Ticket) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// Wait blocks until the clip resolves or ctx is done.
func (t *Ticket) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Ticket) finish(err error) {
	t.once.Do(func() {
		t.err = err
		close(t.done)
	})
}

// Option configures a [Sequencer].
type Option func(*Sequencer)

// WithMode sets the arrival policy. Default [ModeQueue].
func WithMode(m Mode) Option {
	return func(s *Sequencer) { s.mode = m }
}

// WithGap sets the pause between consecutive clips. ±1/6 jitter is applied.
// Zero disables the pause.
func WithGap(d time.Duration) Option {
	return func(s *Sequencer) { s.gap = d }
}

// WithErrorHandler registers a callback for clips the Player failed to play.
// It runs on the dispatch goroutine and must not block.
func WithErrorHandler(fn func(Clip, error)) Option {
	return func(s *Sequencer) { s.onError = fn }
}

// WithDepthObserver registers a callback invoked with the pending-clip count
// whenever it changes. Used for metrics.
func WithDepthObserver(fn func(depth int)) Option {
	return func(s *Sequencer) { s.onDepth = fn }
}

// Sequencer plays clips one at a time. All methods are safe for concurrent
// use.
type Sequencer struct {
	player  Player
	mode    Mode
	gap     time.Duration
	onError func(Clip, error)
	onDepth func(int)

	mu         sync.Mutex
	queue      []*Ticket
	current    *Ticket
	stopPlayer context.CancelCauseFunc
	closed     bool

	notify chan struct{}
	done   chan struct{}
	exited chan struct{}
}

// New starts a Sequencer playing through player. Call [Sequencer.Close] to
// stop the dispatch goroutine.
func New(player Player, opts ...Option) *Sequencer {
	s := &Sequencer{
		player: player,
		gap:    DefaultGap,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	go s.dispatch()
	return s
}

// Enqueue schedules a clip and returns its ticket. Playback starts
// immediately when idle.
func (s *Sequencer) Enqueue(c Clip) *Ticket {
	t := newTicket(c)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		t.finish(ErrClosed)
		return t
	}
	if s.mode == ModePreempt && (s.current != nil || len(s.queue) > 0) {
		s.dropQueueLocked(ErrSuperseded)
		s.stopCurrentLocked(ErrSuperseded)
	}
	s.queue = append(s.queue, t)
	depth := len(s.queue)
	s.mu.Unlock()

	s.observeDepth(depth)
	s.wake()
	return t
}

// Cancel withdraws t. A pending clip is removed from the queue; a playing
// clip is stopped. Resolved tickets are left untouched.
func (s *Sequencer) Cancel(t *Ticket) {
	s.mu.Lock()
	if s.current == t {
		s.stopCurrentLocked(ErrCancelled)
		s.mu.Unlock()
		return
	}
	removed := false
	for i, q := range s.queue {
		if q == t {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			removed = true
			break
		}
	}
	depth := len(s.queue)
	s.mu.Unlock()

	if removed {
		t.finish(ErrCancelled)
		s.observeDepth(depth)
	}
}

// Interrupt stops the clip currently playing. Pending clips are kept.
func (s *Sequencer) Interrupt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopCurrentLocked(ErrSuperseded)
}

// Len returns the number of pending clips, excluding the one playing.
func (s *Sequencer) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Playing reports whether a clip is being played.
func (s *Sequencer) Playing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil
}

// Close stops playback, resolves every pending ticket with [ErrClosed] and
// waits for the dispatch goroutine to exit. Close is idempotent.
func (s *Sequencer) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		<-s.exited
		return nil
	}
	s.closed = true
	s.dropQueueLocked(ErrClosed)
	s.stopCurrentLocked(ErrClosed)
	s.mu.Unlock()

	close(s.done)
	<-s.exited
	return nil
}

func (s *Sequencer) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Sequencer) observeDepth(n int) {
	if s.onDepth != nil {
		s.onDepth(n)
	}
}

// dropQueueLocked resolves all pending tickets with err. Caller holds s.mu.
func (s *Sequencer) dropQueueLocked(err error) {
	for _, t := range s.queue {
		t.finish(err)
	}
	s.queue = nil
}

// stopCurrentLocked cancels the playing clip with cause err. Caller holds s.mu.
func (s *Sequencer) stopCurrentLocked(err error) {
	if s.stopPlayer != nil {
		s.stopPlayer(err)
		s.stopPlayer = nil
	}
}

func (s *Sequencer) dispatch() {
	defer close(s.exited)

	gapTimer := time.NewTimer(0)
	if !gapTimer.Stop() {
		<-gapTimer.C
	}
	defer gapTimer.Stop()

	// zero until the first clip ends
	var lastEnd time.Time
	for {
		select {
		case <-s.done:
			return
		case <-s.notify:
		}

		for {
			t, ctx, ok := s.next()
			if !ok {
				break
			}

			// The gap separates back-to-back clips only; an idle sequencer
			// starts at once.
			if !lastEnd.IsZero() {
				if d := s.gapWithJitter() - time.Since(lastEnd); d > 0 {
					gapTimer.Reset(d)
					select {
					case <-gapTimer.C:
					case <-ctx.Done():
						if !gapTimer.Stop() {
							<-gapTimer.C
						}
					}
				}
			}

			s.play(ctx, t)
			lastEnd = time.Now()
		}
	}
}

// next pops the oldest pending clip and marks it current.
func (s *Sequencer) next() (*Ticket, context.Context, bool) {
	s.mu.Lock()
	if s.closed || len(s.queue) == 0 {
		s.mu.Unlock()
		return nil, nil, false
	}
	t := s.queue[0]
	s.queue = s.queue[1:]
	ctx, cancel := context.WithCancelCause(context.Background())
	s.current = t
	s.stopPlayer = cancel
	depth := len(s.queue)
	s.mu.Unlock()

	s.observeDepth(depth)
	return t, ctx, true
}

func (s *Sequencer) play(ctx context.Context, t *Ticket) {
	var err error
	if ctx.Err() == nil {
		err = s.player.Play(ctx, t.clip.PCM)
	}
	if cause := context.Cause(ctx); cause != nil {
		err = cause
	} else if err != nil {
		err = fmt.Errorf("%w: %w", ErrPlaybackFailed, err)
		slog.Warn("playback: clip failed, skipping", "participant", t.clip.Participant, "err", err)
		if s.onError != nil {
			s.onError(t.clip, err)
		}
	}

	s.mu.Lock()
	if s.current == t {
		s.current = nil
		if s.stopPlayer != nil {
			s.stopPlayer(nil)
			s.stopPlayer = nil
		}
	}
	s.mu.Unlock()

	t.finish(err)
}

func (s *Sequencer) gapWithJitter() time.Duration {
	if s.gap <= 0 {
		return 0
	}
	j := s.gap / 6
	if j <= 0 {
		return s.gap
	}
	return s.gap + time.Duration(rand.Int64N(int64(2*j+1))) - j
}
