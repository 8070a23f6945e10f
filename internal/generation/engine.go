// Package generation dispatches conversation turns to a fleet of language
// generation backends.
//
// The [Engine] owns a registry of named [llm.Backend]s, exactly one of which
// is active at a time. [Engine.GenerateReply] sends the participant's prompt
// and bounded history to the active backend; when that fails it tries every
// other available backend in registration order and the first one that
// answers becomes the new active backend. Quota handling (credential
// rotation plus one retry) happens inside each backend, so the engine only
// sees failures that rotation could not fix.
//
// Conversation history is kept per participant, each with its own lock, and
// never grows beyond 2×maxHistoryPairs messages. An optional [memory.Log]
// receives every completed exchange and seeds the history of a participant
// the first time they speak.
package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/pkg/memory"
	"github.com/MrWong99/parley/pkg/provider/llm"
)

// DefaultMaxHistoryPairs is used when no [WithMaxHistoryPairs] option is
// given.
const DefaultMaxHistoryPairs = 8

var (
	// ErrDuplicateBackend is returned by RegisterBackend for a name that is
	// already registered.
	ErrDuplicateBackend = errors.New("generation: duplicate backend")

	// ErrUnknownBackend is returned by Initialize when a config names a
	// backend that was never registered.
	ErrUnknownBackend = errors.New("generation: unknown backend")

	// ErrNoDefaultBackend means the default backend is missing or not
	// available after initialisation. It is fatal at startup.
	ErrNoDefaultBackend = errors.New("generation: default backend not available")

	// ErrAllBackendsExhausted is returned by GenerateReply when every
	// backend failed. The wrapped errors name each backend's failure.
	ErrAllBackendsExhausted = errors.New("generation: all backends exhausted")

	// ErrEmptyPrompt is returned by GenerateReply for blank text.
	ErrEmptyPrompt = errors.New("generation: empty prompt")
)

// Reply is a generated answer.
type Reply struct {
	Text string

	// Backend names the backend that produced Text.
	Backend string

	Emotion Emotion

	Tokens int
}

// BackendStatus describes one registered backend.
type BackendStatus struct {
	Name      string
	Available bool
	Active    bool
	Usage     llm.Usage
}

type registration struct {
	name    string
	backend llm.Backend
}

// Engine is safe for concurrent use.
type Engine struct {
	mu       sync.RWMutex
	backends []*registration
	byName   map[string]*registration
	active   string
	persona  Persona
	maxPairs int

	histMu    sync.Mutex
	histories map[string]*history

	log         memory.Log
	metrics     *observe.Metrics
	callTimeout time.Duration
}

// Option configures an [Engine].
type Option func(*Engine)

// WithMaxHistoryPairs bounds each participant's history. Values below 1 are
// ignored.
func WithMaxHistoryPairs(n int) Option {
	return func(e *Engine) {
		if n >= 1 {
			e.maxPairs = n
		}
	}
}

// WithMemory attaches a long-term conversation log.
func WithMemory(l memory.Log) Option {
	return func(e *Engine) { e.log = l }
}

// WithMetrics records generation latency, failovers and backend requests.
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithCallTimeout bounds each backend call. A call that times out counts as
// a failure and triggers fallback. Zero disables the limit.
func WithCallTimeout(d time.Duration) Option {
	return func(e *Engine) { e.callTimeout = d }
}

// New creates an Engine with no backends.
func New(opts ...Option) *Engine {
	e := &Engine{
		byName:    make(map[string]*registration),
		histories: make(map[string]*history),
		maxPairs:  DefaultMaxHistoryPairs,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// ─── registry ────────────────────────────────────────────────────────────────

// RegisterBackend adds b under name. The active backend is not changed.
func (e *Engine) RegisterBackend(name string, b llm.Backend) error {
	if name == "" || b == nil {
		return fmt.Errorf("generation: register: name and backend are required")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.byName[name]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateBackend, name)
	}
	r := &registration{name: name, backend: b}
	e.backends = append(e.backends, r)
	e.byName[name] = r
	return nil
}

// Initialize initialises every registered backend that has a non-nil entry
// in configs, concurrently. If any of them fails the whole call fails. The
// backend named defaultName must then be registered and available, otherwise
// [ErrNoDefaultBackend] is returned. On success defaultName becomes active.
func (e *Engine) Initialize(ctx context.Context, configs map[string]*llm.Config, defaultName string) error {
	e.mu.RLock()
	var unknown []error
	for name := range configs {
		if _, ok := e.byName[name]; !ok {
			unknown = append(unknown, fmt.Errorf("%w: %q", ErrUnknownBackend, name))
		}
	}
	regs := append([]*registration(nil), e.backends...)
	e.mu.RUnlock()
	if err := errors.Join(unknown...); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, r := range regs {
		cfg := configs[r.name]
		if cfg == nil {
			continue
		}
		g.Go(func() error {
			if err := r.backend.Initialize(gctx, *cfg); err != nil {
				return fmt.Errorf("generation: initialize %q: %w", r.name, err)
			}
			slog.Info("generation backend initialised",
				"backend", r.name,
				"model", cfg.Model,
				"available", r.backend.Available(),
			)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	def, ok := e.byName[defaultName]
	if !ok || !def.backend.Available() {
		return fmt.Errorf("%w: %q", ErrNoDefaultBackend, defaultName)
	}
	e.active = defaultName
	return nil
}

// SwitchBackend makes name active if it is registered and available. It
// reports whether the switch happened; on false the active backend is
// unchanged.
func (e *Engine) SwitchBackend(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.byName[name]
	if !ok || !r.backend.Available() {
		return false
	}
	if e.active != name {
		slog.Info("generation backend switched", "from", e.active, "to", name)
	}
	e.active = name
	return true
}

// Active returns the name of the active backend, or "" before Initialize.
func (e *Engine) Active() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.active
}

// Backends lists every registered backend in registration order.
func (e *Engine) Backends() []BackendStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]BackendStatus, 0, len(e.backends))
	for _, r := range e.backends {
		out = append(out, BackendStatus{
			Name:      r.name,
			Available: r.backend.Available(),
			Active:    r.name == e.active,
			Usage:     r.backend.Usage(),
		})
	}
	return out
}

// Names returns the registered backend names in registration order.
func (e *Engine) Names() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, len(e.backends))
	for i, r := range e.backends {
		out[i] = r.name
	}
	return out
}

// Ready reports whether the active backend is available.
func (e *Engine) Ready() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.byName[e.active]
	return ok && r.backend.Available()
}

// ─── persona and history ─────────────────────────────────────────────────────

// SetPersona installs the system preamble used for every following reply.
func (e *Engine) SetPersona(p Persona) {
	e.mu.Lock()
	e.persona = p
	e.mu.Unlock()
}

// Persona returns the installed persona.
func (e *Engine) Persona() Persona {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.persona
}

// SetMaxHistoryPairs changes the history bound and trims every existing
// history to it. Values below 1 are ignored.
func (e *Engine) SetMaxHistoryPairs(n int) {
	if n < 1 {
		return
	}
	e.mu.Lock()
	e.maxPairs = n
	e.mu.Unlock()

	e.histMu.Lock()
	hs := make([]*history, 0, len(e.histories))
	for _, h := range e.histories {
		hs = append(hs, h)
	}
	e.histMu.Unlock()
	for _, h := range hs {
		h.trim(n)
	}
}

// MaxHistoryPairs returns the current history bound.
func (e *Engine) MaxHistoryPairs() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.maxPairs
}

// History returns a copy of participantID's conversation, oldest first.
func (e *Engine) History(participantID string) []llm.Message {
	e.histMu.Lock()
	h, ok := e.histories[participantID]
	e.histMu.Unlock()
	if !ok {
		return nil
	}
	return h.snapshot()
}

// ClearHistory discards participantID's conversation. When a memory log is
// attached its entries for the participant are removed too; the returned
// error only reports that part, the in-memory history is always cleared.
func (e *Engine) ClearHistory(ctx context.Context, participantID string) error {
	e.participant(participantID).clear()
	if e.log == nil {
		return nil
	}
	if err := e.log.Clear(ctx, participantID); err != nil {
		return fmt.Errorf("generation: clear memory for %q: %w", participantID, err)
	}
	return nil
}

func (e *Engine) participant(id string) *history {
	e.histMu.Lock()
	defer e.histMu.Unlock()
	h, ok := e.histories[id]
	if !ok {
		h = &history{}
		e.histories[id] = h
	}
	return h
}

// seed loads the participant's most recent logged exchanges once.
func (e *Engine) seed(ctx context.Context, id string, h *history, maxPairs int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.seeded {
		return
	}
	h.seeded = true
	if e.log == nil {
		return
	}
	entries, err := e.log.Recent(ctx, id, 2*maxPairs)
	if err != nil {
		slog.Warn("generation: failed to load conversation log", "participant", id, "err", err)
		return
	}
	h.msgs = append(pairsFromLog(entries), h.msgs...)
	h.trimLocked(maxPairs)
}

// ─── generation ──────────────────────────────────────────────────────────────

// GenerateReply answers text for participantID.
//
// The context sent to the backend is the persona preamble followed by the
// participant's history. The active backend is tried first, then every other
// available backend in registration order. The first success becomes the
// active backend. If all of them fail the result wraps
// [ErrAllBackendsExhausted] and the active backend is left as it was.
// Cancellation of ctx stops the fallback walk and returns ctx's error.
func (e *Engine) GenerateReply(ctx context.Context, participantID, text string) (Reply, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Reply{}, ErrEmptyPrompt
	}

	ctx, span := observe.StartSpan(ctx, "generation.reply")
	start := time.Now()

	e.mu.RLock()
	persona := e.persona
	maxPairs := e.maxPairs
	startActive := e.active
	candidates := e.candidatesLocked()
	e.mu.RUnlock()

	h := e.participant(participantID)
	e.seed(ctx, participantID, h, maxPairs)

	msgs := h.snapshot()
	if sys, ok := persona.message(); ok {
		msgs = append([]llm.Message{sys}, msgs...)
	}

	var errs []error
	for _, r := range candidates {
		if err := ctx.Err(); err != nil {
			observe.EndSpan(span, err)
			return Reply{}, fmt.Errorf("generation: %w", err)
		}
		if !r.backend.Available() {
			errs = append(errs, fmt.Errorf("%s: %w", r.name, llm.ErrUnavailable))
			continue
		}

		c, err := e.call(ctx, r, text, msgs)
		if err != nil {
			if ctx.Err() != nil {
				observe.EndSpan(span, ctx.Err())
				return Reply{}, fmt.Errorf("generation: %w", ctx.Err())
			}
			observe.Logger(ctx).Warn("generation backend failed",
				"backend", r.name,
				"participant", participantID,
				"err", err,
			)
			errs = append(errs, fmt.Errorf("%s: %w", r.name, err))
			continue
		}

		if r.name != startActive {
			e.promote(ctx, startActive, r.name)
		}
		h.appendPair(text, c.Text, maxPairs)
		e.remember(ctx, participantID, text, c.Text, r.name)
		e.metrics.RecordStage(ctx, observe.StageGenerate, time.Since(start))
		span.SetAttributes(observe.Attr("backend", r.name))
		observe.EndSpan(span, nil)

		return Reply{
			Text:    c.Text,
			Backend: r.name,
			Emotion: Annotate(c.Text),
			Tokens:  c.Tokens,
		}, nil
	}

	err := ErrAllBackendsExhausted
	if len(errs) > 0 {
		err = fmt.Errorf("%w: %w", ErrAllBackendsExhausted, errors.Join(errs...))
	}
	observe.EndSpan(span, err)
	return Reply{}, err
}

// candidatesLocked returns the active backend followed by the rest in
// registration order. e.mu must be held.
func (e *Engine) candidatesLocked() []*registration {
	out := make([]*registration, 0, len(e.backends))
	if r, ok := e.byName[e.active]; ok {
		out = append(out, r)
	}
	for _, r := range e.backends {
		if r.name != e.active {
			out = append(out, r)
		}
	}
	return out
}

func (e *Engine) call(ctx context.Context, r *registration, prompt string, msgs []llm.Message) (llm.Completion, error) {
	if e.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.callTimeout)
		defer cancel()
	}
	c, err := r.backend.Generate(ctx, prompt, msgs)
	if err == nil && strings.TrimSpace(c.Text) == "" {
		err = llm.ErrEmptyResponse
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	e.metrics.RecordProviderRequest(ctx, r.name, "llm", status)
	return c, err
}

// promote makes to the active backend unless someone switched away from
// from while the request was running.
func (e *Engine) promote(ctx context.Context, from, to string) {
	e.mu.Lock()
	switched := e.active == from
	if switched {
		e.active = to
	}
	e.mu.Unlock()
	if !switched {
		return
	}
	observe.Logger(ctx).Warn("generation failed over", "from", from, "to", to)
	e.metrics.RecordFailover(ctx, from, to)
}

func (e *Engine) remember(ctx context.Context, participantID, prompt, reply, backend string) {
	if e.log == nil {
		return
	}
	now := time.Now()
	err := e.log.Append(ctx,
		memory.Entry{Participant: participantID, Role: string(llm.RoleUser), Text: prompt, At: now},
		memory.Entry{Participant: participantID, Role: string(llm.RoleAssistant), Text: reply, Backend: backend, At: now},
	)
	if err != nil {
		observe.Logger(ctx).Warn("generation: failed to append conversation log", "participant", participantID, "err", err)
	}
}
