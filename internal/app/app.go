// Package app wires the Parley subsystems into a running application.
//
// New builds the generation engine, playback sequencer and turn orchestrator
// from the config and the providers main constructed. JoinVoice and
// LeaveVoice attach the pipeline to a voice channel; Shutdown tears
// everything down in order.
//
// For testing, inject doubles via functional options (WithMemory,
// WithMetrics, WithNotifier). When an option is not provided, New creates
// real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/internal/discord/voicecmd"
	"github.com/MrWong99/parley/internal/generation"
	"github.com/MrWong99/parley/internal/health"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/pipeline"
	"github.com/MrWong99/parley/internal/turn"
	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/audio/playback"
	"github.com/MrWong99/parley/pkg/memory"
	"github.com/MrWong99/parley/pkg/memory/postgres"
	"github.com/MrWong99/parley/pkg/provider/llm"
	"github.com/MrWong99/parley/pkg/provider/stt"
	"github.com/MrWong99/parley/pkg/provider/tts"
	"github.com/MrWong99/parley/pkg/provider/vad"
)

// ErrNotConnected is returned by [App.LeaveVoice] when no voice channel is
// connected.
var ErrNotConnected = errors.New("app: not connected to a voice channel")

// Providers holds the externally constructed collaborators. Populated by
// main via the config registry.
type Providers struct {
	// Backends are registered with the engine in name order.
	Backends map[string]llm.Backend

	STT   stt.Provider
	TTS   tts.Provider
	Audio audio.Platform
}

// App owns all subsystem lifetimes. The exported methods are safe for
// concurrent use.
type App struct {
	cfg       *config.Config
	providers *Providers

	metrics      *observe.Metrics
	memory       memory.Log
	notifier     pipeline.Notifier
	isController func(participantID string) bool
	level        *slog.LevelVar

	engine *generation.Engine
	seq    *playback.Sequencer
	orch   *pipeline.Orchestrator

	mu        sync.Mutex
	conn      audio.Connection
	transport *audio.ConnTransport
	channelID string

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithMemory injects a memory log instead of connecting to Postgres.
func WithMemory(l memory.Log) Option {
	return func(a *App) { a.memory = l }
}

// WithMetrics overrides [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithNotifier sets where failure notices and text-only replies go.
func WithNotifier(n pipeline.Notifier) Option {
	return func(a *App) { a.notifier = n }
}

// WithControlCheck decides who may use control-only spoken shortcuts.
func WithControlCheck(fn func(participantID string) bool) Option {
	return func(a *App) { a.isController = fn }
}

// WithLogLevel lets hot reload change the level of the installed handler.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. It initialises every
// configured backend and fails when any of them fails or the default backend
// ends up unavailable.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.STT == nil || providers.TTS == nil {
		return nil, errors.New("app: stt and tts providers are required")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Memory log ────────────────────────────────────────────────────
	if err := a.initMemory(ctx); err != nil {
		return nil, fmt.Errorf("app: init memory: %w", err)
	}

	// ── 2. Generation engine ─────────────────────────────────────────────
	if err := a.initEngine(ctx); err != nil {
		a.runClosers()
		return nil, fmt.Errorf("app: init generation: %w", err)
	}

	// ── 3. Playback ──────────────────────────────────────────────────────
	if err := a.initPlayback(); err != nil {
		a.runClosers()
		return nil, fmt.Errorf("app: init playback: %w", err)
	}

	// ── 4. Turn pipeline ─────────────────────────────────────────────────
	a.initPipeline()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initMemory connects the Postgres memory log unless one was injected or no
// DSN is configured.
func (a *App) initMemory(ctx context.Context) error {
	if a.memory != nil || a.cfg.Memory.PostgresDSN == "" {
		return nil
	}
	store, err := postgres.NewStore(ctx, a.cfg.Memory.PostgresDSN)
	if err != nil {
		return err
	}
	a.memory = store
	a.closers = append(a.closers, func() error {
		store.Close()
		return nil
	})
	slog.Info("memory log connected")
	return nil
}

func (a *App) initEngine(ctx context.Context) error {
	opts := []generation.Option{
		generation.WithMaxHistoryPairs(a.cfg.Generation.MaxHistoryPairs),
		generation.WithCallTimeout(a.cfg.Generation.Timeout()),
		generation.WithMetrics(a.metrics),
	}
	if a.memory != nil {
		opts = append(opts, generation.WithMemory(a.memory))
	}
	a.engine = generation.New(opts...)

	names := make([]string, 0, len(a.providers.Backends))
	for name := range a.providers.Backends {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := a.engine.RegisterBackend(name, a.providers.Backends[name]); err != nil {
			return err
		}
	}

	if err := a.engine.Initialize(ctx, a.cfg.Generation.LLMConfigs(), a.cfg.Generation.DefaultBackend); err != nil {
		return err
	}
	a.engine.SetPersona(personaFrom(a.cfg.Persona))

	for _, st := range a.engine.Backends() {
		if !st.Available {
			slog.Warn("generation backend unavailable", "backend", st.Name)
		}
	}
	slog.Info("generation engine ready", "active", a.engine.Active(), "backends", len(names))
	return nil
}

func (a *App) initPlayback() error {
	mode, err := playback.ParseMode(a.cfg.Playback.Mode)
	if err != nil {
		return err
	}
	a.seq = playback.New(playback.PlayerFunc(a.play),
		playback.WithMode(mode),
		playback.WithGap(a.cfg.Playback.Gap()),
		playback.WithDepthObserver(func(depth int) {
			a.metrics.RecordPlaybackDepth(context.Background(), depth)
		}),
		playback.WithErrorHandler(func(c playback.Clip, err error) {
			slog.Warn("playback failed, skipping clip", "participant", c.Participant, "err", err)
		}),
	)
	return nil
}

func (a *App) initPipeline() {
	tr := pipeline.NewTranscriber(a.providers.STT,
		pipeline.WithLanguageHints(a.cfg.Voice.LanguageHints...),
		pipeline.WithTranscriptionTimeout(a.cfg.Turn.TranscriptionTimeout()),
		pipeline.WithInputFormat(audio.FormatSpeech),
		pipeline.WithTranscriberMetrics(a.metrics),
	)
	sy := pipeline.NewSynthesizer(a.providers.TTS,
		pipeline.WithVoice(a.cfg.Voice.Name),
		pipeline.WithOutputFormat(audio.FormatDiscord),
		pipeline.WithSynthesizerMetrics(a.metrics),
	)

	cmds := voicecmd.New(a, voicecmd.WithControlCheck(a.isController))

	opts := []pipeline.Option{
		pipeline.WithMetrics(a.metrics),
		pipeline.WithInterceptor(cmds),
	}
	if a.notifier != nil {
		opts = append(opts, pipeline.WithNotifier(a.notifier))
	}

	a.orch = pipeline.New(pipeline.Config{
		Turn: turn.Config{
			SilenceThreshold: a.cfg.Turn.SilenceThreshold(),
			HardCap:          a.cfg.Turn.HardCap(),
		},
		Detector: vad.New(vad.Config{
			Enabled:   a.cfg.VAD.IsEnabled(),
			Threshold: a.cfg.VAD.Threshold,
		}),
		QueueDepth: a.cfg.Turn.QueueDepth,
	}, tr, a.engine, sy, a.seq, opts...)
}

// play publishes one clip to the connected voice channel.
func (a *App) play(ctx context.Context, pcm []byte) error {
	a.mu.Lock()
	tr := a.transport
	a.mu.Unlock()
	if tr == nil {
		return ErrNotConnected
	}
	return tr.Publish(ctx, pcm)
}

// ─── Voice ───────────────────────────────────────────────────────────────────

// JoinVoice connects to channelID and starts listening to everyone in it.
// Joining the channel already connected is a no-op; joining another one
// leaves the current channel first.
func (a *App) JoinVoice(ctx context.Context, channelID string) error {
	if a.providers.Audio == nil {
		return errors.New("app: no audio platform configured")
	}

	a.mu.Lock()
	if a.conn != nil && a.channelID == channelID {
		a.mu.Unlock()
		return nil
	}
	a.mu.Unlock()
	if err := a.LeaveVoice(ctx); err != nil && !errors.Is(err, ErrNotConnected) {
		slog.Warn("leaving previous voice channel failed", "err", err)
	}

	conn, err := a.providers.Audio.Connect(ctx, channelID)
	if err != nil {
		return fmt.Errorf("app: connect to voice channel: %w", err)
	}
	transport := audio.NewConnTransport(conn, audio.FormatDiscord)

	a.mu.Lock()
	a.conn = conn
	a.transport = transport
	a.channelID = channelID
	a.mu.Unlock()

	conn.OnParticipantChange(func(ev audio.Event) {
		switch ev.Type {
		case audio.EventJoin:
			a.attach(transport, ev.UserID)
		case audio.EventLeave:
			a.orch.Leave(ev.UserID)
		}
	})
	for id := range conn.InputStreams() {
		a.attach(transport, id)
	}

	slog.Info("voice channel joined", "channel_id", channelID)
	return nil
}

// attach starts listening to participantID on transport.
func (a *App) attach(transport *audio.ConnTransport, participantID string) {
	frames, err := transport.Subscribe(participantID)
	if err != nil {
		slog.Warn("cannot subscribe to participant", "participant", participantID, "err", err)
		return
	}
	if err := a.orch.Join(participantID, frames); err != nil {
		slog.Warn("cannot start listening", "participant", participantID, "err", err)
	}
}

// LeaveVoice stops listening to everyone, drops queued playback and
// disconnects. Returns [ErrNotConnected] when no channel is connected.
func (a *App) LeaveVoice(context.Context) error {
	a.mu.Lock()
	conn, channelID := a.conn, a.channelID
	a.conn, a.transport, a.channelID = nil, nil, ""
	a.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	for _, id := range a.orch.Participants() {
		a.orch.Leave(id)
	}
	a.seq.Interrupt()

	if err := conn.Disconnect(); err != nil {
		return fmt.Errorf("app: disconnect: %w", err)
	}
	slog.Info("voice channel left", "channel_id", channelID)
	return nil
}

// VoiceChannel returns the connected voice channel, if any.
func (a *App) VoiceChannel() (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.channelID, a.conn != nil
}

// Participants lists the participants currently listened to.
func (a *App) Participants() []string {
	return a.orch.Participants()
}

// ─── Control ─────────────────────────────────────────────────────────────────

// SwitchBackend makes name the active generation backend.
func (a *App) SwitchBackend(name string) bool {
	ok := a.engine.SwitchBackend(name)
	if ok {
		slog.Info("generation backend switched", "backend", name)
	}
	return ok
}

// BackendStatus lists every backend in registration order.
func (a *App) BackendStatus() []generation.BackendStatus {
	return a.engine.Backends()
}

// ClearHistory forgets participantID's conversation.
func (a *App) ClearHistory(ctx context.Context, participantID string) error {
	return a.engine.ClearHistory(ctx, participantID)
}

// Engine returns the generation engine.
func (a *App) Engine() *generation.Engine {
	return a.engine
}

// HealthCheckers returns the readiness checks of this App: an available
// active backend and, when configured, a reachable memory store.
func (a *App) HealthCheckers() []health.Checker {
	checkers := []health.Checker{
		health.ConditionChecker("generation", a.engine.Ready, "no generation backend available"),
	}
	if p, ok := a.memory.(health.Pinger); ok {
		checkers = append(checkers, health.PingChecker("memory", p))
	}
	return checkers
}

// ApplyConfigDiff applies the hot-reloadable part of d and logs sections
// that need a restart.
func (a *App) ApplyConfigDiff(d config.ConfigDiff) {
	if d.PersonaChanged {
		a.engine.SetPersona(personaFrom(d.NewPersona))
		slog.Info("config reload: persona updated", "name", d.NewPersona.Name)
	}
	if d.HistoryPairsChanged {
		a.engine.SetMaxHistoryPairs(d.NewMaxHistoryPairs)
		slog.Info("config reload: history size updated", "max_history_pairs", d.NewMaxHistoryPairs)
	}
	if d.LogLevelChanged && a.level != nil {
		a.level.Set(SlogLevel(d.NewLogLevel))
		slog.Info("config reload: log level updated", "level", d.NewLogLevel)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config reload: changes need a restart", "sections", d.RestartRequired)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown leaves voice, stops the pipeline and releases resources. It
// respects the context deadline: if ctx expires before all closers finish,
// remaining closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down")

		if err := a.LeaveVoice(ctx); err != nil && !errors.Is(err, ErrNotConnected) {
			slog.Warn("voice disconnect error", "err", err)
		}
		if err := a.orch.Close(); err != nil {
			slog.Warn("orchestrator close error", "err", err)
		}
		if err := a.seq.Close(); err != nil {
			slog.Warn("sequencer close error", "err", err)
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

func (a *App) runClosers() {
	for _, c := range a.closers {
		_ = c()
	}
	a.closers = nil
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func personaFrom(p config.PersonaConfig) generation.Persona {
	return generation.Persona{
		Name:        p.Name,
		Role:        p.Role,
		Background:  p.Background,
		SpeechStyle: p.SpeechStyle,
	}
}

// SlogLevel converts a config log level to its slog equivalent. Unknown
// values map to info.
func SlogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
