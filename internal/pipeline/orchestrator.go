// Package pipeline runs the per-participant turn lifecycle: listen, segment,
// transcribe, generate, synthesize, play.
//
// Each participant that joins gets two goroutines. The listener feeds the
// participant's frames through a [turn.Segmenter]; the worker takes
// completed turns one at a time and runs them through the [Transcriber], the
// [Replier], the [Synthesizer] and the shared [Speaker]. Turns that complete
// while another is in flight wait in a small bounded queue. A failing turn
// never ends the participant's session; only Leave or Close does.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/parley/internal/generation"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/turn"
	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/audio/playback"
	"github.com/MrWong99/parley/pkg/provider/stt"
	"github.com/MrWong99/parley/pkg/provider/vad"
)

const (
	// DefaultQueueDepth is the number of completed turns that may wait
	// behind the in-flight one.
	DefaultQueueDepth = 4

	// DefaultTickInterval is how often a quiet participant's silence clock
	// is advanced by wall-clock time.
	DefaultTickInterval = 100 * time.Millisecond
)

// ErrClosed is returned by Join after Close.
var ErrClosed = errors.New("pipeline: orchestrator closed")

// Replier produces replies. [*generation.Engine] implements it.
type Replier interface {
	GenerateReply(ctx context.Context, participantID, text string) (generation.Reply, error)
}

// Speaker plays clips on the shared output. [*playback.Sequencer]
// implements it.
type Speaker interface {
	Enqueue(c playback.Clip) *playback.Ticket
	Cancel(t *playback.Ticket)
}

// Notifier surfaces turn outcomes to people. Implementations must not block
// for long; they run on the participant's worker.
type Notifier interface {
	// NotifyFailure reports that no reply could be produced.
	NotifyFailure(ctx context.Context, participantID string, err error)

	// NotifyText delivers a reply whose audio could not be produced.
	NotifyText(ctx context.Context, participantID string, reply generation.Reply)
}

// Interceptor may consume a transcript before it reaches generation, for
// spoken commands. A handled transcript ends the turn; a non-empty ack is
// spoken back like a reply.
type Interceptor interface {
	Intercept(ctx context.Context, participantID, text string) (ack string, handled bool)
}

type nopNotifier struct{}

func (nopNotifier) NotifyFailure(context.Context, string, error)         {}
func (nopNotifier) NotifyText(context.Context, string, generation.Reply) {}

// Result describes one finished turn.
type Result struct {
	Participant string
	Outcome     string
	Transcript  string
	Reply       generation.Reply
	Err         error
	Duration    time.Duration
}

// Config holds the orchestrator's tuning.
type Config struct {
	Turn turn.Config

	// Detector classifies frames. Default: energy detector with
	// [vad.DefaultThreshold].
	Detector vad.Detector

	// QueueDepth bounds waiting turns per participant. Overflow drops the
	// oldest waiting turn. Default: [DefaultQueueDepth].
	QueueDepth int

	// TickInterval drives silence detection while no frames arrive.
	// Default: [DefaultTickInterval].
	TickInterval time.Duration
}

// Option configures an [Orchestrator].
type Option func(*Orchestrator)

// WithNotifier sets where failures and text-only replies go.
func WithNotifier(n Notifier) Option {
	return func(o *Orchestrator) {
		if n != nil {
			o.notifier = n
		}
	}
}

// WithMetrics records turn outcomes, queue drops and participant counts.
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithInterceptor routes every transcript through i first.
func WithInterceptor(i Interceptor) Option {
	return func(o *Orchestrator) { o.interceptor = i }
}

// WithResultHook is called after every turn, on the participant's worker.
func WithResultHook(fn func(Result)) Option {
	return func(o *Orchestrator) { o.onResult = fn }
}

// Orchestrator is safe for concurrent use.
type Orchestrator struct {
	cfg         Config
	transcriber *Transcriber
	replier     Replier
	synth       *Synthesizer
	speaker     Speaker
	notifier    Notifier
	interceptor Interceptor
	metrics     *observe.Metrics
	onResult    func(Result)

	mu           sync.Mutex
	closed       bool
	participants map[string]*participant
}

// New creates an Orchestrator.
func New(cfg Config, tr *Transcriber, r Replier, sy *Synthesizer, sp Speaker, opts ...Option) *Orchestrator {
	if cfg.Detector == nil {
		cfg.Detector = vad.New(vad.Config{Enabled: true})
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = DefaultQueueDepth
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	o := &Orchestrator{
		cfg:          cfg,
		transcriber:  tr,
		replier:      r,
		synth:        sy,
		speaker:      sp,
		notifier:     nopNotifier{},
		participants: make(map[string]*participant),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ─── participant lifecycle ───────────────────────────────────────────────────

type participant struct {
	id     string
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	pending []turn.Turn
	wake    chan struct{}
}

// Join starts listening to participantID on frames. A participant that is
// already joined is replaced: the old session is torn down first.
func (o *Orchestrator) Join(participantID string, frames <-chan audio.AudioFrame) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	old := o.participants[participantID]
	o.mu.Unlock()
	if old != nil {
		o.Leave(participantID)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &participant{
		id:     participantID,
		cancel: cancel,
		done:   make(chan struct{}),
		wake:   make(chan struct{}, 1),
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		cancel()
		return ErrClosed
	}
	if o.participants[participantID] != nil {
		o.mu.Unlock()
		cancel()
		return fmt.Errorf("pipeline: participant %q joined concurrently", participantID)
	}
	o.participants[participantID] = p
	o.mu.Unlock()

	o.metrics.ParticipantJoined(ctx)
	slog.Info("participant joined", "participant", participantID)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		o.listen(ctx, p, frames)
	}()
	go func() {
		defer wg.Done()
		o.work(ctx, p)
	}()
	go func() {
		wg.Wait()
		close(p.done)
	}()
	return nil
}

// Leave cancels participantID's in-flight turn, drops its queued turns and
// discards its partial buffer. It returns once both goroutines have exited.
// Leaving an unknown participant is a no-op.
func (o *Orchestrator) Leave(participantID string) {
	o.mu.Lock()
	p := o.participants[participantID]
	delete(o.participants, participantID)
	o.mu.Unlock()
	if p == nil {
		return
	}
	p.cancel()
	<-p.done
	o.metrics.ParticipantLeft(context.Background())
	slog.Info("participant left", "participant", participantID)
}

// Participants returns the joined participant IDs.
func (o *Orchestrator) Participants() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	ids := make([]string, 0, len(o.participants))
	for id := range o.participants {
		ids = append(ids, id)
	}
	return ids
}

// Close leaves every participant and rejects further joins.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	o.closed = true
	ids := make([]string, 0, len(o.participants))
	for id := range o.participants {
		ids = append(ids, id)
	}
	o.mu.Unlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o.Leave(id)
		}()
	}
	wg.Wait()
	return nil
}

// ─── listening ───────────────────────────────────────────────────────────────

func (o *Orchestrator) listen(ctx context.Context, p *participant, frames <-chan audio.AudioFrame) {
	seg := turn.New(p.id, o.cfg.Detector, o.cfg.Turn)
	defer seg.Reset()

	ticker := time.NewTicker(o.cfg.TickInterval)
	defer ticker.Stop()
	accounted := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-frames:
			if !ok {
				slog.Debug("participant stream closed", "participant", p.id)
				return
			}
			accounted = time.Now()
			if t, done := seg.Push(f); done {
				o.submit(ctx, p, t)
			}
		case now := <-ticker.C:
			gap := now.Sub(accounted)
			if gap < o.cfg.TickInterval {
				continue
			}
			accounted = now
			if t, done := seg.Advance(gap); done {
				o.submit(ctx, p, t)
			}
		}
	}
}

// submit queues t behind the in-flight turn, dropping the oldest waiting
// turn when the queue is full.
func (o *Orchestrator) submit(ctx context.Context, p *participant, t turn.Turn) {
	slog.Debug("turn segmented",
		"participant", p.id,
		"reason", t.Reason.String(),
		"duration", t.Duration(),
	)
	p.mu.Lock()
	if len(p.pending) >= o.cfg.QueueDepth {
		dropped := p.pending[0]
		p.pending = p.pending[1:]
		slog.Warn("turn queue full, dropping oldest waiting turn",
			"participant", p.id,
			"dropped_duration", dropped.Duration(),
			"queue_depth", o.cfg.QueueDepth,
		)
		o.metrics.RecordQueueDrop(ctx)
	}
	p.pending = append(p.pending, t)
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *participant) next(ctx context.Context) (turn.Turn, bool) {
	for {
		p.mu.Lock()
		if len(p.pending) > 0 {
			t := p.pending[0]
			p.pending = p.pending[1:]
			p.mu.Unlock()
			return t, true
		}
		p.mu.Unlock()

		select {
		case <-ctx.Done():
			return turn.Turn{}, false
		case <-p.wake:
		}
	}
}

// ─── turn processing ─────────────────────────────────────────────────────────

func (o *Orchestrator) work(ctx context.Context, p *participant) {
	for {
		t, ok := p.next(ctx)
		if !ok {
			p.mu.Lock()
			p.pending = nil
			p.mu.Unlock()
			return
		}
		res := o.process(ctx, t)
		o.metrics.RecordTurn(context.WithoutCancel(ctx), res.Outcome, res.Duration)
		if o.onResult != nil {
			o.onResult(res)
		}
	}
}

func (o *Orchestrator) process(ctx context.Context, t turn.Turn) (res Result) {
	ctx, span := observe.StartSpan(ctx, "pipeline.turn")
	span.SetAttributes(observe.Attr("participant", t.Participant), observe.Attr("reason", t.Reason.String()))
	start := time.Now()
	res.Participant = t.Participant
	log := observe.Logger(ctx).With("participant", t.Participant)

	defer func() {
		res.Duration = time.Since(start)
		span.SetAttributes(observe.Attr("outcome", res.Outcome))
		observe.EndSpan(span, res.Err)
	}()

	cancelled := func(err error) Result {
		res.Outcome, res.Err = observe.OutcomeCancelled, err
		return res
	}

	text, err := o.transcriber.Transcribe(ctx, t)
	switch {
	case ctx.Err() != nil:
		return cancelled(ctx.Err())
	case errors.Is(err, stt.ErrNoSpeech):
		log.Debug("turn had no speech")
		res.Outcome = observe.OutcomeNoSpeech
		return res
	case err != nil:
		log.Warn("transcription failed, dropping turn", "err", err)
		res.Outcome, res.Err = observe.OutcomeSTTFailed, err
		return res
	}
	res.Transcript = text
	log.Info("heard", "text", text)

	if o.interceptor != nil {
		if ack, handled := o.interceptor.Intercept(ctx, t.Participant, text); handled {
			log.Info("transcript handled as a command")
			if ctx.Err() != nil {
				return cancelled(ctx.Err())
			}
			res.Outcome = observe.OutcomeCommand
			if ack == "" {
				return res
			}
			res.Reply = generation.Reply{Text: ack, Emotion: generation.Emotion{Label: generation.Neutral}}
			res = o.speak(ctx, log, res)
			if res.Outcome == observe.OutcomeReplied {
				res.Outcome = observe.OutcomeCommand
			}
			return res
		}
	}

	reply, err := o.replier.GenerateReply(ctx, t.Participant, text)
	switch {
	case ctx.Err() != nil:
		return cancelled(ctx.Err())
	case errors.Is(err, generation.ErrAllBackendsExhausted):
		log.Error("no generation backend could answer", "err", err)
		o.notifier.NotifyFailure(ctx, t.Participant, err)
		res.Outcome, res.Err = observe.OutcomeExhausted, err
		return res
	case err != nil:
		log.Error("generation failed", "err", err)
		res.Outcome, res.Err = observe.OutcomeFailed, err
		return res
	}
	res.Reply = reply
	log.Info("replying", "backend", reply.Backend, "emotion", reply.Emotion.Label)
	return o.speak(ctx, log, res)
}

// speak synthesizes res.Reply and waits for it to play.
func (o *Orchestrator) speak(ctx context.Context, log *slog.Logger, res Result) Result {
	pcm, err := o.synth.Synthesize(ctx, res.Reply.Text)
	switch {
	case ctx.Err() != nil:
		res.Outcome, res.Err = observe.OutcomeCancelled, ctx.Err()
		return res
	case err != nil:
		log.Warn("synthesis failed, sending text instead", "err", err)
		o.notifier.NotifyText(ctx, res.Participant, res.Reply)
		res.Outcome, res.Err = observe.OutcomeTextOnly, err
		return res
	}

	ticket := o.speaker.Enqueue(playback.Clip{Participant: res.Participant, PCM: pcm})
	err = ticket.Wait(ctx)
	switch {
	case ctx.Err() != nil:
		o.speaker.Cancel(ticket)
		res.Outcome, res.Err = observe.OutcomeCancelled, ctx.Err()
		return res
	case errors.Is(err, playback.ErrSuperseded):
		log.Debug("reply preempted by a newer one")
	case err != nil:
		log.Warn("playback failed, skipping", "err", err)
		res.Outcome, res.Err = observe.OutcomePlayFailed, err
		return res
	}
	res.Outcome = observe.OutcomeReplied
	return res
}
