package app_test

import (
	"context"
	"encoding/binary"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/parley/internal/app"
	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/pkg/audio"
	audiomock "github.com/MrWong99/parley/pkg/audio/mock"
	memorymock "github.com/MrWong99/parley/pkg/memory/mock"
	"github.com/MrWong99/parley/pkg/provider/llm"
	llmmock "github.com/MrWong99/parley/pkg/provider/llm/mock"
	sttmock "github.com/MrWong99/parley/pkg/provider/stt/mock"
	"github.com/MrWong99/parley/pkg/provider/tts"
	ttsmock "github.com/MrWong99/parley/pkg/provider/tts/mock"
)

const testYAML = `
discord:
  token: bot-token
  guild_id: "1234"
turn:
  silence_ms: 100
generation:
  default_backend: alpha
  backends:
    alpha: {kind: openai, api_keys: [k1]}
    beta:  {kind: anyllm, provider: anthropic, api_keys: [k2]}
persona:
  name: Quill
stt:
  primary: {name: whisper}
tts:
  primary: {name: coqui}
playback:
  gap_ms: 0
`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromReader(strings.NewReader(testYAML))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	return cfg
}

type fixture struct {
	cfg      *config.Config
	alpha    *llmmock.Backend
	beta     *llmmock.Backend
	stt      *sttmock.Provider
	tts      *ttsmock.Provider
	memory   *memorymock.Log
	conn     *audiomock.Connection
	platform *audiomock.Platform
	in       chan audio.AudioFrame
	out      chan audio.AudioFrame
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		cfg:    testConfig(t),
		alpha:  &llmmock.Backend{Reply: "Hi there, friend."},
		beta:   &llmmock.Backend{Reply: "Greetings."},
		stt:    &sttmock.Provider{Text: "hello"},
		tts:    &ttsmock.Provider{Result: tts.Audio{PCM: make([]byte, 3200), Format: audio.FormatSpeech}},
		memory: &memorymock.Log{},
		in:     make(chan audio.AudioFrame),
		out:    make(chan audio.AudioFrame, 64),
	}
	f.conn = &audiomock.Connection{
		InputStreamsResult: map[string]<-chan audio.AudioFrame{"alice": f.in},
		OutputStreamResult: f.out,
	}
	f.platform = &audiomock.Platform{ConnectResult: f.conn}
	return f
}

func (f *fixture) providers() *app.Providers {
	return &app.Providers{
		Backends: map[string]llm.Backend{"alpha": f.alpha, "beta": f.beta},
		STT:      f.stt,
		TTS:      f.tts,
		Audio:    f.platform,
	}
}

func (f *fixture) newApp(t *testing.T, opts ...app.Option) *app.App {
	t.Helper()
	opts = append([]app.Option{app.WithMemory(f.memory)}, opts...)
	a, err := app.New(context.Background(), f.cfg, f.providers(), opts...)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	return a
}

// discordFrame is 20 ms of 48 kHz stereo PCM.
func discordFrame(loud bool) audio.AudioFrame {
	data := make([]byte, audio.FormatDiscord.FrameBytes(20*time.Millisecond))
	if loud {
		for i := 0; i+1 < len(data); i += 2 {
			binary.LittleEndian.PutUint16(data[i:], uint16(int16(3000)))
		}
	}
	return audio.AudioFrame{Data: data, SampleRate: 48000, Channels: 2}
}

func speak(t *testing.T, in chan<- audio.AudioFrame) {
	t.Helper()
	for i := range 20 {
		select {
		case in <- discordFrame(i < 10):
		case <-time.After(2 * time.Second):
			t.Fatal("pipeline did not accept audio")
		}
	}
}

func awaitOutput(t *testing.T, out <-chan audio.AudioFrame) audio.AudioFrame {
	t.Helper()
	select {
	case fr := <-out:
		return fr
	case <-time.After(3 * time.Second):
		t.Fatal("nothing was published to the voice channel")
		return audio.AudioFrame{}
	}
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal(msg)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// ─── New ─────────────────────────────────────────────────────────────────────

func TestNew_InitialisesBackends(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	a := f.newApp(t)

	statuses := a.BackendStatus()
	if len(statuses) != 2 || statuses[0].Name != "alpha" || statuses[1].Name != "beta" {
		t.Fatalf("BackendStatus() = %+v, want alpha then beta", statuses)
	}
	if !statuses[0].Active || statuses[1].Active {
		t.Errorf("active flags = %v/%v, want alpha active", statuses[0].Active, statuses[1].Active)
	}
	if got := f.beta.InitConfigs; len(got) != 1 || got[0].Provider != "anthropic" {
		t.Errorf("beta init configs = %+v", got)
	}
	if p := a.Engine().Persona(); p.Name != "Quill" {
		t.Errorf("persona = %+v", p)
	}
}

func TestNew_BackendInitFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.beta.InitErr = errors.New("bad credentials")

	_, err := app.New(context.Background(), f.cfg, f.providers(), app.WithMemory(f.memory))
	if err == nil || !strings.Contains(err.Error(), "bad credentials") {
		t.Errorf("New() error = %v, want the beta init failure", err)
	}
}

func TestNew_RequiresProviders(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	p := f.providers()
	p.TTS = nil
	if _, err := app.New(context.Background(), f.cfg, p); err == nil {
		t.Error("New() without TTS succeeded")
	}
}

// ─── Voice ───────────────────────────────────────────────────────────────────

func TestApp_VoiceRoundTrip(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	a := f.newApp(t)

	if err := a.JoinVoice(context.Background(), "vc-1"); err != nil {
		t.Fatalf("JoinVoice: %v", err)
	}
	if ch, ok := a.VoiceChannel(); !ok || ch != "vc-1" {
		t.Errorf("VoiceChannel() = %q, %v", ch, ok)
	}

	speak(t, f.in)
	fr := awaitOutput(t, f.out)
	if fr.SampleRate != 48000 || fr.Channels != 2 {
		t.Errorf("published frame format = %d Hz x%d, want 48000 Hz x2", fr.SampleRate, fr.Channels)
	}

	if c, ok := f.alpha.LastCall(); !ok || c.Prompt != "hello" {
		t.Errorf("alpha last call = %+v, %v", c, ok)
	}
	eventually(t, func() bool { return len(f.memory.Entries()) > 0 }, "exchange was not written to memory")
}

func TestApp_TranscriptionReceivesSpeechFormat(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	a := f.newApp(t)

	if err := a.JoinVoice(context.Background(), "vc-1"); err != nil {
		t.Fatalf("JoinVoice: %v", err)
	}
	speak(t, f.in)
	awaitOutput(t, f.out)

	if f.stt.CallCount() != 1 {
		t.Fatalf("stt calls = %d, want 1", f.stt.CallCount())
	}
	got := f.stt.Calls[0].Audio
	if got.Format != audio.FormatSpeech {
		t.Errorf("stt audio format = %+v, want %+v", got.Format, audio.FormatSpeech)
	}
	// 48 kHz stereo to 16 kHz mono shrinks the payload sixfold.
	speech := 10 * audio.FormatDiscord.FrameBytes(20*time.Millisecond)
	if len(got.PCM) == 0 || len(got.PCM) > speech/6+audio.BytesPerSample {
		t.Errorf("stt audio = %d bytes, want at most %d", len(got.PCM), speech/6+audio.BytesPerSample)
	}
}

func TestApp_SpokenShortcut(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.stt.Text = "Forget our conversation."
	a := f.newApp(t)

	if err := a.JoinVoice(context.Background(), "vc-1"); err != nil {
		t.Fatalf("JoinVoice: %v", err)
	}
	speak(t, f.in)
	awaitOutput(t, f.out)

	if f.alpha.CallCount() != 0 {
		t.Error("shortcut reached the language backend")
	}
	if f.memory.ClearCalls != 1 {
		t.Errorf("memory clear calls = %d, want 1", f.memory.ClearCalls)
	}
	if f.tts.CallCount() != 1 || !strings.Contains(f.tts.Calls[0].Text, "forgotten") {
		t.Errorf("tts calls = %+v", f.tts.Calls)
	}
}

func TestApp_ParticipantEvents(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	a := f.newApp(t)

	if err := a.JoinVoice(context.Background(), "vc-1"); err != nil {
		t.Fatalf("JoinVoice: %v", err)
	}
	f.conn.SetInputStream("bob", make(chan audio.AudioFrame))
	f.conn.EmitEvent(audio.Event{Type: audio.EventJoin, UserID: "bob"})

	got := a.Participants()
	slices.Sort(got)
	if !slices.Equal(got, []string{"alice", "bob"}) {
		t.Fatalf("Participants() = %v, want [alice bob]", got)
	}

	f.conn.EmitEvent(audio.Event{Type: audio.EventLeave, UserID: "alice"})
	if got := a.Participants(); !slices.Equal(got, []string{"bob"}) {
		t.Errorf("Participants() after leave = %v, want [bob]", got)
	}

	// Joins for participants without an input stream are ignored.
	f.conn.EmitEvent(audio.Event{Type: audio.EventJoin, UserID: "ghost"})
	if got := a.Participants(); len(got) != 1 {
		t.Errorf("Participants() = %v", got)
	}
}

func TestApp_JoinSameChannelIsNoop(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	a := f.newApp(t)

	for range 2 {
		if err := a.JoinVoice(context.Background(), "vc-1"); err != nil {
			t.Fatalf("JoinVoice: %v", err)
		}
	}
	if len(f.platform.ConnectCalls) != 1 {
		t.Errorf("Connect called %d times, want 1", len(f.platform.ConnectCalls))
	}

	if err := a.JoinVoice(context.Background(), "vc-2"); err != nil {
		t.Fatalf("JoinVoice(vc-2): %v", err)
	}
	if f.conn.CallCountDisconnect != 1 {
		t.Errorf("switching channels disconnected %d times, want 1", f.conn.CallCountDisconnect)
	}
}

func TestApp_JoinVoiceError(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.platform.ConnectError = errors.New("missing permissions")
	a := f.newApp(t)

	err := a.JoinVoice(context.Background(), "vc-1")
	if err == nil || !strings.Contains(err.Error(), "missing permissions") {
		t.Errorf("JoinVoice() error = %v", err)
	}
	if _, ok := a.VoiceChannel(); ok {
		t.Error("VoiceChannel() reports a connection after a failed join")
	}
}

func TestApp_LeaveVoice(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	a := f.newApp(t)

	if err := a.LeaveVoice(context.Background()); !errors.Is(err, app.ErrNotConnected) {
		t.Errorf("LeaveVoice() before join = %v, want ErrNotConnected", err)
	}

	if err := a.JoinVoice(context.Background(), "vc-1"); err != nil {
		t.Fatalf("JoinVoice: %v", err)
	}
	if err := a.LeaveVoice(context.Background()); err != nil {
		t.Fatalf("LeaveVoice: %v", err)
	}
	if f.conn.CallCountDisconnect != 1 {
		t.Errorf("Disconnect calls = %d, want 1", f.conn.CallCountDisconnect)
	}
	if len(a.Participants()) != 0 {
		t.Errorf("Participants() after leave = %v", a.Participants())
	}
	if _, ok := a.VoiceChannel(); ok {
		t.Error("VoiceChannel() still connected")
	}
}

// ─── Control ─────────────────────────────────────────────────────────────────

func TestApp_SwitchBackend(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	a := f.newApp(t)

	if !a.SwitchBackend("beta") {
		t.Fatal("SwitchBackend(beta) = false")
	}
	if a.SwitchBackend("gamma") {
		t.Error("SwitchBackend(gamma) = true for an unknown backend")
	}
	if a.Engine().Active() != "beta" {
		t.Errorf("active = %q, want beta", a.Engine().Active())
	}
}

func TestApp_ClearHistory(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	a := f.newApp(t)

	if err := a.ClearHistory(context.Background(), "alice"); err != nil {
		t.Fatalf("ClearHistory: %v", err)
	}
	if f.memory.ClearCalls != 1 {
		t.Errorf("memory clear calls = %d, want 1", f.memory.ClearCalls)
	}
}

func TestApp_ApplyConfigDiff(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	var level slog.LevelVar
	a := f.newApp(t, app.WithLogLevel(&level))

	next := testConfig(t)
	next.Persona.Name = "Bram"
	next.Generation.MaxHistoryPairs = 2
	next.LogLevel = config.LogDebug
	next.Turn.QueueDepth = 9

	a.ApplyConfigDiff(config.Diff(f.cfg, next))

	if p := a.Engine().Persona(); p.Name != "Bram" {
		t.Errorf("persona = %+v", p)
	}
	if n := a.Engine().MaxHistoryPairs(); n != 2 {
		t.Errorf("max history pairs = %d, want 2", n)
	}
	if level.Level() != slog.LevelDebug {
		t.Errorf("log level = %v, want debug", level.Level())
	}
}

func TestApp_HealthCheckers(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	a := f.newApp(t)

	checkers := a.HealthCheckers()
	if len(checkers) != 1 || checkers[0].Name != "generation" {
		t.Fatalf("HealthCheckers() = %+v, want the generation check only", checkers)
	}
	if err := checkers[0].Check(context.Background()); err != nil {
		t.Errorf("generation check: %v", err)
	}
}

func TestApp_ShutdownIsIdempotent(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	a, err := app.New(context.Background(), f.cfg, f.providers(), app.WithMemory(f.memory))
	if err != nil {
		t.Fatal(err)
	}
	if err := a.JoinVoice(context.Background(), "vc-1"); err != nil {
		t.Fatalf("JoinVoice: %v", err)
	}
	for range 2 {
		if err := a.Shutdown(context.Background()); err != nil {
			t.Errorf("Shutdown: %v", err)
		}
	}
	if f.conn.CallCountDisconnect != 1 {
		t.Errorf("Disconnect calls = %d, want 1", f.conn.CallCountDisconnect)
	}
}

func TestSlogLevel(t *testing.T) {
	t.Parallel()
	tests := map[config.LogLevel]slog.Level{
		config.LogDebug: slog.LevelDebug,
		config.LogInfo:  slog.LevelInfo,
		config.LogWarn:  slog.LevelWarn,
		config.LogError: slog.LevelError,
		"":              slog.LevelInfo,
	}
	for in, want := range tests {
		if got := app.SlogLevel(in); got != want {
			t.Errorf("SlogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
