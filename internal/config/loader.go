package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/parley/internal/generation"
	"github.com/MrWong99/parley/internal/pipeline"
	"github.com/MrWong99/parley/internal/turn"
	"github.com/MrWong99/parley/pkg/audio/playback"
	"github.com/MrWong99/parley/pkg/provider/vad"
)

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr        = ":9090"
	DefaultGenerationTimeout = 20 * time.Second
)

// ValidProviderNames lists known provider names per stage.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {KindOpenAI, KindAnyLLM},
	"stt": {"whisper", "whisper-native"},
	"tts": {"elevenlabs", "coqui"},
}

// Load reads the YAML configuration file at path and returns a validated [Config]
// with defaults applied.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. Unknown keys are rejected.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills zero values with their defaults. Values set explicitly
// are left alone.
func ApplyDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = LogInfo
	}
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.VAD.Threshold == 0 {
		cfg.VAD.Threshold = vad.DefaultThreshold
	}

	setMs(&cfg.Turn.SilenceMs, turn.DefaultSilenceThreshold)
	setMs(&cfg.Turn.HardCapMs, turn.DefaultHardCap)
	setMs(&cfg.Turn.TranscriptionTimeoutMs, pipeline.DefaultTranscriptionTimeout)
	if cfg.Turn.QueueDepth == 0 {
		cfg.Turn.QueueDepth = pipeline.DefaultQueueDepth
	}

	if cfg.Generation.MaxHistoryPairs == 0 {
		cfg.Generation.MaxHistoryPairs = generation.DefaultMaxHistoryPairs
	}
	setMs(&cfg.Generation.TimeoutMs, DefaultGenerationTimeout)
	if cfg.Generation.DefaultBackend == "" && len(cfg.Generation.Backends) == 1 {
		for name := range cfg.Generation.Backends {
			cfg.Generation.DefaultBackend = name
		}
	}

	if cfg.Voice.Language == "" {
		cfg.Voice.Language = "en"
	}
	if len(cfg.Voice.LanguageHints) == 0 {
		cfg.Voice.LanguageHints = []string{cfg.Voice.Language}
	}

	if cfg.Playback.Mode == "" {
		cfg.Playback.Mode = playback.ModeQueue.String()
	}
}

func setMs(v *int, d time.Duration) {
	if *v == 0 {
		*v = int(d / time.Millisecond)
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all hard failures found; soft issues are
// logged as warnings.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.LogLevel != "" && !cfg.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: debug, info, warn, error", cfg.LogLevel))
	}

	if cfg.Discord.Token == "" {
		errs = append(errs, errors.New("discord.token is required"))
	}
	if cfg.Discord.GuildID == "" {
		errs = append(errs, errors.New("discord.guild_id is required"))
	}
	if cfg.Discord.TextChannelID == "" {
		slog.Warn("discord.text_channel_id is empty; failures and text-only replies will not be posted")
	}

	if cfg.VAD.Threshold < 0 {
		errs = append(errs, fmt.Errorf("vad.threshold %.1f must not be negative", cfg.VAD.Threshold))
	}

	errs = append(errs, validateTurn(cfg.Turn)...)
	errs = append(errs, validateGeneration(cfg.Generation)...)

	errs = append(errs, validateStage("stt", cfg.STT)...)
	errs = append(errs, validateStage("tts", cfg.TTS)...)

	if _, err := playback.ParseMode(cfg.Playback.Mode); err != nil {
		errs = append(errs, fmt.Errorf("playback.mode: %w", err))
	}
	if cfg.Playback.GapMs < 0 {
		errs = append(errs, fmt.Errorf("playback.gap_ms %d must not be negative", cfg.Playback.GapMs))
	}

	if cfg.Persona == (PersonaConfig{}) {
		slog.Warn("persona is empty; replies will use the backend's default voice")
	}
	if cfg.Memory.PostgresDSN == "" {
		slog.Warn("memory.postgres_dsn is empty; conversation history will not survive restarts")
	}

	return errors.Join(errs...)
}

func validateTurn(t TurnConfig) []error {
	var errs []error
	for _, f := range []struct {
		name string
		v    int
	}{
		{"turn.silence_ms", t.SilenceMs},
		{"turn.hard_cap_ms", t.HardCapMs},
		{"turn.transcription_timeout_ms", t.TranscriptionTimeoutMs},
		{"turn.queue_depth", t.QueueDepth},
	} {
		if f.v < 0 {
			errs = append(errs, fmt.Errorf("%s %d must not be negative", f.name, f.v))
		}
	}
	if t.SilenceMs > 0 && t.HardCapMs > 0 && t.SilenceMs >= t.HardCapMs {
		errs = append(errs, fmt.Errorf("turn.silence_ms %d must be shorter than turn.hard_cap_ms %d", t.SilenceMs, t.HardCapMs))
	}
	return errs
}

func validateGeneration(g GenerationConfig) []error {
	var errs []error
	if len(g.Backends) == 0 {
		return append(errs, errors.New("generation.backends: at least one backend is required"))
	}
	if g.DefaultBackend == "" {
		errs = append(errs, errors.New("generation.default_backend is required when more than one backend is configured"))
	} else if _, ok := g.Backends[g.DefaultBackend]; !ok {
		errs = append(errs, fmt.Errorf("generation.default_backend %q is not one of generation.backends", g.DefaultBackend))
	}
	if g.MaxHistoryPairs < 0 {
		errs = append(errs, fmt.Errorf("generation.max_history_pairs %d must not be negative", g.MaxHistoryPairs))
	}
	if g.TimeoutMs < 0 {
		errs = append(errs, fmt.Errorf("generation.timeout_ms %d must not be negative", g.TimeoutMs))
	}

	for _, name := range BackendNames(g) {
		b := g.Backends[name]
		prefix := fmt.Sprintf("generation.backends.%s", name)
		switch {
		case b.Kind == "":
			errs = append(errs, fmt.Errorf("%s.kind is required", prefix))
		case !slices.Contains(ValidProviderNames["llm"], b.Kind):
			slog.Warn("unknown backend kind, may be a typo or third-party backend",
				"backend", name,
				"kind", b.Kind,
				"known", ValidProviderNames["llm"],
			)
		}
		if b.Kind == KindAnyLLM && b.Provider == "" {
			errs = append(errs, fmt.Errorf("%s.provider is required for kind %q", prefix, KindAnyLLM))
		}
		if b.Temperature < 0 || b.Temperature > 2 {
			errs = append(errs, fmt.Errorf("%s.temperature %.2f is out of range [0, 2]", prefix, b.Temperature))
		}
		if len(b.APIKeys) == 0 && b.BaseURL == "" {
			slog.Warn("backend has no api_keys; it will stay unavailable unless its provider needs none",
				"backend", name,
			)
		}
	}
	return errs
}

func validateStage(stage string, s StageConfig) []error {
	var errs []error
	if s.Primary.Name == "" {
		errs = append(errs, fmt.Errorf("%s.primary.name is required", stage))
	}
	for i, e := range s.Entries() {
		if i > 0 && e.Name == "" {
			errs = append(errs, fmt.Errorf("%s.fallbacks[%d].name is required", stage, i-1))
		}
		validateProviderName(stage, e.Name)
	}
	return errs
}

// BackendNames returns the configured backend names in registration order.
func BackendNames(g GenerationConfig) []string {
	names := make([]string, 0, len(g.Backends))
	for name := range g.Backends {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
