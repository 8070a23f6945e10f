package config_test

import (
	"slices"
	"strings"
	"testing"

	"github.com/MrWong99/parley/internal/config"
)

func loadMinimal(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromReader(strings.NewReader(minimalYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	return cfg
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	d := config.Diff(loadMinimal(t), loadMinimal(t))
	if d.HotChanges() || len(d.RestartRequired) != 0 {
		t.Errorf("diff of identical configs = %+v", d)
	}
}

func TestDiff_HotChanges(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*config.Config)
		check  func(t *testing.T, d config.ConfigDiff)
	}{
		{
			name:   "persona",
			mutate: func(c *config.Config) { c.Persona.SpeechStyle = "gruff" },
			check: func(t *testing.T, d config.ConfigDiff) {
				if !d.PersonaChanged || d.NewPersona.SpeechStyle != "gruff" {
					t.Errorf("diff = %+v", d)
				}
			},
		},
		{
			name:   "history pairs",
			mutate: func(c *config.Config) { c.Generation.MaxHistoryPairs = 3 },
			check: func(t *testing.T, d config.ConfigDiff) {
				if !d.HistoryPairsChanged || d.NewMaxHistoryPairs != 3 {
					t.Errorf("diff = %+v", d)
				}
			},
		},
		{
			name:   "log level",
			mutate: func(c *config.Config) { c.LogLevel = config.LogDebug },
			check: func(t *testing.T, d config.ConfigDiff) {
				if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
					t.Errorf("diff = %+v", d)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			old, new := loadMinimal(t), loadMinimal(t)
			tt.mutate(new)
			d := config.Diff(old, new)
			if !d.HotChanges() {
				t.Fatal("HotChanges() = false")
			}
			if len(d.RestartRequired) != 0 {
				t.Errorf("RestartRequired = %v, want none", d.RestartRequired)
			}
			tt.check(t, d)
		})
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*config.Config)
		section string
	}{
		{"listen addr", func(c *config.Config) { c.Server.ListenAddr = ":1" }, "server"},
		{"token", func(c *config.Config) { c.Discord.Token = "other" }, "discord"},
		{"vad off", func(c *config.Config) { off := false; c.VAD.Enabled = &off }, "vad"},
		{"queue depth", func(c *config.Config) { c.Turn.QueueDepth = 9 }, "turn"},
		{"api key", func(c *config.Config) {
			b := c.Generation.Backends["openai"]
			b.APIKeys = []string{"sk-2"}
			c.Generation.Backends["openai"] = b
		}, "generation"},
		{"language hints", func(c *config.Config) { c.Voice.LanguageHints = []string{"de"} }, "voice"},
		{"stt fallback", func(c *config.Config) {
			c.STT.Fallbacks = append(c.STT.Fallbacks, config.ProviderEntry{Name: "whisper-native"})
		}, "stt"},
		{"tts url", func(c *config.Config) { c.TTS.Primary.BaseURL = "http://elsewhere" }, "tts"},
		{"playback mode", func(c *config.Config) { c.Playback.Mode = "preempt" }, "playback"},
		{"dsn", func(c *config.Config) { c.Memory.PostgresDSN = "postgres://db" }, "memory"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			old, new := loadMinimal(t), loadMinimal(t)
			tt.mutate(new)
			d := config.Diff(old, new)
			if !slices.Equal(d.RestartRequired, []string{tt.section}) {
				t.Errorf("RestartRequired = %v, want [%s]", d.RestartRequired, tt.section)
			}
			if d.HotChanges() {
				t.Errorf("unexpected hot change: %+v", d)
			}
		})
	}
}
