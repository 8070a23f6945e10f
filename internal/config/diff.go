package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Persona, history size and log level are applied live; everything else
// is listed in RestartRequired.
type ConfigDiff struct {
	PersonaChanged bool
	NewPersona     PersonaConfig

	HistoryPairsChanged bool
	NewMaxHistoryPairs  int

	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RestartRequired names the top-level sections whose changes only take
	// effect after a restart.
	RestartRequired []string
}

// HotChanges reports whether any live-applicable setting changed.
func (d ConfigDiff) HotChanges() bool {
	return d.PersonaChanged || d.HistoryPairsChanged || d.LogLevelChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Persona != new.Persona {
		d.PersonaChanged = true
		d.NewPersona = new.Persona
	}
	if old.Generation.MaxHistoryPairs != new.Generation.MaxHistoryPairs {
		d.HistoryPairsChanged = true
		d.NewMaxHistoryPairs = new.Generation.MaxHistoryPairs
	}
	if old.LogLevel != new.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.LogLevel
	}

	restart := func(section string, changed bool) {
		if changed {
			d.RestartRequired = append(d.RestartRequired, section)
		}
	}
	restart("server", old.Server != new.Server)
	restart("discord", old.Discord != new.Discord)
	restart("vad", old.VAD.IsEnabled() != new.VAD.IsEnabled() || old.VAD.Threshold != new.VAD.Threshold)
	restart("turn", old.Turn != new.Turn)
	restart("generation", !sameGeneration(old.Generation, new.Generation))
	restart("voice", !sameVoice(old.Voice, new.Voice))
	restart("stt", !sameStage(old.STT, new.STT))
	restart("tts", !sameStage(old.TTS, new.TTS))
	restart("playback", old.Playback != new.Playback)
	restart("memory", old.Memory != new.Memory)

	return d
}

// sameGeneration ignores MaxHistoryPairs, which is hot-applied.
func sameGeneration(a, b GenerationConfig) bool {
	if a.DefaultBackend != b.DefaultBackend || a.TimeoutMs != b.TimeoutMs || len(a.Backends) != len(b.Backends) {
		return false
	}
	for name, ab := range a.Backends {
		bb, ok := b.Backends[name]
		if !ok || !sameBackend(ab, bb) {
			return false
		}
	}
	return true
}

func sameBackend(a, b BackendConfig) bool {
	return a.Kind == b.Kind &&
		a.Provider == b.Provider &&
		a.Model == b.Model &&
		a.BaseURL == b.BaseURL &&
		a.MaxTokens == b.MaxTokens &&
		a.Temperature == b.Temperature &&
		slices.Equal(a.APIKeys, b.APIKeys)
}

func sameVoice(a, b VoiceConfig) bool {
	return a.Name == b.Name && a.Language == b.Language && slices.Equal(a.LanguageHints, b.LanguageHints)
}

func sameStage(a, b StageConfig) bool {
	return slices.EqualFunc(a.Entries(), b.Entries(), sameEntry)
}

// sameEntry compares the fixed fields only; Options changes go unnoticed.
func sameEntry(a, b ProviderEntry) bool {
	return a.Name == b.Name && a.APIKey == b.APIKey && a.BaseURL == b.BaseURL && a.Model == b.Model
}

// Empty reports whether nothing at all changed.
func (d ConfigDiff) Empty() bool {
	return !d.HotChanges() && len(d.RestartRequired) == 0
}
