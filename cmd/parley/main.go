// Command parley is the entry point for the Parley voice conversation bot.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/parley/internal/app"
	"github.com/MrWong99/parley/internal/config"
	discordbot "github.com/MrWong99/parley/internal/discord"
	"github.com/MrWong99/parley/internal/discord/commands"
	"github.com/MrWong99/parley/internal/health"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/resilience"
	"github.com/MrWong99/parley/pkg/provider/llm"
	"github.com/MrWong99/parley/pkg/provider/llm/anyllm"
	"github.com/MrWong99/parley/pkg/provider/llm/openai"
	"github.com/MrWong99/parley/pkg/provider/stt"
	"github.com/MrWong99/parley/pkg/provider/stt/whisper"
	"github.com/MrWong99/parley/pkg/provider/tts"
	"github.com/MrWong99/parley/pkg/provider/tts/coqui"
	"github.com/MrWong99/parley/pkg/provider/tts/elevenlabs"
)

// shutdownTimeout bounds the graceful shutdown after a signal.
const shutdownTimeout = 15 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "parley: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "parley: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(app.SlogLevel(cfg.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("parley starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Observability ─────────────────────────────────────────────────────────
	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	metrics := observe.DefaultMetrics()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(cfg, reg, metrics)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Discord bot ───────────────────────────────────────────────────────────
	bot, err := discordbot.New(ctx, discordbot.Config{
		Token:         cfg.Discord.Token,
		GuildID:       cfg.Discord.GuildID,
		ControlRoleID: cfg.Discord.ControlRoleID,
	})
	if err != nil {
		slog.Error("failed to create Discord bot", "err", err)
		return 1
	}
	providers.Audio = bot.Platform()
	slog.Info("discord bot connected", "guild_id", cfg.Discord.GuildID)

	printStartupSummary(cfg)

	// ── Application ───────────────────────────────────────────────────────────
	application, err := app.New(ctx, cfg, providers,
		app.WithMetrics(metrics),
		app.WithNotifier(bot.Notifier(cfg.Discord.TextChannelID)),
		app.WithControlCheck(bot.IsController),
		app.WithLogLevel(level),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		_ = bot.Close()
		return 1
	}

	commands.NewVoiceCommands(application, bot).Register(bot.Router())
	commands.NewBackendCommands(application, bot.Permissions()).Register(bot.Router())
	commands.NewHistoryCommands(application, bot.Permissions()).Register(bot.Router())

	go func() {
		if err := bot.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("discord bot error", "err", err)
		}
	}()

	if ch := cfg.Discord.VoiceChannelID; ch != "" {
		if err := application.JoinVoice(ctx, ch); err != nil {
			slog.Error("failed to join configured voice channel", "channel_id", ch, "err", err)
		}
	}

	// ── Hot reload ────────────────────────────────────────────────────────────
	reloader, err := config.NewReloader(*configPath, cfg, application.ApplyConfigDiff)
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	} else {
		go reloader.Run(ctx)
		go reloadOnHangup(ctx, reloader)
	}

	// ── Ops server ────────────────────────────────────────────────────────────
	mux := http.NewServeMux()
	health.New(application.HealthCheckers()...).Register(mux)
	mux.Handle("/metrics", tel.MetricsHandler)
	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           observe.Middleware(metrics)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("ops server error", "err", err)
			stop()
		}
	}()

	slog.Info("server ready, press Ctrl+C to shut down")
	<-ctx.Done()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")

	code := 0
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		code = 1
	}
	if err := bot.Close(); err != nil {
		slog.Warn("discord bot close error", "err", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("ops server shutdown error", "err", err)
	}
	if err := tel.Shutdown(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	slog.Info("goodbye")
	return code
}

// reloadOnHangup re-reads the config file on every SIGHUP.
func reloadOnHangup(ctx context.Context, r *config.Reloader) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if _, err := r.Reload(); err != nil {
				slog.Warn("config reload skipped", "err", err)
			}
		}
	}
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── Generation backends ───────────────────────────────────────────────────
	reg.RegisterBackend(config.KindOpenAI, func(name string, _ config.BackendConfig) (llm.Backend, error) {
		return openai.New(openai.WithName(name)), nil
	})
	reg.RegisterBackend(config.KindAnyLLM, func(name string, _ config.BackendConfig) (llm.Backend, error) {
		return anyllm.New(anyllm.WithName(name)), nil
	})

	// ── STT ───────────────────────────────────────────────────────────────────
	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := entry.OptionString("language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Provider, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = entry.OptionString("model_path")
		}
		var opts []whisper.NativeOption
		if lang := entry.OptionString("language"); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────
	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithBaseURL(entry.BaseURL))
		}
		if outputFmt := entry.OptionString("output_format"); outputFmt != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("coqui", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []coqui.Option
		if lang := entry.OptionString("language"); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		if mode := entry.OptionString("api_mode"); mode != "" {
			opts = append(opts, coqui.WithAPIMode(coqui.APIMode(mode)))
		}
		return coqui.New(entry.BaseURL, opts...)
	})
}

// buildProviders instantiates every backend and provider named in cfg. STT
// and TTS entries are wrapped in failover groups, primary first.
func buildProviders(cfg *config.Config, reg *config.Registry, metrics *observe.Metrics) (*app.Providers, error) {
	ps := &app.Providers{Backends: make(map[string]llm.Backend, len(cfg.Generation.Backends))}

	for _, name := range config.BackendNames(cfg.Generation) {
		b, err := reg.CreateBackend(name, cfg.Generation.Backends[name])
		if err != nil {
			return nil, fmt.Errorf("create generation backend %q: %w", name, err)
		}
		ps.Backends[name] = b
		slog.Info("provider created", "kind", "llm", "name", name)
	}

	sttEntries := cfg.STT.Entries()
	sttPrimary, err := reg.CreateSTT(sttEntries[0])
	if err != nil {
		return nil, fmt.Errorf("create stt provider %q: %w", sttEntries[0].Name, err)
	}
	sttGroup := resilience.NewSTTFallback(sttPrimary, sttEntries[0].Name, fallbackConfig(metrics, "stt"))
	for _, e := range sttEntries[1:] {
		p, err := reg.CreateSTT(e)
		if err != nil {
			return nil, fmt.Errorf("create stt fallback %q: %w", e.Name, err)
		}
		sttGroup.AddFallback(e.Name, p)
	}
	ps.STT = sttGroup
	slog.Info("provider created", "kind", "stt", "chain", len(sttEntries))

	ttsEntries := cfg.TTS.Entries()
	ttsPrimary, err := reg.CreateTTS(ttsEntries[0])
	if err != nil {
		return nil, fmt.Errorf("create tts provider %q: %w", ttsEntries[0].Name, err)
	}
	ttsGroup := resilience.NewTTSFallback(ttsPrimary, ttsEntries[0].Name, fallbackConfig(metrics, "tts"))
	for _, e := range ttsEntries[1:] {
		p, err := reg.CreateTTS(e)
		if err != nil {
			return nil, fmt.Errorf("create tts fallback %q: %w", e.Name, err)
		}
		ttsGroup.AddFallback(e.Name, p)
	}
	ps.TTS = ttsGroup
	slog.Info("provider created", "kind", "tts", "chain", len(ttsEntries))

	return ps, nil
}

func fallbackConfig(metrics *observe.Metrics, kind string) resilience.FallbackConfig {
	return resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			OnStateChange: func(name string, from, to resilience.State) {
				slog.Warn("circuit breaker state change", "kind", kind, "provider", name, "from", from, "to", to)
			},
		},
		OnResult: func(provider string, err error) {
			status := "ok"
			if err != nil {
				status = "error"
			}
			metrics.RecordProviderRequest(context.Background(), provider, kind, status)
		},
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║          Parley — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	for _, name := range config.BackendNames(cfg.Generation) {
		label := "Backend"
		if name == cfg.Generation.DefaultBackend {
			label = "Backend (*)"
		}
		printProvider(label, name, cfg.Generation.Backends[name].Model)
	}
	printProvider("STT", cfg.STT.Primary.Name, cfg.STT.Primary.Model)
	printProvider("TTS", cfg.TTS.Primary.Name, cfg.TTS.Primary.Model)
	printProvider("Playback", cfg.Playback.Mode, "")
	if cfg.Memory.PostgresDSN != "" {
		fmt.Printf("║  Memory          : %-19s ║\n", "postgres")
	} else {
		fmt.Printf("║  Memory          : %-19s ║\n", "(in-process)")
	}
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}
