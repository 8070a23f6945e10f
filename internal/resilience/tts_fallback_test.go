package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/tts"
	ttsmock "github.com/MrWong99/parley/pkg/provider/tts/mock"
)

func TestTTSFallback_Synthesize(t *testing.T) {
	t.Parallel()
	clip := tts.Audio{PCM: []byte{1, 2, 3, 4}, Format: audio.Format{SampleRate: 22050, Channels: 1}}

	t.Run("primary answers", func(t *testing.T) {
		t.Parallel()
		primary := &ttsmock.Provider{Result: clip}
		secondary := &ttsmock.Provider{}
		fb := NewTTSFallback(primary, "elevenlabs", FallbackConfig{})
		fb.AddFallback("coqui", secondary)

		got, err := fb.Synthesize(context.Background(), "hello", "narrator")
		if err != nil {
			t.Fatal(err)
		}
		if len(got.PCM) != 4 || got.Format != clip.Format {
			t.Errorf("audio = %+v", got)
		}
		if primary.CallCount() != 1 || secondary.CallCount() != 0 {
			t.Errorf("calls primary=%d secondary=%d", primary.CallCount(), secondary.CallCount())
		}
		if c := primary.Calls[0]; c.Text != "hello" || c.Voice != "narrator" {
			t.Errorf("call = %+v", c)
		}
	})

	t.Run("failover", func(t *testing.T) {
		t.Parallel()
		primary := &ttsmock.Provider{Err: tts.ErrSynthesisFailed}
		secondary := &ttsmock.Provider{Result: clip}
		fb := NewTTSFallback(primary, "elevenlabs", FallbackConfig{})
		fb.AddFallback("coqui", secondary)

		if _, err := fb.Synthesize(context.Background(), "hello", "narrator"); err != nil {
			t.Fatal(err)
		}
		if secondary.CallCount() != 1 {
			t.Errorf("secondary calls = %d, want 1", secondary.CallCount())
		}
	})

	t.Run("all fail", func(t *testing.T) {
		t.Parallel()
		fb := NewTTSFallback(&ttsmock.Provider{Err: tts.ErrSynthesisFailed}, "elevenlabs", FallbackConfig{})
		fb.AddFallback("coqui", &ttsmock.Provider{Err: errors.New("coqui: connection refused")})
		_, err := fb.Synthesize(context.Background(), "hello", "")
		if !errors.Is(err, ErrAllFailed) || !errors.Is(err, tts.ErrSynthesisFailed) {
			t.Errorf("err = %v, want ErrAllFailed wrapping ErrSynthesisFailed", err)
		}
	})

	t.Run("open breaker skipped", func(t *testing.T) {
		t.Parallel()
		primary := &ttsmock.Provider{Err: tts.ErrSynthesisFailed}
		secondary := &ttsmock.Provider{Result: clip}
		fb := NewTTSFallback(primary, "elevenlabs", FallbackConfig{
			CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour},
		})
		fb.AddFallback("coqui", secondary)
		for range 3 {
			_, _ = fb.Synthesize(context.Background(), "hi", "")
		}
		if primary.CallCount() != 1 {
			t.Errorf("primary calls = %d, want 1", primary.CallCount())
		}
		if fb.States()["elevenlabs"] != StateOpen {
			t.Errorf("state = %v, want open", fb.States()["elevenlabs"])
		}
	})
}
