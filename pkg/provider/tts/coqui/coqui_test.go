package coqui

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/tts"
)

// ---- test helpers ----

// buildTestWAV wraps pcm in a 44-byte RIFF/WAVE header.
func buildTestWAV(pcm []byte, rate, channels int) []byte {
	le := binary.LittleEndian
	buf := make([]byte, 44, 44+len(pcm))
	copy(buf[0:4], "RIFF")
	le.PutUint32(buf[4:8], uint32(36+len(pcm)))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	le.PutUint32(buf[16:20], 16)
	le.PutUint16(buf[20:22], 1)
	le.PutUint16(buf[22:24], uint16(channels))
	le.PutUint32(buf[24:28], uint32(rate))
	le.PutUint32(buf[28:32], uint32(rate*channels*2))
	le.PutUint16(buf[32:34], uint16(channels*2))
	le.PutUint16(buf[34:36], 16)
	copy(buf[36:40], "data")
	le.PutUint32(buf[40:44], uint32(len(pcm)))
	return append(buf, pcm...)
}

func mustNew(t *testing.T, serverURL string, opts ...Option) *Provider {
	t.Helper()
	p, err := New(serverURL, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

// ---- construction ----

func TestNew(t *testing.T) {
	t.Parallel()
	if _, err := New(""); err == nil {
		t.Error("expected error for empty serverURL")
	}
	if _, err := New("http://x", WithAPIMode("bogus")); err == nil {
		t.Error("expected error for unknown API mode")
	}
	p := mustNew(t, "http://localhost:5002/")
	if p.serverURL != "http://localhost:5002" {
		t.Errorf("serverURL = %q", p.serverURL)
	}
	if p.apiMode != APIModeStandard {
		t.Errorf("apiMode = %q, want standard", p.apiMode)
	}
}

// ---- Synthesize ----

func TestSynthesize_StandardAPI(t *testing.T) {
	t.Parallel()
	pcm := []byte{1, 0, 2, 0, 3, 0, 4, 0}
	var (
		mu    sync.Mutex
		query url.Values
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != apiTTSEndpoint {
			http.NotFound(w, r)
			return
		}
		mu.Lock()
		query = r.URL.Query()
		mu.Unlock()
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write(buildTestWAV(pcm, 22050, 1))
	}))
	t.Cleanup(srv.Close)

	p := mustNew(t, srv.URL, WithLanguage("de"))
	got, err := p.Synthesize(context.Background(), "Guten Abend.", "p225")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(got.PCM) != string(pcm) {
		t.Errorf("PCM = %v, want %v", got.PCM, pcm)
	}
	if got.Format != (audio.Format{SampleRate: 22050, Channels: 1}) {
		t.Errorf("Format = %+v", got.Format)
	}

	mu.Lock()
	defer mu.Unlock()
	if query.Get("text") != "Guten Abend." || query.Get("speaker_id") != "p225" || query.Get("language_id") != "de" {
		t.Errorf("query = %v", query)
	}
}

func TestSynthesize_StandardAPI_NoVoice(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := r.URL.Query()["speaker_id"]; ok {
			t.Error("speaker_id must be omitted when voice is empty")
		}
		_, _ = w.Write(buildTestWAV([]byte{0, 0}, 16000, 1))
	}))
	t.Cleanup(srv.Close)

	if _, err := mustNew(t, srv.URL).Synthesize(context.Background(), "hi", ""); err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
}

func TestSynthesize_XTTS(t *testing.T) {
	t.Parallel()
	var (
		mu   sync.Mutex
		body xttsRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != xttsEndpoint {
			http.NotFound(w, r)
			return
		}
		mu.Lock()
		_ = json.NewDecoder(r.Body).Decode(&body)
		mu.Unlock()
		_, _ = w.Write(buildTestWAV([]byte{9, 9, 9, 9}, 24000, 2))
	}))
	t.Cleanup(srv.Close)

	p := mustNew(t, srv.URL, WithAPIMode(APIModeXTTS))
	got, err := p.Synthesize(context.Background(), "Hello.", "innkeeper.wav")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if got.Format != (audio.Format{SampleRate: 24000, Channels: 2}) {
		t.Errorf("Format = %+v", got.Format)
	}
	mu.Lock()
	defer mu.Unlock()
	if body.Text != "Hello." || body.SpeakerWav != "innkeeper.wav" || body.Language != "en" {
		t.Errorf("body = %+v", body)
	}
}

func TestSynthesize_XTTS_RequiresVoice(t *testing.T) {
	t.Parallel()
	p := mustNew(t, "http://127.0.0.1:1", WithAPIMode(APIModeXTTS))
	if _, err := p.Synthesize(context.Background(), "Hello.", ""); !errors.Is(err, tts.ErrSynthesisFailed) {
		t.Errorf("err = %v, want ErrSynthesisFailed", err)
	}
}

func TestSynthesize_Failures(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		}},
		{"not a wav", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("definitely not audio"))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(tt.handler)
			t.Cleanup(srv.Close)
			_, err := mustNew(t, srv.URL).Synthesize(context.Background(), "hi", "")
			if !errors.Is(err, tts.ErrSynthesisFailed) {
				t.Errorf("err = %v, want ErrSynthesisFailed", err)
			}
		})
	}
}

func TestSynthesize_EmptyText(t *testing.T) {
	t.Parallel()
	if _, err := mustNew(t, "http://x").Synthesize(context.Background(), "  ", ""); !errors.Is(err, tts.ErrSynthesisFailed) {
		t.Errorf("err = %v, want ErrSynthesisFailed", err)
	}
}

// ---- parseWAV ----

func TestParseWAV(t *testing.T) {
	t.Parallel()

	t.Run("standard header", func(t *testing.T) {
		info, err := parseWAV(buildTestWAV([]byte{1, 2, 3, 4}, 16000, 1))
		if err != nil {
			t.Fatalf("parseWAV: %v", err)
		}
		if info.DataOffset != 44 || info.DataEnd != 48 {
			t.Errorf("data = [%d:%d], want [44:48]", info.DataOffset, info.DataEnd)
		}
	})

	t.Run("extra chunk before data", func(t *testing.T) {
		wav := buildTestWAV([]byte{1, 2}, 16000, 1)
		list := []byte{'L', 'I', 'S', 'T', 3, 0, 0, 0, 'a', 'b', 'c', 0} // odd size + pad byte
		patched := append(append(append([]byte{}, wav[:36]...), list...), wav[36:]...)
		info, err := parseWAV(patched)
		if err != nil {
			t.Fatalf("parseWAV: %v", err)
		}
		if info.DataOffset != 44+len(list) {
			t.Errorf("DataOffset = %d, want %d", info.DataOffset, 44+len(list))
		}
	})

	t.Run("streamed size", func(t *testing.T) {
		wav := buildTestWAV([]byte{1, 2, 3, 4}, 16000, 1)
		binary.LittleEndian.PutUint32(wav[40:44], 0)
		info, err := parseWAV(wav)
		if err != nil {
			t.Fatalf("parseWAV: %v", err)
		}
		if info.DataEnd != len(wav) {
			t.Errorf("DataEnd = %d, want %d", info.DataEnd, len(wav))
		}
	})

	bad := map[string][]byte{
		"too short": []byte("RIFF"),
		"no riff":   append([]byte("JUNK"), make([]byte, 40)...),
		"8-bit": func() []byte {
			w := buildTestWAV([]byte{1, 2}, 8000, 1)
			binary.LittleEndian.PutUint16(w[34:36], 8)
			return w
		}(),
		"no data": buildTestWAV(nil, 16000, 1)[:36],
	}
	for name, wav := range bad {
		if _, err := parseWAV(wav); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}
