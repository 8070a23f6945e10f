package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/coder/websocket"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/tts"
)

// fakeServer speaks just enough of the stream-input protocol: it collects
// text messages until the empty end-of-input marker, then replies with the
// configured chunks.
type fakeServer struct {
	mu       sync.Mutex
	path     string
	query    string
	messages []textMessage

	chunks [][]byte
	errMsg string
}

func (f *fakeServer) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		defer conn.CloseNow()

		f.mu.Lock()
		f.path = r.URL.Path
		f.query = r.URL.RawQuery
		f.mu.Unlock()

		ctx := r.Context()
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var m textMessage
			if err := json.Unmarshal(data, &m); err != nil {
				t.Errorf("bad message: %s", data)
				return
			}
			f.mu.Lock()
			f.messages = append(f.messages, m)
			f.mu.Unlock()
			if m.Text == "" {
				break
			}
		}

		if f.errMsg != "" {
			b, _ := json.Marshal(audioResponse{Error: "quota_exceeded", Message: f.errMsg})
			_ = conn.Write(ctx, websocket.MessageText, b)
			return
		}
		for i, c := range f.chunks {
			resp := audioResponse{Audio: base64.StdEncoding.EncodeToString(c), IsFinal: i == len(f.chunks)-1}
			b, _ := json.Marshal(resp)
			if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
				return
			}
		}
		conn.Close(websocket.StatusNormalClosure, "")
	})
}

func newTestProvider(t *testing.T, f *fakeServer, opts ...Option) *Provider {
	t.Helper()
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)
	base := "ws" + strings.TrimPrefix(srv.URL, "http")
	p, err := New("key-1", append([]Option{WithBaseURL(base)}, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()
	if _, err := New(""); err == nil {
		t.Error("expected error for empty apiKey")
	}
	if _, err := New("k", WithOutputFormat("mp3_44100_128")); err == nil {
		t.Error("expected error for non-PCM output format")
	}
	if _, err := New("k", WithOutputFormat("pcm_abc")); err == nil {
		t.Error("expected error for bad sample rate")
	}
}

func TestParseOutputFormat(t *testing.T) {
	t.Parallel()
	f, err := parseOutputFormat("pcm_24000")
	if err != nil {
		t.Fatalf("parseOutputFormat: %v", err)
	}
	if f != (audio.Format{SampleRate: 24000, Channels: 1}) {
		t.Errorf("format = %+v", f)
	}
}

func TestSynthesize_CollectsChunks(t *testing.T) {
	t.Parallel()
	f := &fakeServer{chunks: [][]byte{{1, 2, 3, 4}, {5, 6}}}
	p := newTestProvider(t, f, WithModel("m1"))

	got, err := p.Synthesize(context.Background(), "Welcome, traveller.", "voice-a")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(got.PCM) != string([]byte{1, 2, 3, 4, 5, 6}) {
		t.Errorf("PCM = %v", got.PCM)
	}
	if got.Format != (audio.Format{SampleRate: 16000, Channels: 1}) {
		t.Errorf("Format = %+v", got.Format)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.path != "/v1/text-to-speech/voice-a/stream-input" {
		t.Errorf("path = %q", f.path)
	}
	if !strings.Contains(f.query, "model_id=m1") || !strings.Contains(f.query, "output_format=pcm_16000") {
		t.Errorf("query = %q", f.query)
	}
	if len(f.messages) != 3 {
		t.Fatalf("messages = %d, want 3", len(f.messages))
	}
	if f.messages[0].XiAPIKey != "key-1" || f.messages[0].VoiceSettings == nil {
		t.Errorf("first message = %+v, want api key and voice settings", f.messages[0])
	}
	if !strings.Contains(f.messages[1].Text, "Welcome, traveller.") {
		t.Errorf("text message = %q", f.messages[1].Text)
	}
	if f.messages[2].Text != "" {
		t.Errorf("last message text = %q, want end-of-input", f.messages[2].Text)
	}
}

func TestSynthesize_DefaultVoice(t *testing.T) {
	t.Parallel()
	f := &fakeServer{chunks: [][]byte{{0, 0}}}
	p := newTestProvider(t, f, WithDefaultVoice("narrator"))

	if _, err := p.Synthesize(context.Background(), "hi", ""); err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if !strings.Contains(f.path, "/narrator/") {
		t.Errorf("path = %q, want default voice", f.path)
	}
}

func TestSynthesize_ServerError(t *testing.T) {
	t.Parallel()
	f := &fakeServer{errMsg: "out of credits"}
	p := newTestProvider(t, f)

	_, err := p.Synthesize(context.Background(), "hello", "v")
	if !errors.Is(err, tts.ErrSynthesisFailed) {
		t.Fatalf("err = %v, want ErrSynthesisFailed", err)
	}
	if !strings.Contains(err.Error(), "out of credits") {
		t.Errorf("err = %v, want server message", err)
	}
}

func TestSynthesize_InputValidation(t *testing.T) {
	t.Parallel()
	p, _ := New("k")
	if _, err := p.Synthesize(context.Background(), "hello", ""); !errors.Is(err, tts.ErrSynthesisFailed) {
		t.Errorf("no voice: err = %v", err)
	}
	if _, err := p.Synthesize(context.Background(), "   ", "v"); !errors.Is(err, tts.ErrSynthesisFailed) {
		t.Errorf("blank text: err = %v", err)
	}
}

func TestSynthesize_DialFailure(t *testing.T) {
	t.Parallel()
	p, _ := New("k", WithBaseURL("ws://127.0.0.1:1"))
	if _, err := p.Synthesize(context.Background(), "hello", "v"); !errors.Is(err, tts.ErrSynthesisFailed) {
		t.Errorf("err = %v, want ErrSynthesisFailed", err)
	}
}
