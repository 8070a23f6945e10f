package whisper_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/stt"
	"github.com/MrWong99/parley/pkg/provider/stt/whisper"
)

// ---- helpers ----------------------------------------------------------------

type capturedRequest struct {
	language string
	model    string
	wavSize  int
}

// newMockServer answers POST /inference with text and records the form.
func newMockServer(t *testing.T, status int, text string, got *atomic.Pointer[capturedRequest]) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/inference" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f, _, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		data, _ := io.ReadAll(f)
		if got != nil {
			got.Store(&capturedRequest{
				language: r.FormValue("language"),
				model:    r.FormValue("model"),
				wavSize:  len(data),
			})
		}
		if status != http.StatusOK {
			http.Error(w, "boom", status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"text": text})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func speechAudio() stt.Audio {
	return stt.Audio{PCM: make([]byte, 3200), Format: audio.FormatSpeech}
}

// ---- construction -----------------------------------------------------------

func TestNew_EmptyServerURL(t *testing.T) {
	t.Parallel()
	if _, err := whisper.New(""); err == nil {
		t.Fatal("expected error for empty serverURL")
	}
}

// ---- Transcribe -------------------------------------------------------------

func TestTranscribe_Success(t *testing.T) {
	t.Parallel()
	var got atomic.Pointer[capturedRequest]
	srv := newMockServer(t, http.StatusOK, "  Where is the tavern? ", &got)
	p, err := whisper.New(srv.URL+"/", whisper.WithModel("base.en"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	text, err := p.Transcribe(context.Background(), speechAudio(), []string{"de-DE"})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "Where is the tavern?" {
		t.Errorf("text = %q", text)
	}
	req := got.Load()
	if req == nil {
		t.Fatal("server saw no request")
	}
	if req.language != "de" {
		t.Errorf("language = %q, want de", req.language)
	}
	if req.model != "base.en" {
		t.Errorf("model = %q, want base.en", req.model)
	}
	if req.wavSize != 44+3200 {
		t.Errorf("wav size = %d, want %d", req.wavSize, 44+3200)
	}
}

func TestTranscribe_DefaultLanguage(t *testing.T) {
	t.Parallel()
	var got atomic.Pointer[capturedRequest]
	srv := newMockServer(t, http.StatusOK, "hi", &got)
	p, _ := whisper.New(srv.URL, whisper.WithLanguage("fr"))

	if _, err := p.Transcribe(context.Background(), speechAudio(), nil); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if lang := got.Load().language; lang != "fr" {
		t.Errorf("language = %q, want fr", lang)
	}
}

func TestTranscribe_NoSpeech(t *testing.T) {
	t.Parallel()
	srv := newMockServer(t, http.StatusOK, "[BLANK_AUDIO]", nil)
	p, _ := whisper.New(srv.URL)

	_, err := p.Transcribe(context.Background(), speechAudio(), nil)
	if !errors.Is(err, stt.ErrNoSpeech) {
		t.Errorf("err = %v, want ErrNoSpeech", err)
	}

	_, err = p.Transcribe(context.Background(), stt.Audio{Format: audio.FormatSpeech}, nil)
	if !errors.Is(err, stt.ErrNoSpeech) {
		t.Errorf("empty audio err = %v, want ErrNoSpeech", err)
	}
}

func TestTranscribe_ServerError(t *testing.T) {
	t.Parallel()
	srv := newMockServer(t, http.StatusInternalServerError, "", nil)
	p, _ := whisper.New(srv.URL)

	_, err := p.Transcribe(context.Background(), speechAudio(), nil)
	if !errors.Is(err, stt.ErrTranscriptionFailed) {
		t.Errorf("err = %v, want ErrTranscriptionFailed", err)
	}
}

func TestTranscribe_InvalidFormat(t *testing.T) {
	t.Parallel()
	p, _ := whisper.New("http://127.0.0.1:1")
	_, err := p.Transcribe(context.Background(), stt.Audio{PCM: []byte{1, 2}}, nil)
	if !errors.Is(err, stt.ErrTranscriptionFailed) {
		t.Errorf("err = %v, want ErrTranscriptionFailed", err)
	}
}

func TestTranscribe_ContextTimeout(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})
	p, _ := whisper.New(srv.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := p.Transcribe(ctx, speechAudio(), nil)
	if !errors.Is(err, stt.ErrTranscriptionFailed) {
		t.Errorf("err = %v, want ErrTranscriptionFailed", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want to wrap DeadlineExceeded", err)
	}
}
