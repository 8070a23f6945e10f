// Package whisper provides whisper.cpp speech-to-text backends.
//
// [Provider] talks to a running whisper-server over HTTP (POST /inference
// with a WAV upload). [NativeProvider] links whisper.cpp through its Go
// bindings and runs inference in-process.
//
//	p, err := whisper.New("http://localhost:8080", whisper.WithLanguage("en"))
//	text, err := p.Transcribe(ctx, stt.Audio{PCM: pcm, Format: audio.FormatSpeech}, nil)
package whisper

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/stt"
)

const (
	bitsPerSample = 16

	defaultLanguage = "en"
	defaultTimeout  = 30 * time.Second
)

var _ stt.Provider = (*Provider)(nil)

// blankMarkers are the placeholder transcripts whisper emits for non-speech.
var blankMarkers = []string{"[BLANK_AUDIO]", "[SILENCE]", "(silence)", "[ Silence ]"}

// Option configures a [Provider].
type Option func(*Provider)

// WithModel sets the model name forwarded to the server. Empty keeps the
// model the server was started with.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the fallback language used when no hint is given.
// Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// Provider is the HTTP whisper-server backend.
type Provider struct {
	serverURL  string
	model      string
	language   string
	httpClient *http.Client
}

// New returns a Provider for the whisper-server at serverURL.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   defaultLanguage,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe implements [stt.Provider]. Audio in any valid format is
// forwarded as-is; the server resamples.
func (p *Provider) Transcribe(ctx context.Context, a stt.Audio, hints []string) (string, error) {
	if len(a.PCM) == 0 {
		return "", stt.ErrNoSpeech
	}
	if !a.Format.Valid() {
		return "", fmt.Errorf("%w: whisper: invalid audio format %+v", stt.ErrTranscriptionFailed, a.Format)
	}

	body, contentType, err := p.buildForm(a, pickLanguage(hints, p.language))
	if err != nil {
		return "", fmt.Errorf("%w: %w", stt.ErrTranscriptionFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+"/inference", body)
	if err != nil {
		return "", fmt.Errorf("%w: whisper: create request: %w", stt.ErrTranscriptionFailed, err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: whisper: http request: %w", stt.ErrTranscriptionFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("%w: whisper: server returned HTTP %d: %s", stt.ErrTranscriptionFailed, resp.StatusCode, bytes.TrimSpace(snippet))
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("%w: whisper: parse response: %w", stt.ErrTranscriptionFailed, err)
	}
	return cleanTranscript(result.Text)
}

func (p *Provider) buildForm(a stt.Audio, language string) (io.Reader, string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, "", fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(encodeWAV(a.PCM, a.Format)); err != nil {
		return nil, "", fmt.Errorf("whisper: write wav data: %w", err)
	}
	fields := map[string]string{
		"language":        language,
		"model":           p.model,
		"response_format": "json",
	}
	for k, v := range fields {
		if v == "" {
			continue
		}
		if err := mw.WriteField(k, v); err != nil {
			return nil, "", fmt.Errorf("whisper: write %s field: %w", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("whisper: close multipart writer: %w", err)
	}
	return &body, mw.FormDataContentType(), nil
}

// pickLanguage returns the primary tag of the first hint ("en-US" → "en"),
// or fallback.
func pickLanguage(hints []string, fallback string) string {
	for _, h := range hints {
		h = strings.TrimSpace(h)
		if h == "" {
			continue
		}
		primary, _, _ := strings.Cut(h, "-")
		return strings.ToLower(primary)
	}
	return fallback
}

// cleanTranscript trims whitespace and maps whisper's non-speech markers to
// [stt.ErrNoSpeech].
func cleanTranscript(text string) (string, error) {
	text = strings.TrimSpace(text)
	for _, m := range blankMarkers {
		text = strings.TrimSpace(strings.ReplaceAll(text, m, ""))
	}
	if text == "" {
		return "", stt.ErrNoSpeech
	}
	return text, nil
}

// encodeWAV wraps 16-bit PCM in a 44-byte RIFF/WAV header.
func encodeWAV(pcm []byte, f audio.Format) []byte {
	byteRate := f.SampleRate * f.Channels * bitsPerSample / 8
	blockAlign := f.Channels * bitsPerSample / 8
	dataSize := len(pcm)

	buf := make([]byte, 44+dataSize)
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(f.Channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(f.SampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], bitsPerSample)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], pcm)
	return buf
}
