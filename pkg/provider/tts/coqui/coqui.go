// Package coqui provides a TTS provider for a locally-running Coqui server.
//
// Two API modes are supported:
//
//   - APIModeStandard (default): the standard Coqui TTS server
//     (ghcr.io/coqui-ai/tts-cpu), GET /api/tts with query parameters.
//
//   - APIModeXTTS: the Coqui XTTS v2 API server, POST /tts_to_audio/ with a
//     JSON body. The voice is the speaker_wav reference and is required.
//
// Both servers answer with a WAV file; the clip keeps the rate and channel
// count from its header.
//
//	p, err := coqui.New("http://localhost:5002", coqui.WithLanguage("de"))
//	clip, err := p.Synthesize(ctx, "Guten Abend.", "")
package coqui

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/tts"
)

var _ tts.Provider = (*Provider)(nil)

const (
	defaultLanguage = "en"
	defaultTimeout  = 30 * time.Second
	xttsEndpoint    = "/tts_to_audio/"
	apiTTSEndpoint  = "/api/tts"
)

// APIMode selects which Coqui server API the provider targets.
type APIMode string

const (
	APIModeXTTS     APIMode = "xtts"
	APIModeStandard APIMode = "standard"
)

// Option configures a [Provider].
type Option func(*Provider)

// WithLanguage sets the language code sent to the server. Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 30 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.httpClient.Timeout = d }
}

// WithAPIMode sets the server API mode.
func WithAPIMode(mode APIMode) Option {
	return func(p *Provider) { p.apiMode = mode }
}

// Provider implements [tts.Provider] against a Coqui server.
type Provider struct {
	serverURL  string
	language   string
	apiMode    APIMode
	httpClient *http.Client
}

// New returns a Provider for the server at serverURL.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("coqui: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   defaultLanguage,
		apiMode:    APIModeStandard,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	switch p.apiMode {
	case APIModeStandard, APIModeXTTS:
	default:
		return nil, fmt.Errorf("coqui: unknown API mode %q", p.apiMode)
	}
	return p, nil
}

type xttsRequest struct {
	Text       string `json:"text"`
	SpeakerWav string `json:"speaker_wav"`
	Language   string `json:"language"`
}

// Synthesize implements [tts.Provider].
func (p *Provider) Synthesize(ctx context.Context, text, voice string) (tts.Audio, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return tts.Audio{}, fmt.Errorf("%w: coqui: empty text", tts.ErrSynthesisFailed)
	}

	var (
		req *http.Request
		err error
	)
	if p.apiMode == APIModeXTTS {
		req, err = p.xttsRequest(ctx, text, voice)
	} else {
		req, err = p.standardRequest(ctx, text, voice)
	}
	if err != nil {
		return tts.Audio{}, fmt.Errorf("%w: %w", tts.ErrSynthesisFailed, err)
	}
	req.Header.Set("Accept", "audio/wav")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return tts.Audio{}, fmt.Errorf("%w: coqui: %s %s: %w", tts.ErrSynthesisFailed, req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return tts.Audio{}, fmt.Errorf("%w: coqui: %s %s returned status %d", tts.ErrSynthesisFailed, req.Method, req.URL.Path, resp.StatusCode)
	}
	wav, err := io.ReadAll(resp.Body)
	if err != nil {
		return tts.Audio{}, fmt.Errorf("%w: coqui: read WAV response: %w", tts.ErrSynthesisFailed, err)
	}
	info, err := parseWAV(wav)
	if err != nil {
		return tts.Audio{}, fmt.Errorf("%w: %w", tts.ErrSynthesisFailed, err)
	}
	return tts.Audio{PCM: wav[info.DataOffset:info.DataEnd], Format: info.Format}, nil
}

func (p *Provider) xttsRequest(ctx context.Context, text, voice string) (*http.Request, error) {
	if voice == "" {
		return nil, errors.New("coqui: voice must not be empty in XTTS mode")
	}
	data, err := json.Marshal(xttsRequest{Text: text, SpeakerWav: voice, Language: p.language})
	if err != nil {
		return nil, fmt.Errorf("coqui: marshal tts request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+xttsEndpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("coqui: create tts request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (p *Provider) standardRequest(ctx context.Context, text, voice string) (*http.Request, error) {
	params := url.Values{}
	params.Set("text", text)
	if voice != "" {
		params.Set("speaker_id", voice)
	}
	if p.language != "" {
		params.Set("language_id", p.language)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+apiTTSEndpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("coqui: create tts request: %w", err)
	}
	return req, nil
}

// wavInfo locates the PCM payload of a RIFF/WAVE file.
type wavInfo struct {
	DataOffset int
	DataEnd    int
	Format     audio.Format
}

// parseWAV walks the RIFF chunks of wav. Only 16-bit PCM is accepted.
func parseWAV(wav []byte) (wavInfo, error) {
	if len(wav) < 12 {
		return wavInfo{}, errors.New("coqui: WAV response too short to be a valid RIFF file")
	}
	if string(wav[0:4]) != "RIFF" {
		return wavInfo{}, errors.New("coqui: WAV response missing RIFF header")
	}
	if string(wav[8:12]) != "WAVE" {
		return wavInfo{}, errors.New("coqui: WAV response missing WAVE identifier")
	}

	var info wavInfo
	foundFmt := false

	offset := 12
	for offset+8 <= len(wav) {
		chunkID := string(wav[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(wav[offset+4 : offset+8]))

		switch chunkID {
		case "fmt ":
			if chunkSize < 16 || offset+8+16 > len(wav) {
				return wavInfo{}, errors.New("coqui: truncated fmt chunk")
			}
			f := wav[offset+8:]
			if tag := binary.LittleEndian.Uint16(f[0:2]); tag != 1 {
				return wavInfo{}, fmt.Errorf("coqui: unsupported WAV encoding %d", tag)
			}
			if bits := binary.LittleEndian.Uint16(f[14:16]); bits != 16 {
				return wavInfo{}, fmt.Errorf("coqui: unsupported bit depth %d", bits)
			}
			info.Format = audio.Format{
				Channels:   int(binary.LittleEndian.Uint16(f[2:4])),
				SampleRate: int(binary.LittleEndian.Uint32(f[4:8])),
			}
			foundFmt = true
		case "data":
			if !foundFmt {
				return wavInfo{}, errors.New("coqui: WAV data chunk before fmt chunk")
			}
			info.DataOffset = offset + 8
			// Streaming servers may write 0 or 0xFFFFFFFF as the size.
			info.DataEnd = min(info.DataOffset+chunkSize, len(wav))
			if chunkSize == 0 {
				info.DataEnd = len(wav)
			}
			if !info.Format.Valid() {
				return wavInfo{}, fmt.Errorf("coqui: invalid WAV format %+v", info.Format)
			}
			return info, nil
		}

		// Chunks are word-aligned.
		offset += 8 + chunkSize
		if chunkSize%2 != 0 {
			offset++
		}
	}
	return wavInfo{}, errors.New("coqui: WAV response missing data chunk")
}
