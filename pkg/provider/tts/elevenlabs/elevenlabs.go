// Package elevenlabs provides a TTS provider backed by the ElevenLabs
// stream-input WebSocket API.
//
// Each Synthesize call opens one socket, sends the whole reply followed by
// the end-of-input marker, and concatenates the PCM chunks until the server
// reports the final chunk.
package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/coder/websocket"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/tts"
)

const (
	defaultBaseURL   = "wss://api.elevenlabs.io"
	defaultModel     = "eleven_flash_v2_5"
	defaultOutputFmt = "pcm_16000"
)

var _ tts.Provider = (*Provider)(nil)

// Option configures a [Provider].
type Option func(*Provider)

// WithModel sets the ElevenLabs model ID (e.g. "eleven_flash_v2_5").
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithOutputFormat sets the PCM output format ("pcm_16000", "pcm_24000", ...).
// Only pcm_* formats are accepted by New.
func WithOutputFormat(format string) Option {
	return func(p *Provider) { p.outputFormat = format }
}

// WithBaseURL overrides the API origin. Used by tests.
func WithBaseURL(base string) Option {
	return func(p *Provider) { p.baseURL = strings.TrimRight(base, "/") }
}

// WithDefaultVoice sets the voice used when Synthesize gets an empty voice.
func WithDefaultVoice(voiceID string) Option {
	return func(p *Provider) { p.defaultVoice = voiceID }
}

// Provider implements [tts.Provider] over the ElevenLabs streaming API.
type Provider struct {
	apiKey       string
	model        string
	outputFormat string
	baseURL      string
	defaultVoice string
	format       audio.Format
}

// New creates a Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:       apiKey,
		model:        defaultModel,
		outputFormat: defaultOutputFmt,
		baseURL:      defaultBaseURL,
	}
	for _, o := range opts {
		o(p)
	}
	f, err := parseOutputFormat(p.outputFormat)
	if err != nil {
		return nil, err
	}
	p.format = f
	return p, nil
}

// ---- WebSocket message types ----

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// textMessage carries one text fragment. An empty Text closes the input.
type textMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
	XiAPIKey      string         `json:"xi_api_key,omitempty"`
	Flush         bool           `json:"flush,omitempty"`
}

type audioResponse struct {
	Audio   string `json:"audio"`
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Synthesize implements [tts.Provider].
func (p *Provider) Synthesize(ctx context.Context, text, voice string) (tts.Audio, error) {
	if voice == "" {
		voice = p.defaultVoice
	}
	if voice == "" {
		return tts.Audio{}, fmt.Errorf("%w: elevenlabs: no voice ID", tts.ErrSynthesisFailed)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return tts.Audio{}, fmt.Errorf("%w: elevenlabs: empty text", tts.ErrSynthesisFailed)
	}

	conn, _, err := websocket.Dial(ctx, p.streamURL(voice), nil)
	if err != nil {
		return tts.Audio{}, fmt.Errorf("%w: elevenlabs: dial: %w", tts.ErrSynthesisFailed, err)
	}
	defer conn.CloseNow()
	conn.SetReadLimit(1 << 22)

	// ElevenLabs requires a single space as the first text value.
	msgs := []textMessage{
		{Text: " ", VoiceSettings: &voiceSettings{Stability: 0.5, SimilarityBoost: 0.75}, XiAPIKey: p.apiKey},
		{Text: text + " ", Flush: true},
		{Text: ""},
	}
	for _, m := range msgs {
		if err := writeJSON(ctx, conn, m); err != nil {
			return tts.Audio{}, fmt.Errorf("%w: elevenlabs: send: %w", tts.ErrSynthesisFailed, err)
		}
	}

	var pcm []byte
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure && len(pcm) > 0 {
				break
			}
			return tts.Audio{}, fmt.Errorf("%w: elevenlabs: read: %w", tts.ErrSynthesisFailed, err)
		}
		var resp audioResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			continue
		}
		if resp.Error != "" {
			return tts.Audio{}, fmt.Errorf("%w: elevenlabs: server: %s %s", tts.ErrSynthesisFailed, resp.Error, resp.Message)
		}
		if resp.Audio != "" {
			chunk, err := base64.StdEncoding.DecodeString(resp.Audio)
			if err != nil {
				return tts.Audio{}, fmt.Errorf("%w: elevenlabs: decode audio: %w", tts.ErrSynthesisFailed, err)
			}
			pcm = append(pcm, chunk...)
		}
		if resp.IsFinal {
			break
		}
	}
	conn.Close(websocket.StatusNormalClosure, "done")

	if len(pcm) == 0 {
		return tts.Audio{}, fmt.Errorf("%w: elevenlabs: no audio returned", tts.ErrSynthesisFailed)
	}
	return tts.Audio{PCM: pcm, Format: p.format}, nil
}

func (p *Provider) streamURL(voice string) string {
	q := url.Values{}
	q.Set("model_id", p.model)
	q.Set("output_format", p.outputFormat)
	return fmt.Sprintf("%s/v1/text-to-speech/%s/stream-input?%s", p.baseURL, url.PathEscape(voice), q.Encode())
}

func writeJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

// parseOutputFormat maps "pcm_<rate>" to a mono [audio.Format].
func parseOutputFormat(s string) (audio.Format, error) {
	rate, ok := strings.CutPrefix(s, "pcm_")
	if !ok {
		return audio.Format{}, fmt.Errorf("elevenlabs: unsupported output format %q (want pcm_<rate>)", s)
	}
	n, err := strconv.Atoi(rate)
	if err != nil || n <= 0 {
		return audio.Format{}, fmt.Errorf("elevenlabs: bad sample rate in output format %q", s)
	}
	return audio.Format{SampleRate: n, Channels: 1}, nil
}
