package discord

import (
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/parley/pkg/audio"
)

var _ audio.Connection = (*Connection)(nil)

const (
	inputChannelBuffer  = 64
	outputChannelBuffer = 64
)

// Connection adapts a discordgo voice connection to [audio.Connection].
//
// Incoming Opus packets are demultiplexed by SSRC, decoded, and delivered on
// an input stream keyed by Discord user ID. The SSRC→user mapping comes from
// the gateway's speaking updates; packets from an SSRC that has not been
// mapped yet are dropped. A participant's stream is created on their first
// speaking update, which is also when [audio.EventJoin] fires. Leaving the
// channel closes the stream and fires [audio.EventLeave].
type Connection struct {
	vc      *discordgo.VoiceConnection
	session *discordgo.Session
	guildID string

	mu     sync.RWMutex
	inputs map[string]chan audio.AudioFrame // by user ID
	users  map[uint32]string                // SSRC -> user ID

	output chan audio.AudioFrame

	changeMu sync.Mutex
	changeCb func(audio.Event)

	done      chan struct{}
	closeOnce sync.Once

	removeHandler func()
	disconnectVC  func() error
}

func newConnection(vc *discordgo.VoiceConnection, session *discordgo.Session, guildID string) *Connection {
	c := &Connection{
		vc:           vc,
		session:      session,
		guildID:      guildID,
		inputs:       make(map[string]chan audio.AudioFrame),
		users:        make(map[uint32]string),
		output:       make(chan audio.AudioFrame, outputChannelBuffer),
		done:         make(chan struct{}),
		disconnectVC: vc.Disconnect,
	}
	c.removeHandler = session.AddHandler(c.handleVoiceStateUpdate)
	vc.AddHandler(c.handleSpeakingUpdate)

	go c.recvLoop()
	go c.sendLoop()
	return c
}

// InputStreams implements [audio.Connection].
func (c *Connection) InputStreams() map[string]<-chan audio.AudioFrame {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap := make(map[string]<-chan audio.AudioFrame, len(c.inputs))
	for id, ch := range c.inputs {
		snap[id] = ch
	}
	return snap
}

// OutputStream implements [audio.Connection]. Frames of any format are
// converted to 48 kHz stereo before encoding.
func (c *Connection) OutputStream() chan<- audio.AudioFrame {
	return c.output
}

// OnParticipantChange implements [audio.Connection].
func (c *Connection) OnParticipantChange(cb func(audio.Event)) {
	c.changeMu.Lock()
	defer c.changeMu.Unlock()
	c.changeCb = cb
}

// Disconnect implements [audio.Connection].
func (c *Connection) Disconnect() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		if c.removeHandler != nil {
			c.removeHandler()
		}
		if c.disconnectVC != nil {
			err = c.disconnectVC()
		}
		c.mu.Lock()
		for id, ch := range c.inputs {
			close(ch)
			delete(c.inputs, id)
		}
		c.mu.Unlock()
	})
	return err
}

func (c *Connection) recvLoop() {
	decoders := make(map[uint32]*opusDecoder)

	for {
		select {
		case <-c.done:
			return
		case pkt, ok := <-c.vc.OpusRecv:
			if !ok {
				return
			}
			if pkt == nil {
				continue
			}

			c.mu.RLock()
			userID := c.users[pkt.SSRC]
			ch := c.inputs[userID]
			c.mu.RUnlock()
			if ch == nil {
				continue
			}

			dec, exists := decoders[pkt.SSRC]
			if !exists {
				var err error
				dec, err = newOpusDecoder()
				if err != nil {
					slog.Error("discord: failed to create opus decoder", "user", userID, "err", err)
					continue
				}
				decoders[pkt.SSRC] = dec
			}

			pcm, err := dec.decode(pkt.Opus)
			if err != nil {
				slog.Warn("discord: opus decode error", "user", userID, "err", err)
				continue
			}

			c.deliver(userID, audio.AudioFrame{
				Data:       pcm,
				SampleRate: opusSampleRate,
				Channels:   opusChannels,
				Timestamp:  time.Duration(pkt.Timestamp) * time.Second / time.Duration(opusSampleRate),
			})
		}
	}
}

// deliver hands frame to the user's input stream without blocking the
// receive loop. The read lock keeps the channel from being closed mid-send.
func (c *Connection) deliver(userID string, frame audio.AudioFrame) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ch, ok := c.inputs[userID]
	if !ok {
		return
	}
	select {
	case ch <- frame:
	default:
		slog.Debug("discord: input stream full, dropping frame", "user", userID)
	}
}

func (c *Connection) sendLoop() {
	enc, err := newOpusEncoder()
	if err != nil {
		slog.Error("discord: failed to create opus encoder", "err", err)
		return
	}

	speaking := false
	var buf []byte

	for {
		select {
		case <-c.done:
			if speaking {
				c.setSpeaking(false)
			}
			return
		case frame, ok := <-c.output:
			if !ok {
				return
			}
			if !speaking {
				c.setSpeaking(true)
				speaking = true
			}

			frame = audio.ConvertFrame(frame, audio.FormatDiscord)
			buf = append(buf, frame.Data...)

			for len(buf) >= opusFrameBytes {
				packet, err := enc.encode(buf[:opusFrameBytes])
				buf = buf[opusFrameBytes:]
				if err != nil {
					slog.Warn("discord: opus encode error", "err", err)
					continue
				}
				select {
				case c.vc.OpusSend <- packet:
				case <-c.done:
					return
				}
			}
		}
	}
}

// handleSpeakingUpdate maps an SSRC to its user and opens the user's input
// stream on first contact.
func (c *Connection) handleSpeakingUpdate(_ *discordgo.VoiceConnection, vs *discordgo.VoiceSpeakingUpdate) {
	if vs == nil || vs.UserID == "" {
		return
	}
	select {
	case <-c.done:
		return
	default:
	}

	c.mu.Lock()
	c.users[uint32(vs.SSRC)] = vs.UserID
	_, exists := c.inputs[vs.UserID]
	if !exists {
		c.inputs[vs.UserID] = make(chan audio.AudioFrame, inputChannelBuffer)
	}
	c.mu.Unlock()

	if !exists {
		c.emitEvent(audio.Event{Type: audio.EventJoin, UserID: vs.UserID})
	}
}

// handleVoiceStateUpdate closes the input stream of users leaving the channel.
func (c *Connection) handleVoiceStateUpdate(_ *discordgo.Session, vsu *discordgo.VoiceStateUpdate) {
	if vsu == nil || vsu.VoiceState == nil || vsu.GuildID != c.guildID {
		return
	}
	channelID := c.vc.ChannelID
	left := vsu.BeforeUpdate != nil && vsu.BeforeUpdate.ChannelID == channelID && vsu.ChannelID != channelID
	if !left {
		return
	}

	c.mu.Lock()
	if ch, ok := c.inputs[vsu.UserID]; ok {
		close(ch)
		delete(c.inputs, vsu.UserID)
	}
	for ssrc, id := range c.users {
		if id == vsu.UserID {
			delete(c.users, ssrc)
		}
	}
	c.mu.Unlock()

	ev := audio.Event{Type: audio.EventLeave, UserID: vsu.UserID}
	if vsu.Member != nil && vsu.Member.User != nil {
		ev.Username = vsu.Member.User.Username
	}
	c.emitEvent(ev)
}

func (c *Connection) setSpeaking(b bool) {
	if err := c.vc.Speaking(b); err != nil {
		slog.Warn("discord: speaking notification error", "speaking", b, "err", err)
	}
}

func (c *Connection) emitEvent(ev audio.Event) {
	c.changeMu.Lock()
	cb := c.changeCb
	c.changeMu.Unlock()
	if cb != nil {
		go cb(ev)
	}
}
