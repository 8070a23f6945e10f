// Package discord implements [audio.Platform] on Discord voice channels using
// bwmarrin/discordgo, decoding and encoding Opus with layeh.com/gopus.
//
// The session is owned by the bot layer; this package only joins and leaves
// voice channels on it.
package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/parley/pkg/audio"
)

var _ audio.Platform = (*Platform)(nil)

// Platform joins voice channels of one guild.
type Platform struct {
	session *discordgo.Session
	guildID string
}

// New returns a Platform for guildID on an open session.
func New(session *discordgo.Session, guildID string) *Platform {
	return &Platform{session: session, guildID: guildID}
}

// Connect implements [audio.Platform]. The bot joins unmuted and undeafened.
func (p *Platform) Connect(ctx context.Context, channelID string) (audio.Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("discord: join voice channel %q: %w", channelID, err)
	}
	vc, err := p.session.ChannelVoiceJoin(p.guildID, channelID, false, false)
	if err != nil {
		return nil, fmt.Errorf("discord: join voice channel %q: %w", channelID, err)
	}
	return newConnection(vc, p.session, p.guildID), nil
}
