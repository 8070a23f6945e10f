package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/parley/internal/generation"
	"github.com/MrWong99/parley/internal/pipeline"
)

const (
	embedColorRed  = 0xE74C3C
	embedColorBlue = 0x3498DB

	// DefaultFailureCooldown is the minimum time between two failure notices
	// for the same participant.
	DefaultFailureCooldown = 30 * time.Second

	// maxEmbedDescription is Discord's embed description limit.
	maxEmbedDescription = 4096
)

// SendFunc posts embed to channelID.
type SendFunc func(channelID string, embed *discordgo.MessageEmbed) error

var _ pipeline.Notifier = (*TextNotifier)(nil)

// TextNotifier posts failure notices and text-only replies to a text channel.
// Failure notices are rate limited per participant; text replies never are.
//
// Safe for concurrent use.
type TextNotifier struct {
	channelID string
	send      SendFunc
	cooldown  time.Duration
	now       func() time.Time

	mu         sync.Mutex
	lastFailed map[string]time.Time
}

// NewTextNotifier creates a TextNotifier. An empty channelID makes every
// notification a no-op.
func NewTextNotifier(channelID string, send SendFunc) *TextNotifier {
	return &TextNotifier{
		channelID:  channelID,
		send:       send,
		cooldown:   DefaultFailureCooldown,
		now:        time.Now,
		lastFailed: make(map[string]time.Time),
	}
}

// SetFailureCooldown changes the per-participant failure notice interval.
// Zero disables rate limiting.
func (n *TextNotifier) SetFailureCooldown(d time.Duration) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cooldown = d
}

// NotifyFailure implements [pipeline.Notifier].
func (n *TextNotifier) NotifyFailure(_ context.Context, participantID string, err error) {
	if n.channelID == "" || !n.allowFailure(participantID) {
		return
	}
	embed := &discordgo.MessageEmbed{
		Title:       "I couldn't answer that",
		Description: fmt.Sprintf("<@%s>, none of my language backends responded. Try again in a moment.", participantID),
		Color:       embedColorRed,
		Footer:      &discordgo.MessageEmbedFooter{Text: truncate(err.Error(), 2048)},
	}
	n.post(embed, participantID)
}

// NotifyText implements [pipeline.Notifier].
func (n *TextNotifier) NotifyText(_ context.Context, participantID string, r generation.Reply) {
	if n.channelID == "" {
		return
	}
	embed := &discordgo.MessageEmbed{
		Description: truncate(fmt.Sprintf("<@%s> %s", participantID, r.Text), maxEmbedDescription),
		Color:       embedColorBlue,
		Footer:      &discordgo.MessageEmbedFooter{Text: replyFooter(r)},
	}
	n.post(embed, participantID)
}

func (n *TextNotifier) allowFailure(participantID string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	now := n.now()
	if last, ok := n.lastFailed[participantID]; ok && n.cooldown > 0 && now.Sub(last) < n.cooldown {
		return false
	}
	n.lastFailed[participantID] = now
	return true
}

func (n *TextNotifier) post(embed *discordgo.MessageEmbed, participantID string) {
	if err := n.send(n.channelID, embed); err != nil {
		slog.Warn("discord: failed to post notice",
			"channel", n.channelID,
			"participant", participantID,
			"err", err,
		)
	}
}

func replyFooter(r generation.Reply) string {
	parts := []string{"voice unavailable"}
	if r.Backend != "" {
		parts = append(parts, "via "+r.Backend)
	}
	if r.Emotion.Label != "" && r.Emotion.Label != generation.Neutral {
		parts = append(parts, r.Emotion.Label)
	}
	return strings.Join(parts, " · ")
}

// truncate cuts s to at most n bytes on a rune boundary, marking the cut.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n - len("…")
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}
