package commands

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/parley/internal/discord"
)

// VoiceCommands handles the /voice command group.
type VoiceCommands struct {
	ctrl    Controller
	locator VoiceLocator
}

// NewVoiceCommands creates a VoiceCommands handler.
func NewVoiceCommands(ctrl Controller, locator VoiceLocator) *VoiceCommands {
	return &VoiceCommands{ctrl: ctrl, locator: locator}
}

// Register registers /voice join and /voice leave with the router.
func (vc *VoiceCommands) Register(router *discord.CommandRouter) {
	router.Define(vc.Definition())
	router.On("voice/join", vc.handleJoin)
	router.On("voice/leave", vc.handleLeave)
}

// Definition returns the /voice ApplicationCommand for Discord registration.
func (vc *VoiceCommands) Definition() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        "voice",
		Description: "Bring the assistant into or out of a voice channel",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "join",
				Description: "Join your current voice channel",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "leave",
				Description: "Leave the voice channel",
			},
		},
	}
}

func (vc *VoiceCommands) handleJoin(s *discordgo.Session, i *discordgo.InteractionCreate) {
	channelID, ok := vc.locator.UserVoiceChannel(discord.InteractionUserID(i))
	if !ok {
		discord.RespondEphemeral(s, i, "You must be in a voice channel.")
		return
	}
	if current, ok := vc.ctrl.VoiceChannel(); ok && current == channelID {
		discord.RespondEphemeral(s, i, fmt.Sprintf("Already listening in <#%s>.", channelID))
		return
	}

	discord.DeferReply(s, i)
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	discord.FollowUp(s, i, vc.join(ctx, channelID))
}

func (vc *VoiceCommands) join(ctx context.Context, channelID string) string {
	if err := vc.ctrl.JoinVoice(ctx, channelID); err != nil {
		return fmt.Sprintf("Failed to join <#%s>: %v", channelID, err)
	}
	return fmt.Sprintf("Listening in <#%s>.", channelID)
}

func (vc *VoiceCommands) handleLeave(s *discordgo.Session, i *discordgo.InteractionCreate) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	discord.RespondEphemeral(s, i, vc.leave(ctx))
}

func (vc *VoiceCommands) leave(ctx context.Context) string {
	channelID, ok := vc.ctrl.VoiceChannel()
	if !ok {
		return "Not in a voice channel."
	}
	if err := vc.ctrl.LeaveVoice(ctx); err != nil {
		return fmt.Sprintf("Failed to leave <#%s>: %v", channelID, err)
	}
	return fmt.Sprintf("Left <#%s>.", channelID)
}
