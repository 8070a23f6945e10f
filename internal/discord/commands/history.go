package commands

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/parley/internal/discord"
)

// HistoryCommands handles the /history command group.
type HistoryCommands struct {
	ctrl  Controller
	perms *discord.PermissionChecker
}

// NewHistoryCommands creates a HistoryCommands handler.
func NewHistoryCommands(ctrl Controller, perms *discord.PermissionChecker) *HistoryCommands {
	return &HistoryCommands{ctrl: ctrl, perms: perms}
}

// Register registers /history clear with the router.
func (hc *HistoryCommands) Register(router *discord.CommandRouter) {
	router.Define(hc.Definition())
	router.On("history/clear", hc.handleClear)
}

// Definition returns the /history ApplicationCommand for Discord registration.
func (hc *HistoryCommands) Definition() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        "history",
		Description: "Manage what the assistant remembers",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "clear",
				Description: "Forget a conversation",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionUser,
						Name:        "user",
						Description: "Whose conversation to forget (defaults to yours)",
					},
				},
			},
		},
	}
}

func (hc *HistoryCommands) handleClear(s *discordgo.Session, i *discordgo.InteractionCreate) {
	caller := discord.InteractionUserID(i)
	target := discord.OptionValue(discord.SubcommandOptions(i.ApplicationCommandData()), "user")

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	discord.RespondEphemeral(s, i, hc.clear(ctx, caller, target, hc.perms.IsController(i)))
}

// clear forgets target's conversation, or caller's when target is empty.
// Clearing someone else's needs the control role.
func (hc *HistoryCommands) clear(ctx context.Context, caller, target string, controller bool) string {
	if target == "" || target == caller {
		if err := hc.ctrl.ClearHistory(ctx, caller); err != nil {
			return fmt.Sprintf("Failed to clear your history: %v", err)
		}
		return "Your conversation history is cleared."
	}
	if !controller {
		return "You need the control role to clear someone else's history."
	}
	if err := hc.ctrl.ClearHistory(ctx, target); err != nil {
		return fmt.Sprintf("Failed to clear <@%s>'s history: %v", target, err)
	}
	return fmt.Sprintf("Cleared <@%s>'s conversation history.", target)
}
