package commands

import (
	"fmt"
	"strings"

	"github.com/antzucaro/matchr"
	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/parley/internal/discord"
)

// suggestThreshold is the minimum Jaro-Winkler similarity for a "did you
// mean" hint.
const suggestThreshold = 0.75

const (
	embedColorGreen  = 0x2ECC71
	embedColorOrange = 0xE67E22
)

// BackendCommands handles the /backend command group.
type BackendCommands struct {
	ctrl  Controller
	perms *discord.PermissionChecker
}

// NewBackendCommands creates a BackendCommands handler.
func NewBackendCommands(ctrl Controller, perms *discord.PermissionChecker) *BackendCommands {
	return &BackendCommands{ctrl: ctrl, perms: perms}
}

// Register registers /backend switch and /backend status with the router.
func (bc *BackendCommands) Register(router *discord.CommandRouter) {
	router.Define(bc.Definition())
	router.On("backend/switch", bc.handleSwitch)
	router.On("backend/status", bc.handleStatus)
	router.OnAutocomplete("backend/switch", bc.handleAutocomplete)
}

// Definition returns the /backend ApplicationCommand for Discord registration.
func (bc *BackendCommands) Definition() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        "backend",
		Description: "Inspect or change the language backend",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "switch",
				Description: "Make another backend the active one",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:         discordgo.ApplicationCommandOptionString,
						Name:         "name",
						Description:  "Backend name",
						Required:     true,
						Autocomplete: true,
					},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "status",
				Description: "Show every backend with its availability and usage",
			},
		},
	}
}

func (bc *BackendCommands) handleSwitch(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if !bc.perms.IsController(i) {
		discord.RespondEphemeral(s, i, "You need the control role to switch backends.")
		return
	}
	name := discord.OptionValue(discord.SubcommandOptions(i.ApplicationCommandData()), "name")
	discord.RespondEphemeral(s, i, bc.switchTo(name))
}

// switchTo switches to name and describes the outcome.
func (bc *BackendCommands) switchTo(name string) string {
	name = strings.TrimSpace(name)
	if bc.ctrl.SwitchBackend(name) {
		return fmt.Sprintf("Now answering with **%s**.", name)
	}

	statuses := bc.ctrl.BackendStatus()
	names := make([]string, 0, len(statuses))
	for _, st := range statuses {
		if st.Name == name {
			return fmt.Sprintf("Backend **%s** is not available right now; the active backend is unchanged.", name)
		}
		names = append(names, st.Name)
	}
	if guess, ok := suggest(name, names); ok {
		return fmt.Sprintf("Unknown backend %q. Did you mean **%s**?", name, guess)
	}
	return fmt.Sprintf("Unknown backend %q. Known backends: %s.", name, strings.Join(names, ", "))
}

// suggest returns the candidate most similar to name, if any is close enough.
func suggest(name string, candidates []string) (string, bool) {
	best, bestScore := "", 0.0
	for _, c := range candidates {
		score := matchr.JaroWinkler(strings.ToLower(name), strings.ToLower(c), false)
		if score > bestScore {
			best, bestScore = c, score
		}
	}
	return best, bestScore >= suggestThreshold
}

func (bc *BackendCommands) handleStatus(s *discordgo.Session, i *discordgo.InteractionCreate) {
	discord.RespondEmbed(s, i, bc.statusEmbed())
}

func (bc *BackendCommands) statusEmbed() *discordgo.MessageEmbed {
	statuses := bc.ctrl.BackendStatus()
	embed := &discordgo.MessageEmbed{
		Title: "Language backends",
		Color: embedColorOrange,
	}
	for _, st := range statuses {
		state := "unavailable"
		if st.Available {
			state = "available"
		}
		name := st.Name
		if st.Active {
			name += " (active)"
			if st.Available {
				embed.Color = embedColorGreen
			}
		}
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name: name,
			Value: fmt.Sprintf("%s\n%d requests · %d tokens · %d key rotations",
				state, st.Usage.Requests, st.Usage.Tokens, st.Usage.Rotations),
			Inline: true,
		})
	}
	if len(statuses) == 0 {
		embed.Description = "No backends are registered."
	}
	return embed
}

func (bc *BackendCommands) handleAutocomplete(s *discordgo.Session, i *discordgo.InteractionCreate) {
	typed := discord.OptionValue(discord.SubcommandOptions(i.ApplicationCommandData()), "name")
	discord.RespondChoices(s, i, bc.choices(typed))
}

// choices lists available backends whose name starts with prefix.
func (bc *BackendCommands) choices(prefix string) []*discordgo.ApplicationCommandOptionChoice {
	prefix = strings.ToLower(prefix)
	var out []*discordgo.ApplicationCommandOptionChoice
	for _, st := range bc.ctrl.BackendStatus() {
		if !st.Available || !strings.HasPrefix(strings.ToLower(st.Name), prefix) {
			continue
		}
		out = append(out, &discordgo.ApplicationCommandOptionChoice{Name: st.Name, Value: st.Name})
		if len(out) == 25 {
			break
		}
	}
	return out
}
