package discord

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
)

// HandlerFunc handles one slash command or autocomplete interaction.
type HandlerFunc func(s *discordgo.Session, i *discordgo.InteractionCreate)

// CommandRouter maps interactions to handlers by route. A route is the
// command name, or "command/subcommand" for subcommands (e.g. "backend/switch").
type CommandRouter struct {
	mu       sync.RWMutex
	defs     map[string]*discordgo.ApplicationCommand
	handlers map[string]HandlerFunc
	complete map[string]HandlerFunc
}

// NewCommandRouter creates an empty router.
func NewCommandRouter() *CommandRouter {
	return &CommandRouter{
		defs:     make(map[string]*discordgo.ApplicationCommand),
		handlers: make(map[string]HandlerFunc),
		complete: make(map[string]HandlerFunc),
	}
}

// Define adds a top-level command for registration with Discord. Invoking
// the bare command without a subcommand replies with the subcommand list.
func (r *CommandRouter) Define(cmd *discordgo.ApplicationCommand) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs[cmd.Name] = cmd
	if _, ok := r.handlers[cmd.Name]; !ok {
		usage := usageOf(cmd)
		r.handlers[cmd.Name] = func(s *discordgo.Session, i *discordgo.InteractionCreate) {
			RespondEphemeral(s, i, usage)
		}
	}
}

// On sets the handler for route.
func (r *CommandRouter) On(route string, h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[route] = h
}

// OnAutocomplete sets the autocomplete handler for route.
func (r *CommandRouter) OnAutocomplete(route string, h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.complete[route] = h
}

// ApplicationCommands returns every defined command, sorted by name.
func (r *CommandRouter) ApplicationCommands() []*discordgo.ApplicationCommand {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cmds := make([]*discordgo.ApplicationCommand, 0, len(r.defs))
	for _, c := range r.defs {
		cmds = append(cmds, c)
	}
	slices.SortFunc(cmds, func(a, b *discordgo.ApplicationCommand) int { return strings.Compare(a.Name, b.Name) })
	return cmds
}

// Handle dispatches i. A panicking handler is logged and does not take the
// gateway loop down.
func (r *CommandRouter) Handle(s *discordgo.Session, i *discordgo.InteractionCreate) {
	var table map[string]HandlerFunc
	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		table = r.handlers
	case discordgo.InteractionApplicationCommandAutocomplete:
		table = r.complete
	default:
		slog.Debug("discord: ignoring interaction", "type", i.Type)
		return
	}

	key := route(i.ApplicationCommandData())
	r.mu.RLock()
	h, ok := table[key]
	r.mu.RUnlock()

	if !ok {
		if i.Type == discordgo.InteractionApplicationCommandAutocomplete {
			RespondChoices(s, i, nil)
			return
		}
		slog.Warn("discord: unknown command", "route", key)
		RespondEphemeral(s, i, "Unknown command.")
		return
	}

	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			slog.Error("discord: command handler panicked", "route", key, "panic", p)
			return
		}
		slog.Debug("discord: command handled", "route", key, "user", InteractionUserID(i), "elapsed", time.Since(start))
	}()
	h(s, i)
}

func route(data discordgo.ApplicationCommandInteractionData) string {
	if len(data.Options) > 0 && data.Options[0].Type == discordgo.ApplicationCommandOptionSubCommand {
		return data.Name + "/" + data.Options[0].Name
	}
	return data.Name
}

// usageOf lists cmd's subcommands as "`/cmd a` or `/cmd b`".
func usageOf(cmd *discordgo.ApplicationCommand) string {
	var subs []string
	for _, o := range cmd.Options {
		if o.Type == discordgo.ApplicationCommandOptionSubCommand {
			subs = append(subs, fmt.Sprintf("`/%s %s`", cmd.Name, o.Name))
		}
	}
	if len(subs) == 0 {
		return "Unknown command."
	}
	return "Please use a subcommand: " + strings.Join(subs, " or ") + "."
}
