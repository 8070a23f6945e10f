// Package voicecmd recognises spoken shortcuts in final transcripts and runs
// them instead of sending the utterance to the language backend.
//
// Supported phrases:
//
//	forget our conversation          clears the speaker's history
//	which backend are you using      names the active backend
//	switch the backend to <name>     control role only
//
// A [Filter] implements [pipeline.Interceptor].
package voicecmd

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/MrWong99/parley/internal/generation"
	"github.com/MrWong99/parley/internal/pipeline"
)

// Controller is the part of the application a spoken shortcut may drive.
type Controller interface {
	SwitchBackend(name string) bool
	BackendStatus() []generation.BackendStatus
	ClearHistory(ctx context.Context, participantID string) error
}

// Pattern pairs a compiled regex with the action to execute when it matches.
type Pattern struct {
	// Name is a label for logging.
	Name string

	// Regex is matched against the trimmed transcript.
	Regex *regexp.Regexp

	// ControlOnly restricts the pattern to participants holding the
	// control role.
	ControlOnly bool

	// Action runs the command and returns the spoken acknowledgement.
	// matches is the submatch slice from Regex.FindStringSubmatch.
	Action func(ctx context.Context, f *Filter, participantID string, matches []string) (string, error)
}

// Option configures a [Filter].
type Option func(*Filter)

// WithControlCheck sets the predicate deciding whether a participant holds
// the control role. Default: nobody does.
func WithControlCheck(fn func(participantID string) bool) Option {
	return func(f *Filter) {
		if fn != nil {
			f.isController = fn
		}
	}
}

var _ pipeline.Interceptor = (*Filter)(nil)

// Filter is stateless after construction and safe for concurrent use.
type Filter struct {
	ctrl         Controller
	patterns     []Pattern
	matcher      *nameMatcher
	isController func(participantID string) bool
}

// New creates a Filter driving ctrl with the built-in patterns.
func New(ctrl Controller, opts ...Option) *Filter {
	f := &Filter{
		ctrl:         ctrl,
		patterns:     defaultPatterns(),
		matcher:      newNameMatcher(),
		isController: func(string) bool { return false },
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Intercept implements [pipeline.Interceptor]. A matching pattern is always
// handled, even when its action fails or the speaker lacks permission; the
// returned acknowledgement then says so.
func (f *Filter) Intercept(ctx context.Context, participantID, text string) (string, bool) {
	trimmed := strings.TrimRight(strings.TrimSpace(text), ".!?")
	if trimmed == "" {
		return "", false
	}

	for _, p := range f.patterns {
		matches := p.Regex.FindStringSubmatch(trimmed)
		if matches == nil {
			continue
		}
		log := slog.With("pattern", p.Name, "participant", participantID)

		if p.ControlOnly && !f.isController(participantID) {
			log.Info("voicecmd: refused, speaker lacks control role")
			return "Sorry, you're not allowed to do that.", true
		}

		ack, err := p.Action(ctx, f, participantID, matches)
		if err != nil {
			log.Warn("voicecmd: command failed", "text", trimmed, "err", err)
			return "Sorry, that didn't work.", true
		}
		log.Info("voicecmd: command executed", "text", trimmed)
		return ack, true
	}
	return "", false
}

func defaultPatterns() []Pattern {
	return []Pattern{
		{
			Name:  "forget-history",
			Regex: regexp.MustCompile(`(?i)^(please\s+)?(forget|clear)\s+(our|my|this)\s+(conversation|history)$`),
			Action: func(ctx context.Context, f *Filter, participantID string, _ []string) (string, error) {
				if err := f.ctrl.ClearHistory(ctx, participantID); err != nil {
					return "", err
				}
				return "Okay, I've forgotten our conversation.", nil
			},
		},
		{
			Name:  "which-backend",
			Regex: regexp.MustCompile(`(?i)^(which|what)\s+(backend|model)\s+are\s+you\s+(using|on)$`),
			Action: func(_ context.Context, f *Filter, _ string, _ []string) (string, error) {
				for _, st := range f.ctrl.BackendStatus() {
					if st.Active {
						return fmt.Sprintf("I'm using %s.", st.Name), nil
					}
				}
				return "No backend is active right now.", nil
			},
		},
		{
			Name:        "switch-backend",
			Regex:       regexp.MustCompile(`(?i)^(switch|change|use)\s+(the\s+)?(backend|model)\s+(to\s+)?(.+)$`),
			ControlOnly: true,
			Action: func(_ context.Context, f *Filter, _ string, matches []string) (string, error) {
				return f.switchBackend(matches[5])
			},
		},
	}
}

func (f *Filter) switchBackend(spoken string) (string, error) {
	var names []string
	for _, st := range f.ctrl.BackendStatus() {
		names = append(names, st.Name)
	}
	name, ok := f.matcher.Match(spoken, names)
	if !ok {
		return fmt.Sprintf("I don't know a backend called %s.", strings.TrimSpace(spoken)), nil
	}
	if !f.ctrl.SwitchBackend(name) {
		return fmt.Sprintf("%s isn't available right now.", name), nil
	}
	return fmt.Sprintf("Switched to %s.", name), nil
}
