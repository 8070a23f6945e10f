package generation

import (
	"strings"

	"github.com/MrWong99/parley/pkg/provider/llm"
)

// Persona is the character the agent speaks as.
type Persona struct {
	Name        string
	Role        string
	Background  string
	SpeechStyle string
}

// IsZero reports whether no field is set.
func (p Persona) IsZero() bool {
	return p == Persona{}
}

// Preamble renders the persona as the system message text. Replies are
// spoken aloud, so the preamble always asks for short plain sentences.
func (p Persona) Preamble() string {
	if p.IsZero() {
		return ""
	}
	var b strings.Builder
	if p.Name != "" {
		b.WriteString("You are " + p.Name + ".")
	}
	if p.Role != "" {
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(p.Role)
	}
	if p.Background != "" {
		b.WriteString("\n\nBackground: " + p.Background)
	}
	if p.SpeechStyle != "" {
		b.WriteString("\n\nSpeech style: " + p.SpeechStyle)
	}
	b.WriteString("\n\nYour replies are converted to speech. Answer in a few short sentences without markdown, lists or emoji.")
	return strings.TrimSpace(b.String())
}

func (p Persona) message() (llm.Message, bool) {
	text := p.Preamble()
	if text == "" {
		return llm.Message{}, false
	}
	return llm.Message{Role: llm.RoleSystem, Content: text}, true
}
