package generation

import (
	"sync"

	"github.com/MrWong99/parley/pkg/memory"
	"github.com/MrWong99/parley/pkg/provider/llm"
)

// history is one participant's bounded conversation. Entries always come in
// (user, assistant) pairs, so len(msgs) is even and trimming removes whole
// pairs from the front.
type history struct {
	mu     sync.Mutex
	msgs   []llm.Message
	seeded bool
}

func (h *history) snapshot() []llm.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]llm.Message(nil), h.msgs...)
}

func (h *history) appendPair(prompt, reply string, maxPairs int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.msgs = append(h.msgs,
		llm.Message{Role: llm.RoleUser, Content: prompt},
		llm.Message{Role: llm.RoleAssistant, Content: reply},
	)
	h.trimLocked(maxPairs)
}

func (h *history) trim(maxPairs int) {
	h.mu.Lock()
	h.trimLocked(maxPairs)
	h.mu.Unlock()
}

func (h *history) trimLocked(maxPairs int) {
	if excess := len(h.msgs) - 2*maxPairs; excess > 0 {
		// excess is even because both lengths are.
		h.msgs = append([]llm.Message(nil), h.msgs[excess:]...)
	}
}

func (h *history) clear() {
	h.mu.Lock()
	h.msgs = nil
	h.seeded = true
	h.mu.Unlock()
}

// pairsFromLog turns logged entries (oldest first) into complete
// user/assistant pairs. Unpaired entries are skipped.
func pairsFromLog(entries []memory.Entry) []llm.Message {
	var msgs []llm.Message
	for i := 0; i+1 < len(entries); i++ {
		u, a := entries[i], entries[i+1]
		if u.Role != string(llm.RoleUser) || a.Role != string(llm.RoleAssistant) {
			continue
		}
		msgs = append(msgs,
			llm.Message{Role: llm.RoleUser, Content: u.Text},
			llm.Message{Role: llm.RoleAssistant, Content: a.Text},
		)
		i++
	}
	return msgs
}
