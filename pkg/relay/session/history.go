package session

import (
	"time"

	"github.com/voxrelay/voxrelay/pkg/llm"
)

// Turn is one entry of the conversation history. ID ties the entry to
// the published conversation events; Partial marks an assistant turn
// whose generation was cut off before completion.
type Turn struct {
	ID        string
	Role      llm.Role
	Text      string
	Partial   bool
	Timestamp time.Time
}

type historyManager struct {
	turns []Turn
}

func newHistoryManager() *historyManager {
	return &historyManager{turns: make([]Turn, 0, 16)}
}

func (h *historyManager) appendUser(id, text string, at time.Time) {
	h.turns = append(h.turns, Turn{ID: id, Role: llm.RoleUser, Text: text, Timestamp: at})
}

func (h *historyManager) appendAssistant(id, text string, partial bool, at time.Time) {
	h.turns = append(h.turns, Turn{ID: id, Role: llm.RoleAssistant, Text: text, Partial: partial, Timestamp: at})
}

func (h *historyManager) clear() {
	h.turns = h.turns[:0]
}

func (h *historyManager) size() int {
	return len(h.turns)
}

func (h *historyManager) snapshot() []Turn {
	out := make([]Turn, len(h.turns))
	copy(out, h.turns)
	return out
}

// window returns the last n turns as prompt messages. Turns with no
// text (an interrupted generation can leave an empty partial turn) are
// skipped because providers reject empty message content.
func (h *historyManager) window(n int) []llm.Message {
	turns := h.turns
	if n > 0 && len(turns) > n {
		turns = turns[len(turns)-n:]
	}
	out := make([]llm.Message, 0, len(turns))
	for _, t := range turns {
		if t.Text == "" {
			continue
		}
		out = append(out, llm.Message{Role: t.Role, Text: t.Text})
	}
	return out
}
