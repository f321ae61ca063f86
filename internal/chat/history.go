package chat

import (
	"strings"

	"github.com/suPer8Hu/repochat/internal/ai"
)

const DefaultHistoryCap = 8

// BuildHistory returns the last limit usable messages in chronological order. Messages with
// blank content or a role other than user/assistant are skipped; citations are kept only on
// assistant messages that have some.
func BuildHistory(items []ai.HistoryMessage, limit int) []ai.HistoryMessage {
	if limit <= 0 {
		limit = DefaultHistoryCap
	}
	out := make([]ai.HistoryMessage, 0, min(len(items), limit))
	for _, m := range items {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		if m.Role != RoleUser && m.Role != RoleAssistant {
			continue
		}
		h := ai.HistoryMessage{Role: m.Role, Content: m.Content}
		if m.Role == RoleAssistant && len(m.Citations) > 0 {
			h.Citations = m.Citations
		}
		out = append(out, h)
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

func historyFromMessages(msgs []Message) []ai.HistoryMessage {
	out := make([]ai.HistoryMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, ai.HistoryMessage{Role: m.Role, Content: m.Content, Citations: m.Citations})
	}
	return out
}
