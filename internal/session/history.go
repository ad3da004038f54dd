package session

import (
	"quotabot/internal/providers"
	"quotabot/internal/storage"
)

// contextWindow maps the resolved history plus the new user turn into the
// ordered message list sent to the AI provider, oldest first. A user with no
// history yields a window containing only the new turn.
func contextWindow(turns []storage.Turn, newText string) []providers.Message {
	out := make([]providers.Message, 0, len(turns)+1)
	for _, t := range turns {
		out = append(out, providers.Message{Role: t.Role, Content: t.Text})
	}
	out = append(out, providers.Message{Role: providers.RoleUser, Content: newText})
	return out
}
