// Package aimodel holds the closed catalog of AI models the bot can drive.
// The catalog ties together storage (active_model, token grants), the model
// selection menu and the provider registry.
package aimodel

// ID is the stable identifier stored in the database and used in callback data.
type ID string

const (
	ClaudeHaiku  ID = "claude-3-haiku"
	ClaudeSonnet ID = "claude-3-sonnet"
	GPT4oMini    ID = "gpt-4o-mini"
	GPT4o        ID = "gpt-4o"
)

// Default is the model assigned to newly created users.
const Default = ClaudeHaiku

// DefaultGrant is the token allotment seeded for Default on first contact.
const DefaultGrant int64 = 1000

// UnlimitedThreshold marks grants treated as unbounded. Amounts above it are
// rendered as "unlimited" and never gate a turn.
const UnlimitedThreshold int64 = 1_000_000

// Provider kinds, used by the registry to pick a wire protocol.
const (
	KindAnthropic = "anthropic"
	KindOpenAI    = "openai"
)

type entry struct {
	display    string
	apiVersion string
	kind       string
}

var catalog = map[ID]entry{
	ClaudeHaiku:  {display: "Claude 3 Haiku", apiVersion: "claude-3-haiku-20240307", kind: KindAnthropic},
	ClaudeSonnet: {display: "Claude 3 Sonnet", apiVersion: "claude-3-sonnet-20240229", kind: KindAnthropic},
	GPT4oMini:    {display: "GPT-4o mini", apiVersion: "gpt-4o-mini", kind: KindOpenAI},
	GPT4o:        {display: "GPT-4o", apiVersion: "gpt-4o", kind: KindOpenAI},
}

// All returns the catalog in menu order.
func All() []ID {
	return []ID{ClaudeHaiku, ClaudeSonnet, GPT4oMini, GPT4o}
}

func Valid(id ID) bool {
	_, ok := catalog[id]
	return ok
}

// DisplayName returns the human-readable model name shown in menus.
func DisplayName(id ID) string {
	if s, ok := catalog[id]; ok {
		return s.display
	}
	return string(id)
}

// APIVersion returns the wire-level model string sent to the provider.
func APIVersion(id ID) string {
	if s, ok := catalog[id]; ok {
		return s.apiVersion
	}
	return string(id)
}

// Kind returns the provider protocol for the model.
func Kind(id ID) string {
	if s, ok := catalog[id]; ok {
		return s.kind
	}
	return ""
}
