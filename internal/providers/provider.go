package providers

import "context"

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string
	Content string
}

// StreamRequest drives one generation. OnSnapshot receives cumulative text
// snapshots (never deltas) as the provider streams; it may be nil.
type StreamRequest struct {
	Model      string
	Messages   []Message
	MaxTokens  int
	OnSnapshot func(text string)
}

// StreamResult carries the final text and the total token usage
// (input + output) reported by the provider.
type StreamResult struct {
	Text       string
	UsedTokens int64
}

type Streamer interface {
	Stream(ctx context.Context, req StreamRequest) (StreamResult, error)
}
