// Package registry maps catalog models onto the streaming clients that
// implement their wire protocol.
package registry

import (
	"fmt"
	"net/http"
	"time"

	"quotabot/internal/aimodel"
	"quotabot/internal/providers"
	"quotabot/internal/providers/anthropic"
	"quotabot/internal/providers/openai"
)

type Config struct {
	OpenAIAPIKey     string
	OpenAIBaseURL    string
	AnthropicAPIKey  string
	AnthropicBaseURL string
	HTTPClient       *http.Client
	MaxRetries       int
	BackoffBase      time.Duration
}

type Registry struct {
	openai    providers.Streamer
	anthropic providers.Streamer
}

func New(cfg Config) *Registry {
	return &Registry{
		openai: openai.New(openai.Config{
			APIKey:     cfg.OpenAIAPIKey,
			BaseURL:    cfg.OpenAIBaseURL,
			HTTPClient: cfg.HTTPClient,
		}),
		anthropic: anthropic.New(anthropic.Config{
			BaseURL:     cfg.AnthropicBaseURL,
			APIKey:      cfg.AnthropicAPIKey,
			HTTPClient:  cfg.HTTPClient,
			MaxRetries:  cfg.MaxRetries,
			BackoffBase: cfg.BackoffBase,
		}),
	}
}

func (r *Registry) ForModel(id aimodel.ID) (providers.Streamer, error) {
	switch aimodel.Kind(id) {
	case aimodel.KindOpenAI:
		return r.openai, nil
	case aimodel.KindAnthropic:
		return r.anthropic, nil
	default:
		return nil, fmt.Errorf("unsupported model %q", id)
	}
}
