// Package openai streams chat completions from OpenAI-compatible endpoints.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	goopenai "github.com/sashabaranov/go-openai"

	"quotabot/internal/providers"
)

type Config struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
}

type Client struct {
	api *goopenai.Client
}

func New(cfg Config) *Client {
	c := goopenai.DefaultConfig(cfg.APIKey)
	if strings.TrimSpace(cfg.BaseURL) != "" {
		c.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}
	if cfg.HTTPClient != nil {
		c.HTTPClient = cfg.HTTPClient
	}
	return &Client{api: goopenai.NewClientWithConfig(c)}
}

var _ providers.Streamer = (*Client)(nil)

func (c *Client) Stream(ctx context.Context, req providers.StreamRequest) (providers.StreamResult, error) {
	messages := make([]goopenai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, goopenai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	stream, err := c.api.CreateChatCompletionStream(ctx, goopenai.ChatCompletionRequest{
		Model:         req.Model,
		Messages:      messages,
		MaxTokens:     req.MaxTokens,
		Stream:        true,
		StreamOptions: &goopenai.StreamOptions{IncludeUsage: true},
	})
	if err != nil {
		return providers.StreamResult{}, fmt.Errorf("open completion stream: %w", err)
	}
	defer stream.Close()

	var text strings.Builder
	var usedTokens int64
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return providers.StreamResult{}, fmt.Errorf("recv stream chunk: %w", err)
		}
		if chunk.Usage != nil {
			usedTokens = int64(chunk.Usage.TotalTokens)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		text.WriteString(delta)
		if req.OnSnapshot != nil {
			req.OnSnapshot(text.String())
		}
	}

	return providers.StreamResult{Text: text.String(), UsedTokens: usedTokens}, nil
}
