// Package anthropic streams the Anthropic Messages API over SSE.
package anthropic

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"quotabot/internal/providers"
)

const (
	defaultBaseURL = "https://api.anthropic.com"
	apiVersion     = "2023-06-01"
)

type Config struct {
	BaseURL     string
	APIKey      string
	HTTPClient  *http.Client
	MaxRetries  int
	BackoffBase time.Duration
}

type Client struct {
	cfg Config
}

func New(cfg Config) *Client {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 120 * time.Second}
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 400 * time.Millisecond
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &Client{cfg: cfg}
}

var _ providers.Streamer = (*Client)(nil)

func (c *Client) Stream(ctx context.Context, req providers.StreamRequest) (providers.StreamResult, error) {
	body, err := buildPayload(req)
	if err != nil {
		return providers.StreamResult{}, err
	}
	endpointURL := strings.TrimSuffix(c.cfg.BaseURL, "/") + "/v1/messages"

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		res, retry, err := c.callOnce(ctx, endpointURL, body, req.OnSnapshot)
		if err == nil {
			return res, nil
		}
		lastErr = err
		// Retry only failures seen before any stream bytes arrived.
		if !retry || attempt == c.cfg.MaxRetries {
			break
		}
		backoff := c.cfg.BackoffBase * (1 << attempt)
		select {
		case <-ctx.Done():
			return providers.StreamResult{}, ctx.Err()
		case <-time.After(backoff):
		}
	}

	return providers.StreamResult{}, lastErr
}

func buildPayload(req providers.StreamRequest) ([]byte, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	var system string
	messages := make([]map[string]string, 0, len(req.Messages))
	for _, m := range req.Messages {
		if m.Role == providers.RoleSystem {
			system = m.Content
			continue
		}
		messages = append(messages, map[string]string{"role": m.Role, "content": m.Content})
	}

	payload := map[string]any{
		"model":      req.Model,
		"max_tokens": maxTokens,
		"messages":   messages,
		"stream":     true,
	}
	if strings.TrimSpace(system) != "" {
		payload["system"] = system
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal messages payload: %w", err)
	}
	return b, nil
}

func (c *Client) callOnce(ctx context.Context, endpointURL string, body []byte, onSnapshot func(string)) (res providers.StreamResult, retry bool, err error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpointURL, bytes.NewReader(body))
	if err != nil {
		return providers.StreamResult{}, false, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("X-Api-Key", c.cfg.APIKey)
	httpReq.Header.Set("Anthropic-Version", apiVersion)

	resp, err := c.cfg.HTTPClient.Do(httpReq)
	if err != nil {
		return providers.StreamResult{}, true, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return providers.StreamResult{}, true, fmt.Errorf("provider temporary status %d", resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return providers.StreamResult{}, false, fmt.Errorf("provider status %d: %s", resp.StatusCode, strings.TrimSpace(string(errBody)))
	}

	res, err = consumeStream(resp.Body, onSnapshot)
	if err != nil {
		return providers.StreamResult{}, false, err
	}
	return res, false, nil
}

// Event payloads carry their own type field, so the "event:" lines can be
// ignored and only "data:" lines decoded.
type streamEvent struct {
	Type    string `json:"type"`
	Message struct {
		Usage struct {
			InputTokens int64 `json:"input_tokens"`
		} `json:"usage"`
	} `json:"message"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
	Usage struct {
		OutputTokens int64 `json:"output_tokens"`
	} `json:"usage"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func consumeStream(r io.Reader, onSnapshot func(string)) (providers.StreamResult, error) {
	var text strings.Builder
	var inputTokens, outputTokens int64

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64<<10), 1<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}

		var ev streamEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			return providers.StreamResult{}, fmt.Errorf("decode stream event: %w", err)
		}

		switch ev.Type {
		case "message_start":
			inputTokens = ev.Message.Usage.InputTokens
		case "content_block_delta":
			if ev.Delta.Text == "" {
				continue
			}
			text.WriteString(ev.Delta.Text)
			if onSnapshot != nil {
				onSnapshot(text.String())
			}
		case "message_delta":
			outputTokens = ev.Usage.OutputTokens
		case "error":
			return providers.StreamResult{}, fmt.Errorf("provider stream error %s: %s", ev.Error.Type, ev.Error.Message)
		}
	}
	if err := scanner.Err(); err != nil {
		return providers.StreamResult{}, fmt.Errorf("read stream: %w", err)
	}

	return providers.StreamResult{
		Text:       text.String(),
		UsedTokens: inputTokens + outputTokens,
	}, nil
}
