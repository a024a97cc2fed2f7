package pipeline

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	anthropicDefaultURL = "https://api.anthropic.com"
	anthropicVersion    = "2023-06-01"
)

// AnthropicChatClient streams replies from the Anthropic Messages API.
type AnthropicChatClient struct {
	apiKey    string
	url       string
	model     string
	maxTokens int
	client    *http.Client
}

// NewAnthropicChatClient creates a Messages API client. An empty url selects the public endpoint.
func NewAnthropicChatClient(apiKey, url, model string, maxTokens int, client *http.Client) *AnthropicChatClient {
	if url == "" {
		url = anthropicDefaultURL
	}
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &AnthropicChatClient{
		apiKey:    apiKey,
		url:       strings.TrimRight(url, "/"),
		model:     model,
		maxTokens: maxTokens,
		client:    client,
	}
}

func (c *AnthropicChatClient) Complete(ctx context.Context, systemPrompt, userText string) (string, error) {
	body, err := json.Marshal(anthropicRequest{
		Model:       c.model,
		MaxTokens:   c.maxTokens,
		Stream:      true,
		Temperature: chatTemperature,
		System:      systemPrompt,
		Messages:    []anthropicMessage{{Role: "user", Content: userText}},
	})
	if err != nil {
		return "", fmt.Errorf("marshal anthropic request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.url+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create anthropic request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("anthropic request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("anthropic status %d: %s", resp.StatusCode, errBody)
	}

	return consumeAnthropicStream(resp.Body)
}

// consumeAnthropicStream joins text deltas from an SSE stream until message_stop.
// Thinking deltas are dropped.
func consumeAnthropicStream(body io.Reader) (string, error) {
	var text strings.Builder
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	var eventType string

	for scanner.Scan() {
		line := scanner.Text()

		if strings.HasPrefix(line, "event: ") {
			eventType = strings.TrimPrefix(line, "event: ")
			continue
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := []byte(strings.TrimPrefix(line, "data: "))

		switch eventType {
		case "message_stop":
			return text.String(), nil
		case "error":
			var ev anthropicErrorEvent
			if json.Unmarshal(data, &ev) == nil && ev.Error.Message != "" {
				return "", fmt.Errorf("anthropic: %s", ev.Error.Message)
			}
			return "", fmt.Errorf("anthropic: %s", data)
		case "content_block_delta":
			var ev anthropicDeltaEvent
			if json.Unmarshal(data, &ev) != nil || ev.Delta.Type != "text_delta" {
				continue
			}
			text.WriteString(ev.Delta.Text)
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("read anthropic stream: %w", err)
	}
	return text.String(), nil
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Stream      bool               `json:"stream"`
	Temperature float64            `json:"temperature"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicDeltaEvent struct {
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text,omitempty"`
	} `json:"delta"`
}

type anthropicErrorEvent struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}
