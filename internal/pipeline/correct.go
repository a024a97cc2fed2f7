package pipeline

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go/v2"

	"github.com/hubenschmidt/live-translator/internal/metrics"
)

const chatTemperature = 0.2

// ChatClient runs one system+user exchange and returns the assistant reply.
type ChatClient interface {
	Complete(ctx context.Context, systemPrompt, userText string) (string, error)
}

// CorrectorRouter dispatches transcript correction to the configured chat backend.
type CorrectorRouter struct {
	*Router[ChatClient]
}

// NewCorrectorRouter creates a router with registered chat backends and a fallback default.
func NewCorrectorRouter(backends map[string]ChatClient, fallback string) *CorrectorRouter {
	return &CorrectorRouter{Router: NewRouter(backends, fallback)}
}

// Correct asks the default backend to fix spelling and terminology in transcript.
func (r *CorrectorRouter) Correct(ctx context.Context, systemPrompt, transcript string) (string, error) {
	backend, err := r.Route(r.Default())
	if err != nil {
		return "", err
	}

	ctx, cancel := r.callContext(ctx)
	defer cancel()

	start := time.Now()
	text, err := backend.Complete(ctx, systemPrompt, transcript)
	if err != nil {
		metrics.Errors.WithLabelValues("correct", "backend").Inc()
		return "", err
	}
	metrics.StageDuration.WithLabelValues("correct").Observe(time.Since(start).Seconds())
	return text, nil
}

// Passthrough returns the user text unchanged. Registered as the "none" corrector.
type Passthrough struct{}

func (Passthrough) Complete(_ context.Context, _, userText string) (string, error) {
	return userText, nil
}

// --- OpenAI backend (chat completions) ---

// OpenAIChatClient runs chat completions through the OpenAI SDK.
type OpenAIChatClient struct {
	client openai.Client
	model  string
}

// NewOpenAIChatClient creates a chat client for model (e.g. "gpt-4o-mini").
func NewOpenAIChatClient(client openai.Client, model string) *OpenAIChatClient {
	return &OpenAIChatClient{client: client, model: model}
}

func (c *OpenAIChatClient) Complete(ctx context.Context, systemPrompt, userText string) (string, error) {
	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(c.model),
		Temperature: openai.Float(chatTemperature),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userText),
		},
	})
	if err != nil {
		return "", fmt.Errorf("openai chat: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai chat: empty choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// --- Ollama backend (streaming /api/chat) ---

// OllamaChatClient streams chat completions from Ollama and returns the joined reply.
type OllamaChatClient struct {
	url       string
	model     string
	maxTokens int
	client    *http.Client
}

// NewOllamaChatClient creates an Ollama HTTP client.
func NewOllamaChatClient(url, model string, maxTokens int, client *http.Client) *OllamaChatClient {
	return &OllamaChatClient{url: strings.TrimRight(url, "/"), model: model, maxTokens: maxTokens, client: client}
}

func (c *OllamaChatClient) Complete(ctx context.Context, systemPrompt, userText string) (string, error) {
	resp, err := c.postChatRequest(ctx, systemPrompt, userText)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.Errors.WithLabelValues("correct", "status").Inc()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("ollama status %d: %s", resp.StatusCode, body)
	}

	return consumeOllamaStream(resp.Body)
}

func (c *OllamaChatClient) postChatRequest(ctx context.Context, systemPrompt, userText string) (*http.Response, error) {
	reqBody := ollamaRequest{
		Model:  c.model,
		Stream: true,
		Options: ollamaOptions{
			NumPredict:  c.maxTokens,
			Temperature: chatTemperature,
		},
		Messages: []ollamaMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userText},
		},
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal ollama request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.url+"/api/chat", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("create ollama request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		metrics.Errors.WithLabelValues("correct", "http").Inc()
		return nil, fmt.Errorf("ollama request: %w", err)
	}
	return resp, nil
}

// consumeOllamaStream reads NDJSON chunks until the done marker. Reasoning tokens are dropped.
func consumeOllamaStream(body io.Reader) (string, error) {
	var text strings.Builder
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	for scanner.Scan() {
		var chunk ollamaStreamChunk
		if json.Unmarshal(scanner.Bytes(), &chunk) != nil {
			continue
		}
		if chunk.Error != "" {
			return "", fmt.Errorf("ollama: %s", chunk.Error)
		}
		text.WriteString(chunk.Message.Content)
		if chunk.Done {
			return text.String(), nil
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("read ollama stream: %w", err)
	}
	return text.String(), nil
}

type ollamaRequest struct {
	Model    string          `json:"model"`
	Stream   bool            `json:"stream"`
	Messages []ollamaMessage `json:"messages"`
	Options  ollamaOptions   `json:"options"`
}

type ollamaMessage struct {
	Role     string `json:"role"`
	Content  string `json:"content"`
	Thinking string `json:"thinking,omitempty"`
}

type ollamaOptions struct {
	NumPredict  int     `json:"num_predict,omitempty"`
	Temperature float64 `json:"temperature"`
}

type ollamaStreamChunk struct {
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
	Error   string        `json:"error,omitempty"`
}
