package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hubenschmidt/live-translator/internal/metrics"
	"github.com/hubenschmidt/live-translator/internal/prompts"
)

const (
	deeplFreeURL = "https://api-free.deepl.com"
	deeplProURL  = "https://api.deepl.com"
)

// Translator converts text between languages. An empty source asks the
// backend to detect the source language.
type Translator interface {
	Translate(ctx context.Context, text, source, target string) (string, error)
}

// TranslatorRouter dispatches to the configured translation backend.
type TranslatorRouter struct {
	*Router[Translator]
}

// NewTranslatorRouter creates a router with registered translation backends and a fallback default.
func NewTranslatorRouter(backends map[string]Translator, fallback string) *TranslatorRouter {
	return &TranslatorRouter{Router: NewRouter(backends, fallback)}
}

// Translate routes to the default backend and records latency.
func (r *TranslatorRouter) Translate(ctx context.Context, text, source, target string) (string, error) {
	backend, err := r.Route(r.Default())
	if err != nil {
		return "", err
	}

	ctx, cancel := r.callContext(ctx)
	defer cancel()

	start := time.Now()
	out, err := backend.Translate(ctx, text, source, target)
	if err != nil {
		metrics.Errors.WithLabelValues("translate", "backend").Inc()
		return "", err
	}
	metrics.StageDuration.WithLabelValues("translate").Observe(time.Since(start).Seconds())
	return out, nil
}

// --- DeepL backend (REST /v2/translate) ---

// DeepLTranslator calls the DeepL REST API.
type DeepLTranslator struct {
	baseURL string
	authKey string
	client  *http.Client
}

// NewDeepLTranslator creates a DeepL client. An empty baseURL picks the free
// or pro host from the key suffix the way DeepL's own SDKs do.
func NewDeepLTranslator(authKey, baseURL string, client *http.Client) *DeepLTranslator {
	if baseURL == "" {
		baseURL = deeplProURL
		if strings.HasSuffix(authKey, ":fx") {
			baseURL = deeplFreeURL
		}
	}
	return &DeepLTranslator{baseURL: strings.TrimRight(baseURL, "/"), authKey: authKey, client: client}
}

func (d *DeepLTranslator) Translate(ctx context.Context, text, source, target string) (string, error) {
	form := url.Values{}
	form.Set("text", text)
	form.Set("target_lang", strings.ToUpper(target))
	if source != "" {
		form.Set("source_lang", strings.ToUpper(source))
	}

	req, err := http.NewRequestWithContext(ctx, "POST", d.baseURL+"/v2/translate", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("create deepl request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "DeepL-Auth-Key "+d.authKey)

	resp, err := d.client.Do(req)
	if err != nil {
		metrics.Errors.WithLabelValues("translate", "http").Inc()
		return "", fmt.Errorf("deepl request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.Errors.WithLabelValues("translate", "status").Inc()
		return "", deeplStatusError(resp)
	}

	var result deeplResponse
	if err = json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode deepl response: %w", err)
	}
	if len(result.Translations) == 0 {
		return "", errors.New("deepl: empty translations")
	}
	return result.Translations[0].Text, nil
}

func deeplStatusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	var msg struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &msg) == nil && msg.Message != "" {
		return fmt.Errorf("deepl status %d: %s", resp.StatusCode, msg.Message)
	}
	return fmt.Errorf("deepl status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}

type deeplResponse struct {
	Translations []struct {
		DetectedSourceLanguage string `json:"detected_source_language"`
		Text                   string `json:"text"`
	} `json:"translations"`
}

// --- LLM backend (any ChatClient with a translation prompt) ---

// LLMTranslator translates by prompting a chat model.
type LLMTranslator struct {
	chat ChatClient
}

// NewLLMTranslator wraps a chat backend as a Translator.
func NewLLMTranslator(chat ChatClient) *LLMTranslator {
	return &LLMTranslator{chat: chat}
}

func (t *LLMTranslator) Translate(ctx context.Context, text, source, target string) (string, error) {
	return t.chat.Complete(ctx, prompts.Translation(source, target), text)
}
