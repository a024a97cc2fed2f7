package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hubenschmidt/live-translator/internal/metrics"
)

// Synthesizer produces encoded audio from text.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// SynthesizerRouter dispatches to the configured TTS backend and records latency metrics.
type SynthesizerRouter struct {
	*Router[Synthesizer]
}

// NewSynthesizerRouter creates a router with registered TTS backends and a fallback default.
func NewSynthesizerRouter(backends map[string]Synthesizer, fallback string) *SynthesizerRouter {
	return &SynthesizerRouter{Router: NewRouter(backends, fallback)}
}

// Synthesize routes to the default backend.
func (r *SynthesizerRouter) Synthesize(ctx context.Context, text string) ([]byte, error) {
	backend, err := r.Route(r.Default())
	if err != nil {
		return nil, err
	}

	ctx, cancel := r.callContext(ctx)
	defer cancel()

	start := time.Now()
	audioData, err := backend.Synthesize(ctx, text)
	if err != nil {
		metrics.Errors.WithLabelValues("tts", "synth").Inc()
		return nil, err
	}
	metrics.StageDuration.WithLabelValues("tts").Observe(time.Since(start).Seconds())
	return audioData, nil
}

// --- OpenAI backend (/v1/audio/speech, returns MP3) ---

type openaiSynthesizer struct {
	url    string
	apiKey string
	model  string
	voice  string
	client *http.Client
}

// NewOpenAISynthesizer targets any server exposing /v1/audio/speech.
func NewOpenAISynthesizer(url, apiKey, model, voice string, client *http.Client) Synthesizer {
	return &openaiSynthesizer{url: strings.TrimRight(url, "/"), apiKey: apiKey, model: model, voice: voice, client: client}
}

func (o *openaiSynthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	body, err := json.Marshal(struct {
		Input          string `json:"input"`
		Model          string `json:"model"`
		Voice          string `json:"voice"`
		ResponseFormat string `json:"response_format"`
	}{Input: text, Model: o.model, Voice: o.voice, ResponseFormat: "mp3"})
	if err != nil {
		return nil, fmt.Errorf("marshal openai tts request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", o.url+"/v1/audio/speech", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create openai tts request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if o.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+o.apiKey)
	}

	return doTTSRequest(o.client, req)
}

// --- ElevenLabs backend (cloud API, returns MP3) ---

type elevenlabsSynthesizer struct {
	url     string
	apiKey  string
	voiceID string
	modelID string
	client  *http.Client
}

// NewElevenLabsSynthesizer creates an ElevenLabs client. An empty url uses api.elevenlabs.io.
func NewElevenLabsSynthesizer(url, apiKey, voiceID, modelID string, client *http.Client) Synthesizer {
	if url == "" {
		url = "https://api.elevenlabs.io"
	}
	return &elevenlabsSynthesizer{url: strings.TrimRight(url, "/"), apiKey: apiKey, voiceID: voiceID, modelID: modelID, client: client}
}

func (e *elevenlabsSynthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	body, err := json.Marshal(struct {
		Text    string `json:"text"`
		ModelID string `json:"model_id"`
	}{Text: text, ModelID: e.modelID})
	if err != nil {
		return nil, fmt.Errorf("marshal elevenlabs request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", fmt.Sprintf("%s/v1/text-to-speech/%s", e.url, e.voiceID), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create elevenlabs request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", e.apiKey)
	req.Header.Set("Accept", "audio/mpeg")

	return doTTSRequest(e.client, req)
}

func doTTSRequest(client *http.Client, req *http.Request) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tts request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("tts status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return io.ReadAll(resp.Body)
}
