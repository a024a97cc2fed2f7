package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/openai/openai-go/v2"

	"github.com/hubenschmidt/live-translator/internal/metrics"
)

// transcribeTemperature keeps whisper close to greedy decoding.
const transcribeTemperature = 0.2

// Transcriber turns one encoded audio chunk into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, language string) (string, error)
}

// TranscriberRouter dispatches to the configured transcription backend and records stage metrics.
type TranscriberRouter struct {
	*Router[Transcriber]
}

// NewTranscriberRouter creates a router with registered backends and a fallback default.
func NewTranscriberRouter(backends map[string]Transcriber, fallback string) *TranscriberRouter {
	return &TranscriberRouter{Router: NewRouter(backends, fallback)}
}

// Transcribe sends the chunk to the default backend.
func (r *TranscriberRouter) Transcribe(ctx context.Context, audio []byte, language string) (string, error) {
	backend, err := r.Route(r.Default())
	if err != nil {
		return "", err
	}

	ctx, cancel := r.callContext(ctx)
	defer cancel()

	start := time.Now()
	text, err := backend.Transcribe(ctx, audio, language)
	if err != nil {
		metrics.Errors.WithLabelValues("asr", "backend").Inc()
		return "", err
	}
	metrics.StageDuration.WithLabelValues("asr").Observe(time.Since(start).Seconds())
	return text, nil
}

// --- OpenAI backend (whisper-1 via the audio transcriptions API) ---

// OpenAITranscriber uploads chunks to the OpenAI audio transcription endpoint.
type OpenAITranscriber struct {
	client   openai.Client
	model    string
	filename string
}

// NewOpenAITranscriber creates a transcriber for model (e.g. "whisper-1").
// filename carries the container extension the API uses to sniff the format.
func NewOpenAITranscriber(client openai.Client, model, filename string) *OpenAITranscriber {
	if filename == "" {
		filename = "audio.webm"
	}
	return &OpenAITranscriber{client: client, model: model, filename: filename}
}

func (t *OpenAITranscriber) Transcribe(ctx context.Context, audio []byte, language string) (string, error) {
	params := openai.AudioTranscriptionNewParams{
		File:        openai.File(bytes.NewReader(audio), t.filename, contentTypeFor(t.filename)),
		Model:       openai.AudioModel(t.model),
		Temperature: openai.Float(transcribeTemperature),
	}
	if language != "" {
		params.Language = openai.String(language)
	}

	resp, err := t.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai transcription: %w", err)
	}
	return resp.Text, nil
}

// --- whisper.cpp-compatible backend (multipart upload to /inference) ---

// MultipartASRClient sends the raw chunk as a multipart file to any whisper-compatible
// HTTP endpoint. whisper.cpp's server must run with --convert to accept WEBM.
type MultipartASRClient struct {
	url      string
	endpoint string
	label    string
	filename string
	client   *http.Client
}

// NewWhisperServerClient creates a client for whisper.cpp (/inference endpoint).
func NewWhisperServerClient(url string, client *http.Client) *MultipartASRClient {
	return &MultipartASRClient{
		url:      url,
		endpoint: "/inference",
		label:    "whisper",
		filename: "audio.webm",
		client:   client,
	}
}

func (c *MultipartASRClient) Transcribe(ctx context.Context, audio []byte, language string) (string, error) {
	body, contentType, err := buildMultipartAudio(audio, c.filename, map[string]string{
		"language":        language,
		"temperature":     strconv.FormatFloat(transcribeTemperature, 'f', -1, 64),
		"response_format": "json",
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.url+c.endpoint, body)
	if err != nil {
		return "", fmt.Errorf("create %s request: %w", c.label, err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.client.Do(req)
	if err != nil {
		metrics.Errors.WithLabelValues("asr", "http").Inc()
		return "", fmt.Errorf("%s request: %w", c.label, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		metrics.Errors.WithLabelValues("asr", "status").Inc()
		return "", fmt.Errorf("%s status %d: %s", c.label, resp.StatusCode, string(respBody))
	}

	var result whisperResponse
	if err = json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode %s response: %w", c.label, err)
	}
	return result.Text, nil
}

type whisperResponse struct {
	Text string `json:"text"`
}

// --- shared helpers ---

func buildMultipartAudio(audio []byte, filename string, fields map[string]string) (*bytes.Buffer, string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	if _, err = part.Write(audio); err != nil {
		return nil, "", fmt.Errorf("write audio data: %w", err)
	}

	for k, v := range fields {
		if v == "" {
			continue
		}
		if err = writer.WriteField(k, v); err != nil {
			return nil, "", fmt.Errorf("write field %s: %w", k, err)
		}
	}

	if err = writer.Close(); err != nil {
		return nil, "", fmt.Errorf("close writer: %w", err)
	}

	return &body, writer.FormDataContentType(), nil
}

func contentTypeFor(filename string) string {
	switch {
	case strings.HasSuffix(filename, ".wav"):
		return "audio/wav"
	case strings.HasSuffix(filename, ".ogg"):
		return "audio/ogg"
	case strings.HasSuffix(filename, ".mp3"):
		return "audio/mpeg"
	default:
		return "audio/webm"
	}
}
