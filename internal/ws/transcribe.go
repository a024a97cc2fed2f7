package ws

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hubenschmidt/live-translator/internal/audio"
	"github.com/hubenschmidt/live-translator/internal/metrics"
	"github.com/hubenschmidt/live-translator/internal/prompts"
)

const defaultLanguage = "en"

// Transcriber turns an encoded audio chunk into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, language string) (string, error)
}

// Corrector cleans up a raw transcript.
type Corrector interface {
	Correct(ctx context.Context, systemPrompt, transcript string) (string, error)
}

// TranscriptionConfig holds the shared dependencies of transcription sessions.
type TranscriptionConfig struct {
	Normalizer      *audio.Normalizer
	Gate            *audio.Gate
	Transcriber     Transcriber
	Corrector       Corrector
	DefaultLanguage string
}

// transcriptionMetadata is the text frame that precedes every audio chunk.
// Language stays raw so a missing or non-string value falls back to the default.
type transcriptionMetadata struct {
	Language json.RawMessage `json:"language"`
}

func (m transcriptionMetadata) language(fallback string) string {
	var code string
	if len(m.Language) == 0 || json.Unmarshal(m.Language, &code) != nil {
		return fallback
	}
	if code = normalizeLanguage(code); code != "" {
		return code
	}
	return fallback
}

// NewTranscriptionSession returns the session loop for /ws/transcribe.
// Each cycle reads one metadata frame and one audio frame; chunks without
// speech produce no output.
func NewTranscriptionSession(cfg TranscriptionConfig) SessionFunc {
	if cfg.DefaultLanguage == "" {
		cfg.DefaultLanguage = defaultLanguage
	}
	return func(ctx context.Context, c *Conn) error {
		for {
			if err := transcribeCycle(ctx, c, cfg); err != nil {
				return err
			}
		}
	}
}

func transcribeCycle(ctx context.Context, c *Conn, cfg TranscriptionConfig) error {
	language, err := readTranscriptionMetadata(ctx, c, cfg.DefaultLanguage)
	if err != nil {
		return err
	}

	chunk, err := readAudio(ctx, c)
	if err != nil {
		return err
	}
	metrics.AudioChunks.Inc()

	speech, err := hasSpeech(ctx, c, cfg, chunk)
	if err != nil || !speech {
		return err
	}
	metrics.SpeechChunks.Inc()

	transcript, err := cfg.Transcriber.Transcribe(ctx, chunk, language)
	if err != nil {
		return fmt.Errorf("transcribe: %w", err)
	}

	corrected, err := cfg.Corrector.Correct(ctx, prompts.Correction(language), transcript)
	if err != nil {
		return fmt.Errorf("correct transcript: %w", err)
	}

	c.log.Debug("transcribed", "language", language, "chars", len(corrected))
	return c.sendMessage(KindTranscription, " "+corrected)
}

func readTranscriptionMetadata(ctx context.Context, c *Conn, fallback string) (string, error) {
	f, err := c.next(ctx)
	if err != nil {
		return "", err
	}
	if f.messageType != websocket.TextMessage {
		return "", fmt.Errorf("%w: expected metadata text frame, got binary", ErrProtocol)
	}

	var meta transcriptionMetadata
	if err = decodeObject(f.data, &meta); err != nil {
		return "", fmt.Errorf("%w: metadata: %v", ErrProtocol, err)
	}

	return meta.language(fallback), nil
}

func readAudio(ctx context.Context, c *Conn) ([]byte, error) {
	f, err := c.next(ctx)
	if err != nil {
		return nil, err
	}
	if f.messageType != websocket.BinaryMessage {
		return nil, fmt.Errorf("%w: expected binary audio frame, got text", ErrProtocol)
	}
	return f.data, nil
}

// hasSpeech normalizes the chunk and runs the gate. Undecodable chunks are
// skipped rather than failing the session.
func hasSpeech(ctx context.Context, c *Conn, cfg TranscriptionConfig, chunk []byte) (bool, error) {
	start := time.Now()
	wave, err := cfg.Normalizer.Normalize(ctx, chunk)
	var decErr *audio.DecodeError
	if errors.As(err, &decErr) {
		metrics.ChunksSkipped.WithLabelValues("decode").Inc()
		c.log.Warn("skipping undecodable chunk", "format", decErr.Format, "bytes", len(chunk), "error", decErr.Err)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("normalize: %w", err)
	}
	metrics.StageDuration.WithLabelValues("normalize").Observe(time.Since(start).Seconds())

	start = time.Now()
	speech, err := cfg.Gate.Detect(wave)
	if err != nil {
		return false, fmt.Errorf("speech gate: %w", err)
	}
	metrics.StageDuration.WithLabelValues("vad").Observe(time.Since(start).Seconds())

	if !speech {
		metrics.ChunksSkipped.WithLabelValues("silence").Inc()
		c.log.Debug("no speech in chunk", "duration_ms", wave.Duration().Milliseconds())
	}
	return speech, nil
}

// decodeObject requires data to be a single JSON object.
func decodeObject(data []byte, v any) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return errors.New("not a JSON object")
	}
	return json.Unmarshal(trimmed, v)
}

func normalizeLanguage(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}
