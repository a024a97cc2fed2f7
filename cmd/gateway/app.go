package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"github.com/hubenschmidt/live-translator/internal/audio"
	"github.com/hubenschmidt/live-translator/internal/pipeline"
	"github.com/hubenschmidt/live-translator/internal/silero"
	"github.com/hubenschmidt/live-translator/internal/ws"
)

// collaborators holds the routed external services shared by every session.
type collaborators struct {
	transcriber *pipeline.TranscriberRouter
	corrector   *pipeline.CorrectorRouter
	translator  *pipeline.TranslatorRouter
	synthesizer *pipeline.SynthesizerRouter
}

func newOpenAIClient(cfg config, httpClient *http.Client) openai.Client {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.openaiAPIKey),
		option.WithHTTPClient(httpClient),
	}
	if cfg.openaiBaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.openaiBaseURL))
	}
	return openai.NewClient(opts...)
}

// buildCollaborators registers every backend the configuration enables and
// checks that the selected engines exist.
func buildCollaborators(cfg config) (*collaborators, error) {
	httpClient := pipeline.NewPooledHTTPClient(cfg.httpPoolSize, 60*time.Second)

	transcribers := map[string]pipeline.Transcriber{}
	chats := map[string]pipeline.ChatClient{"none": pipeline.Passthrough{}}
	translators := map[string]pipeline.Translator{}
	synthesizers := map[string]pipeline.Synthesizer{}

	if cfg.openaiAPIKey != "" {
		client := newOpenAIClient(cfg, httpClient)
		transcribers["openai"] = pipeline.NewOpenAITranscriber(client, cfg.transcribeModel, "audio."+cfg.audioFormat)
		chats["openai"] = pipeline.NewOpenAIChatClient(client, cfg.correctModel)
		translators["openai"] = pipeline.NewLLMTranslator(pipeline.NewOpenAIChatClient(client, cfg.translateModel))
		synthesizers["openai"] = pipeline.NewOpenAISynthesizer(cfg.openaiTTSURL, cfg.openaiAPIKey, cfg.ttsModel, cfg.ttsVoice, httpClient)
	}
	if cfg.whisperServerURL != "" {
		transcribers["whisper-server"] = pipeline.NewWhisperServerClient(cfg.whisperServerURL, httpClient)
	}
	if cfg.ollamaURL != "" {
		ollama := pipeline.NewOllamaChatClient(cfg.ollamaURL, cfg.ollamaModel, cfg.llmMaxTokens, httpClient)
		chats["ollama"] = ollama
		translators["ollama"] = pipeline.NewLLMTranslator(ollama)
	}
	if cfg.anthropicAPIKey != "" {
		claude := pipeline.NewAnthropicChatClient(cfg.anthropicAPIKey, cfg.anthropicURL, cfg.anthropicModel, cfg.llmMaxTokens, httpClient)
		chats["anthropic"] = claude
		translators["anthropic"] = pipeline.NewLLMTranslator(claude)
	}
	if cfg.deeplAuthKey != "" {
		translators["deepl"] = pipeline.NewDeepLTranslator(cfg.deeplAuthKey, cfg.deeplURL, httpClient)
	}
	if cfg.elevenlabsAPIKey != "" {
		synthesizers["elevenlabs"] = pipeline.NewElevenLabsSynthesizer("", cfg.elevenlabsAPIKey, cfg.elevenlabsVoiceID, cfg.elevenlabsModelID, httpClient)
	}

	c := &collaborators{
		transcriber: pipeline.NewTranscriberRouter(transcribers, cfg.transcribeEngine),
		corrector:   pipeline.NewCorrectorRouter(chats, cfg.correctEngine),
		translator:  pipeline.NewTranslatorRouter(translators, cfg.translateEngine),
		synthesizer: pipeline.NewSynthesizerRouter(synthesizers, cfg.ttsEngine),
	}
	for _, r := range []interface{ SetTimeout(time.Duration) }{c.transcriber, c.corrector, c.translator, c.synthesizer} {
		r.SetTimeout(cfg.callTimeout)
	}

	checks := []struct {
		stage   string
		engine  string
		present bool
	}{
		{"transcribe", cfg.transcribeEngine, c.transcriber.Has(cfg.transcribeEngine)},
		{"correct", cfg.correctEngine, c.corrector.Has(cfg.correctEngine)},
		{"translate", cfg.translateEngine, c.translator.Has(cfg.translateEngine)},
	}
	for _, chk := range checks {
		if !chk.present {
			return nil, fmt.Errorf("%s engine %q is not configured (missing key or url)", chk.stage, chk.engine)
		}
	}
	if !c.synthesizer.Has(cfg.ttsEngine) {
		slog.Warn("tts engine not configured, /api/generate-speech will fail", "engine", cfg.ttsEngine)
	}

	slog.Info("collaborators ready",
		"transcribe", c.transcriber.Engines(),
		"correct", c.corrector.Engines(),
		"translate", c.translator.Engines(),
		"tts", c.synthesizer.Engines(),
	)
	return c, nil
}

// loadSpeechModel returns the Silero model when a path is configured and the
// energy model otherwise. The returned func releases model resources.
func loadSpeechModel(cfg config) (audio.SpeechModel, func(), error) {
	if cfg.vadModelPath == "" {
		slog.Info("speech gate using energy model")
		return audio.DefaultEnergyModel(), func() {}, nil
	}
	m, err := silero.Load(silero.Config{
		ModelPath:     cfg.vadModelPath,
		LibraryPath:   cfg.onnxRuntimeLib,
		WindowSamples: cfg.gate.WindowSamples,
		SampleRate:    cfg.gate.SampleRate,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("load silero model: %w", err)
	}
	slog.Info("speech gate using silero", "model", cfg.vadModelPath)
	return m, func() {
		if err := m.Close(); err != nil {
			slog.Warn("close silero model", "error", err)
		}
	}, nil
}

func newNormalizer(cfg config) *audio.Normalizer {
	return audio.NewNormalizer(audio.NewSniffDecoder(audio.NewFFmpegDecoder(cfg.ffmpegPath, cfg.audioFormat)), cfg.gate.SampleRate)
}

// newHandler assembles the full HTTP surface.
func newHandler(cfg config, c *collaborators, gate *audio.Gate) http.Handler {
	supervisor := func(kind string, fn ws.SessionFunc) http.Handler {
		return ws.NewSupervisor(ws.SupervisorConfig{
			Kind:            kind,
			MaxConcurrent:   cfg.maxConcurrent,
			MaxMessageBytes: cfg.maxMessageBytes,
			WriteTimeout:    cfg.writeTimeout,
		}, fn)
	}

	transcription := ws.NewTranscriptionSession(ws.TranscriptionConfig{
		Normalizer:      newNormalizer(cfg),
		Gate:            gate,
		Transcriber:     c.transcriber,
		Corrector:       c.corrector,
		DefaultLanguage: cfg.defaultLanguage,
	})

	mux := http.NewServeMux()
	registerRoutes(mux, deps{
		transcription: supervisor(ws.KindTranscription, transcription),
		translation:   supervisor(ws.KindTranslation, ws.NewTranslationSession(c.translator)),
		synthesizer:   c.synthesizer,
		engines: map[string][]string{
			"transcribe": c.transcriber.Engines(),
			"correct":    c.corrector.Engines(),
			"translate":  c.translator.Engines(),
			"tts":        c.synthesizer.Engines(),
		},
		corsOrigins: cfg.corsOrigins,
	})
	return mux
}
