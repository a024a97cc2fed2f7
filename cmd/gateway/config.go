package main

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/hubenschmidt/live-translator/internal/audio"
)

type config struct {
	port            string
	logLevel        slog.Level
	sentryDSN       string
	sentryEnv       string
	maxConcurrent   int
	maxMessageBytes int64
	writeTimeout    time.Duration
	callTimeout     time.Duration
	defaultLanguage string
	corsOrigins     []string
	httpPoolSize    int

	openaiAPIKey  string
	openaiBaseURL string

	transcribeEngine string
	transcribeModel  string
	whisperServerURL string

	correctEngine string
	correctModel  string
	ollamaURL     string
	ollamaModel   string
	llmMaxTokens  int

	anthropicAPIKey string
	anthropicURL    string
	anthropicModel  string

	translateEngine string
	translateModel  string
	deeplAuthKey    string
	deeplURL        string

	ttsEngine         string
	ttsModel          string
	ttsVoice          string
	openaiTTSURL      string
	elevenlabsAPIKey  string
	elevenlabsVoiceID string
	elevenlabsModelID string

	ffmpegPath  string
	audioFormat string

	vadModelPath   string
	onnxRuntimeLib string
	gate           audio.GateConfig
}

// newViper returns a viper instance with every key defaulted. Keys map to
// upper-case environment variables (gateway_port -> GATEWAY_PORT).
func newViper() *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()

	gate := audio.DefaultGateConfig()
	defaults := map[string]any{
		"gateway_port":            "8000",
		"log_level":               "info",
		"sentry_dsn":              "",
		"sentry_environment":      "development",
		"max_concurrent_sessions": 100,
		"max_message_bytes":       10 << 20,
		"write_timeout":           "10s",
		"collaborator_timeout":    "0s",
		"default_language":        "en",
		"cors_origins":            "http://localhost:5173,https://ai-translator-beryl.vercel.app",
		"http_pool_size":          50,

		"openai_api_key":  "",
		"openai_base_url": "",

		"transcribe_engine":  "openai",
		"transcribe_model":   "whisper-1",
		"whisper_server_url": "",

		"correct_engine": "openai",
		"correct_model":  "gpt-4o-mini",
		"ollama_url":     "",
		"ollama_model":   "llama3.2:3b",
		"llm_max_tokens": 512,

		"anthropic_api_key": "",
		"anthropic_url":     "",
		"anthropic_model":   "claude-3-5-haiku-latest",

		"translate_engine": "deepl",
		"translate_model":  "gpt-4o-mini",
		"deepl_auth_key":   "",
		"deepl_url":        "",

		"tts_engine":          "openai",
		"tts_model":           "tts-1",
		"tts_voice":           "alloy",
		"openai_tts_url":      "https://api.openai.com",
		"elevenlabs_api_key":  "",
		"elevenlabs_voice_id": "21m00Tcm4TlvDq8ikWAM",
		"elevenlabs_model_id": "eleven_turbo_v2_5",

		"ffmpeg_path":  "ffmpeg",
		"audio_format": "webm",

		"vad_model_path":     "",
		"onnxruntime_lib":    "",
		"vad_threshold":      gate.Threshold,
		"vad_min_speech_ms":  gate.MinSpeechDuration.Milliseconds(),
		"vad_min_silence_ms": gate.MinSilence.Milliseconds(),
		"vad_speech_pad_ms":  gate.SpeechPad.Milliseconds(),
		"vad_window_samples": gate.WindowSamples,
	}
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	return v
}

// readConfigFile merges an optional YAML file over the defaults. Environment
// variables still take precedence.
func readConfigFile(v *viper.Viper, path string) error {
	if path == "" {
		return nil
	}
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	return nil
}

func loadConfig(v *viper.Viper) (config, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(v.GetString("log_level"))); err != nil {
		return config{}, fmt.Errorf("log_level: %w", err)
	}

	gate := audio.DefaultGateConfig()
	gate.Threshold = float32(v.GetFloat64("vad_threshold"))
	gate.MinSpeechDuration = time.Duration(v.GetInt("vad_min_speech_ms")) * time.Millisecond
	gate.MinSilence = time.Duration(v.GetInt("vad_min_silence_ms")) * time.Millisecond
	gate.SpeechPad = time.Duration(v.GetInt("vad_speech_pad_ms")) * time.Millisecond
	gate.WindowSamples = v.GetInt("vad_window_samples")

	return config{
		port:            v.GetString("gateway_port"),
		logLevel:        level,
		sentryDSN:       v.GetString("sentry_dsn"),
		sentryEnv:       v.GetString("sentry_environment"),
		maxConcurrent:   v.GetInt("max_concurrent_sessions"),
		maxMessageBytes: v.GetInt64("max_message_bytes"),
		writeTimeout:    v.GetDuration("write_timeout"),
		callTimeout:     v.GetDuration("collaborator_timeout"),
		defaultLanguage: strings.ToLower(strings.TrimSpace(v.GetString("default_language"))),
		corsOrigins:     stringList(v, "cors_origins"),
		httpPoolSize:    v.GetInt("http_pool_size"),

		openaiAPIKey:  v.GetString("openai_api_key"),
		openaiBaseURL: v.GetString("openai_base_url"),

		transcribeEngine: v.GetString("transcribe_engine"),
		transcribeModel:  v.GetString("transcribe_model"),
		whisperServerURL: v.GetString("whisper_server_url"),

		correctEngine: v.GetString("correct_engine"),
		correctModel:  v.GetString("correct_model"),
		ollamaURL:     v.GetString("ollama_url"),
		ollamaModel:   v.GetString("ollama_model"),
		llmMaxTokens:  v.GetInt("llm_max_tokens"),

		anthropicAPIKey: v.GetString("anthropic_api_key"),
		anthropicURL:    v.GetString("anthropic_url"),
		anthropicModel:  v.GetString("anthropic_model"),

		translateEngine: v.GetString("translate_engine"),
		translateModel:  v.GetString("translate_model"),
		deeplAuthKey:    v.GetString("deepl_auth_key"),
		deeplURL:        v.GetString("deepl_url"),

		ttsEngine:         v.GetString("tts_engine"),
		ttsModel:          v.GetString("tts_model"),
		ttsVoice:          v.GetString("tts_voice"),
		openaiTTSURL:      v.GetString("openai_tts_url"),
		elevenlabsAPIKey:  v.GetString("elevenlabs_api_key"),
		elevenlabsVoiceID: v.GetString("elevenlabs_voice_id"),
		elevenlabsModelID: v.GetString("elevenlabs_model_id"),

		ffmpegPath:  v.GetString("ffmpeg_path"),
		audioFormat: v.GetString("audio_format"),

		vadModelPath:   v.GetString("vad_model_path"),
		onnxRuntimeLib: v.GetString("onnxruntime_lib"),
		gate:           gate,
	}, nil
}

// stringList accepts a YAML list or a comma separated string.
func stringList(v *viper.Viper, key string) []string {
	var out []string
	for _, item := range v.GetStringSlice(key) {
		for _, part := range strings.Split(item, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}
