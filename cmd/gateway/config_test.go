package main

import (
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig(newViper())
	if err != nil {
		t.Fatal(err)
	}
	if cfg.port != "8000" {
		t.Errorf("port = %q", cfg.port)
	}
	if cfg.defaultLanguage != "en" {
		t.Errorf("default language = %q", cfg.defaultLanguage)
	}
	if cfg.logLevel != slog.LevelInfo {
		t.Errorf("log level = %v", cfg.logLevel)
	}
	if cfg.callTimeout != 0 {
		t.Errorf("collaborator timeout = %v, want none", cfg.callTimeout)
	}
	want := []string{"http://localhost:5173", "https://ai-translator-beryl.vercel.app"}
	if !reflect.DeepEqual(cfg.corsOrigins, want) {
		t.Errorf("cors origins = %v", cfg.corsOrigins)
	}
	if cfg.gate.Threshold != 0.4 || cfg.gate.MinSilence != 500*time.Millisecond || cfg.gate.SampleRate != 16000 {
		t.Errorf("gate = %+v", cfg.gate)
	}
}

func TestLoadConfigEnv(t *testing.T) {
	t.Setenv("GATEWAY_PORT", "9100")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("DEFAULT_LANGUAGE", " DE ")
	t.Setenv("COLLABORATOR_TIMEOUT", "15s")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("VAD_MIN_SPEECH_MS", "300")

	cfg, err := loadConfig(newViper())
	if err != nil {
		t.Fatal(err)
	}
	if cfg.port != "9100" || cfg.logLevel != slog.LevelDebug || cfg.defaultLanguage != "de" {
		t.Errorf("cfg = port %q level %v language %q", cfg.port, cfg.logLevel, cfg.defaultLanguage)
	}
	if cfg.callTimeout != 15*time.Second {
		t.Errorf("collaborator timeout = %v", cfg.callTimeout)
	}
	if !reflect.DeepEqual(cfg.corsOrigins, []string{"https://a.example", "https://b.example"}) {
		t.Errorf("cors origins = %v", cfg.corsOrigins)
	}
	if cfg.gate.MinSpeechDuration != 300*time.Millisecond {
		t.Errorf("min speech = %v", cfg.gate.MinSpeechDuration)
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	yaml := "translate_engine: openai\nmax_concurrent_sessions: 7\ncors_origins:\n  - https://app.example\n"
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MAX_CONCURRENT_SESSIONS", "9")

	v := newViper()
	if err := readConfigFile(v, path); err != nil {
		t.Fatal(err)
	}
	cfg, err := loadConfig(v)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.translateEngine != "openai" {
		t.Errorf("translate engine = %q", cfg.translateEngine)
	}
	if cfg.maxConcurrent != 9 {
		t.Errorf("max concurrent = %d, want env to win", cfg.maxConcurrent)
	}
	if !reflect.DeepEqual(cfg.corsOrigins, []string{"https://app.example"}) {
		t.Errorf("cors origins = %v", cfg.corsOrigins)
	}
}

func TestLoadConfigBadLogLevel(t *testing.T) {
	t.Setenv("LOG_LEVEL", "loud")
	if _, err := loadConfig(newViper()); err == nil {
		t.Fatal("expected error for unknown log level")
	}
}

func TestReadConfigFileMissing(t *testing.T) {
	if err := readConfigFile(newViper(), filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestBuildCollaboratorsRequiresEngines(t *testing.T) {
	cfg, err := loadConfig(newViper())
	if err != nil {
		t.Fatal(err)
	}
	if _, err = buildCollaborators(cfg); err == nil {
		t.Fatal("expected error without any api keys")
	}

	cfg.whisperServerURL = "http://whisper.local"
	cfg.transcribeEngine = "whisper-server"
	cfg.correctEngine = "none"
	cfg.deeplAuthKey = "key:fx"
	c, err := buildCollaborators(cfg)
	if err != nil {
		t.Fatalf("buildCollaborators: %v", err)
	}
	if !c.translator.Has("deepl") || c.translator.Has("openai") {
		t.Errorf("translate engines = %v", c.translator.Engines())
	}

	cfg.anthropicAPIKey = "sk-ant"
	cfg.correctEngine = "anthropic"
	c, err = buildCollaborators(cfg)
	if err != nil {
		t.Fatalf("buildCollaborators with anthropic: %v", err)
	}
	if !c.corrector.Has("anthropic") || !c.translator.Has("anthropic") {
		t.Errorf("anthropic not registered: correct %v translate %v", c.corrector.Engines(), c.translator.Engines())
	}
}
