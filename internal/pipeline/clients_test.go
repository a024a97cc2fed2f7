package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

func newTestOpenAI(t *testing.T, handler http.HandlerFunc) openai.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return openai.NewClient(
		option.WithAPIKey("test-key"),
		option.WithBaseURL(srv.URL+"/"),
		option.WithMaxRetries(0),
	)
}

func TestOpenAITranscriber(t *testing.T) {
	client := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/transcriptions" {
			http.NotFound(w, r)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		if got := r.FormValue("model"); got != "whisper-1" {
			t.Errorf("model = %q", got)
		}
		if got := r.FormValue("language"); got != "de" {
			t.Errorf("language = %q", got)
		}
		_, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("file part: %v", err)
			return
		}
		if header.Filename != "audio.webm" {
			t.Errorf("filename = %q", header.Filename)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"text":"guten tag"}`)
	})

	got, err := NewOpenAITranscriber(client, "whisper-1", "").Transcribe(context.Background(), []byte("webm"), "de")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got != "guten tag" {
		t.Errorf("text = %q", got)
	}
}

func TestOpenAIChatClient(t *testing.T) {
	client := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		var body struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode: %v", err)
			return
		}
		if body.Model != "gpt-4o-mini" || len(body.Messages) != 2 {
			t.Errorf("request = %+v", body)
			return
		}
		if body.Messages[0].Role != "system" || body.Messages[1].Content != "teh cat" {
			t.Errorf("messages = %+v", body.Messages)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":"c1","object":"chat.completion","created":0,"model":"gpt-4o-mini",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"the cat"}}]}`)
	})

	got, err := NewOpenAIChatClient(client, "gpt-4o-mini").Complete(context.Background(), "fix", "teh cat")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got != "the cat" {
		t.Errorf("reply = %q", got)
	}
}

func TestOpenAIChatClientError(t *testing.T) {
	client := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"error":{"message":"bad key","type":"invalid_request_error"}}`)
	})
	if _, err := NewOpenAIChatClient(client, "gpt-4o-mini").Complete(context.Background(), "s", "u"); err == nil {
		t.Fatal("expected error on 401")
	}
}

func TestWhisperServerClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/inference" {
			http.NotFound(w, r)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
			return
		}
		if got := r.FormValue("language"); got != "fr" {
			t.Errorf("language = %q", got)
		}
		if got := r.FormValue("temperature"); got != "0.2" {
			t.Errorf("temperature = %q", got)
		}
		f, _, err := r.FormFile("file")
		if err != nil {
			t.Errorf("file part: %v", err)
			return
		}
		data, _ := io.ReadAll(f)
		if string(data) != "chunk" {
			t.Errorf("file = %q", data)
		}
		io.WriteString(w, `{"text":" bonjour"}`)
	}))
	defer srv.Close()

	got, err := NewWhisperServerClient(srv.URL, srv.Client()).Transcribe(context.Background(), []byte("chunk"), "fr")
	if err != nil {
		t.Fatal(err)
	}
	if got != " bonjour" {
		t.Errorf("text = %q", got)
	}
}

func TestWhisperServerClientStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewWhisperServerClient(srv.URL, srv.Client()).Transcribe(context.Background(), []byte("x"), "en")
	if err == nil || !strings.Contains(err.Error(), "500") {
		t.Fatalf("err = %v, want status 500", err)
	}
}

func TestOllamaChatClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ollamaRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
			return
		}
		if !req.Stream || req.Model != "llama3" || len(req.Messages) != 2 {
			t.Errorf("request = %+v", req)
		}
		for _, tok := range []string{"the", " cat"} {
			fmt.Fprintf(w, `{"message":{"role":"assistant","content":%q},"done":false}`+"\n", tok)
		}
		io.WriteString(w, `{"message":{"role":"assistant","content":""},"done":true}`+"\n")
	}))
	defer srv.Close()

	got, err := NewOllamaChatClient(srv.URL, "llama3", 256, srv.Client()).Complete(context.Background(), "fix", "teh cat")
	if err != nil {
		t.Fatal(err)
	}
	if got != "the cat" {
		t.Errorf("reply = %q", got)
	}
}

func TestOllamaStreamError(t *testing.T) {
	_, err := consumeOllamaStream(strings.NewReader(`{"error":"model not found"}` + "\n"))
	if err == nil || !strings.Contains(err.Error(), "model not found") {
		t.Fatalf("err = %v", err)
	}
}

func TestAnthropicChatClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			http.NotFound(w, r)
			return
		}
		if got := r.Header.Get("x-api-key"); got != "sk-ant" {
			t.Errorf("api key = %q", got)
		}
		if got := r.Header.Get("anthropic-version"); got != anthropicVersion {
			t.Errorf("version = %q", got)
		}
		var req anthropicRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
			return
		}
		if req.System != "fix" || !req.Stream || len(req.Messages) != 1 || req.Messages[0].Content != "teh cat" {
			t.Errorf("request = %+v", req)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "event: message_start\ndata: {}\n\n")
		io.WriteString(w, "event: content_block_delta\ndata: {\"delta\":{\"type\":\"thinking_delta\",\"thinking\":\"hmm\"}}\n\n")
		io.WriteString(w, "event: content_block_delta\ndata: {\"delta\":{\"type\":\"text_delta\",\"text\":\"the\"}}\n\n")
		io.WriteString(w, "event: content_block_delta\ndata: {\"delta\":{\"type\":\"text_delta\",\"text\":\" cat\"}}\n\n")
		io.WriteString(w, "event: message_stop\ndata: {}\n\n")
	}))
	defer srv.Close()

	got, err := NewAnthropicChatClient("sk-ant", srv.URL, "claude-haiku", 0, srv.Client()).Complete(context.Background(), "fix", "teh cat")
	if err != nil {
		t.Fatal(err)
	}
	if got != "the cat" {
		t.Errorf("reply = %q", got)
	}
}

func TestAnthropicStreamError(t *testing.T) {
	stream := "event: error\ndata: {\"type\":\"error\",\"error\":{\"type\":\"overloaded_error\",\"message\":\"Overloaded\"}}\n\n"
	_, err := consumeAnthropicStream(strings.NewReader(stream))
	if err == nil || !strings.Contains(err.Error(), "Overloaded") {
		t.Fatalf("err = %v", err)
	}
}

func TestAnthropicChatClientStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"bad key"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := NewAnthropicChatClient("bad", srv.URL, "m", 64, srv.Client()).Complete(context.Background(), "s", "u")
	if err == nil || !strings.Contains(err.Error(), "401") {
		t.Fatalf("err = %v", err)
	}
}

func TestDeepLTranslator(t *testing.T) {
	tests := []struct {
		name       string
		source     string
		wantSource string
	}{
		{name: "explicit source", source: "en", wantSource: "EN"},
		{name: "auto detect", source: "", wantSource: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/v2/translate" {
					http.NotFound(w, r)
					return
				}
				if got := r.Header.Get("Authorization"); got != "DeepL-Auth-Key secret" {
					t.Errorf("auth = %q", got)
				}
				if err := r.ParseForm(); err != nil {
					t.Error(err)
					return
				}
				if got := r.PostForm.Get("target_lang"); got != "ES" {
					t.Errorf("target_lang = %q", got)
				}
				if got := r.PostForm.Get("source_lang"); got != tt.wantSource {
					t.Errorf("source_lang = %q, want %q", got, tt.wantSource)
				}
				if got := r.PostForm.Get("text"); got != "hello" {
					t.Errorf("text = %q", got)
				}
				io.WriteString(w, `{"translations":[{"detected_source_language":"EN","text":"hola"}]}`)
			}))
			defer srv.Close()

			got, err := NewDeepLTranslator("secret", srv.URL, srv.Client()).Translate(context.Background(), "hello", tt.source, "es")
			if err != nil {
				t.Error(err)
				return
			}
			if got != "hola" {
				t.Errorf("translation = %q", got)
			}
		})
	}
}

func TestDeepLTranslatorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"message":"Value for 'target_lang' not supported."}`)
	}))
	defer srv.Close()

	_, err := NewDeepLTranslator("k", srv.URL, srv.Client()).Translate(context.Background(), "x", "", "zz")
	if err == nil || !strings.Contains(err.Error(), "not supported") {
		t.Fatalf("err = %v", err)
	}
}

func TestDeepLHostFromKey(t *testing.T) {
	if d := NewDeepLTranslator("abc:fx", "", nil); d.baseURL != deeplFreeURL {
		t.Errorf("free key base = %q", d.baseURL)
	}
	if d := NewDeepLTranslator("abc", "", nil); d.baseURL != deeplProURL {
		t.Errorf("pro key base = %q", d.baseURL)
	}
}

func TestOpenAISynthesizer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/speech" {
			http.NotFound(w, r)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk" {
			t.Errorf("auth = %q", got)
		}
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["model"] != "tts-1" || body["voice"] != "alloy" || body["response_format"] != "mp3" {
			t.Errorf("body = %v", body)
		}
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Write([]byte("ID3mp3"))
	}))
	defer srv.Close()

	router := NewSynthesizerRouter(map[string]Synthesizer{
		"openai": NewOpenAISynthesizer(srv.URL, "sk", "tts-1", "alloy", srv.Client()),
	}, "openai")
	got, err := router.Synthesize(context.Background(), "hello")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "ID3mp3" {
		t.Errorf("audio = %q", got)
	}
}

func TestElevenLabsSynthesizer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/text-to-speech/voice1" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("xi-api-key") != "k" || r.Header.Get("Accept") != "audio/mpeg" {
			t.Errorf("headers = %v", r.Header)
		}
		w.Write([]byte("mp3"))
	}))
	defer srv.Close()

	got, err := NewElevenLabsSynthesizer(srv.URL, "k", "voice1", "eleven_turbo_v2", srv.Client()).Synthesize(context.Background(), "hi")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "mp3" {
		t.Errorf("audio = %q", got)
	}
}

func TestSynthesizerStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewOpenAISynthesizer(srv.URL, "", "tts-1", "alloy", srv.Client()).Synthesize(context.Background(), "x")
	if err == nil || !strings.Contains(err.Error(), "429") {
		t.Fatalf("err = %v", err)
	}
}

func TestPooledHTTPClient(t *testing.T) {
	tests := []struct {
		name     string
		poolSize int
		wantPool int
	}{
		{name: "configured", poolSize: 4, wantPool: 4},
		{name: "zero falls back", poolSize: 0, wantPool: defaultPoolSize},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewPooledHTTPClient(tt.poolSize, 3*time.Second)
			tr, ok := c.Transport.(*http.Transport)
			if !ok {
				t.Fatalf("transport = %T", c.Transport)
			}
			if tr.MaxIdleConnsPerHost != tt.wantPool || tr.MaxIdleConns != tt.wantPool*4 {
				t.Errorf("pool = %d/%d, want %d", tr.MaxIdleConnsPerHost, tr.MaxIdleConns, tt.wantPool)
			}
			if c.Timeout != 3*time.Second {
				t.Errorf("timeout = %v", c.Timeout)
			}
		})
	}
}
