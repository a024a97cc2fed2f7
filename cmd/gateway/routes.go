package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// maxSpeechRequestBytes bounds the JSON body of /api/generate-speech.
const maxSpeechRequestBytes = 1 << 20

type speechSynthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

type deps struct {
	transcription http.Handler
	translation   http.Handler
	synthesizer   speechSynthesizer
	engines       map[string][]string
	corsOrigins   []string
}

// registerRoutes wires all HTTP endpoints to the shared mux.
func registerRoutes(mux *http.ServeMux, d deps) {
	mux.Handle("/ws/transcribe", d.transcription)
	mux.Handle("/ws/translate", d.translation)
	mux.HandleFunc("/health", handleHealth)
	mux.Handle("/metrics", promhttp.Handler())

	api := http.NewServeMux()
	api.HandleFunc("POST /api/generate-speech", d.handleGenerateSpeech)
	api.HandleFunc("GET /api/health", handleAPIHealth)
	api.HandleFunc("GET /api/engines", d.handleEngines)
	mux.Handle("/api/", withCORS(d.corsOrigins, api))
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func handleAPIHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (d deps) handleEngines(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, d.engines)
}

func (d deps) handleGenerateSpeech(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSpeechRequestBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "text is required"})
		return
	}

	audioData, err := d.synthesizer.Synthesize(r.Context(), req.Text)
	if err != nil {
		slog.Error("generate speech", "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "speech synthesis failed"})
		return
	}

	w.Header().Set("Content-Type", "audio/mp3")
	w.WriteHeader(http.StatusOK)
	w.Write(audioData)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// withCORS allows credentialed requests from the configured origins and
// answers preflight requests directly.
func withCORS(origins []string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" || !slices.Contains(origins, origin) {
			next.ServeHTTP(w, r)
			return
		}

		h := w.Header()
		h.Set("Access-Control-Allow-Origin", origin)
		h.Set("Access-Control-Allow-Credentials", "true")
		h.Add("Vary", "Origin")

		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			h.Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
			if reqHeaders := r.Header.Get("Access-Control-Request-Headers"); reqHeaders != "" {
				h.Set("Access-Control-Allow-Headers", reqHeaders)
			}
			h.Set("Access-Control-Max-Age", "600")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
