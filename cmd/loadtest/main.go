package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hubenschmidt/live-translator/internal/audio"
)

func main() {
	gateway := flag.String("gateway", "ws://localhost:8000", "gateway base URL")
	mode := flag.String("mode", "transcribe", "session kind (transcribe|translate)")
	concurrency := flag.Int("concurrency", 10, "number of concurrent sessions")
	duration := flag.Duration("duration", 30*time.Second, "test duration")
	cycles := flag.Int("cycles", 5, "requests per session")
	audioDir := flag.String("audio-dir", "/samples", "directory with sample audio chunks")
	language := flag.String("language", "en", "transcription language / translation target")
	flag.Parse()

	files, err := findAudioFiles(*audioDir)
	if *mode == "transcribe" && (err != nil || len(files) == 0) {
		fmt.Fprintf(os.Stderr, "no audio files in %s, generating synthetic audio\n", *audioDir)
		files = nil
	}

	url := strings.TrimRight(*gateway, "/") + "/ws/" + *mode
	fmt.Printf("Load test: %d concurrent sessions for %s\n", *concurrency, *duration)
	fmt.Printf("Endpoint: %s | Cycles per session: %d\n\n", url, *cycles)

	var mu sync.Mutex
	var results []sessionResult
	var wg sync.WaitGroup

	deadline := time.Now().Add(*duration)

	for range *concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()

			for time.Now().Before(deadline) {
				r := runSession(url, *mode, *language, *cycles, files)
				mu.Lock()
				results = append(results, r)
				mu.Unlock()
			}
		}()
	}

	wg.Wait()
	printSummary(results)
}

type sessionResult struct {
	latenciesMs []float64
	errors      int
	err         string
}

type reply struct {
	Message *string `json:"message"`
	Error   string  `json:"error"`
}

func runSession(url, mode, language string, cycles int, files []string) sessionResult {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return sessionResult{err: fmt.Sprintf("dial: %v", err)}
	}
	defer conn.Close()

	var res sessionResult
	for range cycles {
		start := time.Now()
		if err = sendRequest(conn, mode, language, files); err != nil {
			res.err = err.Error()
			return res
		}

		r, err := readReply(conn)
		if err != nil {
			res.err = err.Error()
			return res
		}
		if r.Error != "" {
			res.errors++
			continue
		}
		res.latenciesMs = append(res.latenciesMs, float64(time.Since(start).Milliseconds()))
	}

	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return res
}

func sendRequest(conn *websocket.Conn, mode, language string, files []string) error {
	if mode == "translate" {
		req, _ := json.Marshal(map[string]string{
			"text":            "The patient reports mild chest pain after exercise.",
			"target_language": language,
		})
		return conn.WriteMessage(websocket.TextMessage, req)
	}

	meta, _ := json.Marshal(map[string]string{"language": language})
	if err := conn.WriteMessage(websocket.TextMessage, meta); err != nil {
		return fmt.Errorf("send metadata: %w", err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, getAudioData(files)); err != nil {
		return fmt.Errorf("send audio: %w", err)
	}
	return nil
}

// readReply waits for the next frame. A chunk the gate rejects never gets a
// reply, so the deadline doubles as the silence timeout.
func readReply(conn *websocket.Conn) (*reply, error) {
	conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	var r reply
	if err = json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode reply: %w", err)
	}
	return &r, nil
}

func getAudioData(files []string) []byte {
	if len(files) > 0 {
		data, err := os.ReadFile(files[rand.Intn(len(files))])
		if err == nil {
			return data
		}
	}
	return generateSyntheticAudio(3 * time.Second)
}

// generateSyntheticAudio returns a WAV chunk: a tone with noise between
// short silences, loud enough to pass the speech gate.
func generateSyntheticAudio(dur time.Duration) []byte {
	sampleRate := audio.TargetSampleRate
	numSamples := int(dur.Seconds() * float64(sampleRate))
	samples := make([]float32, numSamples)
	lead := sampleRate / 4

	for i := lead; i < numSamples-lead; i++ {
		t := float64(i) / float64(sampleRate)
		samples[i] = float32(math.Sin(2*math.Pi*440*t)*0.3 + (rand.Float64()-0.5)*0.05)
	}
	return audio.SamplesToWAV(samples, sampleRate)
}

var audioExts = map[string]bool{".wav": true, ".webm": true, ".ogg": true, ".mp3": true}

func findAudioFiles(dir string) ([]string, error) {
	var files []string
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if audioExts[filepath.Ext(e.Name())] {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	return files, nil
}

func printSummary(results []sessionResult) {
	var succeeded, failed, replyErrors int
	var all []float64

	for _, r := range results {
		replyErrors += r.errors
		all = append(all, r.latenciesMs...)
		if r.err != "" {
			failed++
			continue
		}
		succeeded++
	}

	fmt.Printf("\n=== Load Test Results ===\n")
	fmt.Printf("Sessions completed: %d\n", succeeded)
	fmt.Printf("Sessions failed:    %d\n", failed)
	fmt.Printf("Error replies:      %d\n", replyErrors)

	if len(all) == 0 {
		fmt.Println("No successful replies to report latency")
		return
	}

	fmt.Printf("\n%-8s %8s %8s %8s\n", "Replies", "p50", "p95", "p99")
	fmt.Printf("%-8d %6.0fms %6.0fms %6.0fms\n", len(all), percentile(all, 50), percentile(all, 95), percentile(all, 99))
}

func percentile(data []float64, pct float64) float64 {
	sort.Float64s(data)
	idx := int(math.Ceil(pct/100*float64(len(data)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(data) {
		idx = len(data) - 1
	}
	return data[idx]
}
