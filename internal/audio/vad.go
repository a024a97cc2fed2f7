package audio

import (
	"fmt"
	"math"
	"time"
)

// SpeechModel scores fixed-size windows of 16 kHz mono audio with the
// probability that each window contains speech. Implementations that carry
// recurrent state must reset it at the start of every Score call.
type SpeechModel interface {
	Score(windows [][]float32, sampleRate int) ([]float32, error)
}

// GateConfig controls the speech interval policy applied on top of the
// per-window model scores.
type GateConfig struct {
	Threshold         float32
	MinSpeechDuration time.Duration
	MinSilence        time.Duration
	WindowSamples     int
	SpeechPad         time.Duration
	SampleRate        int
}

// DefaultGateConfig returns the tuning used for browser microphone chunks.
func DefaultGateConfig() GateConfig {
	return GateConfig{
		Threshold:         0.4,
		MinSpeechDuration: 250 * time.Millisecond,
		MinSilence:        500 * time.Millisecond,
		WindowSamples:     1024,
		SpeechPad:         50 * time.Millisecond,
		SampleRate:        TargetSampleRate,
	}
}

// Segment is a detected speech interval in samples, End exclusive.
type Segment struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Gate decides whether a waveform contains speech. The model is shared by
// every session; Gate itself holds no mutable state.
type Gate struct {
	cfg   GateConfig
	model SpeechModel
}

// NewGate creates a speech gate over model.
func NewGate(model SpeechModel, cfg GateConfig) (*Gate, error) {
	if model == nil {
		return nil, fmt.Errorf("speech gate: nil model")
	}
	if cfg.Threshold <= 0 || cfg.Threshold > 1 {
		return nil, fmt.Errorf("speech gate: threshold must be in (0, 1], got %v", cfg.Threshold)
	}
	if cfg.WindowSamples <= 0 {
		return nil, fmt.Errorf("speech gate: window must be positive, got %d", cfg.WindowSamples)
	}
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("speech gate: sample rate must be positive, got %d", cfg.SampleRate)
	}
	return &Gate{cfg: cfg, model: model}, nil
}

// Detect reports whether at least one speech segment survives filtering.
func (g *Gate) Detect(w *Waveform) (bool, error) {
	segs, err := g.Segments(w)
	if err != nil {
		return false, err
	}
	return len(segs) > 0, nil
}

// Segments returns the padded speech intervals of w.
func (g *Gate) Segments(w *Waveform) ([]Segment, error) {
	if w.SampleRate != g.cfg.SampleRate {
		return nil, fmt.Errorf("speech gate: waveform at %d Hz, want %d Hz", w.SampleRate, g.cfg.SampleRate)
	}
	if len(w.Samples) == 0 {
		return nil, nil
	}

	windows := splitWindows(w.Samples, g.cfg.WindowSamples)
	probs, err := g.model.Score(windows, g.cfg.SampleRate)
	if err != nil {
		return nil, fmt.Errorf("speech model: %w", err)
	}
	if len(probs) != len(windows) {
		return nil, fmt.Errorf("speech model: %d scores for %d windows", len(probs), len(windows))
	}

	return g.segmentsFromScores(probs, len(w.Samples)), nil
}

// splitWindows cuts samples into windows of size n, zero-padding the last one.
func splitWindows(samples []float32, n int) [][]float32 {
	count := (len(samples) + n - 1) / n
	windows := make([][]float32, count)
	for i := range count {
		start := i * n
		end := start + n
		if end <= len(samples) {
			windows[i] = samples[start:end]
			continue
		}
		last := make([]float32, n)
		copy(last, samples[start:])
		windows[i] = last
	}
	return windows
}

func (g *Gate) samples(d time.Duration) int {
	return int(int64(g.cfg.SampleRate) * d.Milliseconds() / 1000)
}

// segmentsFromScores turns per-window scores into speech intervals:
// a segment opens on a score at or above the threshold, closes once scores
// stay below threshold-0.15 for the minimum silence, and is kept only if it
// is longer than the minimum speech duration. Surviving segments get padded.
func (g *Gate) segmentsFromScores(probs []float32, total int) []Segment {
	win := g.cfg.WindowSamples
	minSpeech := g.samples(g.cfg.MinSpeechDuration)
	minSilence := g.samples(g.cfg.MinSilence)
	negThreshold := g.cfg.Threshold - 0.15

	var (
		speeches  []Segment
		cur       Segment
		triggered bool
		tempEnd   int
	)

	for i, p := range probs {
		pos := win * i

		if p >= g.cfg.Threshold && tempEnd != 0 {
			tempEnd = 0
		}

		if p >= g.cfg.Threshold && !triggered {
			triggered = true
			cur.Start = pos
			continue
		}

		if p >= negThreshold || !triggered {
			continue
		}

		if tempEnd == 0 {
			tempEnd = pos
		}
		if pos-tempEnd < minSilence {
			continue
		}

		cur.End = tempEnd
		if cur.End-cur.Start > minSpeech {
			speeches = append(speeches, cur)
		}
		cur = Segment{}
		tempEnd = 0
		triggered = false
	}

	if triggered && total-cur.Start > minSpeech {
		cur.End = total
		speeches = append(speeches, cur)
	}

	return g.pad(speeches, total)
}

func (g *Gate) pad(speeches []Segment, total int) []Segment {
	pad := g.samples(g.cfg.SpeechPad)

	for i := range speeches {
		if i == 0 {
			speeches[i].Start = max(0, speeches[i].Start-pad)
		}
		if i == len(speeches)-1 {
			speeches[i].End = min(total, speeches[i].End+pad)
			continue
		}

		silence := speeches[i+1].Start - speeches[i].End
		if silence < 2*pad {
			speeches[i].End += silence / 2
			speeches[i+1].Start = max(0, speeches[i+1].Start-silence/2)
			continue
		}
		speeches[i].End = min(total, speeches[i].End+pad)
		speeches[i+1].Start = max(0, speeches[i+1].Start-pad)
	}

	return speeches
}

// EnergyModel scores windows by loudness: a logistic curve over the RMS
// level in dBFS. Stateless and safe for concurrent use.
type EnergyModel struct {
	MidpointDB float64
	SlopeDB    float64
}

// DefaultEnergyModel returns an energy model centred at -40 dBFS.
func DefaultEnergyModel() EnergyModel {
	return EnergyModel{MidpointDB: -40, SlopeDB: 4}
}

func (m EnergyModel) Score(windows [][]float32, _ int) ([]float32, error) {
	slope := m.SlopeDB
	if slope <= 0 {
		slope = 1
	}
	out := make([]float32, len(windows))
	for i, w := range windows {
		db := computeEnergyDB(w)
		out[i] = float32(1 / (1 + math.Exp(-(db-m.MidpointDB)/slope)))
	}
	return out, nil
}

func computeEnergyDB(samples []float32) float64 {
	if len(samples) == 0 {
		return -100
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	rms := math.Sqrt(sum / float64(len(samples)))
	if rms < 1e-10 {
		return -100
	}
	return 20 * math.Log10(rms)
}
