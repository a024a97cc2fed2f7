// Package silero runs the Silero VAD v4 ONNX model through onnxruntime.
//
// The model is recurrent: hidden state is carried from window to window and
// reset at the start of every Score call, so inference is serialized with a
// mutex. One Model is loaded at startup and shared by all sessions.
package silero

import (
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// Config locates the model and the onnxruntime shared library.
type Config struct {
	ModelPath     string
	LibraryPath   string
	WindowSamples int
	SampleRate    int
}

// Model scores audio windows with Silero VAD.
type Model struct {
	mu         sync.Mutex
	window     int
	sampleRate int

	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	sr      *ort.Tensor[int64]
	h       *ort.Tensor[float32]
	c       *ort.Tensor[float32]
	output  *ort.Tensor[float32]
	hn      *ort.Tensor[float32]
	cn      *ort.Tensor[float32]
}

// Load initializes onnxruntime (once per process) and creates a session
// with tensors sized for cfg.WindowSamples.
func Load(cfg Config) (*Model, error) {
	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("silero: model path required")
	}
	if cfg.WindowSamples <= 0 || cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("silero: window %d and sample rate %d must be positive", cfg.WindowSamples, cfg.SampleRate)
	}

	if !ort.IsInitialized() {
		if cfg.LibraryPath != "" {
			ort.SetSharedLibraryPath(cfg.LibraryPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("silero: init onnxruntime: %w", err)
		}
	}

	m := &Model{window: cfg.WindowSamples, sampleRate: cfg.SampleRate}
	if err := m.allocate(); err != nil {
		m.Close()
		return nil, err
	}

	session, err := ort.NewAdvancedSession(cfg.ModelPath,
		[]string{"input", "sr", "h", "c"},
		[]string{"output", "hn", "cn"},
		[]ort.Value{m.input, m.sr, m.h, m.c},
		[]ort.Value{m.output, m.hn, m.cn},
		nil)
	if err != nil {
		m.Close()
		return nil, fmt.Errorf("silero: create session: %w", err)
	}
	m.session = session
	return m, nil
}

func (m *Model) allocate() error {
	var err error
	if m.input, err = ort.NewEmptyTensor[float32](ort.NewShape(1, int64(m.window))); err != nil {
		return fmt.Errorf("silero: input tensor: %w", err)
	}
	if m.sr, err = ort.NewTensor(ort.NewShape(1), []int64{int64(m.sampleRate)}); err != nil {
		return fmt.Errorf("silero: sr tensor: %w", err)
	}
	if m.h, err = ort.NewEmptyTensor[float32](ort.NewShape(2, 1, 64)); err != nil {
		return fmt.Errorf("silero: h tensor: %w", err)
	}
	if m.c, err = ort.NewEmptyTensor[float32](ort.NewShape(2, 1, 64)); err != nil {
		return fmt.Errorf("silero: c tensor: %w", err)
	}
	if m.output, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 1)); err != nil {
		return fmt.Errorf("silero: output tensor: %w", err)
	}
	if m.hn, err = ort.NewEmptyTensor[float32](ort.NewShape(2, 1, 64)); err != nil {
		return fmt.Errorf("silero: hn tensor: %w", err)
	}
	if m.cn, err = ort.NewEmptyTensor[float32](ort.NewShape(2, 1, 64)); err != nil {
		return fmt.Errorf("silero: cn tensor: %w", err)
	}
	return nil
}

// Score returns one speech probability per window.
func (m *Model) Score(windows [][]float32, sampleRate int) ([]float32, error) {
	if sampleRate != m.sampleRate {
		return nil, fmt.Errorf("silero: loaded for %d Hz, got %d Hz", m.sampleRate, sampleRate)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session == nil {
		return nil, fmt.Errorf("silero: model closed")
	}

	m.resetState()
	in := m.input.GetData()
	probs := make([]float32, len(windows))

	for i, w := range windows {
		if len(w) != m.window {
			return nil, fmt.Errorf("silero: window %d has %d samples, want %d", i, len(w), m.window)
		}
		copy(in, w)
		if err := m.session.Run(); err != nil {
			return nil, fmt.Errorf("silero: run: %w", err)
		}
		probs[i] = m.output.GetData()[0]
		copy(m.h.GetData(), m.hn.GetData())
		copy(m.c.GetData(), m.cn.GetData())
	}

	return probs, nil
}

func (m *Model) resetState() {
	clear(m.h.GetData())
	clear(m.c.GetData())
}

// Close releases the session and tensors.
func (m *Model) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session != nil {
		m.session.Destroy()
		m.session = nil
	}
	for _, t := range []*ort.Tensor[float32]{m.input, m.h, m.c, m.output, m.hn, m.cn} {
		if t != nil {
			t.Destroy()
		}
	}
	if m.sr != nil {
		m.sr.Destroy()
	}
	m.input, m.h, m.c, m.output, m.hn, m.cn, m.sr = nil, nil, nil, nil, nil, nil, nil
	return nil
}
