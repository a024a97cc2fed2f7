package audio

import (
	"bytes"
	"context"
	"fmt"
)

// PCM is decoded audio before normalization. Samples are interleaved
// frame by frame and normalized to [-1, 1].
type PCM struct {
	Samples    []float32
	Channels   int
	SampleRate int
}

// Frames returns the number of sample frames (samples per channel).
func (p *PCM) Frames() int {
	if p.Channels <= 0 {
		return 0
	}
	return len(p.Samples) / p.Channels
}

// Decoder turns one encoded audio chunk into PCM.
type Decoder interface {
	Decode(ctx context.Context, data []byte) (*PCM, error)
}

// DecodeError reports a chunk that could not be parsed as audio.
// It is scoped to a single chunk; the stream it came from is still usable.
type DecodeError struct {
	Format string
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Format, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// SniffDecoder routes RIFF/WAVE chunks to the WAV decoder and everything
// else to the fallback decoder (normally ffmpeg).
type SniffDecoder struct {
	WAV      Decoder
	Fallback Decoder
}

// NewSniffDecoder creates a decoder that handles WAV natively and hands
// compressed containers to fallback.
func NewSniffDecoder(fallback Decoder) *SniffDecoder {
	return &SniffDecoder{WAV: WAVDecoder{}, Fallback: fallback}
}

func (d *SniffDecoder) Decode(ctx context.Context, data []byte) (*PCM, error) {
	if isWAV(data) {
		return d.WAV.Decode(ctx, data)
	}
	if d.Fallback == nil {
		return nil, &DecodeError{Format: "unknown", Err: fmt.Errorf("unrecognized container (%d bytes)", len(data))}
	}
	return d.Fallback.Decode(ctx, data)
}

func isWAV(data []byte) bool {
	return len(data) >= 12 && bytes.Equal(data[0:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WAVE"))
}
