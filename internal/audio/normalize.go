package audio

import (
	"context"
	"time"
)

// TargetSampleRate is the rate every waveform is normalized to before gating.
const TargetSampleRate = 16000

// Waveform is mono float32 audio at SampleRate. SourceRate is the rate the
// chunk was decoded at before resampling.
type Waveform struct {
	Samples    []float32
	SampleRate int
	SourceRate int
}

// Duration returns the playback length of the waveform.
func (w *Waveform) Duration() time.Duration {
	if w.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(w.Samples)) * time.Second / time.Duration(w.SampleRate)
}

// Normalizer decodes audio chunks into mono waveforms at a fixed rate.
// It holds no mutable state and is safe for concurrent use if its decoder is.
type Normalizer struct {
	decoder    Decoder
	targetRate int
}

// NewNormalizer creates a normalizer that resamples to targetRate
// (TargetSampleRate when zero).
func NewNormalizer(decoder Decoder, targetRate int) *Normalizer {
	if targetRate <= 0 {
		targetRate = TargetSampleRate
	}
	return &Normalizer{decoder: decoder, targetRate: targetRate}
}

// Normalize decodes chunk, downmixes it to mono and resamples it to the
// target rate. Unparseable chunks fail with *DecodeError.
func (n *Normalizer) Normalize(ctx context.Context, chunk []byte) (*Waveform, error) {
	pcm, err := n.decoder.Decode(ctx, chunk)
	if err != nil {
		return nil, err
	}
	return n.FromPCM(pcm), nil
}

// FromPCM applies the channel downmix and resampling to already decoded audio.
func (n *Normalizer) FromPCM(pcm *PCM) *Waveform {
	mono := Downmix(pcm.Samples, pcm.Channels)
	return &Waveform{
		Samples:    Resample(mono, pcm.SampleRate, n.targetRate),
		SampleRate: n.targetRate,
		SourceRate: pcm.SampleRate,
	}
}
