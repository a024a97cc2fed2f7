package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/go-audio/wav"
)

const (
	wavFormatPCM        = 1
	wavFormatExtensible = 0xFFFE
)

// SamplesToWAV encodes mono float32 PCM samples as a 16-bit WAV byte slice.
func SamplesToWAV(samples []float32, sampleRate int) []byte {
	return InterleavedToWAV(samples, 1, sampleRate)
}

// InterleavedToWAV encodes interleaved float32 samples with the given channel
// count as a 16-bit WAV byte slice.
func InterleavedToWAV(samples []float32, channels, sampleRate int) []byte {
	dataLen := len(samples) * 2
	totalLen := 44 + dataLen
	blockAlign := channels * 2

	buf := make([]byte, totalLen)
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(totalLen-8))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], wavFormatPCM)
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(sampleRate*blockAlign)) // byte rate
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], 16) // bits per sample
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataLen))

	for i, s := range samples {
		clamped := max(-1.0, min(1.0, s))
		val := int16(clamped * math.MaxInt16)
		binary.LittleEndian.PutUint16(buf[44+i*2:], uint16(val))
	}

	return buf
}

// WAVDecoder decodes integer PCM RIFF/WAVE data.
type WAVDecoder struct{}

func (WAVDecoder) Decode(_ context.Context, data []byte) (*PCM, error) {
	d := wav.NewDecoder(bytes.NewReader(data))
	if !d.IsValidFile() {
		return nil, &DecodeError{Format: "wav", Err: errors.New("invalid wav header")}
	}
	if d.WavAudioFormat != wavFormatPCM && d.WavAudioFormat != wavFormatExtensible {
		return nil, &DecodeError{Format: "wav", Err: fmt.Errorf("unsupported wav format %d", d.WavAudioFormat)}
	}

	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, &DecodeError{Format: "wav", Err: err}
	}
	if buf == nil || buf.Format == nil || buf.Format.NumChannels <= 0 || buf.Format.SampleRate <= 0 {
		return nil, &DecodeError{Format: "wav", Err: errors.New("missing format")}
	}

	bitDepth := buf.SourceBitDepth
	if bitDepth == 0 {
		bitDepth = int(d.BitDepth)
	}

	samples, err := intsToFloat(buf.Data, bitDepth)
	if err != nil {
		return nil, &DecodeError{Format: "wav", Err: err}
	}

	return &PCM{
		Samples:    samples,
		Channels:   buf.Format.NumChannels,
		SampleRate: buf.Format.SampleRate,
	}, nil
}

func intsToFloat(data []int, bitDepth int) ([]float32, error) {
	out := make([]float32, len(data))
	switch bitDepth {
	case 8:
		// 8-bit WAV is unsigned
		for i, v := range data {
			out[i] = float32(v-128) / 128
		}
	case 16, 24, 32:
		scale := float64(int64(1) << (bitDepth - 1))
		for i, v := range data {
			out[i] = float32(float64(v) / scale)
		}
	default:
		return nil, fmt.Errorf("unsupported bit depth %d", bitDepth)
	}
	return out, nil
}

// patchStreamedWAV fixes the RIFF and data chunk sizes of a WAV written to a
// non-seekable output, where the encoder leaves placeholder sizes behind.
func patchStreamedWAV(buf []byte) {
	if !isWAV(buf) {
		return
	}
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(buf)-8))

	off := 12
	for off+8 <= len(buf) {
		id := string(buf[off : off+4])
		if id == "data" {
			binary.LittleEndian.PutUint32(buf[off+4:off+8], uint32(len(buf)-off-8))
			return
		}
		size := int(binary.LittleEndian.Uint32(buf[off+4 : off+8]))
		next := off + 8 + size + size%2
		if size < 0 || next <= off || next > len(buf) {
			return
		}
		off = next
	}
}
