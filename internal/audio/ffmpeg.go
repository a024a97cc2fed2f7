package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// FFmpegDecoder decodes compressed containers (WEBM/Opus from browser
// MediaRecorder by default) by piping them through an ffmpeg subprocess
// that emits 16-bit WAV at the source rate and channel layout.
type FFmpegDecoder struct {
	path   string
	format string
	wav    WAVDecoder
}

// NewFFmpegDecoder creates a decoder that runs the ffmpeg binary at path.
// format is the forced input container (e.g. "webm"); empty lets ffmpeg probe.
func NewFFmpegDecoder(path, format string) *FFmpegDecoder {
	if path == "" {
		path = "ffmpeg"
	}
	return &FFmpegDecoder{path: path, format: format}
}

func (d *FFmpegDecoder) Decode(ctx context.Context, data []byte) (*PCM, error) {
	if len(data) == 0 {
		return nil, &DecodeError{Format: d.label(), Err: errors.New("empty chunk")}
	}

	cmd := exec.CommandContext(ctx, d.path, d.args()...)
	cmd.Stdin = bytes.NewReader(data)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, &DecodeError{Format: d.label(), Err: fmt.Errorf("ffmpeg: %s", firstLine(stderr.String()))}
		}
		return nil, fmt.Errorf("run ffmpeg: %w", err)
	}

	out := stdout.Bytes()
	patchStreamedWAV(out)

	pcm, err := d.wav.Decode(ctx, out)
	if err != nil {
		var decErr *DecodeError
		if errors.As(err, &decErr) {
			decErr.Format = d.label()
		}
		return nil, err
	}
	return pcm, nil
}

func (d *FFmpegDecoder) args() []string {
	args := []string{"-hide_banner", "-loglevel", "error"}
	if d.format != "" {
		args = append(args, "-f", d.format)
	}
	return append(args,
		"-i", "pipe:0",
		"-vn",
		"-acodec", "pcm_s16le",
		"-f", "wav",
		"pipe:1",
	)
}

func (d *FFmpegDecoder) label() string {
	if d.format == "" {
		return "ffmpeg"
	}
	return d.format
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "invalid data"
	}
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
