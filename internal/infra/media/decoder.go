package media

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"audio-assistant/internal/domain/model"
	"audio-assistant/internal/domain/ports/adapter"

	"github.com/rs/zerolog"
)

// FFmpegDecoder decodes any container ffmpeg understands to mono float32
// samples at model.SampleRate. WAV input is parsed in-process when possible.
type FFmpegDecoder struct {
	path    string
	timeout time.Duration
	log     *zerolog.Logger
}

var _ adapter.Decoder = (*FFmpegDecoder)(nil)

func NewFFmpegDecoder(path string, timeout time.Duration, logger *zerolog.Logger) *FFmpegDecoder {
	if path == "" {
		path = "ffmpeg"
	}
	l := logger.With().Str("component", "ffmpeg_decoder").Logger()
	return &FFmpegDecoder{path: path, timeout: timeout, log: &l}
}

func (d *FFmpegDecoder) Decode(ctx context.Context, raw []byte) ([]float32, error) {
	if IsWAV(raw) {
		samples, err := DecodeWAV(raw)
		if err == nil {
			return samples, nil
		}
		d.log.Debug().Err(err).Msg("wav fast path failed; falling back to ffmpeg")
	}

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	// ffmpeg -i pipe:0 -ac 1 -ar 16000 -f f32le pipe:1
	cmd := exec.CommandContext(ctx, d.path,
		"-nostdin", "-hide_banner", "-loglevel", "error",
		"-i", "pipe:0",
		"-ac", "1", "-ar", strconv.Itoa(model.SampleRate),
		"-f", "f32le",
		"pipe:1",
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdin = bytes.NewReader(raw)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	out := stdout.Bytes()
	out = out[:len(out)-len(out)%4]
	samples, err := model.DecodeSamples(out)
	if err != nil {
		return nil, err
	}
	d.log.Debug().Int("samples", len(samples)).Dur("duration_ms", time.Since(start)).Msg("decoded with ffmpeg")
	return samples, nil
}
