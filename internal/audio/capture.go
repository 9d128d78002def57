// File: internal/audio/capture.go
package audio

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"runtime"

	"go.uber.org/zap"

	"github.com/tara-ai/copilot-cli/internal/config"
)

// ErrMicUnavailable marks a capture source that could not be opened. The
// session treats this as a degraded state, not a fatal one: the client keeps
// running with text input only.
var ErrMicUnavailable = errors.New("microphone unavailable")

// Source opens a raw s16le mono PCM stream at the configured sample rate.
// The production source is an ffmpeg subprocess; tests inject their own.
type Source interface {
	Open(ctx context.Context) (io.ReadCloser, error)
}

// FFmpegSource captures the system microphone through ffmpeg, resampled to
// s16le mono at the requested rate.
type FFmpegSource struct {
	SampleRate int
	Device     string
	Path       string
}

// Open starts ffmpeg and returns its stdout pipe. The process dies with the
// context.
func (s *FFmpegSource) Open(ctx context.Context) (io.ReadCloser, error) {
	path := s.Path
	if path == "" {
		path = "ffmpeg"
	}
	device := s.Device
	if device == "" {
		device = "default"
	}

	var inputArgs []string
	switch runtime.GOOS {
	case "darwin":
		// `none:<idx>` avoids opening a video device alongside the mic.
		inputArgs = []string{"-f", "avfoundation", "-i", "none:" + device}
	case "windows":
		inputArgs = []string{"-f", "dshow", "-i", "audio=" + device}
	default:
		inputArgs = []string{"-f", "pulse", "-i", device}
	}

	args := []string{"-hide_banner", "-loglevel", "error"}
	args = append(args, inputArgs...)
	args = append(args,
		"-ac", "1",
		"-ar", fmt.Sprintf("%d", s.SampleRate),
		"-f", EncodingS16LE,
		"-",
	)

	cmd := exec.CommandContext(ctx, path, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMicUnavailable, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMicUnavailable, err)
	}

	return &processPipe{ReadCloser: stdout, cmd: cmd}, nil
}

// processPipe ties the pipe's Close to killing the subprocess.
type processPipe struct {
	io.ReadCloser
	cmd *exec.Cmd
}

func (p *processPipe) Close() error {
	err := p.ReadCloser.Close()
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
	_ = p.cmd.Wait()
	return err
}

// Capture reads fixed-duration PCM frames from a Source and hands each one
// to a frame callback.
type Capture struct {
	cfg    config.AudioConfig
	source Source
	logger *zap.Logger
}

// NewCapture wires a capture loop over the given source. A nil source
// defaults to ffmpeg on the configured device.
func NewCapture(cfg config.AudioConfig, source Source, logger *zap.Logger) *Capture {
	if logger == nil {
		logger = zap.NewNop()
	}
	if source == nil {
		source = &FFmpegSource{SampleRate: cfg.CaptureSampleRate, Device: cfg.CaptureDevice}
	}
	return &Capture{cfg: cfg, source: source, logger: logger.Named("capture")}
}

// Run opens the source and delivers frames until the context is canceled or
// the stream ends. Open failures return ErrMicUnavailable (wrapped); the
// caller decides whether that is fatal.
func (c *Capture) Run(ctx context.Context, onFrame func([]byte)) error {
	frameBytes := FrameBytesS16(c.cfg.CaptureSampleRate, c.cfg.FrameDuration)
	if frameBytes <= 0 {
		return fmt.Errorf("invalid capture config: rate=%d frame=%s",
			c.cfg.CaptureSampleRate, c.cfg.FrameDuration)
	}

	stream, err := c.source.Open(ctx)
	if err != nil {
		return err
	}
	defer stream.Close()

	c.logger.Info("Microphone capture started.",
		zap.Int("sample_rate", c.cfg.CaptureSampleRate),
		zap.Duration("frame", c.cfg.FrameDuration))

	reader := bufio.NewReaderSize(stream, 64*1024)
	buf := make([]byte, 0, frameBytes*4)
	tmp := make([]byte, 16*1024)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		n, readErr := reader.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
		}
		for len(buf) >= frameBytes {
			frame := make([]byte, frameBytes)
			copy(frame, buf[:frameBytes])
			buf = buf[frameBytes:]
			onFrame(frame)
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return fmt.Errorf("capture stream ended: %w", io.EOF)
			}
			return readErr
		}
	}
}
