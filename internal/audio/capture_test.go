// File: internal/audio/capture_test.go
package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type staticSource struct {
	data []byte
	err  error
}

func (s *staticSource) Open(ctx context.Context) (io.ReadCloser, error) {
	if s.err != nil {
		return nil, s.err
	}
	return io.NopCloser(bytes.NewReader(s.data)), nil
}

func TestCaptureSlicesFixedFrames(t *testing.T) {
	cfg := testAudioConfig()
	frameBytes := FrameBytesS16(cfg.CaptureSampleRate, cfg.FrameDuration)

	// Three and a half frames; the trailing partial frame is dropped.
	src := &staticSource{data: make([]byte, frameBytes*3+frameBytes/2)}
	c := NewCapture(cfg, src, zap.NewNop())

	var frames [][]byte
	err := c.Run(context.Background(), func(frame []byte) {
		frames = append(frames, frame)
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, io.EOF)

	require.Len(t, frames, 3)
	for _, frame := range frames {
		assert.Len(t, frame, frameBytes)
	}
}

func TestCaptureOpenFailureIsMicUnavailable(t *testing.T) {
	src := &staticSource{err: fmt.Errorf("%w: no such device", ErrMicUnavailable)}
	c := NewCapture(testAudioConfig(), src, zap.NewNop())

	err := c.Run(context.Background(), func([]byte) {})
	assert.ErrorIs(t, err, ErrMicUnavailable)
}

func TestCaptureStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	src := &staticSource{data: make([]byte, 1<<20)}
	c := NewCapture(testAudioConfig(), src, zap.NewNop())

	err := c.Run(ctx, func([]byte) {})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCaptureRejectsBadConfig(t *testing.T) {
	cfg := testAudioConfig()
	cfg.FrameDuration = 0
	c := NewCapture(cfg, &staticSource{}, zap.NewNop())

	err := c.Run(context.Background(), func([]byte) {})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrMicUnavailable))
}

// Guard against the frame math drifting.
func TestCaptureFrameDuration(t *testing.T) {
	cfg := testAudioConfig()
	frameBytes := FrameBytesS16(cfg.CaptureSampleRate, cfg.FrameDuration)
	assert.Equal(t, 20*time.Millisecond, DurationS16(frameBytes, cfg.CaptureSampleRate))
}
