// File: internal/audio/vad_test.go
package audio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/tara-ai/copilot-cli/internal/config"
)

func testVADConfig() config.VADConfig {
	return config.VADConfig{
		EnergyThreshold:   0.018,
		SilenceThreshold:  0.015,
		MinSpeechDuration: 250 * time.Millisecond,
		SilenceTimeout:    1 * time.Second,
	}
}

// loudFrame and quietFrame are 20ms s16le frames at 16kHz.
func loudFrame() []byte {
	frame := make([]byte, 640)
	for i := 0; i+1 < len(frame); i += 2 {
		// ~0.25 full scale, well above the energy threshold.
		frame[i] = 0x00
		frame[i+1] = 0x20
	}
	return frame
}

func quietFrame() []byte {
	return make([]byte, 640)
}

func newTestVAD(t *testing.T) (*VAD, *int, *int) {
	t.Helper()
	v := NewVAD(testVADConfig(), 16000, zap.NewNop())
	starts, ends := 0, 0
	v.OnSpeechStart(func() { starts++ })
	v.OnSpeechEnd(func() { ends++ })
	return v, &starts, &ends
}

func feed(v *VAD, frame []byte, count int) {
	for i := 0; i < count; i++ {
		v.Process(frame)
	}
}

func TestVADStartsOnFirstLoudFrame(t *testing.T) {
	v, starts, _ := newTestVAD(t)

	feed(v, loudFrame(), 1)

	assert.Equal(t, 1, *starts)
	assert.True(t, v.Speaking())
}

func TestVADFiresOnePairPerUtterance(t *testing.T) {
	v, starts, ends := newTestVAD(t)

	feed(v, loudFrame(), 1)
	assert.Equal(t, 1, *starts)
	assert.True(t, v.Speaking())

	// Continued speech never re-fires the start edge.
	feed(v, loudFrame(), 50)
	assert.Equal(t, 1, *starts)

	// 49 quiet frames = 980ms: hang time not yet expired.
	feed(v, quietFrame(), 49)
	assert.Zero(t, *ends)
	assert.True(t, v.Speaking())

	// 50th quiet frame crosses one second of silence.
	feed(v, quietFrame(), 1)
	assert.Equal(t, 1, *ends)
	assert.False(t, v.Speaking())
}

func TestVADMinimumDurationDelaysEnd(t *testing.T) {
	cfg := testVADConfig()
	cfg.SilenceTimeout = 100 * time.Millisecond
	v := NewVAD(cfg, 16000, zap.NewNop())
	ends := 0
	v.OnSpeechEnd(func() { ends++ })

	// One loud frame opens the utterance; quiet frames then accumulate both
	// the utterance length and the silence run.
	feed(v, loudFrame(), 1)
	feed(v, quietFrame(), 11) // 240ms of utterance: silence elapsed, min not
	assert.Zero(t, ends)
	assert.True(t, v.Speaking())

	feed(v, quietFrame(), 1) // 260ms crosses the minimum speech duration
	assert.Equal(t, 1, ends)
	assert.False(t, v.Speaking())
}

func TestVADBriefDipDoesNotEndUtterance(t *testing.T) {
	v, starts, ends := newTestVAD(t)

	feed(v, loudFrame(), 13)
	assert.Equal(t, 1, *starts)

	// A 400ms dip resets when speech resumes.
	feed(v, quietFrame(), 20)
	feed(v, loudFrame(), 5)
	feed(v, quietFrame(), 20)
	assert.Zero(t, *ends)

	feed(v, quietFrame(), 30)
	assert.Equal(t, 1, *ends)
}

func TestVADLockSuppressesProcessing(t *testing.T) {
	v, starts, _ := newTestVAD(t)

	v.SetLocked(true)
	feed(v, loudFrame(), 100)
	assert.Zero(t, *starts)

	v.SetLocked(false)
	feed(v, loudFrame(), 1)
	assert.Equal(t, 1, *starts)
}

func TestVADLockMidUtteranceClosesIt(t *testing.T) {
	v, starts, ends := newTestVAD(t)

	feed(v, loudFrame(), 13)
	assert.Equal(t, 1, *starts)

	v.SetLocked(true)
	assert.Equal(t, 1, *ends)
	assert.False(t, v.Speaking())

	// Unlock starts a fresh utterance from scratch.
	v.SetLocked(false)
	feed(v, loudFrame(), 1)
	assert.Equal(t, 2, *starts)
}
