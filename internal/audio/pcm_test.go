// File: internal/audio/pcm_test.go
package audio

import (
	"encoding/binary"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func s16Frame(samples ...int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

func f32Frame(samples ...float32) []byte {
	out := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(s))
	}
	return out
}

func TestRMS16(t *testing.T) {
	assert.Zero(t, RMS16(nil))
	assert.Zero(t, RMS16(s16Frame(0, 0, 0, 0)))

	// A constant full-scale signal has RMS ~1.
	full := s16Frame(32767, 32767, 32767, 32767)
	assert.InDelta(t, 1.0, RMS16(full), 0.001)

	// Half scale lands near 0.5 regardless of sign.
	half := s16Frame(16384, -16384, 16384, -16384)
	assert.InDelta(t, 0.5, RMS16(half), 0.001)
}

func TestF32LEToS16LEClamps(t *testing.T) {
	out := F32LEToS16LE(f32Frame(0, 0.5, 1.5, -2.0))
	require.Len(t, out, 8)

	samples := []int16{
		int16(binary.LittleEndian.Uint16(out[0:])),
		int16(binary.LittleEndian.Uint16(out[2:])),
		int16(binary.LittleEndian.Uint16(out[4:])),
		int16(binary.LittleEndian.Uint16(out[6:])),
	}
	assert.Equal(t, int16(0), samples[0])
	assert.InDelta(t, 16383, int(samples[1]), 1)
	assert.Equal(t, int16(32767), samples[2])
	assert.Equal(t, int16(-32767), samples[3])
}

func TestS16RoundTripThroughF32(t *testing.T) {
	in := s16Frame(0, 1000, -1000, 12345, -12345)
	back := F32LEToS16LE(S16LEToF32LE(in))
	require.Len(t, back, len(in))
	for i := 0; i+1 < len(in); i += 2 {
		want := int16(binary.LittleEndian.Uint16(in[i:]))
		got := int16(binary.LittleEndian.Uint16(back[i:]))
		assert.InDelta(t, int(want), int(got), 1)
	}
}

func TestFrameMath(t *testing.T) {
	// 20ms at 16kHz mono s16le is 320 samples = 640 bytes.
	assert.Equal(t, 640, FrameBytesS16(16000, 20*time.Millisecond))
	assert.Equal(t, 20*time.Millisecond, DurationS16(640, 16000))

	assert.Zero(t, FrameBytesS16(0, 20*time.Millisecond))
	assert.Zero(t, DurationS16(640, 0))
}
