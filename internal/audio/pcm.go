// File: internal/audio/pcm.go
package audio

import (
	"encoding/binary"
	"math"
	"time"
)

// PCM encodings handled by the pipeline.
const (
	EncodingS16LE = "s16le"
	EncodingF32LE = "f32le"
)

// RMS16 computes the root-mean-square energy of an s16le mono frame,
// normalized to [0, 1].
func RMS16(p []byte) float64 {
	if len(p) < 2 {
		return 0
	}
	var sumSquares float64
	samples := 0
	for i := 0; i+1 < len(p); i += 2 {
		v := float64(int16(binary.LittleEndian.Uint16(p[i:i+2]))) / 32768.0
		sumSquares += v * v
		samples++
	}
	if samples == 0 {
		return 0
	}
	return math.Sqrt(sumSquares / float64(samples))
}

// Peak16 returns the peak absolute amplitude of an s16le mono frame.
func Peak16(p []byte) int {
	peak := 0
	for i := 0; i+1 < len(p); i += 2 {
		v := int(int16(binary.LittleEndian.Uint16(p[i : i+2])))
		if v < 0 {
			v = -v
		}
		if v > peak {
			peak = v
		}
	}
	return peak
}

// F32LEToS16LE converts little-endian float32 PCM to s16le, clamping out of
// range samples. A trailing partial sample is dropped.
func F32LEToS16LE(p []byte) []byte {
	n := len(p) / 4
	out := make([]byte, n*2)
	for i := 0; i < n; i++ {
		f := math.Float32frombits(binary.LittleEndian.Uint32(p[i*4 : i*4+4]))
		if f > 1 {
			f = 1
		} else if f < -1 {
			f = -1
		}
		s := int16(f * 32767.0)
		binary.LittleEndian.PutUint16(out[i*2:i*2+2], uint16(s))
	}
	return out
}

// S16LEToF32LE converts s16le PCM to little-endian float32.
func S16LEToF32LE(p []byte) []byte {
	n := len(p) / 2
	out := make([]byte, n*4)
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(p[i*2 : i*2+2]))
		f := float32(s) / 32768.0
		binary.LittleEndian.PutUint32(out[i*4:i*4+4], math.Float32bits(f))
	}
	return out
}

// DurationS16 returns the play time of an s16le mono buffer.
func DurationS16(nBytes, sampleRate int) time.Duration {
	if sampleRate <= 0 || nBytes <= 0 {
		return 0
	}
	samples := nBytes / 2
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}

// FrameBytesS16 returns the byte length of one s16le mono frame of the given
// duration.
func FrameBytesS16(sampleRate int, frame time.Duration) int {
	if sampleRate <= 0 || frame <= 0 {
		return 0
	}
	samples := int(int64(sampleRate) * int64(frame) / int64(time.Second))
	return samples * 2
}
