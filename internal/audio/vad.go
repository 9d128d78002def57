// File: internal/audio/vad.go
package audio

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tara-ai/copilot-cli/internal/config"
)

// VAD is an energy based voice activity detector with hysteresis. Speech
// starts on the first frame whose energy exceeds the upper threshold, and
// ends once energy stays below the lower threshold for the silence timeout —
// but never before the utterance has lasted the minimum speech duration, so
// a short blip does not produce an instant start/end pair. Each utterance
// fires exactly one start and one end.
//
// Time is derived from the sample count of the frames themselves, so the
// detector is deterministic regardless of wall-clock scheduling.
type VAD struct {
	mu sync.Mutex

	cfg        config.VADConfig
	sampleRate int
	logger     *zap.Logger

	onSpeechStart func()
	onSpeechEnd   func()

	locked     bool
	speaking   bool
	speechRun  time.Duration
	silenceRun time.Duration
}

// NewVAD builds a detector for s16le mono frames at the given sample rate.
func NewVAD(cfg config.VADConfig, sampleRate int, logger *zap.Logger) *VAD {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VAD{
		cfg:        cfg,
		sampleRate: sampleRate,
		logger:     logger.Named("vad"),
	}
}

// OnSpeechStart registers the rising-edge callback.
func (v *VAD) OnSpeechStart(fn func()) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.onSpeechStart = fn
}

// OnSpeechEnd registers the falling-edge callback.
func (v *VAD) OnSpeechEnd(fn func()) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.onSpeechEnd = fn
}

// SetLocked suspends detection. Locking mid-utterance closes the utterance
// so every start callback still gets its matching end.
func (v *VAD) SetLocked(locked bool) {
	v.mu.Lock()
	wasSpeaking := v.speaking
	endFn := v.onSpeechEnd
	v.locked = locked
	if locked {
		v.speaking = false
		v.speechRun = 0
		v.silenceRun = 0
	}
	v.mu.Unlock()

	if locked && wasSpeaking && endFn != nil {
		endFn()
	}
}

// Locked reports whether detection is currently suspended.
func (v *VAD) Locked() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.locked
}

// Speaking reports whether an utterance is in progress.
func (v *VAD) Speaking() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.speaking
}

// Process feeds one s16le mono frame through the detector.
func (v *VAD) Process(frame []byte) {
	frameDur := DurationS16(len(frame), v.sampleRate)
	if frameDur <= 0 {
		return
	}
	energy := RMS16(frame)

	v.mu.Lock()
	if v.locked {
		v.mu.Unlock()
		return
	}

	var fire func()
	if !v.speaking {
		if energy >= v.cfg.EnergyThreshold {
			v.speaking = true
			v.speechRun = frameDur
			v.silenceRun = 0
			fire = v.onSpeechStart
			v.logger.Debug("Speech started.", zap.Float64("energy", energy))
		}
	} else {
		v.speechRun += frameDur
		if energy <= v.cfg.SilenceThreshold {
			v.silenceRun += frameDur
			if v.silenceRun >= v.cfg.SilenceTimeout && v.speechRun >= v.cfg.MinSpeechDuration {
				v.speaking = false
				v.speechRun = 0
				v.silenceRun = 0
				fire = v.onSpeechEnd
				v.logger.Debug("Speech ended.")
			}
		} else {
			v.silenceRun = 0
		}
	}
	v.mu.Unlock()

	if fire != nil {
		fire()
	}
}
