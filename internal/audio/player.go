// File: internal/audio/player.go
package audio

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tara-ai/copilot-cli/internal/config"
)

// Sink is where scheduled PCM ends up. The production sink is an ffplay
// subprocess; tests swap in a recorder.
type Sink interface {
	Start() error
	Write(p []byte) error
	// Restart drops anything buffered downstream. Used on interrupt.
	Restart() error
	Close() error
}

// Player schedules incoming speech chunks back to back. Chunk n is placed at
// the scheduled end of chunk n-1, or at "now" when the stream ran dry, so
// steady arrivals play gapless while late arrivals restart cleanly.
//
// The active flag rises on the first scheduled chunk and falls once the
// cursor has passed plus an end debounce, bridging the short gaps between
// consecutive sentences of one reply.
type Player struct {
	mu sync.Mutex

	cfg    config.AudioConfig
	sink   Sink
	logger *zap.Logger

	// encoding of inbound chunks, negotiated at session start.
	encoding string

	onActive func(bool)
	now      func() time.Time

	cursor   time.Time
	active   bool
	endTimer *time.Timer
	closed   bool
}

// NewPlayer builds a player over the given sink. A nil sink defaults to
// ffplay at the configured playback rate.
func NewPlayer(cfg config.AudioConfig, sink Sink, logger *zap.Logger) *Player {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sink == nil {
		sink = NewFFPlaySink(cfg.PlaybackSampleRate, logger)
	}
	return &Player{
		cfg:      cfg,
		sink:     sink,
		logger:   logger.Named("player"),
		encoding: EncodingF32LE,
		now:      time.Now,
	}
}

// SetEncoding switches the expected inbound chunk encoding. Wire names like
// "pcm_f32le" are accepted alongside the bare ffmpeg sample formats.
func (p *Player) SetEncoding(encoding string) {
	enc := EncodingS16LE
	if strings.Contains(encoding, "f32") {
		enc = EncodingF32LE
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.encoding = enc
}

// OnActive registers the playback-active edge callback. It fires off the
// caller's goroutine for the falling edge.
func (p *Player) OnActive(fn func(bool)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onActive = fn
}

// Start brings up the sink.
func (p *Player) Start() error {
	return p.sink.Start()
}

// Active reports whether scheduled audio is still playing or draining.
func (p *Player) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// Enqueue schedules one chunk of synthesized speech.
func (p *Player) Enqueue(chunk []byte) error {
	pcm := chunk
	if p.inboundEncoding() == EncodingF32LE {
		pcm = F32LEToS16LE(chunk)
	}
	dur := DurationS16(len(pcm), p.cfg.PlaybackSampleRate)
	if dur <= 0 {
		return nil
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	now := p.now()
	start := now
	if p.cursor.After(now) {
		start = p.cursor
	} else if !p.active {
		// First chunk of a fresh stream gets a small lead so the sink has
		// data before its scheduled start.
		start = now.Add(p.cfg.InitialBuffer)
	}
	p.cursor = start.Add(dur)

	raised := false
	if !p.active {
		p.active = true
		raised = true
	}
	p.rescheduleEndLocked(now)
	onActive := p.onActive
	p.mu.Unlock()

	if raised && onActive != nil {
		onActive(true)
	}
	return p.sink.Write(pcm)
}

func (p *Player) inboundEncoding() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.encoding
}

// rescheduleEndLocked arms the falling-edge timer for the current cursor.
func (p *Player) rescheduleEndLocked(now time.Time) {
	if p.endTimer != nil {
		p.endTimer.Stop()
	}
	delay := p.cursor.Sub(now) + p.cfg.EndDebounce
	p.endTimer = time.AfterFunc(delay, p.onEndTimer)
}

func (p *Player) onEndTimer() {
	p.mu.Lock()
	if p.closed || !p.active {
		p.mu.Unlock()
		return
	}
	now := p.now()
	if now.Before(p.cursor.Add(p.cfg.EndDebounce)) {
		// More audio arrived since the timer was armed.
		p.rescheduleEndLocked(now)
		p.mu.Unlock()
		return
	}
	p.active = false
	p.cursor = time.Time{}
	onActive := p.onActive
	p.mu.Unlock()

	p.logger.Debug("Playback drained.")
	if onActive != nil {
		onActive(false)
	}
}

// Interrupt discards everything queued and buffered and resets the cursor.
// Used for barge-in: the user started talking over the agent.
func (p *Player) Interrupt() error {
	p.mu.Lock()
	if p.endTimer != nil {
		p.endTimer.Stop()
	}
	wasActive := p.active
	p.active = false
	p.cursor = time.Time{}
	onActive := p.onActive
	p.mu.Unlock()

	if wasActive {
		p.logger.Debug("Playback interrupted.")
		if onActive != nil {
			onActive(false)
		}
	}
	return p.sink.Restart()
}

// Close stops the timer and tears down the sink.
func (p *Player) Close() error {
	p.mu.Lock()
	p.closed = true
	if p.endTimer != nil {
		p.endTimer.Stop()
	}
	p.mu.Unlock()
	return p.sink.Close()
}

// FFPlaySink plays s16le mono PCM through an ffplay subprocess reading its
// stdin.
type FFPlaySink struct {
	path       string
	sampleRate int
	logger     *zap.Logger

	mu    sync.Mutex
	cmd   *exec.Cmd
	stdin io.WriteCloser
}

// NewFFPlaySink builds an ffplay speaker at the given sample rate.
func NewFFPlaySink(sampleRate int, logger *zap.Logger) *FFPlaySink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FFPlaySink{
		path:       "ffplay",
		sampleRate: sampleRate,
		logger:     logger.Named("speaker"),
	}
}

// Start launches ffplay if it is not already running.
func (s *FFPlaySink) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startLocked()
}

func (s *FFPlaySink) startLocked() error {
	if s.cmd != nil && s.cmd.Process != nil {
		return nil
	}
	// ffplay rejects ffmpeg-style `-ac`; channel layout goes via -ch_layout.
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-nostats",
		"-nodisp",
		"-f", EncodingS16LE,
		"-ch_layout", "mono",
		"-ar", fmt.Sprintf("%d", s.sampleRate),
		"-i", "-",
	}
	cmd := exec.Command(s.path, args...)
	if runtime.GOOS == "darwin" && os.Getenv("SDL_AUDIODRIVER") == "" {
		// SDL sometimes picks a silent dummy backend on macOS.
		cmd.Env = append(os.Environ(), "SDL_AUDIODRIVER=coreaudio")
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard
	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		return err
	}
	s.logger.Debug("Speaker process started.",
		zap.Int("pid", cmd.Process.Pid), zap.Int("sample_rate", s.sampleRate))
	s.cmd = cmd
	s.stdin = stdin
	go func(c *exec.Cmd) {
		_ = c.Wait()
		s.mu.Lock()
		if s.cmd == c {
			s.cmd = nil
			s.stdin = nil
		}
		s.mu.Unlock()
	}(cmd)
	return nil
}

// Write feeds PCM to the running process.
func (s *FFPlaySink) Write(p []byte) error {
	if len(p) == 0 {
		return nil
	}
	s.mu.Lock()
	stdin := s.stdin
	s.mu.Unlock()
	if stdin == nil {
		return fmt.Errorf("speaker is not running")
	}
	_, err := stdin.Write(p)
	return err
}

// Restart kills the process and brings up a fresh one, dropping whatever
// audio it had buffered.
func (s *FFPlaySink) Restart() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
	return s.startLocked()
}

// Close tears the process down.
func (s *FFPlaySink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
	return nil
}

func (s *FFPlaySink) closeLocked() {
	if s.stdin != nil {
		_ = s.stdin.Close()
	}
	if s.cmd != nil && s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	s.cmd = nil
	s.stdin = nil
}
