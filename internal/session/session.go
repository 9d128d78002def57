// File: internal/session/session.go
package session

import (
	"bufio"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tara-ai/copilot-cli/internal/audio"
	"github.com/tara-ai/copilot-cli/internal/blueprint"
	"github.com/tara-ai/copilot-cli/internal/config"
	"github.com/tara-ai/copilot-cli/internal/executor"
	"github.com/tara-ai/copilot-cli/internal/mission"
	"github.com/tara-ai/copilot-cli/internal/protocol"
)

// CommandRunner executes agent commands against the page.
type CommandRunner interface {
	Execute(ctx context.Context, cmd protocol.Command) (protocol.Outcome, *blueprint.Snapshot)
	NavigateSmart(ctx context.Context, targetURL string) error
}

// PageScanner produces blueprints of the current page.
type PageScanner interface {
	Scan(ctx context.Context, force bool) (*blueprint.Snapshot, error)
}

// SpeechPlayer renders agent speech. OnActive reports playback edges so the
// session can hold the mic while audio is audible.
type SpeechPlayer interface {
	Start() error
	SetEncoding(encoding string)
	Enqueue(chunk []byte) error
	Interrupt() error
	OnActive(fn func(active bool))
	Close() error
}

// MicCapture pumps microphone frames.
type MicCapture interface {
	Run(ctx context.Context, onFrame func([]byte)) error
}

var (
	_ CommandRunner = (*executor.Executor)(nil)
	_ PageScanner   = (*blueprint.Scanner)(nil)
	_ SpeechPlayer  = (*audio.Player)(nil)
	_ MicCapture    = (*audio.Capture)(nil)
)

// Deps bundles the collaborators a Session drives.
type Deps struct {
	Client  *Client
	Runner  CommandRunner
	Scanner PageScanner
	Player  SpeechPlayer
	VAD     *audio.VAD
	Capture MicCapture
	Store   *mission.Store
	// Output receives agent text; Input feeds typed user text (optional).
	Output io.Writer
	Input  io.Reader
}

// Session runs one conversation with the agent backend: it opens the control
// channel, streams mic audio and page blueprints up, and turns the agent's
// speech, text and commands into local effects.
type Session struct {
	cfg    *config.Config
	logger *zap.Logger

	client  *Client
	runner  CommandRunner
	scanner PageScanner
	player  SpeechPlayer
	vad     *audio.VAD
	capture MicCapture
	store   *mission.Store
	out     io.Writer
	in      io.Reader

	link *audioLink
	work chan func(ctx context.Context)

	mu         sync.Mutex
	sessionID  string
	agentState protocol.AgentState

	playbackActive atomic.Bool
	scanInFlight   atomic.Bool
}

func New(cfg *config.Config, deps Deps, logger *zap.Logger) *Session {
	s := &Session{
		cfg:     cfg,
		logger:  logger.Named("session"),
		client:  deps.Client,
		runner:  deps.Runner,
		scanner: deps.Scanner,
		player:  deps.Player,
		vad:     deps.VAD,
		capture: deps.Capture,
		store:   deps.Store,
		out:     deps.Output,
		in:      deps.Input,
		work:    make(chan func(ctx context.Context), 16),
	}
	if s.out == nil {
		s.out = io.Discard
	}
	s.link = newAudioLink(deps.Client,
		cfg.Audio.PreBufferChunks,
		cfg.Audio.CaptureSampleRate,
		cfg.Protocol.WriteTimeout,
		logger)
	s.link.onAudio = s.handleBinary
	if s.player != nil {
		s.player.OnActive(func(active bool) { s.playbackActive.Store(active) })
	}
	return s
}

// agentSpeaking reports whether agent speech is underway: either audio is
// audibly playing or the last state_update said "speaking".
func (s *Session) agentSpeaking() bool {
	if s.playbackActive.Load() {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.agentState == protocol.StateSpeaking
}

// Run drives the session until ctx is canceled or the connection drops.
func (s *Session) Run(ctx context.Context) error {
	snap, err := s.scanner.Scan(ctx, true)
	if err != nil {
		return fmt.Errorf("initial page scan: %w", err)
	}
	if snap == nil {
		return errors.New("initial page scan produced no blueprint")
	}

	resume := s.loadResume()

	if err := s.client.Connect(ctx, s.cfg.Session.ServerURL); err != nil {
		return err
	}
	defer s.client.Close()
	defer s.link.close()

	if err := s.client.Send(s.openingFrame(snap, resume)); err != nil {
		return fmt.Errorf("send session_config: %w", err)
	}

	if !s.cfg.Session.Turbo && s.player != nil {
		if perr := s.player.Start(); perr != nil {
			s.logger.Warn("Speaker unavailable, continuing silent", zap.Error(perr))
		}
		defer func() { _ = s.player.Close() }()
	}

	s.wireVAD(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// Unblock the reader when anything else winds the group down.
		<-gctx.Done()
		s.client.Close()
		s.link.close()
		return gctx.Err()
	})
	g.Go(func() error { return s.readLoop(gctx) })
	g.Go(func() error { return s.workLoop(gctx) })
	if s.cfg.Protocol.PingInterval > 0 {
		g.Go(func() error { return s.keepaliveLoop(gctx) })
	}
	if !s.cfg.Session.Turbo && s.capture != nil {
		g.Go(func() error { return s.micLoop(gctx) })
	}
	if s.in != nil {
		// Detached on purpose: a blocking stdin read must not hold up
		// shutdown.
		go s.textLoop(gctx)
	}

	err = g.Wait()
	if errors.Is(err, errSessionEnded) {
		// The server finished the session on its own terms, so there is
		// nothing to come back to.
		if s.store != nil {
			s.store.Clear()
		}
		return nil
	}
	s.saveResume(snap.URL)
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrClientClosed) {
		return nil
	}
	return err
}

// errSessionEnded marks an orderly close initiated by the server.
var errSessionEnded = errors.New("session ended by server")

func (s *Session) openingFrame(snap *blueprint.Snapshot, resume *mission.Record) protocol.SessionConfig {
	var audioIn *protocol.AudioFormat
	if !s.cfg.Session.Turbo {
		audioIn = &protocol.AudioFormat{
			Encoding:     audio.EncodingS16LE,
			SampleRateHz: s.cfg.Audio.CaptureSampleRate,
			Channels:     1,
		}
	}
	frame := protocol.NewSessionConfig(s.cfg.Session.InteractionMode, snap.URL, audioIn, snap)
	frame.Turbo = s.cfg.Session.Turbo
	frame.PendingGoal = s.cfg.Session.Goal
	if resume != nil {
		frame.SessionID = resume.SessionID
		if resume.InteractionMode != "" {
			frame.InteractionMode = resume.InteractionMode
		}
		if frame.PendingGoal == "" {
			frame.PendingGoal = resume.Goal
		}
	}
	return frame
}

func (s *Session) loadResume() *mission.Record {
	if !s.cfg.Session.Resume || s.store == nil {
		return nil
	}
	rec, err := s.store.Load()
	if err != nil {
		if !errors.Is(err, mission.ErrNoMission) && !errors.Is(err, mission.ErrStale) {
			s.logger.Warn("Could not load saved mission", zap.Error(err))
		} else {
			s.logger.Info("No resumable mission, starting fresh")
		}
		return nil
	}
	s.logger.Info("Resuming mission",
		zap.String("session_id", rec.SessionID),
		zap.String("url", rec.URL))
	return &rec
}

func (s *Session) saveResume(url string) {
	if s.store == nil {
		return
	}
	s.mu.Lock()
	id := s.sessionID
	s.mu.Unlock()
	if id == "" {
		return
	}
	if err := s.store.Save(mission.Record{
		SessionID:       id,
		InteractionMode: s.cfg.Session.InteractionMode,
		URL:             url,
		Goal:            s.cfg.Session.Goal,
		Turbo:           s.cfg.Session.Turbo,
	}); err != nil {
		s.logger.Warn("Could not save mission", zap.Error(err))
	}
}

// wireVAD hooks speech edges: a speech start while the agent is talking is a
// barge-in, and every speech start refreshes the agent's picture of the page.
func (s *Session) wireVAD(ctx context.Context) {
	if s.vad == nil {
		return
	}
	s.vad.OnSpeechStart(func() {
		if s.agentSpeaking() && s.player != nil {
			s.logger.Debug("Barge-in, interrupting playback")
			_ = s.player.Interrupt()
		}
		s.refreshBlueprint(ctx)
	})
	s.vad.OnSpeechEnd(func() {
		s.logger.Debug("Speech ended")
	})
}

// refreshBlueprint sends a differential dom_update in the background; at most
// one scan runs at a time.
func (s *Session) refreshBlueprint(ctx context.Context) {
	if !s.scanInFlight.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer s.scanInFlight.Store(false)
		snap, err := s.scanner.Scan(ctx, false)
		if err != nil || snap == nil {
			return
		}
		if serr := s.client.Send(protocol.NewDOMUpdate(*snap)); serr != nil {
			s.logger.Debug("Could not send dom_update", zap.Error(serr))
		}
	}()
}

func (s *Session) micLoop(ctx context.Context) error {
	err := s.capture.Run(ctx, func(frame []byte) {
		s.vad.Process(frame)
		// Half-duplex: nothing leaves the mic while the agent is speaking.
		// The VAD still ran, so a speech start interrupts playback.
		if s.vad.Speaking() && !s.vad.Locked() && !s.agentSpeaking() {
			s.link.sendFrame(frame)
		}
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, audio.ErrMicUnavailable) {
			s.logger.Error("Microphone unavailable, continuing without voice input", zap.Error(err))
			return nil
		}
		return fmt.Errorf("microphone loop: %w", err)
	}
	return nil
}

func (s *Session) keepaliveLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Protocol.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.client.Ping(); err != nil {
				if errors.Is(err, ErrClientClosed) {
					return err
				}
				s.logger.Debug("Keepalive ping failed", zap.Error(err))
			}
		}
	}
}

// workLoop serializes command execution so outcomes are reported in order.
func (s *Session) workLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case job := <-s.work:
			job(ctx)
		}
	}
}

func (s *Session) enqueueWork(ctx context.Context, job func(ctx context.Context)) {
	select {
	case s.work <- job:
	case <-ctx.Done():
	}
}

func (s *Session) textLoop(ctx context.Context) {
	scanner := bufio.NewScanner(s.in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := s.client.Send(protocol.NewTextInput(line)); err != nil {
			return
		}
	}
}

func (s *Session) readLoop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		frame, err := s.client.ReadFrame()
		if err != nil {
			var decodeErr *protocol.DecodeError
			if errors.As(err, &decodeErr) {
				s.logger.Warn("Dropping malformed frame",
					zap.String("code", decodeErr.Code),
					zap.String("detail", decodeErr.Message))
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return errSessionEnded
			}
			return fmt.Errorf("control channel: %w", err)
		}
		if frame.Binary != nil {
			s.handleBinary(frame.Binary)
			continue
		}
		s.handleMessage(ctx, frame.Msg)
	}
}

func (s *Session) handleBinary(data []byte) {
	if s.cfg.Session.Mute || s.player == nil {
		return
	}
	if err := s.player.Enqueue(data); err != nil {
		s.logger.Warn("Could not play audio chunk", zap.Error(err))
	}
}

func (s *Session) handleMessage(ctx context.Context, msg protocol.Message) {
	switch m := msg.(type) {
	case protocol.Ping:
		if err := s.client.Send(protocol.NewPong()); err != nil {
			s.logger.Debug("Could not answer ping", zap.Error(err))
		}
	case protocol.SessionCreated:
		s.handleSessionCreated(ctx, m)
	case protocol.MissionStarted:
		s.logger.Info("Mission started",
			zap.String("mission_id", m.MissionID),
			zap.String("goal", m.Goal))
		fmt.Fprintf(s.out, "mission: %s\n", m.Goal)
	case protocol.StateUpdate:
		s.handleStateUpdate(m)
	case protocol.AgentResponse:
		fmt.Fprintln(s.out, m.Text)
	case protocol.TurboSpeech:
		fmt.Fprintln(s.out, m.Text)
	case protocol.Command:
		s.enqueueWork(ctx, func(ctx context.Context) { s.runCommand(ctx, m) })
	case protocol.Navigate:
		s.enqueueWork(ctx, func(ctx context.Context) { s.runNavigate(ctx, m.URL) })
	case protocol.SpeakerMuteConfirmed:
		s.logger.Debug("Speaker mute confirmed", zap.Bool("muted", m.Muted))
	case protocol.AssetData:
		s.handleAsset(m)
	case protocol.AudioChunk:
		s.handleAudioChunk(m)
	default:
		s.logger.Debug("Ignoring frame", zap.String("type", msg.Kind()))
	}
}

func (s *Session) handleSessionCreated(ctx context.Context, m protocol.SessionCreated) {
	s.mu.Lock()
	s.sessionID = m.SessionID
	s.mu.Unlock()

	s.logger.Info("Session established",
		zap.String("session_id", m.SessionID),
		zap.Bool("resumed", m.Resumed))

	if m.AudioOut != nil && s.player != nil {
		s.player.SetEncoding(m.AudioOut.Encoding)
	}
	if s.cfg.Session.Mute {
		if err := s.client.Send(protocol.NewSpeakerMute(true)); err != nil {
			s.logger.Debug("Could not request speaker mute", zap.Error(err))
		}
	}
	if !s.cfg.Session.Turbo {
		target := streamURL(s.cfg.Session.ServerURL, m.StreamURL, m.SessionID)
		go s.link.connect(ctx, target)
	}
}

func (s *Session) handleStateUpdate(m protocol.StateUpdate) {
	s.mu.Lock()
	s.agentState = m.State
	s.mu.Unlock()

	if s.vad != nil {
		// Mic stays open while the agent speaks so the user can barge in;
		// it is only gated while the agent is thinking.
		s.vad.SetLocked(m.State == protocol.StateThinking)
	}
	s.logger.Debug("Agent state", zap.String("state", string(m.State)))
}

func (s *Session) runCommand(ctx context.Context, cmd protocol.Command) {
	outcome, snap := s.runner.Execute(ctx, cmd)
	report := protocol.NewExecutionComplete(cmd.ID, outcome, snap, time.Now().UnixMilli())
	if err := s.client.Send(report); err != nil {
		s.logger.Warn("Could not report command outcome",
			zap.String("command_id", cmd.ID),
			zap.Error(err))
	}
}

func (s *Session) runNavigate(ctx context.Context, targetURL string) {
	if err := s.runner.NavigateSmart(ctx, targetURL); err != nil {
		s.logger.Warn("Navigation failed",
			zap.String("url", targetURL),
			zap.Error(err))
		return
	}
	snap, err := s.scanner.Scan(ctx, true)
	if err != nil || snap == nil {
		return
	}
	if serr := s.client.Send(protocol.NewDOMUpdate(*snap)); serr != nil {
		s.logger.Debug("Could not send dom_update", zap.Error(serr))
	}
}

func (s *Session) handleAsset(m protocol.AssetData) {
	if s.store == nil {
		return
	}
	data, err := base64.StdEncoding.DecodeString(m.DataB64)
	if err != nil {
		s.logger.Warn("Discarding undecodable asset",
			zap.String("asset_id", m.AssetID),
			zap.Error(err))
		return
	}
	if err := s.store.SaveAsset(m.AssetID, data); err != nil {
		s.logger.Warn("Could not cache asset",
			zap.String("asset_id", m.AssetID),
			zap.Error(err))
	}
}

func (s *Session) handleAudioChunk(m protocol.AudioChunk) {
	if m.BinarySent {
		// PCM follows as the next binary frame.
		return
	}
	if s.cfg.Session.Mute || s.player == nil {
		return
	}
	data, err := base64.StdEncoding.DecodeString(m.DataB64)
	if err != nil {
		s.logger.Warn("Discarding undecodable audio chunk", zap.Error(err))
		return
	}
	if err := s.player.Enqueue(data); err != nil {
		s.logger.Warn("Could not play audio chunk", zap.Error(err))
	}
}
