// File: cmd/run.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/tara-ai/copilot-cli/internal/audio"
	"github.com/tara-ai/copilot-cli/internal/blueprint"
	"github.com/tara-ai/copilot-cli/internal/browser"
	"github.com/tara-ai/copilot-cli/internal/config"
	"github.com/tara-ai/copilot-cli/internal/executor"
	"github.com/tara-ai/copilot-cli/internal/mission"
	"github.com/tara-ai/copilot-cli/internal/observability"
	"github.com/tara-ai/copilot-cli/internal/session"
)

// newRunCmd creates and configures the `run` command.
func newRunCmd() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run [url]",
		Short: "Opens the target page and starts a co-pilot session",
		Args:  cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if err := viper.BindPFlag("browser.headless", cmd.Flags().Lookup("headless")); err != nil {
				return err
			}
			if err := viper.BindPFlag("audio.capture_device", cmd.Flags().Lookup("device")); err != nil {
				return err
			}
			return viper.BindPFlags(cmd.Flags())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			logger := observability.GetLogger()

			cfg, err := config.NewConfigFromViper(viper.GetViper())
			if err != nil {
				return err
			}

			target := args[0]
			if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
				target = "https://" + target
			}
			cfg.Session = config.SessionConfig{
				TargetURL:       target,
				ServerURL:       viper.GetString("server"),
				InteractionMode: viper.GetString("mode"),
				Goal:            viper.GetString("goal"),
				Turbo:           viper.GetBool("turbo"),
				Resume:          viper.GetBool("resume"),
				Mute:            viper.GetBool("mute"),
			}
			if cfg.Session.ServerURL == "" {
				return fmt.Errorf("no agent server configured (--server or COPILOT_SERVER)")
			}

			runID := uuid.New().String()
			logger.Info("Starting co-pilot session",
				zap.String("run_id", runID),
				zap.String("url", cfg.Session.TargetURL),
				zap.String("server", cfg.Session.ServerURL),
				zap.String("mode", cfg.Session.InteractionMode),
				zap.Bool("turbo", cfg.Session.Turbo))

			sess, cleanup, err := buildSession(ctx, cfg, logger)
			if err != nil {
				if cleanup != nil {
					cleanup()
				}
				return fmt.Errorf("failed to initialize session: %w", err)
			}
			defer cleanup()

			if err := sess.Run(ctx); err != nil {
				if errors.Is(err, context.Canceled) {
					logger.Warn("Session aborted", zap.String("run_id", runID))
					return nil
				}
				return err
			}

			logger.Info("Session finished", zap.String("run_id", runID))
			return nil
		},
	}

	runCmd.Flags().StringP("server", "s", "", "Agent websocket URL (e.g. wss://agent.example/ws)")
	runCmd.Flags().StringP("mode", "m", "voice", "Interaction mode ('voice' or 'text')")
	runCmd.Flags().StringP("goal", "g", "", "Goal to hand the agent once the session opens")
	runCmd.Flags().Bool("turbo", false, "Text-only mode: no audio in either direction")
	runCmd.Flags().Bool("resume", false, "Resume the most recent session if it is still fresh")
	runCmd.Flags().Bool("mute", false, "Connect with the speaker muted")
	runCmd.Flags().Bool("headless", false, "Run the browser headless (overrides config/env)")
	runCmd.Flags().String("device", "default", "Microphone capture device (overrides config/env)")

	return runCmd
}

// buildSession wires the browser, audio and protocol components into a
// ready-to-run session. The returned cleanup closes everything the session
// does not own itself.
func buildSession(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*session.Session, func(), error) {
	bs, err := browser.NewSession(ctx, cfg.Browser, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to launch browser: %w", err)
	}
	cleanup := bs.Close

	if err := bs.Navigate(ctx, cfg.Session.TargetURL); err != nil {
		return nil, cleanup, fmt.Errorf("failed to open %s: %w", cfg.Session.TargetURL, err)
	}

	scanner := blueprint.NewScanner(bs, cfg.Browser.MaxElements, logger)
	runner := executor.New(bs, scanner, cfg.Browser, logger)

	store, err := mission.NewStore(cfg.Mission, logger)
	if err != nil {
		return nil, cleanup, err
	}

	deps := session.Deps{
		Client:  session.NewClient(cfg.Protocol, logger),
		Runner:  runner,
		Scanner: scanner,
		Store:   store,
		Output:  os.Stdout,
		Input:   os.Stdin,
	}

	if !cfg.Session.Turbo {
		sink := audio.NewFFPlaySink(cfg.Audio.PlaybackSampleRate, logger)
		deps.Player = audio.NewPlayer(cfg.Audio, sink, logger)
		deps.VAD = audio.NewVAD(cfg.VAD, cfg.Audio.CaptureSampleRate, logger)
		source := &audio.FFmpegSource{
			SampleRate: cfg.Audio.CaptureSampleRate,
			Device:     cfg.Audio.CaptureDevice,
		}
		deps.Capture = audio.NewCapture(cfg.Audio, source, logger)
	}

	return session.New(cfg, deps, logger), cleanup, nil
}
