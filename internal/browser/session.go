// File: internal/browser/session.go
package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/tara-ai/copilot-cli/internal/config"
)

// Session owns one browser tab over the DevTools protocol. All page work in
// the client funnels through RunActions and ExecuteScript.
type Session struct {
	cfg    config.BrowserConfig
	logger *zap.Logger

	allocCtx      context.Context
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc

	closeOnce sync.Once
}

// execOptions translates the browser config into chromedp allocator options.
func execOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoSandbox,
		// Recommended for stability in containers/headless environments.
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if cfg.Headless {
		opts = append(opts, chromedp.Headless)
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if cfg.IgnoreTLSErrors {
		opts = append(opts, chromedp.Flag("ignore-certificate-errors", true))
	}
	for _, arg := range cfg.Args {
		if !strings.Contains(arg, "=") {
			opts = append(opts, chromedp.Flag(strings.TrimPrefix(arg, "--"), true))
			continue
		}
		parts := strings.SplitN(arg, "=", 2)
		key := strings.TrimPrefix(parts[0], "--")
		opts = append(opts, chromedp.Flag(key, parts[1]))
	}
	return opts
}

// NewSession launches the browser and opens the working tab.
func NewSession(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*Session, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("browser")

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, execOptions(cfg)...)

	ctxOpts := []chromedp.ContextOption{}
	if cfg.Debug {
		ctxOpts = append(ctxOpts, chromedp.WithDebugf(func(format string, args ...interface{}) {
			logger.Debug(fmt.Sprintf(format, args...))
		}))
	}
	browserCtx, browserCancel := chromedp.NewContext(allocCtx, ctxOpts...)

	// An empty Run forces the browser process to start now, so launch
	// failures surface here instead of on the first real action.
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	logger.Info("Browser session started.", zap.Bool("headless", cfg.Headless))
	return &Session{
		cfg:           cfg,
		logger:        logger,
		allocCtx:      allocCtx,
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
	}, nil
}

// RunActions executes chromedp actions against the tab, honoring the
// caller's context on top of the session's own lifetime.
func (s *Session) RunActions(ctx context.Context, actions ...chromedp.Action) error {
	if err := s.browserCtx.Err(); err != nil {
		return fmt.Errorf("browser session closed: %w", err)
	}
	done := make(chan error, 1)
	go func() {
		done <- chromedp.Run(s.browserCtx, actions...)
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ExecuteScript evaluates JavaScript in the page and returns the raw JSON
// result. Promises are awaited and page exceptions stay silent.
func (s *Session) ExecuteScript(ctx context.Context, script string) (json.RawMessage, error) {
	var res json.RawMessage

	opCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	err := s.RunActions(opCtx,
		chromedp.Evaluate(script, &res, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
			return p.WithReturnByValue(true).WithAwaitPromise(true).WithSilent(true)
		}),
	)
	if err != nil {
		if opCtx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("timeout during script evaluation: %w", opCtx.Err())
		}
		return nil, fmt.Errorf("script evaluation failed: %w", err)
	}
	return res, nil
}

// Navigate performs a full load of the target URL.
func (s *Session) Navigate(ctx context.Context, targetURL string) error {
	timeout := s.cfg.NavigationTimeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	opCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	s.logger.Info("Navigating.", zap.String("url", targetURL))
	if err := s.RunActions(opCtx, chromedp.Navigate(targetURL)); err != nil {
		return fmt.Errorf("navigation to %s failed: %w", targetURL, err)
	}
	return nil
}

// CurrentURL reads the tab's location.
func (s *Session) CurrentURL(ctx context.Context) (string, error) {
	var loc string
	if err := s.RunActions(ctx, chromedp.Location(&loc)); err != nil {
		return "", fmt.Errorf("failed to read location: %w", err)
	}
	return loc, nil
}

// Close tears the tab and browser process down. Safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.browserCancel()
		s.allocCancel()
		s.logger.Info("Browser session closed.")
	})
}

// JSONEncode safely encodes a value for embedding into injected JavaScript.
func JSONEncode(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return `""`
	}
	return string(b)
}
