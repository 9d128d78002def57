// File: internal/executor/executor.go
package executor

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/tara-ai/copilot-cli/internal/blueprint"
	"github.com/tara-ai/copilot-cli/internal/browser"
	"github.com/tara-ai/copilot-cli/internal/config"
	"github.com/tara-ai/copilot-cli/internal/protocol"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	waitActionDuration = 2 * time.Second
	softNavCheckDelay  = 500 * time.Millisecond
)

// Page is the browser surface the executor drives. *browser.Session
// satisfies it.
type Page interface {
	browser.Evaluator
	Navigate(ctx context.Context, targetURL string) error
	CurrentURL(ctx context.Context) (string, error)
}

var _ Page = (*browser.Session)(nil)

// Executor runs agent commands against the page: resolve the target, perform
// the action, wait for the DOM to settle, then re-scan and report what
// changed.
type Executor struct {
	page    Page
	scanner *blueprint.Scanner
	cfg     config.BrowserConfig
	logger  *zap.Logger
}

func New(page Page, scanner *blueprint.Scanner, cfg config.BrowserConfig, logger *zap.Logger) *Executor {
	return &Executor{
		page:    page,
		scanner: scanner,
		cfg:     cfg,
		logger:  logger.Named("executor"),
	}
}

type actionResult struct {
	Found    bool   `json:"found"`
	Typed    bool   `json:"typed"`
	Scrolled bool   `json:"scrolled"`
	Pushed   bool   `json:"pushed"`
	Error    string `json:"error"`
}

// Execute performs cmd and returns the outcome together with the forced
// post-action snapshot. The snapshot is nil when the re-scan itself failed;
// the outcome still describes the action.
func (e *Executor) Execute(ctx context.Context, cmd protocol.Command) (protocol.Outcome, *blueprint.Snapshot) {
	e.logger.Info("Executing command",
		zap.String("command_id", cmd.ID),
		zap.String("action", cmd.Action),
		zap.String("target_id", cmd.TargetID))

	beforeHash := e.scanner.LastHash()
	beforeURL, err := e.page.CurrentURL(ctx)
	if err != nil {
		e.logger.Warn("Could not read URL before command", zap.Error(err))
	}

	outcome := protocol.Outcome{Success: true}
	settleQuiet := e.settleQuiet(cmd.Action)

	switch cmd.Action {
	case protocol.ActionClick:
		res, aerr := e.runAction(ctx, clickScript(cmd.TargetID, cmd.FallbackText))
		e.applyTargetResult(&outcome, cmd, res, aerr)
	case protocol.ActionTypeText:
		res, aerr := e.runAction(ctx, typeTextScript(cmd.TargetID, cmd.FallbackText, cmd.Text))
		e.applyTargetResult(&outcome, cmd, res, aerr)
		if aerr == nil && res.Found && !res.Typed {
			outcome.Success = false
			outcome.Error = "target is not an editable element"
		}
	case protocol.ActionScroll:
		res, aerr := e.runAction(ctx, scrollScript(normalizeDirection(cmd.Direction)))
		if aerr != nil {
			outcome.Success = false
			outcome.Error = aerr.Error()
		} else if !res.Scrolled {
			outcome.Success = false
			outcome.Error = "nothing scrollable on page"
		}
	case protocol.ActionScrollTo:
		res, aerr := e.runAction(ctx, scrollToScript(cmd.TargetID, cmd.FallbackText))
		e.applyTargetResult(&outcome, cmd, res, aerr)
	case protocol.ActionHighlight:
		res, aerr := e.runAction(ctx, highlightScript(cmd.TargetID, cmd.FallbackText, false))
		e.applyTargetResult(&outcome, cmd, res, aerr)
	case protocol.ActionSpotlight:
		res, aerr := e.runAction(ctx, highlightScript(cmd.TargetID, cmd.FallbackText, true))
		e.applyTargetResult(&outcome, cmd, res, aerr)
	case protocol.ActionClear:
		if _, aerr := e.runAction(ctx, clearScript); aerr != nil {
			outcome.Success = false
			outcome.Error = aerr.Error()
		}
	case protocol.ActionWait:
		select {
		case <-time.After(waitActionDuration):
		case <-ctx.Done():
			outcome.Success = false
			outcome.Error = ctx.Err().Error()
		}
	case protocol.ActionNavigate:
		if nerr := e.NavigateSmart(ctx, cmd.URL); nerr != nil {
			outcome.Success = false
			outcome.Error = nerr.Error()
		}
	default:
		outcome.Success = false
		outcome.Error = fmt.Sprintf("unsupported action %q", cmd.Action)
	}

	if settleQuiet > 0 {
		elapsed, settled := browser.WaitForSettle(ctx, e.page, e.settleMaxWait(), settleQuiet)
		outcome.SettleTimeMS = elapsed.Milliseconds()
		if !settled {
			e.logger.Debug("DOM did not settle before deadline",
				zap.String("command_id", cmd.ID),
				zap.Duration("waited", elapsed))
		}
	}

	snap, scanErr := e.scanner.Scan(ctx, true)
	if scanErr != nil {
		e.logger.Warn("Post-command scan failed", zap.Error(scanErr))
	}
	if snap != nil {
		outcome.DOMHash = snap.Hash
		outcome.DOMChanged = beforeHash != "" && snap.Hash != beforeHash
		outcome.ScrollY = snap.ScrollY
		outcome.CurrentURL = snap.URL
		outcome.URLChanged = beforeURL != "" && snap.URL != beforeURL
		for _, el := range snap.Elements {
			if el.IsNew {
				outcome.NewElementCount++
			}
		}
	} else if beforeURL != "" {
		if after, uerr := e.page.CurrentURL(ctx); uerr == nil {
			outcome.CurrentURL = after
			outcome.URLChanged = after != beforeURL
		}
	}
	outcome.HasModal = e.detectModal(ctx)

	e.logger.Info("Command finished",
		zap.String("command_id", cmd.ID),
		zap.Bool("success", outcome.Success),
		zap.Bool("dom_changed", outcome.DOMChanged),
		zap.Bool("url_changed", outcome.URLChanged),
		zap.Int("new_elements", outcome.NewElementCount))

	return outcome, snap
}

// NavigateSmart prefers an in-page history transition when the destination
// shares an origin with the current page, so single-page apps keep their
// state. Relative targets resolve against the current location first. If the
// location has not moved after a short grace period, or the origins differ,
// it falls back to a full load.
func (e *Executor) NavigateSmart(ctx context.Context, targetURL string) error {
	if targetURL == "" {
		return fmt.Errorf("navigate: empty url")
	}
	current, err := e.page.CurrentURL(ctx)
	if err == nil {
		targetURL = resolveURL(current, targetURL)
	}
	if err == nil && sameOrigin(current, targetURL) {
		res, aerr := e.runAction(ctx, softNavigateScript(targetURL))
		if aerr == nil && res.Pushed {
			select {
			case <-time.After(softNavCheckDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
			raw, herr := e.page.ExecuteScript(ctx, currentHrefScript)
			if herr == nil {
				var href string
				if jerr := jsonAPI.Unmarshal(raw, &href); jerr == nil && urlMatches(href, targetURL) {
					e.logger.Debug("Soft navigation succeeded", zap.String("url", targetURL))
					return nil
				}
			}
			e.logger.Debug("Soft navigation did not take, reloading", zap.String("url", targetURL))
		}
	}
	return e.page.Navigate(ctx, targetURL)
}

func (e *Executor) runAction(ctx context.Context, script string) (actionResult, error) {
	raw, err := e.page.ExecuteScript(ctx, script)
	if err != nil {
		return actionResult{}, err
	}
	var res actionResult
	if len(raw) > 0 && string(raw) != "null" {
		if uerr := jsonAPI.Unmarshal(raw, &res); uerr != nil {
			return actionResult{}, fmt.Errorf("decode action result: %w", uerr)
		}
	}
	return res, nil
}

func (e *Executor) applyTargetResult(out *protocol.Outcome, cmd protocol.Command, res actionResult, err error) {
	if err != nil {
		out.Success = false
		out.Error = err.Error()
		return
	}
	if !res.Found {
		out.Success = false
		out.Error = fmt.Sprintf("target %q not found", cmd.TargetID)
		e.logger.Warn("Target resolution failed",
			zap.String("command_id", cmd.ID),
			zap.String("target_id", cmd.TargetID),
			zap.String("fallback_text", cmd.FallbackText))
	}
}

func (e *Executor) detectModal(ctx context.Context) bool {
	raw, err := e.page.ExecuteScript(ctx, modalScript)
	if err != nil {
		return false
	}
	var present bool
	if uerr := jsonAPI.Unmarshal(raw, &present); uerr != nil {
		return false
	}
	return present
}

func (e *Executor) settleQuiet(action string) time.Duration {
	switch action {
	case protocol.ActionHighlight, protocol.ActionSpotlight, protocol.ActionClear, protocol.ActionWait:
		return 0
	case protocol.ActionScroll, protocol.ActionScrollTo:
		if e.cfg.ScrollSettleQuiet > 0 {
			return e.cfg.ScrollSettleQuiet
		}
		return 800 * time.Millisecond
	default:
		if e.cfg.SettleQuiet > 0 {
			return e.cfg.SettleQuiet
		}
		return 300 * time.Millisecond
	}
}

func (e *Executor) settleMaxWait() time.Duration {
	if e.cfg.SettleMaxWait > 0 {
		return e.cfg.SettleMaxWait
	}
	return 3 * time.Second
}

func normalizeDirection(dir string) string {
	if strings.EqualFold(strings.TrimSpace(dir), "up") {
		return "up"
	}
	return "down"
}

// resolveURL makes target absolute against base, so "/cart" from
// "https://shop.example/home" becomes "https://shop.example/cart".
func resolveURL(base, target string) string {
	ub, err := url.Parse(base)
	if err != nil {
		return target
	}
	ut, err := url.Parse(target)
	if err != nil {
		return target
	}
	return ub.ResolveReference(ut).String()
}

func sameOrigin(a, b string) bool {
	ua, errA := url.Parse(a)
	ub, errB := url.Parse(b)
	if errA != nil || errB != nil {
		return false
	}
	return ua.Scheme == ub.Scheme && ua.Host == ub.Host
}

func urlMatches(href, target string) bool {
	if href == target {
		return true
	}
	uh, errH := url.Parse(href)
	ut, errT := url.Parse(target)
	if errH != nil || errT != nil {
		return false
	}
	return uh.Host == ut.Host && uh.Path == ut.Path && uh.RawQuery == ut.RawQuery
}
