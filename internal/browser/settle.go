// File: internal/browser/settle.go
package browser

import (
	"context"
	"encoding/json"
	"strconv"
	"time"
)

// Evaluator runs JavaScript in the page. Session implements it; tests swap
// in fakes.
type Evaluator interface {
	ExecuteScript(ctx context.Context, script string) (json.RawMessage, error)
}

var _ Evaluator = (*Session)(nil)

// settleInstallJS arms a MutationObserver that stamps the time of the last
// DOM mutation. Re-arming an existing observer just resets the stamp.
const settleInstallJS = `(function() {
	if (window.__vcSettle) {
		window.__vcSettle.last = Date.now();
		return true;
	}
	const state = { last: Date.now(), observer: null };
	const obs = new MutationObserver(() => { state.last = Date.now(); });
	obs.observe(document.documentElement, {
		childList: true,
		subtree: true,
		attributes: true,
		characterData: true
	});
	state.observer = obs;
	window.__vcSettle = state;
	return true;
})();`

// settleQuietJS reports milliseconds since the last observed mutation, or -1
// when the observer is missing (e.g. a full navigation replaced the page).
const settleQuietJS = `(function() {
	const s = window.__vcSettle;
	return s ? (Date.now() - s.last) : -1;
})();`

// settleTeardownJS disconnects the observer.
const settleTeardownJS = `(function() {
	const s = window.__vcSettle;
	if (s && s.observer) { s.observer.disconnect(); }
	delete window.__vcSettle;
	return true;
})();`

const settlePollInterval = 50 * time.Millisecond

// WaitForSettle blocks until the DOM has been mutation-free for the quiet
// period, or maxWait elapsed. It returns how long settling took and whether
// the page actually went quiet. A page that loses the observer mid-wait
// (navigation) counts as settled once it stays gone for the quiet period.
func WaitForSettle(ctx context.Context, ev Evaluator, maxWait, quiet time.Duration) (time.Duration, bool) {
	start := time.Now()
	if _, err := ev.ExecuteScript(ctx, settleInstallJS); err != nil {
		return time.Since(start), false
	}
	defer func() {
		// Best effort; the page may be gone.
		teardownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _ = ev.ExecuteScript(teardownCtx, settleTeardownJS)
	}()

	deadline := start.Add(maxWait)
	ticker := time.NewTicker(settlePollInterval)
	defer ticker.Stop()

	var observerGoneSince time.Time
	for {
		select {
		case <-ctx.Done():
			return time.Since(start), false
		case <-ticker.C:
		}

		now := time.Now()
		if now.After(deadline) {
			return time.Since(start), false
		}

		raw, err := ev.ExecuteScript(ctx, settleQuietJS)
		if err != nil {
			// Evaluation can fail transiently during a navigation; keep
			// polling until the deadline.
			continue
		}
		quietMS, convErr := strconv.ParseInt(string(raw), 10, 64)
		if convErr != nil {
			continue
		}

		if quietMS < 0 {
			// Observer vanished: a navigation tore the document down. Treat
			// sustained absence as settled so full loads do not always burn
			// the whole budget.
			if observerGoneSince.IsZero() {
				observerGoneSince = now
			} else if now.Sub(observerGoneSince) >= quiet {
				return time.Since(start), true
			}
			continue
		}
		observerGoneSince = time.Time{}

		if time.Duration(quietMS)*time.Millisecond >= quiet {
			return time.Since(start), true
		}
	}
}
