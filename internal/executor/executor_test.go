// File: internal/executor/executor_test.go
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tara-ai/copilot-cli/internal/blueprint"
	"github.com/tara-ai/copilot-cli/internal/config"
	"github.com/tara-ai/copilot-cli/internal/protocol"
)

// fakeBrowser dispatches on recognizable fragments of the injected scripts so
// one fake can serve the action, settle, scan and modal probes of a single
// Execute call.
type fakeBrowser struct {
	mu sync.Mutex

	url       string
	href      string
	collector string
	actionRes string
	actionErr error
	quietMS   int64
	modal     bool

	scripts   []string
	navigated []string
}

func (f *fakeBrowser) ExecuteScript(_ context.Context, script string) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts = append(f.scripts, script)

	switch {
	case script == currentHrefScript:
		return json.RawMessage(fmt.Sprintf("%q", f.href)), nil
	case strings.Contains(script, "new MutationObserver("):
		return json.RawMessage("true"), nil
	case strings.Contains(script, "- s.last"):
		return json.RawMessage(fmt.Sprintf("%d", f.quietMS)), nil
	case strings.Contains(script, "observer.disconnect"):
		return json.RawMessage("true"), nil
	case strings.Contains(script, "INTERACTIVE_TAGS"):
		return json.RawMessage(f.collector), nil
	case strings.Contains(script, "alertdialog"):
		return json.RawMessage(fmt.Sprintf("%t", f.modal)), nil
	default:
		if f.actionErr != nil {
			return nil, f.actionErr
		}
		return json.RawMessage(f.actionRes), nil
	}
}

func (f *fakeBrowser) Navigate(_ context.Context, targetURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.navigated = append(f.navigated, targetURL)
	f.url = targetURL
	f.href = targetURL
	return nil
}

func (f *fakeBrowser) CurrentURL(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.url, nil
}

func (f *fakeBrowser) ranScript(fragment string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.scripts {
		if strings.Contains(s, fragment) {
			return true
		}
	}
	return false
}

func (f *fakeBrowser) setCollector(payload string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.collector = payload
}

func pagePayload(url string, elements string) string {
	return fmt.Sprintf(`{"url":%q,"scroll_y":0,"elements":[%s]}`, url, elements)
}

const buttonElement = `{"id":"t-buy","tag":"button","text":"Buy now","x":10,"y":20,"w":80,"h":30,"interactive":true}`
const freshElement = `{"id":"t-toast","tag":"p","text":"Added to cart","x":10,"y":60,"w":120,"h":20,"interactive":false,"is_new":true}`

func newTestExecutor(t *testing.T, fake *fakeBrowser) (*Executor, *blueprint.Scanner) {
	t.Helper()
	logger := zap.NewNop()
	scanner := blueprint.NewScanner(fake, 400, logger)
	cfg := config.BrowserConfig{
		SettleMaxWait:     500 * time.Millisecond,
		SettleQuiet:       20 * time.Millisecond,
		ScrollSettleQuiet: 30 * time.Millisecond,
		MaxElements:       400,
	}
	return New(fake, scanner, cfg, logger), scanner
}

func TestExecuteClickReportsDOMChange(t *testing.T) {
	fake := &fakeBrowser{
		url:       "https://shop.example/cart",
		href:      "https://shop.example/cart",
		collector: pagePayload("https://shop.example/cart", buttonElement),
		actionRes: `{"found":true}`,
		quietMS:   10_000,
	}
	exec, scanner := newTestExecutor(t, fake)

	_, err := scanner.Scan(context.Background(), true)
	require.NoError(t, err)

	fake.setCollector(pagePayload("https://shop.example/cart", buttonElement+","+freshElement))

	outcome, snap := exec.Execute(context.Background(), protocol.Command{
		ID:       "cmd-1",
		Action:   protocol.ActionClick,
		TargetID: "t-buy",
	})

	require.NotNil(t, snap)
	assert.True(t, outcome.Success)
	assert.True(t, outcome.DOMChanged)
	assert.False(t, outcome.URLChanged)
	assert.Equal(t, 1, outcome.NewElementCount)
	assert.Equal(t, snap.Hash, outcome.DOMHash)
	assert.Equal(t, "https://shop.example/cart", outcome.CurrentURL)
	assert.Positive(t, outcome.SettleTimeMS)
	assert.True(t, fake.ranScript("MouseEvent"))
}

func TestExecuteClickMissingTarget(t *testing.T) {
	fake := &fakeBrowser{
		url:       "https://shop.example/cart",
		collector: pagePayload("https://shop.example/cart", buttonElement),
		actionRes: `{"found":false}`,
		quietMS:   10_000,
	}
	exec, _ := newTestExecutor(t, fake)

	outcome, snap := exec.Execute(context.Background(), protocol.Command{
		ID:       "cmd-2",
		Action:   protocol.ActionClick,
		TargetID: "t-ghost",
	})

	require.NotNil(t, snap)
	assert.False(t, outcome.Success)
	assert.Contains(t, outcome.Error, "t-ghost")
}

func TestExecuteTypeTextRejectsReadOnlyTarget(t *testing.T) {
	fake := &fakeBrowser{
		url:       "https://shop.example/cart",
		collector: pagePayload("https://shop.example/cart", buttonElement),
		actionRes: `{"found":true,"typed":false}`,
		quietMS:   10_000,
	}
	exec, _ := newTestExecutor(t, fake)

	outcome, _ := exec.Execute(context.Background(), protocol.Command{
		ID:       "cmd-3",
		Action:   protocol.ActionTypeText,
		TargetID: "t-buy",
		Text:     "hello",
	})

	assert.False(t, outcome.Success)
	assert.Contains(t, outcome.Error, "editable")
}

func TestExecuteScrollNothingScrollable(t *testing.T) {
	fake := &fakeBrowser{
		url:       "https://shop.example/cart",
		collector: pagePayload("https://shop.example/cart", buttonElement),
		actionRes: `{"scrolled":false}`,
		quietMS:   10_000,
	}
	exec, _ := newTestExecutor(t, fake)

	outcome, _ := exec.Execute(context.Background(), protocol.Command{
		ID:        "cmd-4",
		Action:    protocol.ActionScroll,
		Direction: "down",
	})

	assert.False(t, outcome.Success)
	assert.Contains(t, outcome.Error, "scrollable")
}

func TestExecuteUnsupportedAction(t *testing.T) {
	fake := &fakeBrowser{
		url:       "https://shop.example/cart",
		collector: pagePayload("https://shop.example/cart", buttonElement),
		quietMS:   10_000,
	}
	exec, _ := newTestExecutor(t, fake)

	outcome, _ := exec.Execute(context.Background(), protocol.Command{
		ID:     "cmd-5",
		Action: "teleport",
	})

	assert.False(t, outcome.Success)
	assert.Contains(t, outcome.Error, "teleport")
}

func TestExecuteReportsModal(t *testing.T) {
	fake := &fakeBrowser{
		url:       "https://shop.example/cart",
		collector: pagePayload("https://shop.example/cart", buttonElement),
		actionRes: `{"found":true}`,
		quietMS:   10_000,
		modal:     true,
	}
	exec, _ := newTestExecutor(t, fake)

	outcome, _ := exec.Execute(context.Background(), protocol.Command{
		ID:       "cmd-6",
		Action:   protocol.ActionClick,
		TargetID: "t-buy",
	})

	assert.True(t, outcome.HasModal)
}

func TestExecuteWaitHonorsCanceledContext(t *testing.T) {
	fake := &fakeBrowser{
		url:       "https://shop.example/cart",
		collector: pagePayload("https://shop.example/cart", buttonElement),
		quietMS:   10_000,
	}
	exec, _ := newTestExecutor(t, fake)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcome, _ := exec.Execute(ctx, protocol.Command{
		ID:     "cmd-7",
		Action: protocol.ActionWait,
	})

	assert.False(t, outcome.Success)
	assert.Contains(t, outcome.Error, "canceled")
}

func TestExecuteNavigateAcrossOrigins(t *testing.T) {
	fake := &fakeBrowser{
		url:       "https://shop.example/cart",
		collector: pagePayload("https://docs.example/start", buttonElement),
		quietMS:   10_000,
	}
	exec, _ := newTestExecutor(t, fake)

	outcome, _ := exec.Execute(context.Background(), protocol.Command{
		ID:     "cmd-8",
		Action: protocol.ActionNavigate,
		URL:    "https://docs.example/start",
	})

	assert.True(t, outcome.Success)
	assert.True(t, outcome.URLChanged)
	assert.Equal(t, []string{"https://docs.example/start"}, fake.navigated)
	assert.False(t, fake.ranScript("pushState"))
}

func TestNavigateSmartUsesHistoryOnSameOrigin(t *testing.T) {
	fake := &fakeBrowser{
		url:       "https://shop.example/cart",
		href:      "https://shop.example/checkout",
		actionRes: `{"pushed":true}`,
	}
	exec, _ := newTestExecutor(t, fake)

	err := exec.NavigateSmart(context.Background(), "https://shop.example/checkout")

	require.NoError(t, err)
	assert.Empty(t, fake.navigated)
	assert.True(t, fake.ranScript("pushState"))
}

func TestNavigateSmartResolvesRelativeTarget(t *testing.T) {
	fake := &fakeBrowser{
		url:       "https://app.example.com/home",
		href:      "https://app.example.com/same-origin/path",
		actionRes: `{"pushed":true}`,
	}
	exec, _ := newTestExecutor(t, fake)

	err := exec.NavigateSmart(context.Background(), "/same-origin/path")

	require.NoError(t, err)
	assert.Empty(t, fake.navigated, "a relative same-origin target must not trigger a full load")
	assert.True(t, fake.ranScript("pushState"))
	assert.True(t, fake.ranScript("https://app.example.com/same-origin/path"))
}

func TestNavigateSmartFallsBackWhenRouterIgnoresPush(t *testing.T) {
	fake := &fakeBrowser{
		url:       "https://shop.example/cart",
		href:      "https://shop.example/cart", // router never moved
		actionRes: `{"pushed":true}`,
	}
	exec, _ := newTestExecutor(t, fake)

	err := exec.NavigateSmart(context.Background(), "https://shop.example/checkout")

	require.NoError(t, err)
	assert.Equal(t, []string{"https://shop.example/checkout"}, fake.navigated)
}

func TestExecuteClearSkipsSettle(t *testing.T) {
	fake := &fakeBrowser{
		url:       "https://shop.example/cart",
		collector: pagePayload("https://shop.example/cart", buttonElement),
		actionRes: `{"cleared":true}`,
		quietMS:   10_000,
	}
	exec, _ := newTestExecutor(t, fake)

	outcome, _ := exec.Execute(context.Background(), protocol.Command{
		ID:     "cmd-9",
		Action: protocol.ActionClear,
	})

	assert.True(t, outcome.Success)
	assert.Zero(t, outcome.SettleTimeMS)
	assert.False(t, fake.ranScript("MutationObserver"))
}
