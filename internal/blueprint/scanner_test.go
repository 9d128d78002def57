// File: internal/blueprint/scanner_test.go
package blueprint

import (
	"context"
	stdjson "encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakePage serves canned collector results.
type fakePage struct {
	mu      sync.Mutex
	payload string
	err     error
	calls   int
}

func (p *fakePage) ExecuteScript(ctx context.Context, script string) (stdjson.RawMessage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return stdjson.RawMessage(p.payload), nil
}

func (p *fakePage) set(payload string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.payload = payload
}

const samplePage = `{
	"url": "https://example.com/shop",
	"scroll_y": 40,
	"elements": [
		{"id":"t-ctx","tag":"h1","text":"Shop","x":10,"y":10,"w":200,"h":30,"interactive":false},
		{"id":"t-buy","tag":"button","text":"Buy now","x":10,"y":60,"w":120,"h":40,"interactive":true,"is_new":true,"state":"focused"}
	]
}`

func TestScanBuildsSnapshot(t *testing.T) {
	page := &fakePage{payload: samplePage}
	s := NewScanner(page, 400, zap.NewNop())

	snap, err := s.Scan(context.Background(), false)
	require.NoError(t, err)
	require.NotNil(t, snap)

	assert.Equal(t, "https://example.com/shop", snap.URL)
	assert.Equal(t, 40, snap.ScrollY)
	assert.NotEmpty(t, snap.Hash)
	assert.NotZero(t, snap.Timestamp)

	// New elements sort ahead of everything else.
	require.Len(t, snap.Elements, 2)
	assert.Equal(t, "t-buy", snap.Elements[0].ID)
	assert.Equal(t, "focused", snap.Elements[0].State)
	assert.Empty(t, snap.Elements[1].State)
}

func TestScanSkipsUnchangedPage(t *testing.T) {
	page := &fakePage{payload: samplePage}
	s := NewScanner(page, 400, zap.NewNop())

	first, err := s.Scan(context.Background(), false)
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := s.Scan(context.Background(), false)
	require.NoError(t, err)
	assert.Nil(t, second)

	// Force overrides the skip.
	third, err := s.Scan(context.Background(), true)
	require.NoError(t, err)
	require.NotNil(t, third)
	assert.Equal(t, first.Hash, third.Hash)
}

func TestScanReportsChangedPage(t *testing.T) {
	page := &fakePage{payload: samplePage}
	s := NewScanner(page, 400, zap.NewNop())

	_, err := s.Scan(context.Background(), false)
	require.NoError(t, err)

	page.set(`{
		"url": "https://example.com/shop",
		"scroll_y": 40,
		"elements": [
			{"id":"t-buy","tag":"button","text":"Buy now","x":10,"y":460,"w":120,"h":40,"interactive":true}
		]
	}`)
	snap, err := s.Scan(context.Background(), false)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.NotEqual(t, "", snap.Hash)
}

func TestScanResetForgetsHash(t *testing.T) {
	page := &fakePage{payload: samplePage}
	s := NewScanner(page, 400, zap.NewNop())

	_, err := s.Scan(context.Background(), false)
	require.NoError(t, err)
	s.Reset()

	snap, err := s.Scan(context.Background(), false)
	require.NoError(t, err)
	assert.NotNil(t, snap)
}

func TestScanAppliesElementCap(t *testing.T) {
	elements := ""
	for i := 0; i < 10; i++ {
		if i > 0 {
			elements += ","
		}
		elements += fmt.Sprintf(`{"id":"t-%d","tag":"p","text":"row %d","x":0,"y":%d,"w":50,"h":10}`, i, i, i*12)
	}
	page := &fakePage{payload: `{"url":"https://example.com","scroll_y":0,"elements":[` + elements + `]}`}
	s := NewScanner(page, 5, zap.NewNop())

	snap, err := s.Scan(context.Background(), false)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Len(t, snap.Elements, 5)
}

func TestScanPropagatesEvaluationErrors(t *testing.T) {
	page := &fakePage{err: fmt.Errorf("tab crashed")}
	s := NewScanner(page, 400, zap.NewNop())

	snap, err := s.Scan(context.Background(), false)
	assert.Error(t, err)
	assert.Nil(t, snap)
}

func TestScanRejectsNullResult(t *testing.T) {
	page := &fakePage{payload: "null"}
	s := NewScanner(page, 400, zap.NewNop())

	_, err := s.Scan(context.Background(), false)
	assert.Error(t, err)
}
