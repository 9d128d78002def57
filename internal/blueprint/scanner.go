// File: internal/blueprint/scanner.go
package blueprint

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/tara-ai/copilot-cli/internal/browser"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Scanner produces blueprint snapshots of the live page and remembers the
// last content hash so unchanged pages cost one evaluation and nothing else.
type Scanner struct {
	ev          browser.Evaluator
	maxElements int
	logger      *zap.Logger

	mu       sync.Mutex
	lastHash string
}

// NewScanner builds a scanner over the given page evaluator.
func NewScanner(ev browser.Evaluator, maxElements int, logger *zap.Logger) *Scanner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxElements <= 0 {
		maxElements = 400
	}
	return &Scanner{ev: ev, maxElements: maxElements, logger: logger.Named("blueprint")}
}

// scanResult is the collector's raw return shape.
type scanResult struct {
	URL      string    `json:"url"`
	ScrollY  int       `json:"scroll_y"`
	Elements []Element `json:"elements"`
}

// Scan evaluates the collector and builds a snapshot. Without force, a page
// whose content hash matches the previous scan yields (nil, nil): nothing
// changed, nothing to send.
func (s *Scanner) Scan(ctx context.Context, force bool) (*Snapshot, error) {
	raw, err := s.ev.ExecuteScript(ctx, collectorJS)
	if err != nil {
		return nil, fmt.Errorf("blueprint collection failed: %w", err)
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, fmt.Errorf("blueprint collector returned nothing")
	}

	var result scanResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("failed to decode blueprint: %w", err)
	}

	elements := Order(result.Elements, s.maxElements)
	hash := ContentHash(elements)

	s.mu.Lock()
	unchanged := !force && hash == s.lastHash
	if !unchanged {
		s.lastHash = hash
	}
	s.mu.Unlock()

	if unchanged {
		s.logger.Debug("Page unchanged since last scan.", zap.String("hash", hash))
		return nil, nil
	}

	newCount := 0
	for _, el := range elements {
		if el.IsNew {
			newCount++
		}
	}
	s.logger.Debug("Page scanned.",
		zap.Int("elements", len(elements)),
		zap.Int("new", newCount),
		zap.String("hash", hash))

	return &Snapshot{
		URL:       result.URL,
		Hash:      hash,
		ScrollY:   result.ScrollY,
		Elements:  elements,
		Timestamp: time.Now().UnixMilli(),
	}, nil
}

// LastHash returns the hash of the most recent non-skipped scan.
func (s *Scanner) LastHash() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastHash
}

// Reset forgets the previous hash so the next Scan always reports.
func (s *Scanner) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastHash = ""
}

// Order ranks elements for the agent (new first, then interactive, then
// context) and applies the element cap. The sort is stable so document order
// survives within each band.
func Order(elements []Element, max int) []Element {
	ranked := make([]Element, len(elements))
	copy(ranked, elements)

	rank := func(el Element) int {
		switch {
		case el.IsNew:
			return 0
		case el.Interactive:
			return 1
		default:
			return 2
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return rank(ranked[i]) < rank(ranked[j])
	})

	if max > 0 && len(ranked) > max {
		ranked = ranked[:max]
	}
	return ranked
}
