// File: internal/mission/store.go
package mission

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/tara-ai/copilot-cli/internal/config"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	recordFile = "mission.json"
	assetDir   = "assets"

	defaultFreshness = 5 * time.Minute
)

// ErrStale marks a saved mission that is too old to resume.
var ErrStale = errors.New("saved mission is stale")

// ErrNoMission marks the absence of any saved mission.
var ErrNoMission = errors.New("no saved mission")

// Record is the resumable state of an interrupted session.
type Record struct {
	SessionID       string    `json:"session_id"`
	InteractionMode string    `json:"interaction_mode"`
	URL             string    `json:"url"`
	Goal            string    `json:"goal,omitempty"`
	Turbo           bool      `json:"turbo,omitempty"`
	SavedAt         time.Time `json:"saved_at"`
}

// Store persists mission records and cached assets on disk so a crashed or
// interrupted run can pick its session back up within the freshness window.
type Store struct {
	mu        sync.Mutex
	dir       string
	freshness time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

// NewStore opens (and creates if needed) the mission directory. When cfg.Dir
// is empty the store lives under the user cache directory.
func NewStore(cfg config.MissionConfig, logger *zap.Logger) (*Store, error) {
	dir := cfg.Dir
	if dir == "" {
		base, err := os.UserCacheDir()
		if err != nil {
			return nil, fmt.Errorf("resolve cache dir: %w", err)
		}
		dir = filepath.Join(base, "copilot")
	}
	if err := os.MkdirAll(filepath.Join(dir, assetDir), 0o755); err != nil {
		return nil, fmt.Errorf("create mission dir: %w", err)
	}
	freshness := cfg.Freshness
	if freshness <= 0 {
		freshness = defaultFreshness
	}
	return &Store{
		dir:       dir,
		freshness: freshness,
		logger:    logger.Named("mission"),
		now:       time.Now,
	}, nil
}

// Save writes the record atomically, stamping it with the current time.
func (s *Store) Save(rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec.SavedAt = s.now()
	data, err := jsonAPI.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encode mission: %w", err)
	}

	path := filepath.Join(s.dir, recordFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write mission: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("commit mission: %w", err)
	}

	s.logger.Debug("Mission saved",
		zap.String("session_id", rec.SessionID),
		zap.String("url", rec.URL))
	return nil
}

// Load returns the saved record if one exists and is still inside the
// freshness window, consuming it: the record file is removed so a resume is
// offered at most once. Cached assets stay. A stale record is cleared and
// reported as ErrStale.
func (s *Store) Load() (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, recordFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Record{}, ErrNoMission
		}
		return Record{}, fmt.Errorf("read mission: %w", err)
	}

	var rec Record
	if err := jsonAPI.Unmarshal(data, &rec); err != nil {
		// A corrupt record is as good as none.
		s.clearLocked()
		return Record{}, ErrNoMission
	}

	age := s.now().Sub(rec.SavedAt)
	if age > s.freshness {
		s.logger.Info("Discarding stale mission",
			zap.String("session_id", rec.SessionID),
			zap.Duration("age", age))
		s.clearLocked()
		return Record{}, ErrStale
	}
	_ = os.Remove(path)
	return rec, nil
}

// Clear removes the saved record and every cached asset.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearLocked()
}

func (s *Store) clearLocked() {
	_ = os.Remove(filepath.Join(s.dir, recordFile))
	entries, err := os.ReadDir(filepath.Join(s.dir, assetDir))
	if err != nil {
		return
	}
	for _, entry := range entries {
		_ = os.Remove(filepath.Join(s.dir, assetDir, entry.Name()))
	}
}

var assetNameRE = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

func (s *Store) assetPath(id string) string {
	return filepath.Join(s.dir, assetDir, assetNameRE.ReplaceAllString(id, "_"))
}

// SaveAsset caches a server-pushed asset (audio prompt, image) by id.
func (s *Store) SaveAsset(id string, data []byte) error {
	if id == "" {
		return fmt.Errorf("save asset: empty id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.WriteFile(s.assetPath(id), data, 0o644); err != nil {
		return fmt.Errorf("write asset %s: %w", id, err)
	}
	return nil
}

// LoadAsset returns a cached asset, or (nil, false) when it is not cached.
func (s *Store) LoadAsset(id string) ([]byte, bool) {
	if id == "" {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.assetPath(id))
	if err != nil {
		return nil, false
	}
	return data, true
}
