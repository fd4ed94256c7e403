package logstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"

	"github.com/erenkahraman/statpulse/pkg/types"
)

const (
	DefaultPath       = "data/health-log.json"
	DefaultMaxEntries = 200
)

// Config holds the static configuration for a Store.
type Config struct {
	Path       string
	MaxEntries int
}

// Dependencies allow test overrides for logging.
type Dependencies struct {
	Logger *log.Logger
}

// Store persists the probe history as one JSON array, newest entries last.
// Every save rewrites the whole file through a temp-and-rename so readers
// never observe a torn log.
type Store struct {
	path       string
	maxEntries int
	logger     *log.Logger
}

// New builds a Store, substituting defaults for unset configuration.
func New(cfg Config, deps Dependencies) *Store {
	path := cfg.Path
	if path == "" {
		path = DefaultPath
	}
	maxEntries := cfg.MaxEntries
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	logger := deps.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Store{
		path:       path,
		maxEntries: maxEntries,
		logger:     logger,
	}
}

// Path returns the backing file location.
func (s *Store) Path() string {
	return s.path
}

// MaxEntries returns the retention cap.
func (s *Store) MaxEntries() int {
	return s.maxEntries
}

// Load returns the persisted history, oldest first. A missing file is a
// normal first run and a file that does not parse as a result array is
// reported and discarded; neither may ever block a probe cycle.
func (s *Store) Load() ([]types.ProbeResult, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read health log %q: %w", s.path, err)
	}
	var entries []types.ProbeResult
	if err := json.Unmarshal(data, &entries); err != nil {
		s.logger.Printf("health log %q is not a result array, starting empty: %v", s.path, err)
		return nil, nil
	}
	return entries, nil
}

// Save persists entries, evicting the oldest beyond the retention cap, and
// reports how many were evicted. The file is committed via rename so a crash
// mid-save leaves the previous log intact.
func (s *Store) Save(entries []types.ProbeResult) (int, error) {
	evicted := 0
	if len(entries) > s.maxEntries {
		evicted = len(entries) - s.maxEntries
		entries = entries[evicted:]
	}
	if entries == nil {
		entries = []types.ProbeResult{}
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("marshal health log: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("ensure log dir %q: %w", dir, err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return 0, fmt.Errorf("write health log temp: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return 0, fmt.Errorf("commit health log %q: %w", s.path, err)
	}
	return evicted, nil
}
