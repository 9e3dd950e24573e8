package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// DiskStore writes runs as JSON files to a directory. With no directory
// configured, a temp directory is created lazily on the first access.
type DiskStore struct {
	mu  sync.Mutex
	dir string
}

// NewDiskStore creates a new DiskStore rooted at dir. An empty dir selects
// a lazily-created temp directory.
func NewDiskStore(dir string) *DiskStore {
	return &DiskStore{dir: dir}
}

// Dir returns the directory runs are written to, creating it if needed.
func (s *DiskStore) Dir() (string, error) {
	return s.ensureDir()
}

// Save seals the run and writes it as a JSON file to disk.
func (s *DiskStore) Save(run *Run) error {
	if err := validID(run.ID); err != nil {
		return err
	}
	dir, err := s.ensureDir()
	if err != nil {
		return err
	}
	run.Seal()
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshalling run %s: %w", run.ID, err)
	}

	// Write through a temp file so readers never see a partial run.
	path := filepath.Join(dir, run.ID+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing run %s: %w", run.ID, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("writing run %s: %w", run.ID, err)
	}
	return nil
}

// Load reads a run from disk and verifies its digest.
func (s *DiskStore) Load(runID string) (*Run, error) {
	if err := validID(runID); err != nil {
		return nil, err
	}
	dir, err := s.ensureDir()
	if err != nil {
		return nil, err
	}
	path := filepath.Join(dir, runID+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, runID)
		}
		return nil, fmt.Errorf("reading run %s: %w", runID, err)
	}
	var run Run
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("unmarshalling run %s: %w", runID, err)
	}
	if err := run.Verify(); err != nil {
		return nil, err
	}
	return &run, nil
}

func (s *DiskStore) ensureDir() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dir != "" {
		if err := os.MkdirAll(s.dir, 0o755); err != nil {
			return "", fmt.Errorf("creating run directory: %w", err)
		}
		return s.dir, nil
	}
	dir, err := os.MkdirTemp("", "overseer-runs-*")
	if err != nil {
		return "", fmt.Errorf("creating run directory: %w", err)
	}
	s.dir = dir
	return dir, nil
}
