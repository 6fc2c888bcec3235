package uimem

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// CachedElement is one persisted UI element position. Coordinates are
// only meaningful at the resolution they were captured under.
type CachedElement struct {
	Resolution   [2]int  `json:"resolution"` // [width, height]
	X            int     `json:"x"`
	Y            int     `json:"y"`
	Width        int     `json:"width,omitempty"`  // optional bounding box
	Height       int     `json:"height,omitempty"` // optional bounding box
	Confidence   float64 `json:"confidence"`
	CreatedAt    float64 `json:"createdAt"`  // unix seconds
	LastSeenAt   float64 `json:"lastSeenAt"` // unix seconds
	ConfirmCount int     `json:"confirmCount"`
	Trusted      bool    `json:"trusted"`
}

// FileStore persists the element map as a single JSON document. An
// absent file is an empty cache, not an error.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path exposes the backing file location.
func (s *FileStore) Path() string { return s.path }

// Load reads the full element map from disk.
func (s *FileStore) Load() (map[string]CachedElement, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]CachedElement), nil
		}
		return nil, fmt.Errorf("cannot read element cache %s: %w", s.path, err)
	}

	entries := make(map[string]CachedElement)
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("cannot parse element cache %s: %w", s.path, err)
	}
	return entries, nil
}

// Save writes the full element map atomically: a crash mid-write never
// corrupts previously valid entries.
func (s *FileStore) Save(entries map[string]CachedElement) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create cache directory %s: %w", dir, err)
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal element cache: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("cannot write element cache: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("cannot replace element cache: %w", err)
	}
	return nil
}

// Clear removes the backing file entirely.
func (s *FileStore) Clear() error {
	err := os.Remove(s.path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
