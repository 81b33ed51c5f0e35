// Package storage provides the persistence bridge: session snapshots keyed
// by caller identity, either in a single JSON file or in Postgres.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"coursewatch/internal/domain"
	"coursewatch/internal/ports"
)

// FileStore keeps every snapshot in one JSON document, written atomically.
type FileStore struct {
	mu   sync.Mutex
	path string
}

var _ ports.SnapshotStore = (*FileStore)(nil)

// NewFileStore wires the backing file path; the directory is created lazily.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Save upserts one snapshot and rewrites the document.
func (s *FileStore) Save(_ context.Context, key string, snap domain.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.read()
	if err != nil {
		return err
	}
	all[key] = snap
	return s.write(all)
}

// Load reads every stored snapshot. A missing file is an empty store.
func (s *FileStore) Load(_ context.Context) (map[string]domain.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}

// Delete removes one snapshot, a no-op when absent.
func (s *FileStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.read()
	if err != nil {
		return err
	}
	if _, ok := all[key]; !ok {
		return nil
	}
	delete(all, key)
	return s.write(all)
}

func (s *FileStore) read() (map[string]domain.Snapshot, error) {
	raw, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return map[string]domain.Snapshot{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshots: %w", err)
	}

	all := map[string]domain.Snapshot{}
	if err := json.Unmarshal(raw, &all); err != nil {
		return nil, fmt.Errorf("parse snapshots: %w", err)
	}
	return all, nil
}

// write replaces the document through a temp file so a crash mid-write
// never truncates existing state.
func (s *FileStore) write(all map[string]domain.Snapshot) error {
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create snapshot dir: %w", err)
		}
	}

	raw, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshots: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("write snapshots: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace snapshots: %w", err)
	}
	return nil
}
