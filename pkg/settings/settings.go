// Package settings persists module enablement and per-user subscriptions.
// The dispatcher is agnostic to this state; the composition root consults it
// before registering modules, and the API layer uses it to filter listings.
package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// ModuleSettings is the persisted per-module record.
type ModuleSettings struct {
	ModuleID    string   `json:"module_id"`
	Enabled     bool     `json:"enabled"`
	Subscribers []string `json:"subscribers,omitempty"`
}

// Store is a JSON file-backed settings store with an in-memory cache.
// One file per module under the base directory.
type Store struct {
	baseDir string
	mu      sync.RWMutex
	items   map[string]*ModuleSettings
}

// NewStore creates a store rooted at baseDir and loads existing records.
func NewStore(baseDir string) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create settings dir %s: %w", baseDir, err)
	}
	s := &Store{baseDir: baseDir, items: make(map[string]*ModuleSettings)}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return fmt.Errorf("read settings dir %s: %w", s.baseDir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.baseDir, entry.Name()))
		if err != nil {
			continue
		}
		var item ModuleSettings
		if err := json.Unmarshal(data, &item); err != nil {
			continue
		}
		s.items[item.ModuleID] = &item
	}
	return nil
}

// Get returns the record for a module. Unknown modules default to enabled:
// a module with no record has simply never been configured off.
func (s *Store) Get(moduleID string) ModuleSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if item, ok := s.items[moduleID]; ok {
		return *item
	}
	return ModuleSettings{ModuleID: moduleID, Enabled: true}
}

// IsEnabled reports whether a module should be registered at all.
func (s *Store) IsEnabled(moduleID string) bool {
	return s.Get(moduleID).Enabled
}

// IsSubscribed reports whether a user subscribed to a module's updates.
// An empty subscriber list means everyone.
func (s *Store) IsSubscribed(moduleID, userID string) bool {
	rec := s.Get(moduleID)
	if !rec.Enabled {
		return false
	}
	if len(rec.Subscribers) == 0 {
		return true
	}
	for _, sub := range rec.Subscribers {
		if sub == userID {
			return true
		}
	}
	return false
}

// Save persists a record to memory and disk.
func (s *Store) Save(rec ModuleSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item := rec
	s.items[rec.ModuleID] = &item

	data, err := json.MarshalIndent(&item, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal settings %s: %w", rec.ModuleID, err)
	}
	path := filepath.Join(s.baseDir, rec.ModuleID+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write settings %s: %w", path, err)
	}
	return nil
}

// All returns a snapshot of every stored record.
func (s *Store) All() []ModuleSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ModuleSettings, 0, len(s.items))
	for _, item := range s.items {
		out = append(out, *item)
	}
	return out
}
