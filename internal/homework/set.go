package homework

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// Set holds every homework loaded from a definition directory, indexed by
// uuid and slug. Reload swaps the whole collection at once.
type Set struct {
	dir string

	mu     sync.RWMutex
	items  []*Homework
	byUUID map[string]*Homework
	bySlug map[string]*Homework
}

// NewSet builds a set from already loaded homeworks. A set created this way
// has no backing directory and cannot Reload.
func NewSet(items ...*Homework) *Set {
	byUUID := make(map[string]*Homework, len(items))
	bySlug := make(map[string]*Homework, len(items))
	for _, hw := range items {
		byUUID[hw.UUID] = hw
		bySlug[hw.Slug] = hw
	}
	return &Set{items: items, byUUID: byUUID, bySlug: bySlug}
}

// LoadSet discovers and loads all homework definitions under dir.
func LoadSet(dir string) (*Set, error) {
	s := &Set{dir: dir}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-reads every definition from disk and replaces the collection.
func (s *Set) Reload() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("failed to list homework dir: %w", err)
	}

	var items []*Homework
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		path := filepath.Join(s.dir, e.Name())
		if _, err := os.Stat(filepath.Join(path, hwMetaFile)); err != nil {
			continue
		}
		hw, err := Load(path)
		if err != nil {
			return fmt.Errorf("homework %q: %w", e.Name(), err)
		}
		items = append(items, hw)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Slug < items[j].Slug })

	byUUID := make(map[string]*Homework, len(items))
	bySlug := make(map[string]*Homework, len(items))
	for _, hw := range items {
		byUUID[hw.UUID] = hw
		bySlug[hw.Slug] = hw
	}

	s.mu.Lock()
	s.items = items
	s.byUUID = byUUID
	s.bySlug = bySlug
	s.mu.Unlock()
	return nil
}

// Items returns the loaded homeworks in slug order.
func (s *Set) Items() []*Homework {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.items
}

// GetByUUID looks a homework up by its unique id.
func (s *Set) GetByUUID(uuid string) (*Homework, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	hw, ok := s.byUUID[uuid]
	return hw, ok
}

// GetBySlug looks a homework up by its directory name.
func (s *Set) GetBySlug(slug string) (*Homework, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	hw, ok := s.bySlug[slug]
	return hw, ok
}
