package preset

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"visual-rig-hub/internal/timeline"
)

// MemoryShaders is an in-memory ShaderStore. Used as the default backend and
// in tests.
type MemoryShaders struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry[Shader]
}

// MemoryTimelines is an in-memory TimelineStore.
type MemoryTimelines struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry[timeline.Timeline]
}

type memoryEntry[T any] struct {
	value     T
	updatedAt time.Time
}

// NewMemoryShaders returns an empty in-memory shader store.
func NewMemoryShaders() *MemoryShaders {
	return &MemoryShaders{entries: make(map[string]memoryEntry[Shader])}
}

// Lookup implements ShaderStore.Lookup.
func (s *MemoryShaders) Lookup(name string) (*Shader, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[name]
	if !ok {
		return nil, fmt.Errorf("shader %q: %w", name, ErrNotFound)
	}
	v := e.value
	return &v, nil
}

// Save implements ShaderStore.Save.
func (s *MemoryShaders) Save(sh Shader) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[sh.Name] = memoryEntry[Shader]{value: sh, updatedAt: time.Now()}
	return nil
}

// Delete implements ShaderStore.Delete.
func (s *MemoryShaders) Delete(name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[name]
	delete(s.entries, name)
	return ok, nil
}

// List implements ShaderStore.List.
func (s *MemoryShaders) List(filter string) ([]Shader, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := matchNames(s.entries, filter)
	out := make([]Shader, 0, len(names))
	for _, n := range names {
		out = append(out, s.entries[n].value)
	}
	return out, nil
}

// NewMemoryTimelines returns an empty in-memory timeline store.
func NewMemoryTimelines() *MemoryTimelines {
	return &MemoryTimelines{entries: make(map[string]memoryEntry[timeline.Timeline])}
}

// Lookup implements TimelineStore.Lookup.
func (s *MemoryTimelines) Lookup(name string) (*timeline.Timeline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[name]
	if !ok {
		return nil, fmt.Errorf("timeline %q: %w", name, ErrNotFound)
	}
	v := e.value.Clone()
	return &v, nil
}

// Save implements TimelineStore.Save.
func (s *MemoryTimelines) Save(t timeline.Timeline) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[t.Name] = memoryEntry[timeline.Timeline]{value: t.Clone(), updatedAt: time.Now()}
	return nil
}

// Delete implements TimelineStore.Delete.
func (s *MemoryTimelines) Delete(name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[name]
	delete(s.entries, name)
	return ok, nil
}

// List implements TimelineStore.List.
func (s *MemoryTimelines) List(filter string) ([]timeline.Timeline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := matchNames(s.entries, filter)
	out := make([]timeline.Timeline, 0, len(names))
	for _, n := range names {
		out = append(out, s.entries[n].value.Clone())
	}
	return out, nil
}

// matchNames returns the entry names matching filter, ordered most recently
// updated first (name ascending on ties, for stable output).
func matchNames[T any](entries map[string]memoryEntry[T], filter string) []string {
	filter = strings.ToLower(filter)
	names := make([]string, 0, len(entries))
	for n := range entries {
		if filter == "" || strings.Contains(strings.ToLower(n), filter) {
			names = append(names, n)
		}
	}
	sort.Slice(names, func(i, j int) bool {
		a, b := entries[names[i]], entries[names[j]]
		if !a.updatedAt.Equal(b.updatedAt) {
			return a.updatedAt.After(b.updatedAt)
		}
		return names[i] < names[j]
	})
	return names
}
