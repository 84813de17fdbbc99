package profiles

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// ErrNotFound is returned by Get for unknown profile ids.
var ErrNotFound = errors.New("profile not found")

// Store holds the presets plus any custom profiles, keyed by id.
type Store struct {
	mu       sync.RWMutex
	profiles map[string]Profile
	order    []string
}

// NewStore returns a store seeded with the presets. Extra profiles replace
// presets with the same id.
func NewStore(extra ...Profile) (*Store, error) {
	s := &Store{profiles: make(map[string]Profile)}
	for _, p := range Presets() {
		s.put(p)
	}
	for _, p := range extra {
		if err := s.Put(p); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// LoadFile builds a store from the presets and the profiles in a YAML file.
// An empty path yields the presets only.
func LoadFile(path string) (*Store, error) {
	if path == "" {
		return NewStore()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profiles file: %w", err)
	}

	var doc struct {
		Profiles []Profile `yaml:"profiles"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse profiles file: %w", err)
	}

	store, err := NewStore(doc.Profiles...)
	if err != nil {
		return nil, fmt.Errorf("load profiles file: %w", err)
	}
	return store, nil
}

// Put validates and stores a profile.
func (s *Store) Put(p Profile) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if p.Name == "" {
		p.Name = p.ID
	}
	if p.Parameters == nil {
		p.Parameters = map[string]any{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.put(p)
	return nil
}

func (s *Store) put(p Profile) {
	if _, exists := s.profiles[p.ID]; !exists {
		s.order = append(s.order, p.ID)
	}
	s.profiles[p.ID] = p
}

// List returns every profile, presets first, in insertion order.
func (s *Store) List() []Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Profile, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.profiles[id])
	}
	return out
}

// Get returns the profile with the given id.
func (s *Store) Get(id string) (Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[id]
	if !ok {
		return Profile{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return p, nil
}
