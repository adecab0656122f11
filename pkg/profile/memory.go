package profile

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Memory is an in-process Store.
type Memory struct {
	mu       sync.RWMutex
	profiles map[uuid.UUID]Profile
}

func NewMemory() *Memory {
	return &Memory{profiles: make(map[uuid.UUID]Profile)}
}

func (m *Memory) Put(ctx context.Context, p Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, other := range m.profiles {
		if id != p.ID && equalNames(other.Name, p.Name) {
			return fmt.Errorf("%w: %q is %s", ErrNameTaken, p.Name, id)
		}
	}
	m.profiles[p.ID] = p.clone()
	return nil
}

func (m *Memory) Get(_ context.Context, id uuid.UUID) (Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[id]
	if !ok {
		return Profile{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return p.clone(), nil
}

func (m *Memory) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.profiles[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(m.profiles, id)
	return nil
}

func (m *Memory) List(_ context.Context) ([]Profile, error) {
	m.mu.RLock()
	out := make([]Profile, 0, len(m.profiles))
	for _, p := range m.profiles {
		out = append(out, p.clone())
	}
	m.mu.RUnlock()
	sortProfiles(out)
	return out, nil
}

func (m *Memory) Close() error { return nil }

func sortProfiles(ps []Profile) {
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].Name != ps[j].Name {
			return ps[i].Name < ps[j].Name
		}
		return ps[i].ID.String() < ps[j].ID.String()
	})
}
