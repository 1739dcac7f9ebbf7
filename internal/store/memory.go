package store

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/undetectlabs/mimic/api/schemas"
)

// MemoryStore is an in-memory ProfileStore used by tests and ephemeral
// sessions that should leave no trace on disk. It is safe for concurrent
// use and exchanges deep copies with callers, so no caller ever aliases a
// stored document.
type MemoryStore struct {
	mu       sync.RWMutex
	profiles map[string]*schemas.BehaviorProfile
	log      *zap.Logger
}

// Compile-time check that MemoryStore satisfies the ProfileStore interface.
var _ schemas.ProfileStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(logger *zap.Logger) *MemoryStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryStore{
		profiles: make(map[string]*schemas.BehaviorProfile),
		log:      logger.Named("memory-store"),
	}
}

// SaveProfile inserts or overwrites the stored document.
func (s *MemoryStore) SaveProfile(_ context.Context, profile *schemas.BehaviorProfile) error {
	if profile == nil || profile.ID == "" {
		return &schemas.ValidationError{Field: "id", Message: "must not be empty"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[profile.ID] = profile.Clone()
	s.log.Debug("profile saved", zap.String("id", profile.ID))
	return nil
}

// GetProfile returns a copy of the stored document.
func (s *MemoryStore) GetProfile(_ context.Context, id string) (*schemas.BehaviorProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[id]
	if !ok {
		return nil, &schemas.NotFoundError{ID: id}
	}
	return p.Clone(), nil
}

// DeleteProfile removes the stored document.
func (s *MemoryStore) DeleteProfile(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[id]; !ok {
		return &schemas.NotFoundError{ID: id}
	}
	delete(s.profiles, id)
	return nil
}

// ListProfiles returns copies of every stored profile, most recently used
// first.
func (s *MemoryStore) ListProfiles(_ context.Context) ([]*schemas.BehaviorProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*schemas.BehaviorProfile, 0, len(s.profiles))
	for _, p := range s.profiles {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastUsedAt.After(out[j].LastUsedAt)
	})
	return out, nil
}

// Close is a no-op for the in-memory backend.
func (s *MemoryStore) Close() error {
	return nil
}
