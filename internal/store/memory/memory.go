package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/MrSnakeDoc/licensed/internal/domain"
)

// Store keeps license records in process memory.
// It backs local runs and tests; records are lost on restart.
type Store struct {
	mu      sync.RWMutex
	records map[string]*domain.Record // Key -> Record
}

// NewStore creates an empty memory store
func NewStore() *Store {
	return &Store{
		records: make(map[string]*domain.Record),
	}
}

// Get returns a copy of the record stored under key.
func (s *Store) Get(_ context.Context, key string) (*domain.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[key]
	if !ok {
		return nil, &domain.NotFoundError{Key: key}
	}
	c := rec.Clone()
	c.Key = key
	return c, nil
}

// Replace overwrites the record under key if rec.Revision still matches the
// stored one. An empty revision only succeeds when the key is absent.
func (s *Store) Replace(_ context.Context, key string, rec *domain.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.records[key]
	switch {
	case !ok && rec.Revision != "":
		return fmt.Errorf("replace %s: record vanished: %w", key, domain.ErrConflict)
	case ok && current.Revision != rec.Revision:
		return fmt.Errorf("replace %s: %w", key, domain.ErrConflict)
	}

	c := rec.Clone()
	c.Key = key
	c.Revision = uuid.NewString()
	s.records[key] = c

	rec.Key = key
	rec.Revision = c.Revision
	return nil
}

// Put stores rec unconditionally. Used to seed fixtures.
func (s *Store) Put(key string, rec *domain.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := rec.Clone()
	c.Key = key
	c.Revision = uuid.NewString()
	s.records[key] = c
}

// Count returns the number of stored records
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() error { return nil }
