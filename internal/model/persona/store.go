package persona

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrNotFound is returned when a persona id is unknown.
var ErrNotFound = errors.New("persona not found")

// Store exposes persona retrieval and management for HTTP handlers.
// List returns personas most recently created first.
type Store interface {
	List(ctx context.Context) ([]Persona, error)
	FindByID(ctx context.Context, id int64) (Persona, error)
	Create(ctx context.Context, in CreateInput) (Persona, error)
	Update(ctx context.Context, id int64, in UpdateInput) (Persona, error)
	Delete(ctx context.Context, id int64) error
}

// MemoryStore implements Store in memory. Used by tests and when no database
// path is configured.
type MemoryStore struct {
	mu     sync.RWMutex
	items  []Persona
	nextID int64
	now    func() time.Time
}

// NewMemoryStore returns a MemoryStore preloaded with the supplied personas.
func NewMemoryStore(seed ...CreateInput) *MemoryStore {
	s := &MemoryStore{nextID: 1, now: func() time.Time { return time.Now().UTC() }}
	for _, in := range seed {
		_, _ = s.Create(context.Background(), in)
	}
	return s
}

// List returns a copy of the stored personas, newest first.
func (s *MemoryStore) List(_ context.Context) ([]Persona, error) {
	s.mu.RLock()
	out := append([]Persona(nil), s.items...)
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// FindByID looks up a persona by identifier.
func (s *MemoryStore) FindByID(_ context.Context, id int64) (Persona, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, item := range s.items {
		if item.ID == id {
			return item, nil
		}
	}
	return Persona{}, ErrNotFound
}

// Create validates and stores a new persona.
func (s *MemoryStore) Create(_ context.Context, in CreateInput) (Persona, error) {
	if err := in.Validate(); err != nil {
		return Persona{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	p := Persona{
		ID:             s.nextID,
		Name:           in.Name,
		Description:    in.Description,
		SystemPrompt:   in.SystemPrompt,
		InitialMessage: in.InitialMessage,
		Language:       in.Language,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	s.nextID++
	s.items = append(s.items, p)
	return p, nil
}

// Update applies a partial update.
func (s *MemoryStore) Update(_ context.Context, id int64, in UpdateInput) (Persona, error) {
	if err := in.Validate(); err != nil {
		return Persona{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.items {
		if s.items[i].ID != id {
			continue
		}
		if in.Empty() {
			return s.items[i], nil
		}
		in.Apply(&s.items[i])
		s.items[i].UpdatedAt = s.now()
		return s.items[i], nil
	}
	return Persona{}, ErrNotFound
}

// Delete removes a persona.
func (s *MemoryStore) Delete(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.items {
		if s.items[i].ID == id {
			s.items = append(s.items[:i], s.items[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}
