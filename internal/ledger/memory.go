package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dvloznov/cashflow-assistant/internal/domain"
)

// MemoryBackend keeps every session's ledger in process memory.
// Data is lost on restart.
type MemoryBackend struct {
	mu      sync.Mutex
	ledgers map[string]*memoryStore
	opts    options
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend(opts ...Option) *MemoryBackend {
	return &MemoryBackend{
		ledgers: make(map[string]*memoryStore),
		opts:    buildOptions(opts),
	}
}

// Open returns the session's store, creating it on first use.
func (b *MemoryBackend) Open(sessionID string) Store {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.ledgers[sessionID]
	if !ok {
		s = &memoryStore{now: b.opts.now}
		b.ledgers[sessionID] = s
	}
	return s
}

// Close implements Backend.
func (b *MemoryBackend) Close() error { return nil }

type memoryStore struct {
	mu      sync.RWMutex
	mods    []domain.CalendarModification
	updated *time.Time
	now     func() time.Time
}

func (s *memoryStore) Apply(ctx context.Context, m domain.CalendarModification) error {
	return s.ApplyBatch(ctx, []domain.CalendarModification{m})
}

func (s *memoryStore) ApplyBatch(ctx context.Context, mods []domain.CalendarModification) error {
	if len(mods) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	now := s.now().UTC()
	prepared, err := prepare(mods, now)
	if err != nil {
		return fmt.Errorf("ApplyBatch: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := cloneAll(s.mods)
	for _, m := range prepared {
		next = supersede(next, m)
	}
	s.mods = next
	s.updated = &now
	return nil
}

func (s *memoryStore) List(ctx context.Context) ([]domain.CalendarModification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneAll(s.mods), nil
}

func (s *memoryStore) Feed(ctx context.Context) (domain.ModificationFeed, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	feed := domain.ModificationFeed{Modifications: cloneAll(s.mods)}
	if s.updated != nil {
		ts := *s.updated
		feed.LastUpdated = &ts
	}
	return feed, nil
}

func (s *memoryStore) Approve(ctx context.Context, modificationID string) (domain.CalendarModification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, m := range s.mods {
		if m.ModificationID != modificationID {
			continue
		}
		if m.Status == domain.StatusApproved {
			return clone(m), nil
		}
		now := s.now().UTC()
		m.Status = domain.StatusApproved
		m.ApprovedAt = &now
		s.mods[i] = m
		s.updated = &now
		return clone(m), nil
	}
	return domain.CalendarModification{}, fmt.Errorf("Approve: %s: %w", modificationID, ErrNotFound)
}

func (s *memoryStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.mods) == 0 {
		return nil
	}
	now := s.now().UTC()
	s.mods = nil
	s.updated = &now
	return nil
}
