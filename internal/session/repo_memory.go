package session

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory session store for tests and early development.
// It also hands out per-session mutexes so the recording engine's memory
// store can honor the single-finalize-writer guarantee without a database.
type MemoryStore struct {
	mu        sync.Mutex
	byID      map[string]Session
	locks     map[string]*sync.Mutex
	insertSeq int
	order     map[string]int // insertion order, tie-breaker for "newest" lookups
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:  make(map[string]Session),
		locks: make(map[string]*sync.Mutex),
		order: make(map[string]int),
	}
}

func (m *MemoryStore) Insert(_ context.Context, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.byID {
		if existing.Token == s.Token {
			return ErrTokenTaken
		}
	}
	m.insertSeq++
	m.byID[s.ID] = s
	m.order[s.ID] = m.insertSeq
	return nil
}

func (m *MemoryStore) GetByToken(_ context.Context, token string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.byID {
		if s.Token == token {
			return s, nil
		}
	}
	return Session{}, ErrNotFound
}

func (m *MemoryStore) GetByID(_ context.Context, id string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byID[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	return s, nil
}

func (m *MemoryStore) FindByRef(ctx context.Context, ref Ref) (Session, error) {
	if !ref.Valid() {
		return Session{}, ErrInvalidArgument
	}
	if ref.Kind() == RefToken {
		return m.GetByToken(ctx, ref.Value())
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	var matches []Session
	for _, s := range m.byID {
		switch ref.Kind() {
		case RefApplication:
			if s.ApplicationID == ref.Value() {
				matches = append(matches, s)
			}
		case RefKYCApplication:
			if s.KYCApplicationID == ref.Value() {
				matches = append(matches, s)
			}
		}
	}
	if len(matches) == 0 {
		return Session{}, ErrNotFound
	}
	sort.Slice(matches, func(i, j int) bool {
		return m.order[matches[i].ID] > m.order[matches[j].ID]
	})
	return matches[0], nil
}

func (m *MemoryStore) SetFinalized(_ context.Context, id string, finalized bool, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byID[id]
	if !ok {
		return ErrNotFound
	}
	s.RecordingFinalized = finalized
	s.UpdatedAt = now
	m.byID[id] = s
	return nil
}

func (m *MemoryStore) SetStatus(_ context.Context, id string, status Status, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byID[id]
	if !ok {
		return ErrNotFound
	}
	s.Status = status
	s.UpdatedAt = now
	m.byID[id] = s
	return nil
}

// AllByRef returns every session matching ref, unordered. Token refs match
// at most one session.
func (m *MemoryStore) AllByRef(ctx context.Context, ref Ref) ([]Session, error) {
	if !ref.Valid() {
		return nil, ErrInvalidArgument
	}
	if ref.Kind() == RefToken {
		s, err := m.GetByToken(ctx, ref.Value())
		if err != nil {
			return nil, err
		}
		return []Session{s}, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Session
	for _, s := range m.byID {
		switch ref.Kind() {
		case RefApplication:
			if s.ApplicationID == ref.Value() {
				out = append(out, s)
			}
		case RefKYCApplication:
			if s.KYCApplicationID == ref.Value() {
				out = append(out, s)
			}
		}
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	return out, nil
}

// SessionLock returns the mutex serializing writers for one session,
// creating it on first use.
func (m *MemoryStore) SessionLock(id string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	return l
}
