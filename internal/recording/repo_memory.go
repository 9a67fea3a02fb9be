package recording

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"vcall-platform/internal/session"
)

// MemoryStore is the in-memory counterpart of SQLStore for tests. It leans on
// session.MemoryStore for session rows and per-session writer locks.
type MemoryStore struct {
	sessions *session.MemoryStore
	clock    func() time.Time

	mu        sync.Mutex
	bySession map[string]Artifact
}

func NewMemoryStore(sessions *session.MemoryStore) *MemoryStore {
	return &MemoryStore{
		sessions:  sessions,
		clock:     time.Now,
		bySession: make(map[string]Artifact),
	}
}

func (m *MemoryStore) WithSession(ctx context.Context, sessionID string, fn func(ctx context.Context, tx SessionTx) error) error {
	lock := m.sessions.SessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	s, err := m.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return err
	}
	// No rollback in memory; tests that exercise failure paths keep their
	// writes before the failing step, same as a committed partial would not
	// happen in SQL. Finalize orders its writes so this difference is
	// unobservable: the artifact and flag are written last.
	return fn(ctx, &memSessionTx{ctx: ctx, store: m, sess: s})
}

func (m *MemoryStore) GetArtifactBySession(_ context.Context, sessionID string) (Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.bySession[sessionID]
	if !ok {
		return Artifact{}, ErrNoArtifact
	}
	return a, nil
}

func (m *MemoryStore) ListDetails(ctx context.Context, ref session.Ref, latestOnly bool) ([]Detail, error) {
	if !ref.Valid() {
		return nil, session.ErrInvalidArgument
	}

	matches, err := m.sessions.AllByRef(ctx, ref)
	if err != nil {
		return nil, err
	}
	sort.Slice(matches, func(i, j int) bool {
		return matches[i].CreatedAt.After(matches[j].CreatedAt)
	})
	if latestOnly && len(matches) > 1 {
		matches = matches[:1]
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Detail, 0, len(matches))
	for _, s := range matches {
		d := Detail{
			SessionID:          s.ID,
			Token:              s.Token,
			ProjectName:        s.ProjectName,
			ApplicationID:      s.ApplicationID,
			KYCApplicationID:   s.KYCApplicationID,
			CustomerName:       s.CustomerName,
			CustomerEmail:      s.CustomerEmail,
			RecordingFinalized: s.RecordingFinalized,
			SessionCreatedAt:   s.CreatedAt,
		}
		if a, ok := m.bySession[s.ID]; ok {
			d.FilePath = a.FilePath
			d.FileStatus = a.Status
		}
		out = append(out, d)
	}
	return out, nil
}

type memSessionTx struct {
	ctx   context.Context
	store *MemoryStore
	sess  session.Session
}

func (t *memSessionTx) Session() session.Session { return t.sess }

func (t *memSessionTx) UpsertArtifact(a Artifact) (Artifact, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	now := t.store.clock().UTC()
	existing, ok := t.store.bySession[t.sess.ID]
	if ok {
		existing.FilePath = a.FilePath
		existing.Status = a.Status
		existing.UpdatedAt = now
		t.store.bySession[t.sess.ID] = existing
		return existing, nil
	}
	a.ID = uuid.NewString()
	a.SessionID = t.sess.ID
	a.CreatedAt = now
	a.UpdatedAt = now
	t.store.bySession[t.sess.ID] = a
	return a, nil
}

func (t *memSessionTx) DeleteArtifact() error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	delete(t.store.bySession, t.sess.ID)
	return nil
}

func (t *memSessionTx) SetFinalized(finalized bool) error {
	if err := t.store.sessions.SetFinalized(t.ctx, t.sess.ID, finalized, t.store.clock().UTC()); err != nil {
		return err
	}
	t.sess.RecordingFinalized = finalized
	return nil
}

func (t *memSessionTx) SetStatus(status session.Status) error {
	if err := t.store.sessions.SetStatus(t.ctx, t.sess.ID, status, t.store.clock().UTC()); err != nil {
		return err
	}
	t.sess.Status = status
	return nil
}
