package recording

import (
	"context"
	"errors"

	"vcall-platform/internal/session"
)

var ErrNoArtifact = errors.New("no recording artifact for session")

// SessionTx is the mutation surface available while a session's writer lock
// is held. All writes hit the same transaction (or, in memory, the same
// critical section), so finalize's read-check-merge-write is a single
// atomic step per session.
type SessionTx interface {
	// Session returns the locked session row as read at lock acquisition.
	Session() session.Session

	UpsertArtifact(a Artifact) (Artifact, error)
	DeleteArtifact() error
	SetFinalized(finalized bool) error
	SetStatus(status session.Status) error
}

// Store persists recording artifacts and provides lock-scoped access to a
// session for the finalize and retake flows.
type Store interface {
	// WithSession runs fn while holding the session's writer lock. Returns
	// session.ErrNotFound when the id matches no session. If fn errors, all
	// of its writes are rolled back.
	WithSession(ctx context.Context, sessionID string, fn func(ctx context.Context, tx SessionTx) error) error

	GetArtifactBySession(ctx context.Context, sessionID string) (Artifact, error)

	// ListDetails returns the joined session+artifact view for every session
	// matching ref, newest session first. latestOnly trims to the first row.
	ListDetails(ctx context.Context, ref session.Ref, latestOnly bool) ([]Detail, error)
}
