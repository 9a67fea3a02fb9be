package session

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound        = errors.New("session not found")
	ErrTokenTaken      = errors.New("session token already exists")
	ErrInvalidArgument = errors.New("invalid argument")
)

// Store abstracts session persistence.
//
// Implementations must enforce token uniqueness on Insert (ErrTokenTaken on
// collision) so the service can regenerate.
type Store interface {
	Insert(ctx context.Context, s Session) error
	GetByToken(ctx context.Context, token string) (Session, error)

	// FindByRef resolves a session by token or by either linkage id.
	// When a linkage id matches multiple sessions, the newest wins.
	FindByRef(ctx context.Context, ref Ref) (Session, error)

	SetFinalized(ctx context.Context, id string, finalized bool, now time.Time) error
	SetStatus(ctx context.Context, id string, status Status, now time.Time) error
}
