package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"vcall-platform/internal/config"

	"github.com/google/uuid"
)

// Service owns session lifecycle rules: unguessable unique tokens, bounded
// expiry windows, and the expiry-first access gate.
type Service struct {
	store Store
	cfg   config.SessionConfig

	// clock and newToken are injectable for deterministic tests.
	clock    func() time.Time
	newToken func() string
}

func NewService(store Store, cfg config.SessionConfig) *Service {
	return &Service{
		store:    store,
		cfg:      cfg,
		clock:    time.Now,
		newToken: uuid.NewString,
	}
}

type CreateRequest struct {
	ProjectName      string `json:"project_name,omitempty"`
	AgentID          string `json:"agent_id,omitempty"`
	ApplicationID    string `json:"application_id,omitempty"`
	KYCApplicationID string `json:"kyc_application_id,omitempty"`
	CustomerName     string `json:"customer_name,omitempty"`
	CustomerEmail    string `json:"customer_email,omitempty"`

	// TTL overrides the default expiry window; it is clamped to the
	// configured bounds and can never exceed the maximum cap.
	TTL time.Duration `json:"-"`
}

// tokenAttempts bounds collision-regeneration. UUID collisions are
// practically impossible; the loop exists so a storage-level uniqueness
// violation recovers instead of failing the create.
const tokenAttempts = 5

func (s *Service) Create(ctx context.Context, req CreateRequest) (Session, error) {
	now := s.clock().UTC()

	ttl := req.TTL
	if ttl <= 0 {
		ttl = s.cfg.DefaultTTL
	}
	if ttl < s.cfg.MinTTL {
		ttl = s.cfg.MinTTL
	}
	if ttl > s.cfg.MaxTTL {
		ttl = s.cfg.MaxTTL
	}

	sess := Session{
		ProjectName:      req.ProjectName,
		AgentID:          req.AgentID,
		ApplicationID:    req.ApplicationID,
		KYCApplicationID: req.KYCApplicationID,
		CustomerName:     req.CustomerName,
		CustomerEmail:    req.CustomerEmail,
		ExpiresAt:        now.Add(ttl),
		Status:           StatusActive,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	var lastErr error
	for i := 0; i < tokenAttempts; i++ {
		sess.ID = uuid.NewString()
		sess.Token = s.newToken()
		if err := s.store.Insert(ctx, sess); err != nil {
			if errors.Is(err, ErrTokenTaken) {
				lastErr = err
				continue
			}
			return Session{}, err
		}
		return sess, nil
	}
	return Session{}, fmt.Errorf("token generation exhausted after %d attempts: %w", tokenAttempts, lastErr)
}

// Resolve returns the session for a token, rejecting expired sessions even if
// the row still exists.
func (s *Service) Resolve(ctx context.Context, token string) (Session, error) {
	if token == "" {
		return Session{}, ErrInvalidArgument
	}
	sess, err := s.store.GetByToken(ctx, token)
	if err != nil {
		return Session{}, err
	}
	if sess.Expired(s.clock().UTC()) {
		return Session{}, ErrNotFound
	}
	return sess, nil
}

// ResolveRef locates a session by a tagged reference. Unlike Resolve, it does
// not apply the expiry gate: retake and metadata lookups operate on sessions
// whose join window has already closed.
func (s *Service) ResolveRef(ctx context.Context, ref Ref) (Session, error) {
	if !ref.Valid() {
		return Session{}, ErrInvalidArgument
	}
	return s.store.FindByRef(ctx, ref)
}
