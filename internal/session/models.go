package session

import "time"

// Session is the durable record of a call session.
//
// Invariants:
// - Token is unique and immutable once created.
// - ExpiresAt is never extended after creation.
// - Status transitions are monotonic (active -> expired/completed) except for
//   retake, which explicitly resets to active and clears the finalized flag.
// - Rows are never hard-deleted; lifecycle is soft via status and expiry.
type Session struct {
	ID    string `json:"id" db:"id"`
	Token string `json:"token" db:"token"`

	ProjectName string `json:"project_name,omitempty" db:"project_name"`
	AgentID     string `json:"agent_id,omitempty" db:"agent_id"`

	// Either external linkage key may be set; both are independent.
	ApplicationID    string `json:"application_id,omitempty" db:"application_id"`
	KYCApplicationID string `json:"kyc_application_id,omitempty" db:"kyc_application_id"`

	CustomerName  string `json:"customer_name,omitempty" db:"customer_name"`
	CustomerEmail string `json:"customer_email,omitempty" db:"customer_email"`

	ExpiresAt time.Time `json:"expires_at" db:"expires_at"`
	Status    Status    `json:"status" db:"status"`

	// RecordingFinalized marks that a merged artifact exists for this session.
	RecordingFinalized bool `json:"recording_finalized" db:"recording_finalized"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type Status string

const (
	StatusActive    Status = "active"
	StatusExpired   Status = "expired"
	StatusCompleted Status = "completed"
)

// Expired reports whether the session is past its expiry instant.
// Expiry is the primary access gate; Status is a secondary signal only.
func (s Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
