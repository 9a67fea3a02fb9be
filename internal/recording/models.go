// Package recording owns the finalize pipeline: turning a session's uploaded
// segments into one durable artifact, exactly once per session.
package recording

import "time"

// Artifact is the merged recording produced by finalize. At most one artifact
// exists per session; retake deletes it and allows a fresh run.
type Artifact struct {
	ID        string    `json:"id" db:"id"`
	SessionID string    `json:"session_id" db:"session_id"`
	// FilePath is relative to the public storage root (e.g.
	// "videos/session_<id>.webm").
	FilePath  string    `json:"file_path" db:"file_path"`
	Status    Status    `json:"status" db:"status"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type Status string

const (
	StatusUploaded Status = "uploaded"
	StatusFailed   Status = "failed"
)

// Detail is the joined session+artifact view returned by recording lookups.
type Detail struct {
	SessionID          string    `json:"session_id"`
	Token              string    `json:"token"`
	ProjectName        string    `json:"project_name,omitempty"`
	ApplicationID      string    `json:"application_id,omitempty"`
	KYCApplicationID   string    `json:"kyc_application_id,omitempty"`
	CustomerName       string    `json:"customer_name,omitempty"`
	CustomerEmail      string    `json:"customer_email,omitempty"`
	RecordingFinalized bool      `json:"recording_finalized"`
	SessionCreatedAt   time.Time `json:"session_created_at"`

	// Artifact fields; zero-valued when no recording exists yet.
	FilePath   string `json:"file_path,omitempty"`
	VideoURL   string `json:"video_url,omitempty"`
	FileStatus Status `json:"file_status,omitempty"`
}
