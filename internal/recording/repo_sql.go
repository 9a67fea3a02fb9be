package recording

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"vcall-platform/internal/session"
	"vcall-platform/pkg/utils"
)

// NOTE: This repository assumes the following table exists alongside
// call_sessions:
//
// recording_artifacts (
//   id          uuid primary key,
//   session_id  uuid unique not null references call_sessions(id),
//   file_path   text not null,
//   status      text not null,
//   created_at  timestamptz not null,
//   updated_at  timestamptz not null
// )
//
// The unique constraint on session_id enforces one artifact per session; the
// finalize upsert relies on it.

type SQLStore struct {
	db    *sql.DB
	clock func() time.Time
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db, clock: time.Now}
}

const sessionColumns = `
id, token, project_name, agent_id, application_id, kyc_application_id,
customer_name, customer_email, expires_at, status, recording_finalized,
created_at, updated_at`

// WithSession locks the session row FOR UPDATE for the duration of fn. The
// row lock is the single-writer guarantee for finalize: a concurrent caller
// blocks here until the first transaction commits, then reads the committed
// finalized flag.
func (r *SQLStore) WithSession(ctx context.Context, sessionID string, fn func(ctx context.Context, tx SessionTx) error) error {
	return utils.WithTx(ctx, r.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		const q = `
SELECT ` + sessionColumns + `
FROM call_sessions
WHERE id = $1
FOR UPDATE
`
		s, err := scanSessionRow(tx.QueryRowContext(ctx, q, sessionID))
		if err != nil {
			return err
		}
		return fn(ctx, &sqlSessionTx{ctx: ctx, tx: tx, sess: s, clock: r.clock})
	})
}

func (r *SQLStore) GetArtifactBySession(ctx context.Context, sessionID string) (Artifact, error) {
	const q = `
SELECT id, session_id, file_path, status, created_at, updated_at
FROM recording_artifacts
WHERE session_id = $1
`
	return scanArtifact(r.db.QueryRowContext(ctx, q, sessionID))
}

func (r *SQLStore) ListDetails(ctx context.Context, ref session.Ref, latestOnly bool) ([]Detail, error) {
	if !ref.Valid() {
		return nil, session.ErrInvalidArgument
	}

	q := `
SELECT s.id, s.token, s.project_name, s.application_id, s.kyc_application_id,
       s.customer_name, s.customer_email, s.recording_finalized, s.created_at,
       COALESCE(a.file_path, ''), COALESCE(a.status, '')
FROM call_sessions s
LEFT JOIN recording_artifacts a ON a.session_id = s.id
`
	switch ref.Kind() {
	case session.RefToken:
		q += "WHERE s.token = $1\n"
	case session.RefApplication:
		q += "WHERE s.application_id = $1\n"
	case session.RefKYCApplication:
		q += "WHERE s.kyc_application_id = $1\n"
	default:
		return nil, session.ErrInvalidArgument
	}
	q += "ORDER BY s.created_at DESC, s.id DESC\n"
	if latestOnly {
		q += "LIMIT 1\n"
	}

	rows, err := r.db.QueryContext(ctx, q, ref.Value())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Detail
	for rows.Next() {
		var d Detail
		if err := rows.Scan(
			&d.SessionID,
			&d.Token,
			&d.ProjectName,
			&d.ApplicationID,
			&d.KYCApplicationID,
			&d.CustomerName,
			&d.CustomerEmail,
			&d.RecordingFinalized,
			&d.SessionCreatedAt,
			&d.FilePath,
			&d.FileStatus,
		); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, session.ErrNotFound
	}
	return out, nil
}

type sqlSessionTx struct {
	ctx   context.Context
	tx    *sql.Tx
	sess  session.Session
	clock func() time.Time
}

func (t *sqlSessionTx) Session() session.Session { return t.sess }

func (t *sqlSessionTx) UpsertArtifact(a Artifact) (Artifact, error) {
	now := t.clock().UTC()
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	a.SessionID = t.sess.ID
	a.CreatedAt = now
	a.UpdatedAt = now

	const q = `
INSERT INTO recording_artifacts (id, session_id, file_path, status, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (session_id) DO UPDATE
SET file_path = EXCLUDED.file_path,
    status = EXCLUDED.status,
    updated_at = EXCLUDED.updated_at
RETURNING id, session_id, file_path, status, created_at, updated_at
`
	return scanArtifact(t.tx.QueryRowContext(t.ctx, q,
		a.ID, a.SessionID, a.FilePath, a.Status, a.CreatedAt, a.UpdatedAt))
}

func (t *sqlSessionTx) DeleteArtifact() error {
	const q = `DELETE FROM recording_artifacts WHERE session_id = $1`
	_, err := t.tx.ExecContext(t.ctx, q, t.sess.ID)
	return err
}

func (t *sqlSessionTx) SetFinalized(finalized bool) error {
	const q = `
UPDATE call_sessions
SET recording_finalized = $2, updated_at = $3
WHERE id = $1
`
	_, err := t.tx.ExecContext(t.ctx, q, t.sess.ID, finalized, t.clock().UTC())
	if err == nil {
		t.sess.RecordingFinalized = finalized
	}
	return err
}

func (t *sqlSessionTx) SetStatus(status session.Status) error {
	const q = `
UPDATE call_sessions
SET status = $2, updated_at = $3
WHERE id = $1
`
	_, err := t.tx.ExecContext(t.ctx, q, t.sess.ID, status, t.clock().UTC())
	if err == nil {
		t.sess.Status = status
	}
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSessionRow(row rowScanner) (session.Session, error) {
	var s session.Session
	err := row.Scan(
		&s.ID,
		&s.Token,
		&s.ProjectName,
		&s.AgentID,
		&s.ApplicationID,
		&s.KYCApplicationID,
		&s.CustomerName,
		&s.CustomerEmail,
		&s.ExpiresAt,
		&s.Status,
		&s.RecordingFinalized,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return session.Session{}, session.ErrNotFound
		}
		return session.Session{}, err
	}
	return s, nil
}

func scanArtifact(row rowScanner) (Artifact, error) {
	var a Artifact
	err := row.Scan(&a.ID, &a.SessionID, &a.FilePath, &a.Status, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Artifact{}, ErrNoArtifact
		}
		return Artifact{}, err
	}
	return a, nil
}
