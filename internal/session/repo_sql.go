package session

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// NOTE: This repository assumes the following table exists:
//
// call_sessions (
//   id                   uuid primary key,
//   token                text unique not null,
//   project_name         text,
//   agent_id             text,
//   application_id       text,
//   kyc_application_id   text,
//   customer_name        text,
//   customer_email       text,
//   expires_at           timestamptz not null,
//   status               text not null,
//   recording_finalized  boolean not null default false,
//   created_at           timestamptz not null,
//   updated_at           timestamptz not null
// )
//
// The unique constraint on token is what makes collision-retry on create safe.

type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore { return &SQLStore{db: db} }

const sessionColumns = `
id, token, project_name, agent_id, application_id, kyc_application_id,
customer_name, customer_email, expires_at, status, recording_finalized,
created_at, updated_at`

func (r *SQLStore) Insert(ctx context.Context, s Session) error {
	const q = `
INSERT INTO call_sessions (
  id, token, project_name, agent_id, application_id, kyc_application_id,
  customer_name, customer_email, expires_at, status, recording_finalized,
  created_at, updated_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13
)
`
	_, err := r.db.ExecContext(ctx, q,
		s.ID,
		s.Token,
		s.ProjectName,
		s.AgentID,
		s.ApplicationID,
		s.KYCApplicationID,
		s.CustomerName,
		s.CustomerEmail,
		s.ExpiresAt,
		s.Status,
		s.RecordingFinalized,
		s.CreatedAt,
		s.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrTokenTaken
		}
		return err
	}
	return nil
}

func (r *SQLStore) GetByToken(ctx context.Context, token string) (Session, error) {
	const q = `
SELECT ` + sessionColumns + `
FROM call_sessions
WHERE token = $1
`
	return scanSession(r.db.QueryRowContext(ctx, q, token))
}

func (r *SQLStore) FindByRef(ctx context.Context, ref Ref) (Session, error) {
	if !ref.Valid() {
		return Session{}, ErrInvalidArgument
	}
	switch ref.Kind() {
	case RefToken:
		return r.GetByToken(ctx, ref.Value())
	case RefApplication:
		const q = `
SELECT ` + sessionColumns + `
FROM call_sessions
WHERE application_id = $1
ORDER BY created_at DESC, id DESC
LIMIT 1
`
		return scanSession(r.db.QueryRowContext(ctx, q, ref.Value()))
	case RefKYCApplication:
		const q = `
SELECT ` + sessionColumns + `
FROM call_sessions
WHERE kyc_application_id = $1
ORDER BY created_at DESC, id DESC
LIMIT 1
`
		return scanSession(r.db.QueryRowContext(ctx, q, ref.Value()))
	default:
		return Session{}, ErrInvalidArgument
	}
}

func (r *SQLStore) SetFinalized(ctx context.Context, id string, finalized bool, now time.Time) error {
	const q = `
UPDATE call_sessions
SET recording_finalized = $2, updated_at = $3
WHERE id = $1
`
	return execExpectingRow(ctx, r.db, q, id, finalized, now)
}

func (r *SQLStore) SetStatus(ctx context.Context, id string, status Status, now time.Time) error {
	const q = `
UPDATE call_sessions
SET status = $2, updated_at = $3
WHERE id = $1
`
	return execExpectingRow(ctx, r.db, q, id, status, now)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (Session, error) {
	var s Session
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
			return Session{}, ErrNotFound
		}
		return Session{}, err
	}
	return s, nil
}

func execExpectingRow(ctx context.Context, db *sql.DB, q string, args ...any) error {
	res, err := db.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
