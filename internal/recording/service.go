package recording

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"vcall-platform/internal/config"
	"vcall-platform/internal/media"
	"vcall-platform/internal/notify"
	"vcall-platform/internal/segment"
	"vcall-platform/internal/session"
)

// Locker serializes finalize runs for one session across process replicas.
// A nil Locker is allowed; the store's row lock alone is then the guarantee.
type Locker interface {
	Acquire(ctx context.Context, sessionID string) (owner string, err error)
	Release(ctx context.Context, sessionID, owner string) error
}

// Merger combines ordered segment files into one artifact.
type Merger interface {
	Merge(ctx context.Context, req media.Request) (media.Result, error)
}

type Service struct {
	sessions session.Store
	store    Store
	segments *segment.Store
	merger   Merger
	lock     Locker
	notifier notify.Notifier
	storage  config.StorageConfig
	log      *slog.Logger
	clock    func() time.Time
}

func NewService(
	sessions session.Store,
	store Store,
	segments *segment.Store,
	merger Merger,
	lock Locker,
	notifier notify.Notifier,
	storage config.StorageConfig,
	log *slog.Logger,
) *Service {
	return &Service{
		sessions: sessions,
		store:    store,
		segments: segments,
		merger:   merger,
		lock:     lock,
		notifier: notifier,
		storage:  storage,
		log:      log,
		clock:    time.Now,
	}
}

// FinalizeResult reports the outcome of a finalize run.
type FinalizeResult struct {
	Artifact   Artifact `json:"artifact"`
	VideoURL   string   `json:"video_url"`
	PartsCount int      `json:"parts_count"`
	Format     string   `json:"format"`

	// AlreadyFinalized is true when a previous run produced the artifact and
	// this call returned it without doing any work.
	AlreadyFinalized bool `json:"already_finalized"`
}

// Finalize merges a session's uploaded segments into one durable recording.
//
// Exactly-once: the distributed lock keeps a second replica from starting the
// merge, and the store's session lock makes the finalized-flag check and the
// artifact write one atomic step. A caller that lost the race blocks, then
// observes the finalized flag and returns the existing artifact as success.
//
// advisoryParts is the client's claimed segment count. It is logged when it
// disagrees with what disk discovery found, and otherwise ignored.
func (s *Service) Finalize(ctx context.Context, token string, advisoryParts int, bearer string) (FinalizeResult, error) {
	sess, err := s.sessions.GetByToken(ctx, token)
	if err != nil {
		return FinalizeResult{}, err
	}

	if s.lock != nil {
		owner, err := s.lock.Acquire(ctx, sess.ID)
		if err != nil {
			return FinalizeResult{}, fmt.Errorf("acquire finalize lock: %w", err)
		}
		defer func() {
			if relErr := s.lock.Release(context.WithoutCancel(ctx), sess.ID, owner); relErr != nil {
				s.log.Warn("finalize lock release failed", slog.String("session_id", sess.ID), slog.Any("error", relErr))
			}
		}()
	}

	var res FinalizeResult
	err = s.store.WithSession(ctx, sess.ID, func(ctx context.Context, tx SessionTx) error {
		if tx.Session().RecordingFinalized {
			existing, err := s.store.GetArtifactBySession(ctx, sess.ID)
			if err != nil {
				return err
			}
			res = FinalizeResult{
				Artifact:         existing,
				VideoURL:         s.publicURL(existing.FilePath),
				Format:           formatOf(existing.FilePath),
				AlreadyFinalized: true,
			}
			return nil
		}

		parts, err := s.segments.List(sess.ID)
		if err != nil {
			return err
		}
		if advisoryParts > 0 && advisoryParts != len(parts) {
			s.log.Warn("client part count disagrees with disk",
				slog.String("session_id", sess.ID),
				slog.Int("claimed", advisoryParts),
				slog.Int("found", len(parts)))
		}

		paths := make([]string, len(parts))
		for i, p := range parts {
			paths[i] = p.Path
		}
		merged, err := s.merger.Merge(ctx, media.Request{
			Parts:    paths,
			WorkDir:  s.segments.WorkDir(sess.ID),
			OutDir:   filepath.Join(s.storage.PublicDir, "videos"),
			BaseName: "session_" + sess.ID,
		})
		if err != nil {
			return err
		}

		rel := "videos/" + filepath.Base(merged.Path)
		artifact, err := tx.UpsertArtifact(Artifact{FilePath: rel, Status: StatusUploaded})
		if err != nil {
			return err
		}
		if err := tx.SetFinalized(true); err != nil {
			return err
		}

		res = FinalizeResult{
			Artifact:   artifact,
			VideoURL:   s.publicURL(rel),
			PartsCount: len(parts),
			Format:     merged.Format,
		}
		return nil
	})
	if err != nil {
		return FinalizeResult{}, err
	}

	if !res.AlreadyFinalized {
		if err := s.segments.Purge(sess.ID); err != nil {
			s.log.Warn("segment cleanup failed", slog.String("session_id", sess.ID), slog.Any("error", err))
		}
		s.announce(ctx, sess, res, bearer)
	}
	return res, nil
}

// Retake discards a session's recording so the parties can record again on
// the same token: artifact row and file go away, segments are purged, the
// finalized flag clears and the session reactivates.
func (s *Service) Retake(ctx context.Context, ref session.Ref) (session.Session, error) {
	sess, err := s.sessions.FindByRef(ctx, ref)
	if err != nil {
		return session.Session{}, err
	}

	err = s.store.WithSession(ctx, sess.ID, func(ctx context.Context, tx SessionTx) error {
		if a, err := s.store.GetArtifactBySession(ctx, sess.ID); err == nil {
			full := filepath.Join(s.storage.PublicDir, filepath.FromSlash(a.FilePath))
			if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
				s.log.Warn("recording file removal failed", slog.String("path", full), slog.Any("error", err))
			}
			if err := tx.DeleteArtifact(); err != nil {
				return err
			}
		} else if !errors.Is(err, ErrNoArtifact) {
			return err
		}

		if err := tx.SetFinalized(false); err != nil {
			return err
		}
		return tx.SetStatus(session.StatusActive)
	})
	if err != nil {
		return session.Session{}, err
	}

	if err := s.segments.Purge(sess.ID); err != nil {
		s.log.Warn("segment cleanup failed", slog.String("session_id", sess.ID), slog.Any("error", err))
	}

	sess.RecordingFinalized = false
	sess.Status = session.StatusActive
	return sess, nil
}

// FetchDetails returns the joined recording view for every session matching
// ref, newest first, with public URLs filled in.
func (s *Service) FetchDetails(ctx context.Context, ref session.Ref, latestOnly bool) ([]Detail, error) {
	details, err := s.store.ListDetails(ctx, ref, latestOnly)
	if err != nil {
		return nil, err
	}
	for i := range details {
		if details[i].FilePath != "" {
			details[i].VideoURL = s.publicURL(details[i].FilePath)
		}
	}
	return details, nil
}

// announce is best effort; a notification failure never fails the finalize.
func (s *Service) announce(ctx context.Context, sess session.Session, res FinalizeResult, bearer string) {
	if s.notifier == nil || sess.ApplicationID == "" {
		return
	}
	ev := notify.Event{
		ApplicationID: sess.ApplicationID,
		VideoURL:      res.VideoURL,
		PartsCount:    res.PartsCount,
		Format:        res.Format,
	}
	if err := s.notifier.RecordingReady(ctx, bearer, ev); err != nil {
		s.log.Warn("recording notification failed", slog.String("session_id", sess.ID), slog.Any("error", err))
	}
}

func (s *Service) publicURL(rel string) string {
	if rel == "" {
		return ""
	}
	return strings.TrimSuffix(s.storage.PublicURLPrefix, "/") + "/" + strings.TrimPrefix(rel, "/")
}

func formatOf(path string) string {
	return strings.TrimPrefix(filepath.Ext(path), ".")
}
