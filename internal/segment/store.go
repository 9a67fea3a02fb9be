// Package segment persists uploaded recording slices on local disk.
//
// Layout: <root>/<sessionID>/parts/<seq>.webm. The parts directory is written
// exclusively by chunk ingest and consumed/deleted exclusively by finalize.
package segment

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

var ErrNoSegments = errors.New("no segments found")

// Segment is one persisted time-slice, identified by (session, seq).
type Segment struct {
	Seq  int
	Path string
}

type Store struct {
	root string
}

func NewStore(root string) *Store { return &Store{root: root} }

func (s *Store) sessionDir(sessionID string) string {
	return filepath.Join(s.root, sessionID)
}

func (s *Store) partsDir(sessionID string) string {
	return filepath.Join(s.sessionDir(sessionID), "parts")
}

// WorkDir returns the session's scratch directory, used for the concat list
// file during finalize.
func (s *Store) WorkDir(sessionID string) string {
	return s.sessionDir(sessionID)
}

// Put writes one segment idempotently: the payload lands in a temp file and is
// renamed over any previous payload for the same sequence number, so a reader
// never observes a torn file and retried uploads are last-write-wins.
func (s *Store) Put(sessionID string, seq int, r io.Reader) error {
	if sessionID == "" || seq < 0 {
		return fmt.Errorf("invalid segment key (%q, %d)", sessionID, seq)
	}

	dir := s.partsDir(sessionID)
	if err := os.MkdirAll(dir, 0o775); err != nil {
		return fmt.Errorf("create parts dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, fmt.Sprintf(".%d-*.tmp", seq))
	if err != nil {
		return fmt.Errorf("create temp segment: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write segment: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close segment: %w", err)
	}

	final := filepath.Join(dir, strconv.Itoa(seq)+".webm")
	if err := os.Rename(tmpName, final); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("commit segment: %w", err)
	}
	return nil
}

// List discovers persisted segments from disk and returns them sorted by
// sequence number ascending. Discovery never trusts client-claimed totals;
// the filename is the sole source of the sequence key. Files that do not
// parse as "<number>.webm" are ignored (leftover temp files included).
func (s *Store) List(sessionID string) ([]Segment, error) {
	dir := s.partsDir(sessionID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoSegments
		}
		return nil, fmt.Errorf("read parts dir: %w", err)
	}

	var out []Segment
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		base, ok := strings.CutSuffix(name, ".webm")
		if !ok {
			continue
		}
		// Tolerate the original client's part_N naming alongside bare N.
		base = strings.TrimPrefix(base, "part_")
		seq, err := strconv.Atoi(base)
		if err != nil || seq < 0 {
			continue
		}
		abs, err := filepath.Abs(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		out = append(out, Segment{Seq: seq, Path: abs})
	}
	if len(out) == 0 {
		return nil, ErrNoSegments
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

// Purge removes the whole session directory (parts and scratch files).
func (s *Store) Purge(sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session id is required")
	}
	return os.RemoveAll(s.sessionDir(sessionID))
}
