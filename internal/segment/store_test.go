package segment

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestPut_DuplicateSeqLastWriteWins(t *testing.T) {
	s := NewStore(t.TempDir())

	if err := s.Put("sess", 0, bytes.NewReader([]byte("first"))); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.Put("sess", 0, bytes.NewReader([]byte("second"))); err != nil {
		t.Fatalf("put retry: %v", err)
	}

	segs, err := s.List("sess")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(segs) != 1 {
		t.Fatalf("expected exactly one stored segment, got %d", len(segs))
	}
	data, err := os.ReadFile(segs[0].Path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "second" {
		t.Fatalf("expected last write to win, got %q", data)
	}
}

func TestList_SortsBySeqNotArrival(t *testing.T) {
	s := NewStore(t.TempDir())

	for _, seq := range []int{2, 0, 10, 1} {
		if err := s.Put("sess", seq, bytes.NewReader([]byte{byte(seq)})); err != nil {
			t.Fatalf("put %d: %v", seq, err)
		}
	}

	segs, err := s.List("sess")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []int{0, 1, 2, 10}
	if len(segs) != len(want) {
		t.Fatalf("expected %d segments, got %d", len(want), len(segs))
	}
	for i, seg := range segs {
		if seg.Seq != want[i] {
			t.Fatalf("position %d: expected seq %d, got %d", i, want[i], seg.Seq)
		}
	}
}

func TestList_IgnoresForeignFiles(t *testing.T) {
	root := t.TempDir()
	s := NewStore(root)
	if err := s.Put("sess", 0, bytes.NewReader([]byte("x"))); err != nil {
		t.Fatalf("put: %v", err)
	}
	dir := filepath.Join(root, "sess", "parts")
	for _, name := range []string{".0-abc.tmp", "list.txt", "notanumber.webm"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("junk"), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	segs, err := s.List("sess")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(segs) != 1 || segs[0].Seq != 0 {
		t.Fatalf("expected only the real segment, got %+v", segs)
	}
}

func TestList_NoSegments(t *testing.T) {
	s := NewStore(t.TempDir())
	if _, err := s.List("missing"); !errors.Is(err, ErrNoSegments) {
		t.Fatalf("expected ErrNoSegments, got %v", err)
	}
}

func TestPurge_RemovesSessionDir(t *testing.T) {
	root := t.TempDir()
	s := NewStore(root)
	if err := s.Put("sess", 0, bytes.NewReader([]byte("x"))); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.Purge("sess"); err != nil {
		t.Fatalf("purge: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "sess")); !os.IsNotExist(err) {
		t.Fatalf("expected session dir removed, stat err %v", err)
	}
}
