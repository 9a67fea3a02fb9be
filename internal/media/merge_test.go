package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// fakeRunner scripts ffmpeg outcomes per invocation and records every call.
type fakeRunner struct {
	calls [][]string
	// fail decides, per argv, whether the invocation fails.
	fail func(args []string) bool
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) (string, string, error) {
	f.calls = append(f.calls, append([]string{name}, args...))
	if f.fail != nil && f.fail(args) {
		return "", "simulated failure", errors.New("exit status 1")
	}
	// Successful merges must leave an output file behind.
	if out := outputPath(args); out != "" {
		_ = os.WriteFile(out, []byte("merged"), 0o644)
	}
	return "", "", nil
}

func outputPath(args []string) string {
	for i, a := range args {
		if a == "-y" && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

func hasArg(args []string, want string) bool {
	for _, a := range args {
		if a == want {
			return true
		}
	}
	return false
}

func writeParts(t *testing.T, dir string, n int) []string {
	t.Helper()
	var parts []string
	for i := 0; i < n; i++ {
		p := filepath.Join(dir, "parts", fmt.Sprintf("%d.webm", i))
		if err := os.MkdirAll(filepath.Dir(p), 0o775); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte("seg"), 0o644); err != nil {
			t.Fatal(err)
		}
		parts = append(parts, p)
	}
	return parts
}

func TestMerge_SingleSegmentAvoidsConcat(t *testing.T) {
	dir := t.TempDir()
	run := &fakeRunner{}
	m := NewMerger("ffmpeg", run)

	res, err := m.Merge(context.Background(), Request{
		Parts:    writeParts(t, dir, 1),
		WorkDir:  dir,
		OutDir:   filepath.Join(dir, "out"),
		BaseName: "session_x",
	})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if res.Format != "webm" || !strings.HasSuffix(res.Path, "session_x.webm") {
		t.Fatalf("expected zero-re-encode webm result, got %+v", res)
	}
	for _, call := range run.calls {
		if hasArg(call, "concat") {
			t.Fatalf("single-segment merge must not take the concat path: %v", call)
		}
	}
}

func TestMerge_SingleSegmentFallsBackToReencode(t *testing.T) {
	dir := t.TempDir()
	run := &fakeRunner{fail: func(args []string) bool {
		return hasArg(args, "copy")
	}}
	m := NewMerger("ffmpeg", run)

	res, err := m.Merge(context.Background(), Request{
		Parts:    writeParts(t, dir, 1),
		WorkDir:  dir,
		OutDir:   filepath.Join(dir, "out"),
		BaseName: "session_x",
	})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if res.Format != "mp4" {
		t.Fatalf("expected mp4 after re-encode fallback, got %+v", res)
	}
}

func TestMerge_MultiSegmentPreservesGivenOrder(t *testing.T) {
	dir := t.TempDir()
	run := &fakeRunner{}
	m := NewMerger("ffmpeg", run)

	parts := writeParts(t, dir, 3)
	var listContent string
	origFail := run.fail
	run.fail = func(args []string) bool {
		if hasArg(args, "concat") && listContent == "" {
			for i, a := range args {
				if a == "-i" && i+1 < len(args) {
					data, _ := os.ReadFile(args[i+1])
					listContent = string(data)
				}
			}
		}
		if origFail != nil {
			return origFail(args)
		}
		return false
	}

	res, err := m.Merge(context.Background(), Request{
		Parts:    parts,
		WorkDir:  dir,
		OutDir:   filepath.Join(dir, "out"),
		BaseName: "session_x",
	})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if res.Format != "mp4" {
		t.Fatalf("expected concat re-encode mp4, got %+v", res)
	}

	lines := strings.Split(strings.TrimSpace(listContent), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 manifest lines, got %q", listContent)
	}
	for i, p := range parts {
		if !strings.Contains(lines[i], p) {
			t.Fatalf("manifest line %d: expected %s, got %s", i, p, lines[i])
		}
	}
}

func TestMerge_ConcatGenptsRequested(t *testing.T) {
	dir := t.TempDir()
	run := &fakeRunner{}
	m := NewMerger("ffmpeg", run)

	if _, err := m.Merge(context.Background(), Request{
		Parts:    writeParts(t, dir, 2),
		WorkDir:  dir,
		OutDir:   filepath.Join(dir, "out"),
		BaseName: "session_x",
	}); err != nil {
		t.Fatalf("merge: %v", err)
	}

	found := false
	for _, call := range run.calls {
		if hasArg(call, "concat") && hasArg(call, "+genpts") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected concat invocation to regenerate timestamps")
	}
}

func TestMerge_DoubleFailureSurfacesDiagnostics(t *testing.T) {
	dir := t.TempDir()
	run := &fakeRunner{fail: func(args []string) bool {
		return !hasArg(args, "-version")
	}}
	m := NewMerger("ffmpeg", run)

	_, err := m.Merge(context.Background(), Request{
		Parts:    writeParts(t, dir, 2),
		WorkDir:  dir,
		OutDir:   filepath.Join(dir, "out"),
		BaseName: "session_x",
	})
	var mergeErr *MergeError
	if !errors.As(err, &mergeErr) {
		t.Fatalf("expected MergeError, got %v", err)
	}
	if len(mergeErr.Attempts) != 2 {
		t.Fatalf("expected both attempts recorded, got %d", len(mergeErr.Attempts))
	}
	for _, a := range mergeErr.Attempts {
		if a.Cmd == "" || a.Stderr == "" {
			t.Fatalf("attempt missing diagnostics: %+v", a)
		}
	}
	if mergeErr.ListFile == "" {
		t.Fatalf("expected concat manifest captured for diagnostics")
	}
}

func TestMerge_ToolUnavailable(t *testing.T) {
	dir := t.TempDir()
	run := &fakeRunner{fail: func(args []string) bool {
		return hasArg(args, "-version")
	}}
	m := NewMerger("ffmpeg", run)

	_, err := m.Merge(context.Background(), Request{
		Parts:    writeParts(t, dir, 1),
		WorkDir:  dir,
		OutDir:   filepath.Join(dir, "out"),
		BaseName: "session_x",
	})
	if !errors.Is(err, ErrToolUnavailable) {
		t.Fatalf("expected ErrToolUnavailable, got %v", err)
	}
}
