// Package media merges uploaded recording segments into one durable file by
// driving ffmpeg through a deterministic fallback ladder.
package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var ErrToolUnavailable = errors.New("ffmpeg not found in PATH")

// Attempt captures one ffmpeg invocation for operator diagnostics.
type Attempt struct {
	Cmd    string `json:"cmd"`
	Stderr string `json:"stderr"`
}

// MergeError is returned when every rung of the fallback ladder fails. It
// carries the attempted command lines and their error streams so the caller
// can surface full diagnostic detail.
type MergeError struct {
	Attempts []Attempt `json:"attempts"`
	ListFile string    `json:"list_file,omitempty"`
}

func (e *MergeError) Error() string {
	if len(e.Attempts) == 0 {
		return "media merge failed"
	}
	return fmt.Sprintf("media merge failed after %d attempts: %s", len(e.Attempts), e.Attempts[len(e.Attempts)-1].Stderr)
}

// Request describes one merge run. Parts must already be sorted ascending by
// sequence number; the merger preserves the given order exactly.
type Request struct {
	Parts    []string
	WorkDir  string
	OutDir   string
	BaseName string
}

// Result names the finished artifact. Format ("webm" or "mp4") is decided by
// whichever ladder rung succeeded.
type Result struct {
	Path   string
	Format string
}

type Merger struct {
	bin string
	run Runner
}

func NewMerger(bin string, run Runner) *Merger {
	if bin == "" {
		bin = "ffmpeg"
	}
	return &Merger{bin: bin, run: run}
}

// Re-encode target: widely-compatible H.264/AAC at a fixed quality preset
// with a streaming-friendly layout.
var encodeArgs = []string{
	"-c:v", "libx264", "-preset", "veryfast", "-crf", "23",
	"-c:a", "aac", "-b:a", "128k", "-movflags", "+faststart",
}

// Merge combines segments into a single output file.
//
// Single segment: container copy into .webm first (zero re-encode); if the
// container isn't directly packageable, full re-encode into .mp4.
//
// Multiple segments: concat demuxer with fresh timestamp generation
// (+genpts, required because each independently-started recorder slice
// restarts its own timestamp base) and re-encode; if that fails, concat with
// stream copy as a last resort.
func (m *Merger) Merge(ctx context.Context, req Request) (Result, error) {
	if len(req.Parts) == 0 {
		return Result{}, errors.New("no parts to merge")
	}
	if err := os.MkdirAll(req.OutDir, 0o775); err != nil {
		return Result{}, fmt.Errorf("create output dir: %w", err)
	}

	if _, stderr, err := m.exec(ctx, "-version"); err != nil {
		return Result{}, fmt.Errorf("%w: %s", ErrToolUnavailable, strings.TrimSpace(stderr))
	}

	if len(req.Parts) == 1 {
		return m.mergeSingle(ctx, req)
	}
	return m.mergeConcat(ctx, req)
}

func (m *Merger) mergeSingle(ctx context.Context, req Request) (Result, error) {
	src := req.Parts[0]

	dstWebm := filepath.Join(req.OutDir, req.BaseName+".webm")
	copyArgs := []string{"-hide_banner", "-loglevel", "error", "-i", src, "-c", "copy", "-y", dstWebm}
	_, copyErrOut, copyErr := m.exec(ctx, copyArgs...)
	if copyErr == nil {
		return Result{Path: dstWebm, Format: "webm"}, nil
	}

	dstMp4 := filepath.Join(req.OutDir, req.BaseName+".mp4")
	encArgs := append([]string{"-hide_banner", "-loglevel", "error", "-i", src}, encodeArgs...)
	encArgs = append(encArgs, "-y", dstMp4)
	_, encErrOut, encErr := m.exec(ctx, encArgs...)
	if encErr == nil {
		return Result{Path: dstMp4, Format: "mp4"}, nil
	}

	return Result{}, &MergeError{Attempts: []Attempt{
		{Cmd: m.cmdline(copyArgs), Stderr: copyErrOut},
		{Cmd: m.cmdline(encArgs), Stderr: encErrOut},
	}}
}

func (m *Merger) mergeConcat(ctx context.Context, req Request) (Result, error) {
	listFile, err := m.writeConcatList(req)
	if err != nil {
		return Result{}, err
	}
	defer os.Remove(listFile)

	dstMp4 := filepath.Join(req.OutDir, req.BaseName+".mp4")
	encArgs := []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "concat", "-safe", "0", "-i", listFile,
		"-fflags", "+genpts",
	}
	encArgs = append(encArgs, encodeArgs...)
	encArgs = append(encArgs, "-y", dstMp4)
	_, encErrOut, encErr := m.exec(ctx, encArgs...)
	if encErr == nil {
		return Result{Path: dstMp4, Format: "mp4"}, nil
	}

	// Stream copy may still work if all chunks match perfectly.
	dstWebm := filepath.Join(req.OutDir, req.BaseName+".webm")
	copyArgs := []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "concat", "-safe", "0", "-i", listFile,
		"-c", "copy", "-y", dstWebm,
	}
	_, copyErrOut, copyErr := m.exec(ctx, copyArgs...)
	if copyErr == nil {
		return Result{Path: dstWebm, Format: "webm"}, nil
	}

	listTxt, _ := os.ReadFile(listFile)
	return Result{}, &MergeError{
		Attempts: []Attempt{
			{Cmd: m.cmdline(encArgs), Stderr: encErrOut},
			{Cmd: m.cmdline(copyArgs), Stderr: copyErrOut},
		},
		ListFile: string(listTxt),
	}
}

// writeConcatList builds the ordered concat manifest consumed by ffmpeg's
// concat demuxer. Single quotes in paths are escaped per the demuxer's rules.
func (m *Merger) writeConcatList(req Request) (string, error) {
	if err := os.MkdirAll(req.WorkDir, 0o775); err != nil {
		return "", fmt.Errorf("create work dir: %w", err)
	}
	var b strings.Builder
	for _, p := range req.Parts {
		b.WriteString("file '")
		b.WriteString(strings.ReplaceAll(p, "'", `'\''`))
		b.WriteString("'\n")
	}
	listFile := filepath.Join(req.WorkDir, "list.txt")
	if err := os.WriteFile(listFile, []byte(b.String()), 0o644); err != nil {
		return "", fmt.Errorf("write concat list: %w", err)
	}
	return listFile, nil
}

func (m *Merger) exec(ctx context.Context, args ...string) (string, string, error) {
	return m.run.Run(ctx, m.bin, args...)
}

func (m *Merger) cmdline(args []string) string {
	return m.bin + " " + strings.Join(args, " ")
}
