package media

import (
	"bytes"
	"context"
	"os/exec"
	"time"
)

// Runner executes the remux tool. It exists as an interface so merge logic is
// testable without ffmpeg installed.
//
// Implementations must treat the tool as a trust boundary: argument vectors
// only, never shell-interpolated strings.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr string, err error)
}

// ExecRunner runs the tool as a subprocess bounded by a hard wall-clock
// timeout, after which the invocation is treated as a failure.
type ExecRunner struct {
	Timeout time.Duration
}

func (r ExecRunner) Run(ctx context.Context, name string, args ...string) (string, string, error) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Minute
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, name, args...)
	var out, errBuf bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errBuf

	err := cmd.Run()
	if runCtx.Err() != nil {
		err = runCtx.Err()
	}
	return out.String(), errBuf.String(), err
}
