package runner

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"
)

// Result captures everything observed about a single command execution.
// It reports facts only; classification into retryable/fatal is the
// caller's job.
type Result struct {
	ExitCode int           `json:"exit_code"`
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	Duration time.Duration `json:"duration"`
	TimedOut bool          `json:"timed_out"`
}

// Runner executes one external command with a bounded timeout.
// Implementations must never route args through a shell.
type Runner interface {
	Run(ctx context.Context, args []string, timeout time.Duration) (Result, error)
}

// ExecRunner runs the configured binary via os/exec. Arguments are passed
// verbatim to the OS, so shell injection is structurally impossible.
type ExecRunner struct {
	Bin string
}

// waitDelay bounds how long we wait for pipes to drain after the context
// kills the child.
const waitDelay = 2 * time.Second

func (r *ExecRunner) Run(ctx context.Context, args []string, timeout time.Duration) (Result, error) {
	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	// ok: args are structured, no shell involved
	// #nosec G204
	cmd := exec.CommandContext(runCtx, r.Bin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = waitDelay

	start := time.Now()
	err := cmd.Run()
	res := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		res.TimedOut = true
		res.ExitCode = -1
		return res, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		// caller cancellation, not a command timeout
		res.ExitCode = -1
		return res, ctxErr
	}
	if err == nil {
		return res, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}
	// spawn-level failure (binary missing, permissions, ...)
	res.ExitCode = -1
	return res, err
}
