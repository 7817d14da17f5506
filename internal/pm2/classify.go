package pm2

import (
	"strings"

	"github.com/loykin/pm2ctl/internal/runner"
)

// Stderr signatures of transient pm2 failures (daemon lock contention,
// an operation already in flight). These resolve on retry without
// caller intervention.
var transientPatterns = []string{
	"lock",
	"already processing",
	"in progress",
	"eagain",
	"econnreset",
	"daemon is restarting",
}

// Stderr signatures of deterministic failures that must never be
// retried.
var fatalPatterns = []string{
	"not found",
	"doesn't exist",
	"already exists",
	"already launched",
	"permission denied",
	"no such file or directory",
	"invalid configuration",
	"script not found",
}

// Retryable reports whether a failed execution looks transient. A
// timeout is always considered transient at the command level; whether
// re-issuing is safe for a mutating command is decided above this layer.
func Retryable(res runner.Result) bool {
	if res.TimedOut {
		return true
	}
	if res.ExitCode == 0 {
		return false
	}
	s := strings.ToLower(res.Stderr)
	for _, p := range fatalPatterns {
		if strings.Contains(s, p) {
			return false
		}
	}
	for _, p := range transientPatterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

// ClassifyFailure maps a non-zero execution result onto the error
// taxonomy using pm2's stderr text. name is the target process, if any.
func ClassifyFailure(name string, res runner.Result) *Error {
	s := strings.ToLower(res.Stderr)
	switch {
	case strings.Contains(s, "not found") || strings.Contains(s, "doesn't exist"):
		return ErrNotFound(name)
	case strings.Contains(s, "already exists") || strings.Contains(s, "already launched"):
		return ErrAlreadyExists(name)
	default:
		return ErrCommand(name, res.ExitCode, res.Stderr)
	}
}
