package pm2

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind enumerates the closed set of failure categories surfaced by the
// control plane. Callers switch on Kind rather than on concrete types.
type Kind int

const (
	KindCommand Kind = iota
	KindNotFound
	KindAlreadyExists
	KindTimeout
	KindParse
	KindInvalid
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindAlreadyExists:
		return "already_exists"
	case KindTimeout:
		return "timeout"
	case KindParse:
		return "parse"
	case KindInvalid:
		return "invalid"
	default:
		return "command"
	}
}

// Error carries one failure with kind-specific structured detail.
// Only the fields relevant to the Kind are populated.
type Error struct {
	Kind     Kind
	Name     string // target process name, if any
	Msg      string
	ExitCode int
	Stderr   string
	Attempts int
	Elapsed  time.Duration
	Err      error // wrapped cause, if any
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Name != "" {
		fmt.Fprintf(&b, " %q", e.Name)
	}
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	switch e.Kind {
	case KindCommand:
		fmt.Fprintf(&b, " (exit %d)", e.ExitCode)
		if s := strings.TrimSpace(e.Stderr); s != "" {
			fmt.Fprintf(&b, ": %s", firstLine(s))
		}
	case KindTimeout:
		fmt.Fprintf(&b, " after %d attempt(s), last took %v", e.Attempts, e.Elapsed.Round(time.Millisecond))
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// Constructors, one per kind.

func ErrNotFound(name string) *Error {
	return &Error{Kind: KindNotFound, Name: name, Msg: "process not found"}
}

func ErrAlreadyExists(name string) *Error {
	return &Error{Kind: KindAlreadyExists, Name: name, Msg: "process already exists"}
}

func ErrCommand(name string, exitCode int, stderr string) *Error {
	return &Error{Kind: KindCommand, Name: name, Msg: "pm2 command failed", ExitCode: exitCode, Stderr: stderr}
}

func ErrTimeout(name string, attempts int, elapsed time.Duration) *Error {
	return &Error{Kind: KindTimeout, Name: name, Msg: "pm2 command timed out", Attempts: attempts, Elapsed: elapsed}
}

func ErrParse(msg string, cause error) *Error {
	return &Error{Kind: KindParse, Msg: msg, Err: cause}
}

func ErrInvalid(msg string) *Error {
	return &Error{Kind: KindInvalid, Msg: msg}
}

// KindOf extracts the taxonomy kind from err. ok is false when err does
// not originate from this package.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return KindCommand, false
}

func isKind(err error, k Kind) bool {
	got, ok := KindOf(err)
	return ok && got == k
}

func IsNotFound(err error) bool      { return isKind(err, KindNotFound) }
func IsAlreadyExists(err error) bool { return isKind(err, KindAlreadyExists) }
func IsCommandErr(err error) bool    { return isKind(err, KindCommand) }
func IsTimeout(err error) bool       { return isKind(err, KindTimeout) }
func IsParseErr(err error) bool      { return isKind(err, KindParse) }
func IsInvalid(err error) bool       { return isKind(err, KindInvalid) }
