package pm2

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/loykin/pm2ctl/internal/runner"
)

func TestKindPredicates(t *testing.T) {
	cases := []struct {
		err  error
		want Kind
	}{
		{ErrNotFound("a"), KindNotFound},
		{ErrAlreadyExists("a"), KindAlreadyExists},
		{ErrCommand("a", 1, "boom"), KindCommand},
		{ErrTimeout("a", 3, time.Second), KindTimeout},
		{ErrParse("bad", nil), KindParse},
		{ErrInvalid("bad name"), KindInvalid},
	}
	for _, c := range cases {
		k, ok := KindOf(c.err)
		if !ok || k != c.want {
			t.Fatalf("KindOf(%v)=(%v,%v) want %v", c.err, k, ok, c.want)
		}
	}
	if IsNotFound(errors.New("plain")) {
		t.Fatalf("foreign error must not match taxonomy")
	}
}

func TestKindOfWrappedError(t *testing.T) {
	wrapped := fmt.Errorf("context: %w", ErrNotFound("worker1"))
	if !IsNotFound(wrapped) {
		t.Fatalf("expected wrapped error to keep its kind")
	}
}

func TestErrorMessages(t *testing.T) {
	e := ErrCommand("worker1", 2, "line one\nline two")
	msg := e.Error()
	if !strings.Contains(msg, "worker1") || !strings.Contains(msg, "exit 2") || !strings.Contains(msg, "line one") {
		t.Fatalf("unexpected message: %s", msg)
	}
	if strings.Contains(msg, "line two") {
		t.Fatalf("message should keep only the first stderr line: %s", msg)
	}
	te := ErrTimeout("worker1", 3, 1500*time.Millisecond)
	if !strings.Contains(te.Error(), "3 attempt") {
		t.Fatalf("timeout message missing attempts: %s", te.Error())
	}
}

func TestRetryableClassification(t *testing.T) {
	cases := []struct {
		res  runner.Result
		want bool
	}{
		{runner.Result{TimedOut: true}, true},
		{runner.Result{ExitCode: 0}, false},
		{runner.Result{ExitCode: 1, Stderr: "daemon lock acquired by another client"}, true},
		{runner.Result{ExitCode: 1, Stderr: "operation already processing"}, true},
		{runner.Result{ExitCode: 1, Stderr: "process worker1 not found"}, false},
		{runner.Result{ExitCode: 1, Stderr: "process already exists"}, false},
		{runner.Result{ExitCode: 1, Stderr: "permission denied"}, false},
		{runner.Result{ExitCode: 1, Stderr: "something unexpected"}, false},
	}
	for _, c := range cases {
		if got := Retryable(c.res); got != c.want {
			t.Fatalf("Retryable(%+v)=%v want %v", c.res, got, c.want)
		}
	}
}

func TestClassifyFailure(t *testing.T) {
	if err := ClassifyFailure("w", runner.Result{ExitCode: 1, Stderr: "Process w not found"}); !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := ClassifyFailure("w", runner.Result{ExitCode: 1, Stderr: "Script already launched"}); !IsAlreadyExists(err) {
		t.Fatalf("expected already exists, got %v", err)
	}
	err := ClassifyFailure("w", runner.Result{ExitCode: 7, Stderr: "kaboom"})
	if !IsCommandErr(err) || err.ExitCode != 7 {
		t.Fatalf("expected command error with exit code, got %+v", err)
	}
}
