package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/loykin/pm2ctl/internal/runner"
)

func TestExecuteExhaustsAttempts(t *testing.T) {
	calls := 0
	op := func(ctx context.Context) (runner.Result, error) {
		calls++
		return runner.Result{ExitCode: 1}, nil
	}
	always := func(res runner.Result, err error) bool { return true }
	p := Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
	res, attempts, err := p.Execute(context.Background(), op, always)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if calls != 3 || attempts != 3 {
		t.Fatalf("expected exactly 3 attempts, got calls=%d attempts=%d", calls, attempts)
	}
	if res.ExitCode != 1 {
		t.Fatalf("expected last result preserved, got %+v", res)
	}
}

func TestExecuteSingleAttemptWhenNotRetryable(t *testing.T) {
	calls := 0
	op := func(ctx context.Context) (runner.Result, error) {
		calls++
		return runner.Result{ExitCode: 2}, nil
	}
	never := func(res runner.Result, err error) bool { return false }
	p := Policy{MaxAttempts: 5, BaseDelay: time.Millisecond}
	_, attempts, _ := p.Execute(context.Background(), op, never)
	if calls != 1 || attempts != 1 {
		t.Fatalf("expected exactly 1 attempt, got calls=%d attempts=%d", calls, attempts)
	}
}

func TestExecuteStopsOnSuccess(t *testing.T) {
	calls := 0
	op := func(ctx context.Context) (runner.Result, error) {
		calls++
		if calls < 2 {
			return runner.Result{ExitCode: 1}, nil
		}
		return runner.Result{ExitCode: 0}, nil
	}
	retryOnFailure := func(res runner.Result, err error) bool { return res.ExitCode != 0 }
	p := Policy{MaxAttempts: 5, BaseDelay: time.Millisecond}
	res, attempts, err := p.Execute(context.Background(), op, retryOnFailure)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if attempts != 2 || res.ExitCode != 0 {
		t.Fatalf("expected success on attempt 2, got attempts=%d res=%+v", attempts, res)
	}
}

func TestBackoffGrowthAndCap(t *testing.T) {
	p := Policy{BaseDelay: 100 * time.Millisecond, MaxDelay: 500 * time.Millisecond}
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 500 * time.Millisecond},
		{10, 500 * time.Millisecond},
	}
	for _, c := range cases {
		if got := p.Backoff(c.attempt); got != c.want {
			t.Fatalf("backoff(%d)=%v want %v", c.attempt, got, c.want)
		}
	}
}

func TestExecuteHonorsContextDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	op := func(ctx context.Context) (runner.Result, error) {
		return runner.Result{ExitCode: 1}, nil
	}
	always := func(res runner.Result, err error) bool { return true }
	p := Policy{MaxAttempts: 10, BaseDelay: time.Second}
	_, _, err := p.Execute(ctx, op, always)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
