package logs

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/loykin/pm2ctl/internal/metrics"
	"github.com/loykin/pm2ctl/internal/pm2"
	"github.com/loykin/pm2ctl/internal/retry"
	"github.com/loykin/pm2ctl/internal/runner"
)

// Log reads fail fast: the default timeout is deliberately shorter than
// the process-control one.
const (
	DefaultTimeout  = 2 * time.Second
	DefaultMaxLines = 100
	MaxLinesCap     = 1000
)

// Fleet answers existence queries for process names. Satisfied by
// *control.Service.
type Fleet interface {
	Get(ctx context.Context, name string) (pm2.Record, error)
}

// Options configures a log Service.
type Options struct {
	Runner   runner.Runner
	Fleet    Fleet
	Timeout  time.Duration
	Retry    retry.Policy
	MaxLines int // upper bound on a single tail request
	Logger   *slog.Logger
}

// Service provides bounded reads and truncation over a named process's
// log streams, routed through the pm2 CLI.
type Service struct {
	runner   runner.Runner
	fleet    Fleet
	timeout  time.Duration
	policy   retry.Policy
	maxLines int
	log      *slog.Logger
}

func New(opts Options) *Service {
	s := &Service{
		runner:   opts.Runner,
		fleet:    opts.Fleet,
		timeout:  opts.Timeout,
		policy:   opts.Retry,
		maxLines: opts.MaxLines,
		log:      opts.Logger,
	}
	if s.timeout <= 0 {
		s.timeout = DefaultTimeout
	}
	if s.maxLines <= 0 {
		s.maxLines = MaxLinesCap
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	return s
}

// Tail returns up to maxLines most-recent log lines for name, oldest
// first. Unknown names fail with a not-found error.
func (s *Service) Tail(ctx context.Context, name string, maxLines int) (pm2.Excerpt, error) {
	if maxLines <= 0 {
		maxLines = DefaultMaxLines
	}
	if maxLines > s.maxLines {
		maxLines = s.maxLines
	}
	if _, err := s.fleet.Get(ctx, name); err != nil {
		return pm2.Excerpt{}, err
	}
	// read one line past the window so a full window is distinguishable
	// from exhausted history
	res, attempts, err := s.run(ctx, pm2.LogsArgs(name, maxLines+1))
	if err != nil {
		return pm2.Excerpt{}, err
	}
	lines := splitLines(res.Stdout)
	truncated := false
	if len(lines) > maxLines {
		lines = lines[len(lines)-maxLines:]
		truncated = true
	}
	s.log.Debug("tailed process logs", "name", name, "lines", len(lines), "attempts", attempts)
	return pm2.Excerpt{ProcessName: name, Lines: lines, Truncated: truncated}, nil
}

// Clear truncates the log streams of name.
func (s *Service) Clear(ctx context.Context, name string) error {
	if _, err := s.fleet.Get(ctx, name); err != nil {
		return err
	}
	_, _, err := s.run(ctx, pm2.FlushArgs(name))
	if err != nil {
		return err
	}
	s.log.Info("process logs cleared", "name", name)
	return nil
}

// run drives one pm2 log command through the retry policy. Both tail
// and flush are idempotent, so plain retry is safe here.
func (s *Service) run(ctx context.Context, args []string) (runner.Result, int, error) {
	cmdName := args[0]
	op := func(ctx context.Context) (runner.Result, error) {
		return s.runner.Run(ctx, args, s.timeout)
	}
	res, attempts, err := s.policy.Execute(ctx, op, func(res runner.Result, err error) bool {
		if err != nil {
			return false
		}
		return pm2.Retryable(res)
	})
	outcome := metrics.OutcomeOK
	switch {
	case res.TimedOut:
		outcome = metrics.OutcomeTimeout
	case err != nil || res.ExitCode != 0:
		outcome = metrics.OutcomeError
	}
	metrics.ObserveCommand(cmdName, outcome, res.Duration)
	for i := 1; i < attempts; i++ {
		metrics.AddRetry(cmdName)
	}
	switch {
	case err != nil:
		return res, attempts, &pm2.Error{Kind: pm2.KindCommand, Msg: "pm2 invocation failed", Err: err}
	case res.TimedOut:
		return res, attempts, pm2.ErrTimeout("", attempts, res.Duration)
	case res.ExitCode != 0:
		return res, attempts, pm2.ClassifyFailure("", res)
	}
	return res, attempts, nil
}

// splitLines drops the trailing newline but keeps interior blank lines;
// log content is returned verbatim otherwise.
func splitLines(out string) []string {
	out = strings.TrimRight(out, "\n")
	if out == "" {
		return nil
	}
	return strings.Split(out, "\n")
}

type fleetFunc func(ctx context.Context, name string) (pm2.Record, error)

func (f fleetFunc) Get(ctx context.Context, name string) (pm2.Record, error) { return f(ctx, name) }

// FleetFunc adapts a function to the Fleet interface.
func FleetFunc(f func(ctx context.Context, name string) (pm2.Record, error)) Fleet {
	return fleetFunc(f)
}
