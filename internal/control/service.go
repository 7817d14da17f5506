package control

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/loykin/pm2ctl/internal/ecosystem"
	"github.com/loykin/pm2ctl/internal/history"
	"github.com/loykin/pm2ctl/internal/metrics"
	"github.com/loykin/pm2ctl/internal/pm2"
	"github.com/loykin/pm2ctl/internal/retry"
	"github.com/loykin/pm2ctl/internal/runner"
	"github.com/loykin/pm2ctl/internal/store"
)

// Defaults used when Options leaves a knob unset. The real values come
// from the configuration boundary (internal/config).
const (
	DefaultTimeout    = 5 * time.Second
	DefaultOnlineWait = 2 * time.Second

	onlinePollInterval = 200 * time.Millisecond
	auditTimeout       = 2 * time.Second
	stderrKeep         = 2048
)

// Options configures a Service.
type Options struct {
	Runner     runner.Runner
	Timeout    time.Duration // per pm2 invocation
	Retry      retry.Policy
	ConfigDir  string        // where ecosystem descriptors are written
	OnlineWait time.Duration // bound for the post-create online re-query
	Logger     *slog.Logger
}

// Service is the process-control facade. It never caches fleet state
// across calls: pm2's registry is authoritative, and every answer is
// derived from a fresh query.
type Service struct {
	runner     runner.Runner
	timeout    time.Duration
	policy     retry.Policy
	cfgDir     string
	onlineWait time.Duration
	locks      *namedLocks
	log        *slog.Logger

	mu    sync.Mutex
	st    store.Store
	sinks []history.Sink
}

func New(opts Options) *Service {
	s := &Service{
		runner:     opts.Runner,
		timeout:    opts.Timeout,
		policy:     opts.Retry,
		cfgDir:     opts.ConfigDir,
		onlineWait: opts.OnlineWait,
		locks:      newNamedLocks(),
		log:        opts.Logger,
	}
	if s.timeout <= 0 {
		s.timeout = DefaultTimeout
	}
	if s.onlineWait <= 0 {
		s.onlineWait = DefaultOnlineWait
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	return s
}

// SetStore configures an operation audit store. It ensures the schema
// and keeps the instance for subsequent writes.
func (s *Service) SetStore(st store.Store) error {
	s.mu.Lock()
	s.st = st
	s.mu.Unlock()
	if st == nil {
		return nil
	}
	return st.EnsureSchema(context.Background())
}

// SetHistorySinks configures external operation-event sinks
// (ClickHouse, etc.). Passing no sinks clears the list.
func (s *Service) SetHistorySinks(sinks ...history.Sink) {
	s.mu.Lock()
	s.sinks = append([]history.Sink(nil), sinks...)
	s.mu.Unlock()
}

// Verify checks that the pm2 binary is reachable and returns its
// version string.
func (s *Service) Verify(ctx context.Context) (string, error) {
	res, err := s.runner.Run(ctx, pm2.VersionArgs(), s.timeout)
	if err != nil {
		return "", &pm2.Error{Kind: pm2.KindCommand, Msg: "pm2 is not accessible", Err: err}
	}
	if res.TimedOut {
		return "", pm2.ErrTimeout("", 1, res.Duration)
	}
	if res.ExitCode != 0 {
		return "", pm2.ClassifyFailure("", res)
	}
	return strings.TrimSpace(res.Stdout), nil
}

// List returns the whole fleet. An empty fleet is an empty slice.
func (s *Service) List(ctx context.Context) ([]pm2.Record, error) {
	records, attempts, elapsed, err := s.list(ctx)
	s.audit("list", "", attempts, elapsed, err)
	return records, err
}

// Get returns the record for name or a not-found error.
func (s *Service) Get(ctx context.Context, name string) (pm2.Record, error) {
	rec, attempts, elapsed, err := s.get(ctx, name)
	s.audit("get", name, attempts, elapsed, err)
	return rec, err
}

// Create registers and launches a new process from config. It fails
// with an already-exists error before issuing any mutating command when
// the name is taken. On success the returned record is re-queried until
// online, bounded by OnlineWait; a record still launching after the
// bound is returned as-is.
func (s *Service) Create(ctx context.Context, req ecosystem.Request) (pm2.Record, error) {
	cfg, err := ecosystem.Build(req)
	if err != nil {
		return pm2.Record{}, err
	}
	name := cfg.Name
	s.locks.Lock(name)
	defer s.locks.Unlock(name)

	records, attempts, elapsed, err := s.list(ctx)
	if err != nil {
		s.audit("create", name, attempts, elapsed, err)
		return pm2.Record{}, err
	}
	if _, ok := lookup(records, name); ok {
		err = pm2.ErrAlreadyExists(name)
		s.audit("create", name, attempts, elapsed, err)
		return pm2.Record{}, err
	}

	path, werr := cfg.WriteFile(s.cfgDir)
	if werr != nil {
		err = &pm2.Error{Kind: pm2.KindCommand, Name: name, Msg: "writing process descriptor", Err: werr}
		s.audit("create", name, 0, 0, err)
		return pm2.Record{}, err
	}

	attempts, elapsed, err = s.mutate(ctx, name, pm2.StartConfigArgs(path), func(recs []pm2.Record) bool {
		_, ok := lookup(recs, name)
		return ok
	})
	if err != nil {
		_ = ecosystem.Remove(s.cfgDir, name)
		s.audit("create", name, attempts, elapsed, err)
		return pm2.Record{}, err
	}

	rec, err := s.awaitOnline(ctx, name)
	s.audit("create", name, attempts, elapsed, err)
	if err != nil {
		return pm2.Record{}, err
	}
	s.log.Info("process created", "name", name, "status", rec.Status, "pid", rec.PID)
	return rec, nil
}

// Delete removes a process from pm2 and deletes its descriptor.
// Deleting an absent name fails with a not-found error rather than
// succeeding silently.
func (s *Service) Delete(ctx context.Context, name string) error {
	if !ecosystem.SafeName(name) {
		return pm2.ErrInvalid("invalid process name")
	}
	s.locks.Lock(name)
	defer s.locks.Unlock(name)

	records, attempts, elapsed, err := s.list(ctx)
	if err != nil {
		s.audit("delete", name, attempts, elapsed, err)
		return err
	}
	if _, ok := lookup(records, name); !ok {
		err = pm2.ErrNotFound(name)
		s.audit("delete", name, attempts, elapsed, err)
		return err
	}

	attempts, elapsed, err = s.mutate(ctx, name, pm2.DeleteArgs(name), func(recs []pm2.Record) bool {
		_, ok := lookup(recs, name)
		return !ok
	})
	s.audit("delete", name, attempts, elapsed, err)
	if err != nil {
		return err
	}
	_ = ecosystem.Remove(s.cfgDir, name)
	s.log.Info("process deleted", "name", name)
	return nil
}

// Start resumes a stopped (or errored) process and returns the
// re-queried post-operation record.
func (s *Service) Start(ctx context.Context, name string) (pm2.Record, error) {
	return s.transition(ctx, "start", name, pm2.StartArgs(name),
		func(prev, r pm2.Record) bool { return r.Status.Alive() })
}

// Stop stops a running process and returns the re-queried record.
func (s *Service) Stop(ctx context.Context, name string) (pm2.Record, error) {
	return s.transition(ctx, "stop", name, pm2.StopArgs(name),
		func(prev, r pm2.Record) bool { return r.Status == pm2.StatusStopped })
}

// Restart restarts a process. The restart counter is used during
// re-verify so that a restart that completed during a timed-out command
// is recognized instead of re-issued.
func (s *Service) Restart(ctx context.Context, name string) (pm2.Record, error) {
	return s.transition(ctx, "restart", name, pm2.RestartArgs(name),
		func(prev, r pm2.Record) bool { return r.Status.Alive() && r.Restarts > prev.Restarts })
}

// --- internals ---

// transition runs one mutating lifecycle command under the per-name
// lock: existence check, command with re-verify-before-retry, then a
// fresh post-operation query.
func (s *Service) transition(ctx context.Context, op, name string, args []string,
	reached func(prev, r pm2.Record) bool) (pm2.Record, error) {
	if !ecosystem.SafeName(name) {
		return pm2.Record{}, pm2.ErrInvalid("invalid process name")
	}
	s.locks.Lock(name)
	defer s.locks.Unlock(name)

	prev, attempts, elapsed, err := s.get(ctx, name)
	if err != nil {
		s.audit(op, name, attempts, elapsed, err)
		return pm2.Record{}, err
	}

	attempts, elapsed, err = s.mutate(ctx, name, args, func(recs []pm2.Record) bool {
		r, ok := lookup(recs, name)
		return ok && reached(prev, r)
	})
	if err != nil {
		s.audit(op, name, attempts, elapsed, err)
		return pm2.Record{}, err
	}

	// The command's own exit status is not trusted; the post-operation
	// state comes from a fresh query.
	rec, _, _, err := s.get(ctx, name)
	s.audit(op, name, attempts, elapsed, err)
	if err != nil {
		return pm2.Record{}, err
	}
	s.log.Info("process "+op, "name", name, "status", rec.Status, "pid", rec.PID)
	return rec, nil
}

// mutate issues a non-idempotent pm2 command. After a transient failure
// or timeout the actual fleet state is re-queried first, and the
// command is only re-issued when the desired state has not been
// reached. Blind re-issue after a timeout could double-apply the
// mutation.
func (s *Service) mutate(ctx context.Context, name string, args []string,
	reached func([]pm2.Record) bool) (int, time.Duration, error) {
	cmdName := args[0]
	maxAttempts := s.policy.Attempts()
	var lastDur time.Duration
	for i := 1; i <= maxAttempts; i++ {
		res, runErr := s.runner.Run(ctx, args, s.timeout)
		lastDur = res.Duration
		metrics.ObserveCommand(cmdName, outcomeOf(res, runErr), res.Duration)
		switch {
		case runErr != nil:
			return i, lastDur, &pm2.Error{Kind: pm2.KindCommand, Name: name, Msg: "pm2 invocation failed", Err: runErr}
		case !res.TimedOut && res.ExitCode == 0:
			return i, lastDur, nil
		case !pm2.Retryable(res):
			return i, lastDur, pm2.ClassifyFailure(name, res)
		}

		// Re-verify before any retry: the mutation may have taken
		// effect even though the command did not confirm it.
		if recs, lerr := s.listOnce(ctx); lerr == nil && reached(recs) {
			s.log.Debug("mutation confirmed by re-query", "command", cmdName, "name", name, "attempt", i)
			return i, lastDur, nil
		}
		if i == maxAttempts {
			if res.TimedOut {
				return i, lastDur, pm2.ErrTimeout(name, i, res.Duration)
			}
			return i, lastDur, pm2.ClassifyFailure(name, res)
		}
		metrics.AddRetry(cmdName)
		s.log.Warn("retrying pm2 command", "command", cmdName, "name", name, "attempt", i, "timed_out", res.TimedOut)
		if err := sleepCtx(ctx, s.policy.Backoff(i)); err != nil {
			return i, lastDur, err
		}
	}
	// unreachable; the loop always returns
	return maxAttempts, lastDur, pm2.ErrTimeout(name, maxAttempts, 0)
}

// list runs jlist through the retry policy and parses the fleet.
func (s *Service) list(ctx context.Context) ([]pm2.Record, int, time.Duration, error) {
	op := func(ctx context.Context) (runner.Result, error) {
		return s.runner.Run(ctx, pm2.ListArgs(), s.timeout)
	}
	res, attempts, err := s.policy.Execute(ctx, op, func(res runner.Result, err error) bool {
		if err != nil {
			return false
		}
		return pm2.Retryable(res)
	})
	metrics.ObserveCommand("jlist", outcomeOf(res, err), res.Duration)
	for i := 1; i < attempts; i++ {
		metrics.AddRetry("jlist")
	}
	switch {
	case err != nil:
		return nil, attempts, res.Duration, &pm2.Error{Kind: pm2.KindCommand, Msg: "pm2 invocation failed", Err: err}
	case res.TimedOut:
		return nil, attempts, res.Duration, pm2.ErrTimeout("", attempts, res.Duration)
	case res.ExitCode != 0:
		return nil, attempts, res.Duration, pm2.ClassifyFailure("", res)
	}
	records, perr := pm2.ParseList([]byte(res.Stdout))
	if perr != nil {
		return nil, attempts, res.Duration, perr
	}
	byStatus := make(map[string]int)
	for _, r := range records {
		byStatus[string(r.Status)]++
	}
	metrics.SetFleetProcesses(byStatus)
	return records, attempts, res.Duration, nil
}

// listOnce runs a single unretried jlist; used for re-verify steps that
// already sit inside a retry loop.
func (s *Service) listOnce(ctx context.Context) ([]pm2.Record, error) {
	res, err := s.runner.Run(ctx, pm2.ListArgs(), s.timeout)
	metrics.ObserveCommand("jlist", outcomeOf(res, err), res.Duration)
	if err != nil {
		return nil, err
	}
	if res.TimedOut || res.ExitCode != 0 {
		return nil, pm2.ClassifyFailure("", res)
	}
	return pm2.ParseList([]byte(res.Stdout))
}

func (s *Service) get(ctx context.Context, name string) (pm2.Record, int, time.Duration, error) {
	if !ecosystem.SafeName(name) {
		return pm2.Record{}, 0, 0, pm2.ErrInvalid("invalid process name")
	}
	records, attempts, elapsed, err := s.list(ctx)
	if err != nil {
		return pm2.Record{}, attempts, elapsed, err
	}
	if r, ok := lookup(records, name); ok {
		return r, attempts, elapsed, nil
	}
	return pm2.Record{}, attempts, elapsed, pm2.ErrNotFound(name)
}

// awaitOnline polls the fleet until name reports online or the bound
// expires, returning the last observed record either way.
func (s *Service) awaitOnline(ctx context.Context, name string) (pm2.Record, error) {
	deadline := time.Now().Add(s.onlineWait)
	var last pm2.Record
	seen := false
	for {
		if recs, err := s.listOnce(ctx); err == nil {
			if r, ok := lookup(recs, name); ok {
				last, seen = r, true
				if r.Status != pm2.StatusLaunching {
					return r, nil
				}
			}
		}
		if time.Now().After(deadline) {
			if seen {
				return last, nil
			}
			return pm2.Record{}, pm2.ErrNotFound(name)
		}
		if err := sleepCtx(ctx, onlinePollInterval); err != nil {
			if seen {
				return last, nil
			}
			return pm2.Record{}, err
		}
	}
}

// audit records the operation outcome to the store and history sinks,
// best-effort and off the caller's error path. elapsed is the duration
// of the last pm2 command the operation issued.
func (s *Service) audit(op, name string, attempts int, elapsed time.Duration, opErr error) {
	s.mu.Lock()
	st := s.st
	sinks := append([]history.Sink(nil), s.sinks...)
	s.mu.Unlock()
	if st == nil && len(sinks) == 0 {
		return
	}
	rec := store.Record{
		Op:       op,
		Name:     name,
		Success:  opErr == nil,
		Attempts: attempts,
		Duration: elapsed,
		At:       time.Now().UTC(),
	}
	var perr *pm2.Error
	if errors.As(opErr, &perr) {
		rec.ExitCode = perr.ExitCode
		rec.Stderr = truncate(perr.Stderr, stderrKeep)
	}
	ctx, cancel := context.WithTimeout(context.Background(), auditTimeout)
	defer cancel()
	if st != nil {
		if err := st.RecordOp(ctx, rec); err != nil {
			s.log.Warn("audit store write failed", "op", op, "err", err)
		}
	}
	if len(sinks) > 0 {
		evt := history.Event{
			Op:         op,
			Name:       name,
			Success:    rec.Success,
			Attempts:   attempts,
			OccurredAt: rec.At,
		}
		if opErr != nil {
			evt.Detail = opErr.Error()
		}
		for _, sink := range sinks {
			_ = sink.Send(ctx, evt)
		}
	}
}

func lookup(records []pm2.Record, name string) (pm2.Record, bool) {
	for _, r := range records {
		if r.Name == name {
			return r, true
		}
	}
	return pm2.Record{}, false
}

func outcomeOf(res runner.Result, err error) string {
	switch {
	case res.TimedOut:
		return metrics.OutcomeTimeout
	case err != nil || res.ExitCode != 0:
		return metrics.OutcomeError
	default:
		return metrics.OutcomeOK
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
