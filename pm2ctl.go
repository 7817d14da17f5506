package pm2ctl

import (
	"context"
	"net/http"
	"time"

	cfg "github.com/loykin/pm2ctl/internal/config"
	"github.com/loykin/pm2ctl/internal/control"
	"github.com/loykin/pm2ctl/internal/ecosystem"
	"github.com/loykin/pm2ctl/internal/history"
	ch "github.com/loykin/pm2ctl/internal/history/clickhouse"
	"github.com/loykin/pm2ctl/internal/logs"
	"github.com/loykin/pm2ctl/internal/metrics"
	"github.com/loykin/pm2ctl/internal/pm2"
	"github.com/loykin/pm2ctl/internal/retry"
	"github.com/loykin/pm2ctl/internal/runner"
	iapi "github.com/loykin/pm2ctl/internal/server"
	"github.com/loykin/pm2ctl/internal/store"
	"github.com/loykin/pm2ctl/internal/store/factory"
	"github.com/prometheus/client_golang/prometheus"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Record = pm2.Record

type Status = pm2.Status

type Excerpt = pm2.Excerpt

type ProcessRequest = ecosystem.Request

type Config = cfg.Config

type HistorySink = history.Sink

const (
	StatusOnline    = pm2.StatusOnline
	StatusStopped   = pm2.StatusStopped
	StatusErrored   = pm2.StatusErrored
	StatusLaunching = pm2.StatusLaunching
)

// Error predicates, re-exported for callers matching on failure kinds.
var (
	IsNotFound      = pm2.IsNotFound
	IsAlreadyExists = pm2.IsAlreadyExists
	IsTimeout       = pm2.IsTimeout
	IsParseErr      = pm2.IsParseErr
	IsInvalid       = pm2.IsInvalid
)

// Controller is a thin facade over the internal control and log
// services. It provides a stable public API for embedding.
type Controller struct {
	control *control.Service
	logs    *logs.Service
	st      store.Store
	sinks   []history.Sink
}

func DefaultConfig() Config { return cfg.Default() }

func LoadConfig(path string) (Config, error) { return cfg.Load(path) }

// New builds a Controller from configuration: pm2 runner, retry
// policy, optional audit store and history sink.
func New(c Config) (*Controller, error) {
	r := &runner.ExecRunner{Bin: c.PM2Bin}
	policy := retry.Policy{
		MaxAttempts: c.MaxRetries,
		BaseDelay:   c.RetryBackoff,
		MaxDelay:    c.RetryBackoffCap,
	}
	log := c.Log.NewSlogger()

	ctl := control.New(control.Options{
		Runner:     r,
		Timeout:    c.CommandTimeout,
		Retry:      policy,
		ConfigDir:  c.ConfigDir,
		OnlineWait: c.OnlineWait,
		Logger:     log,
	})
	out := &Controller{control: ctl}

	if c.Store != nil {
		st, err := factory.New(*c.Store)
		if err != nil {
			return nil, err
		}
		if err := ctl.SetStore(st); err != nil {
			_ = st.Close()
			return nil, err
		}
		out.st = st
	}
	if c.History != nil && c.History.ClickHouse != nil {
		hc := c.History.ClickHouse
		sink, err := ch.New(hc.Addr, hc.Database, hc.Username, hc.Password, hc.Table)
		if err != nil {
			out.closeQuiet()
			return nil, err
		}
		if err := sink.EnsureSchema(context.Background()); err != nil {
			_ = sink.Close()
			out.closeQuiet()
			return nil, err
		}
		out.sinks = append(out.sinks, sink)
		ctl.SetHistorySinks(out.sinks...)
	}

	out.logs = logs.New(logs.Options{
		Runner:   r,
		Fleet:    ctl,
		Timeout:  c.LogTimeout,
		Retry:    policy,
		MaxLines: c.MaxLogLines,
		Logger:   log,
	})
	return out, nil
}

func (c *Controller) Verify(ctx context.Context) (string, error) { return c.control.Verify(ctx) }
func (c *Controller) List(ctx context.Context) ([]Record, error) { return c.control.List(ctx) }
func (c *Controller) Get(ctx context.Context, name string) (Record, error) {
	return c.control.Get(ctx, name)
}
func (c *Controller) Create(ctx context.Context, req ProcessRequest) (Record, error) {
	return c.control.Create(ctx, req)
}
func (c *Controller) Delete(ctx context.Context, name string) error {
	return c.control.Delete(ctx, name)
}
func (c *Controller) Start(ctx context.Context, name string) (Record, error) {
	return c.control.Start(ctx, name)
}
func (c *Controller) Stop(ctx context.Context, name string) (Record, error) {
	return c.control.Stop(ctx, name)
}
func (c *Controller) Restart(ctx context.Context, name string) (Record, error) {
	return c.control.Restart(ctx, name)
}
func (c *Controller) TailLogs(ctx context.Context, name string, maxLines int) (Excerpt, error) {
	return c.logs.Tail(ctx, name, maxLines)
}
func (c *Controller) ClearLogs(ctx context.Context, name string) error {
	return c.logs.Clear(ctx, name)
}

// Close releases the audit store and history sinks, if configured.
func (c *Controller) Close() error {
	var first error
	if c.st != nil {
		if err := c.st.Close(); err != nil {
			first = err
		}
		c.st = nil
	}
	for _, s := range c.sinks {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	c.sinks = nil
	return first
}

func (c *Controller) closeQuiet() { _ = c.Close() }

// NewHTTPServer starts an HTTP server exposing the control API backed
// by the given controller.
func NewHTTPServer(addr, basePath string, c *Controller) (*http.Server, error) {
	return iapi.NewServer(addr, basePath, c.control, c.logs)
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// ServeMetrics starts an HTTP server on addr exposing /metrics using
// the default registry. It blocks in the caller goroutine.
func ServeMetrics(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv.ListenAndServe()
}
