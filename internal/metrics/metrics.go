package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	commandExecutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pm2ctl",
			Subsystem: "command",
			Name:      "executions_total",
			Help:      "Number of pm2 command executions by subcommand and outcome.",
		}, []string{"command", "outcome"},
	)
	commandRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pm2ctl",
			Subsystem: "command",
			Name:      "retries_total",
			Help:      "Number of retried pm2 command attempts.",
		}, []string{"command"},
	)
	commandTimeouts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pm2ctl",
			Subsystem: "command",
			Name:      "timeouts_total",
			Help:      "Number of pm2 commands that exceeded their timeout.",
		}, []string{"command"},
	)
	commandDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pm2ctl",
			Subsystem: "command",
			Name:      "duration_seconds",
			Help:      "Observed pm2 command execution duration.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"command"},
	)
	fleetProcesses = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "pm2ctl",
			Subsystem: "fleet",
			Name:      "processes",
			Help:      "Processes reported by the last fleet listing, by status.",
		}, []string{"status"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	collectors := []prometheus.Collector{
		commandExecutions,
		commandRetries,
		commandTimeouts,
		commandDuration,
		fleetProcesses,
	}
	for _, c := range collectors {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an HTTP handler exposing the default registry.
func Handler() http.Handler { return promhttp.Handler() }

// Outcome labels for ObserveCommand.
const (
	OutcomeOK      = "ok"
	OutcomeError   = "error"
	OutcomeTimeout = "timeout"
)

// ObserveCommand records one pm2 command execution.
func ObserveCommand(command, outcome string, d time.Duration) {
	commandExecutions.WithLabelValues(command, outcome).Inc()
	commandDuration.WithLabelValues(command).Observe(d.Seconds())
	if outcome == OutcomeTimeout {
		commandTimeouts.WithLabelValues(command).Inc()
	}
}

// AddRetry records one retried attempt for a subcommand.
func AddRetry(command string) { commandRetries.WithLabelValues(command).Inc() }

// SetFleetProcesses updates the per-status fleet gauge from a listing.
func SetFleetProcesses(byStatus map[string]int) {
	fleetProcesses.Reset()
	for status, n := range byStatus {
		fleetProcesses.WithLabelValues(status).Set(float64(n))
	}
}
