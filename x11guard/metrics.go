package x11guard

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exports the journal as Prometheus metrics. It is a Journaler so that
// it can be fanned out to like any other sink.
type Metrics struct {
	connections prometheus.Gauge
	threshold   prometheus.Gauge
	pid         prometheus.Gauge
	samples     *prometheus.CounterVec
	actions     *prometheus.CounterVec
	restarts    prometheus.Counter
	forceKills  prometheus.Counter
	warnings    *prometheus.CounterVec
}

var _ Journaler = (*Metrics)(nil)

// NewMetrics creates the collectors and registers them into reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "x11guard_connections",
			Help: "X11 connections held by the target at the last sample.",
		}),
		threshold: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "x11guard_threshold",
			Help: "Connection count above which the target is restarted.",
		}),
		pid: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "x11guard_target_pid",
			Help: "PID of the target, or 0 if it is not running.",
		}),
		samples: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "x11guard_samples_total",
			Help: "Total number of connection samples, by trigger.",
		}, []string{"trigger"}),
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "x11guard_actions_total",
			Help: "Total number of threshold violations, by resulting action.",
		}, []string{"action"}),
		restarts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "x11guard_restarts_total",
			Help: "Total number of times the target was restarted.",
		}),
		forceKills: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "x11guard_force_kills_total",
			Help: "Total number of times the target had to be killed.",
		}),
		warnings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "x11guard_warnings_total",
			Help: "Total number of non-fatal errors, by component.",
		}, []string{"component"}),
	}

	reg.MustRegister(
		m.connections, m.threshold, m.pid,
		m.samples, m.actions, m.restarts, m.forceKills, m.warnings,
	)

	return m
}

// Write updates the collectors from ev. It never fails.
func (m *Metrics) Write(ev Event) error {
	switch ev := ev.(type) {
	case *EventStarted:
		m.threshold.Set(float64(ev.Threshold))
	case *EventTargetResolved:
		m.pid.Set(float64(ev.PID))
	case *EventTargetLost:
		m.pid.Set(0)
		m.connections.Set(0)
	case *EventSample:
		m.connections.Set(float64(ev.Count))
		m.samples.WithLabelValues(ev.Trigger).Inc()
	case *EventSkippedCooldown:
		m.actions.WithLabelValues(ActionSkippedCooldown.String()).Inc()
	case *EventWouldRestart:
		m.actions.WithLabelValues(ActionWouldRestart.String()).Inc()
	case *EventRestarted:
		m.actions.WithLabelValues(ActionRestarted.String()).Inc()
		m.restarts.Inc()
		if ev.ForceKilled {
			m.forceKills.Inc()
		}
	case *EventRestartFailed:
		m.actions.WithLabelValues(ActionRestartFailed.String()).Inc()
	case *EventWarning:
		m.warnings.WithLabelValues(ev.Component).Inc()
	}

	return nil
}
