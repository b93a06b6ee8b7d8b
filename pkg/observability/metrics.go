package observability

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/ports"
)

// Namespace prefixes every metric name.
const Namespace = "parley"

// Metrics holds the Prometheus collectors of a dialogue runtime.
type Metrics struct {
	Started  prometheus.Counter
	Active   prometheus.Gauge
	Ended    *prometheus.CounterVec
	Entered  *prometheus.CounterVec
	Paused   *prometheus.CounterVec
	Commands *prometheus.CounterVec
	Frames   *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		Started: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "instances_started_total",
			Help:      "Total number of dialogue instances started",
		}),
		Active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "instances_active",
			Help:      "Number of dialogue instances that have not ended",
		}),
		Ended: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "instances_ended_total",
			Help:      "Total number of dialogue instances ended, by status and reason",
		}, []string{"status", "reason"}),
		Entered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "node_entries_total",
			Help:      "Total number of node entries, by node kind",
		}, []string{"kind"}),
		Paused: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "instance_pauses_total",
			Help:      "Total number of pauses, by reason",
		}, []string{"reason"}),
		Commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "commands_total",
			Help:      "Total number of authoritative commands emitted, by name",
		}, []string{"command"}),
		Frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "frames_total",
			Help:      "Total number of committed frames, by kind",
		}, []string{"kind"}),
	}
	for _, c := range []prometheus.Collector{m.Started, m.Active, m.Ended, m.Entered, m.Paused, m.Commands, m.Frames} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register metric: %w", err)
		}
	}
	return m, nil
}

// Hooks returns lifecycle hooks that record metrics.
func (m *Metrics) Hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnInstanceStarted: func(context.Context, *domain.Event) {
			m.Started.Inc()
			m.Active.Inc()
		},
		OnNodeEntered: func(_ context.Context, ev *domain.Event) {
			m.Entered.WithLabelValues(string(ev.Kind)).Inc()
		},
		OnInstancePaused: func(_ context.Context, ev *domain.Event) {
			m.Paused.WithLabelValues(string(ev.Reason)).Inc()
		},
		OnInstanceEnded: func(_ context.Context, ev *domain.Event) {
			m.Active.Dec()
			m.Ended.WithLabelValues(string(ev.Status), string(ev.Reason)).Inc()
		},
		OnCommand: func(_ context.Context, ev *domain.Event) {
			if ev.Command != nil {
				m.Commands.WithLabelValues(ev.Command.Name).Inc()
			}
		},
	}
}

// FrameSink returns a sink that counts committed frames. Chain it as a
// downstream of the replication coordinator or use it directly.
func (m *Metrics) FrameSink() ports.FrameSink {
	return ports.FrameSinkFunc(func(_ context.Context, f domain.Frame) error {
		kind := "diff"
		switch {
		case f.Terminal():
			kind = "terminal"
		case f.Snapshot != nil:
			kind = "snapshot"
		}
		m.Frames.WithLabelValues(kind).Inc()
		return nil
	})
}
