// Package metrics exports command lifecycle events as Prometheus metrics.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/gray-logic-iot/internal/command"
)

const namespace = "graylogic_iot"

// Sink is a command.EventSink that counts lifecycle events.
type Sink struct {
	registry *prometheus.Registry

	dispatched prometheus.Counter
	results    *prometheus.CounterVec
	inbound    *prometheus.CounterVec
	latency    prometheus.Histogram
}

var _ command.EventSink = (*Sink)(nil)

// NewSink creates a sink with its own registry, which also carries the Go
// runtime and process collectors.
func NewSink() *Sink {
	s := &Sink{
		registry: prometheus.NewRegistry(),
		dispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_dispatched_total",
			Help:      "Commands recorded by the dispatcher.",
		}),
		results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "command_results_total",
			Help:      "Command status transitions by resulting status.",
		}, []string{"status"}),
		inbound: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbound_messages_total",
			Help:      "Inbound device messages resolved to a topic, by purpose and match.",
		}, []string{"purpose", "matched"}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "command_completion_seconds",
			Help:      "Time from dispatch to completion.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
	}

	s.registry.MustRegister(
		s.dispatched,
		s.results,
		s.inbound,
		s.latency,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return s
}

// Emit updates the metric matching the event.
func (s *Sink) Emit(_ context.Context, event command.Event) {
	switch event.Name {
	case command.EventCommandDispatched:
		s.dispatched.Inc()
	case command.EventCommandSent:
		s.results.WithLabelValues(string(command.StatusSent)).Inc()
	case command.EventCommandFailed:
		s.results.WithLabelValues(string(command.StatusFailed)).Inc()
	case command.EventCommandTimedOut:
		s.results.WithLabelValues(string(command.StatusTimeout)).Inc()
	case command.EventCommandCompleted:
		s.results.WithLabelValues(string(command.StatusCompleted)).Inc()
		if event.Latency > 0 {
			s.latency.Observe(event.Latency.Seconds())
		}
	case command.EventDeviceStateReceived:
		matched := "false"
		if event.CommandID != nil {
			matched = "true"
		}
		purpose := string(event.Purpose)
		if purpose == "" {
			purpose = "none"
		}
		s.inbound.WithLabelValues(purpose, matched).Inc()
	}
}

// Registry returns the registry holding the sink's collectors.
func (s *Sink) Registry() *prometheus.Registry {
	return s.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (s *Sink) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry})
}
