// Package metrics exposes the engine's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Set bundles the collectors the engine records into. A nil *Set is valid
// and records nothing, so tests can pass nil without a registry.
type Set struct {
	RunsTotal        *prometheus.CounterVec
	RunDuration      *prometheus.HistogramVec
	ActionsTotal     *prometheus.CounterVec
	ActionDuration   *prometheus.HistogramVec
	MailboxDepth     *prometheus.GaugeVec
	MailboxRejected  prometheus.Counter
	EventsPublished  *prometheus.CounterVec
	EventsDuplicate  prometheus.Counter
	CircuitState     *prometheus.GaugeVec
	WebhookFallbacks prometheus.Counter
}

// New registers the engine collectors against the given registerer.
func New(reg prometheus.Registerer) *Set {
	s := &Set{
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "switchboard_runs_total",
			Help: "Engine runs by assistant and outcome.",
		}, []string{"assistant", "outcome"}),
		RunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "switchboard_run_duration_seconds",
			Help:    "End-to-end run duration.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
		}, []string{"assistant"}),
		ActionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "switchboard_actions_total",
			Help: "Executed actions by type and outcome.",
		}, []string{"action", "outcome"}),
		ActionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "switchboard_action_duration_seconds",
			Help:    "Action handler duration.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 16),
		}, []string{"action"}),
		MailboxDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "switchboard_mailbox_depth",
			Help: "Queued events per conversation mailbox.",
		}, []string{"assistant"}),
		MailboxRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "switchboard_mailbox_rejected_total",
			Help: "Events rejected because a mailbox was full.",
		}),
		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "switchboard_events_published_total",
			Help: "Events published to the mesh by type.",
		}, []string{"type"}),
		EventsDuplicate: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "switchboard_events_duplicate_total",
			Help: "Inbound events dropped as duplicates.",
		}),
		CircuitState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "switchboard_circuit_state",
			Help: "Circuit breaker state per target (0 closed, 1 open, 2 half-open).",
		}, []string{"target"}),
		WebhookFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "switchboard_webhook_fallbacks_total",
			Help: "Routed events delivered over the HTTP webhook fallback.",
		}),
	}
	reg.MustRegister(
		s.RunsTotal, s.RunDuration, s.ActionsTotal, s.ActionDuration,
		s.MailboxDepth, s.MailboxRejected, s.EventsPublished,
		s.EventsDuplicate, s.CircuitState, s.WebhookFallbacks,
	)
	return s
}

// ObserveRun records one finished run. Safe on a nil Set.
func (s *Set) ObserveRun(assistant, outcome string, seconds float64) {
	if s == nil {
		return
	}
	s.RunsTotal.WithLabelValues(assistant, outcome).Inc()
	s.RunDuration.WithLabelValues(assistant).Observe(seconds)
}

// ObserveAction records one executed action. Safe on a nil Set.
func (s *Set) ObserveAction(action, outcome string, seconds float64) {
	if s == nil {
		return
	}
	s.ActionsTotal.WithLabelValues(action, outcome).Inc()
	s.ActionDuration.WithLabelValues(action).Observe(seconds)
}

// SetMailboxDepth records the queue depth for an assistant. Safe on nil.
func (s *Set) SetMailboxDepth(assistant string, depth int) {
	if s == nil {
		return
	}
	s.MailboxDepth.WithLabelValues(assistant).Set(float64(depth))
}

// IncMailboxRejected counts a rejected enqueue. Safe on nil.
func (s *Set) IncMailboxRejected() {
	if s == nil {
		return
	}
	s.MailboxRejected.Inc()
}

// IncEventPublished counts one published mesh event. Safe on nil.
func (s *Set) IncEventPublished(eventType string) {
	if s == nil {
		return
	}
	s.EventsPublished.WithLabelValues(eventType).Inc()
}

// IncEventDuplicate counts one deduplicated inbound event. Safe on nil.
func (s *Set) IncEventDuplicate() {
	if s == nil {
		return
	}
	s.EventsDuplicate.Inc()
}

// SetCircuitState records a breaker state change. Safe on nil.
func (s *Set) SetCircuitState(target string, state int) {
	if s == nil {
		return
	}
	s.CircuitState.WithLabelValues(target).Set(float64(state))
}

// IncWebhookFallback counts one webhook fallback delivery. Safe on nil.
func (s *Set) IncWebhookFallback() {
	if s == nil {
		return
	}
	s.WebhookFallbacks.Inc()
}
