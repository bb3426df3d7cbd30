// Package metrics implements the write-only Metrics Sink (spec C4, §6.5).
// Collection is external (spec §1); this package only exposes counters,
// gauges and histograms for an external scraper to read.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Sink is the Metrics Sink every other component writes into. It is a thin
// wrapper over a prometheus.Registry so the core never depends on a
// specific exporter, only on the write-side API named in spec §6.5.
type Sink struct {
	reg *prometheus.Registry

	tasksSubmitted     *prometheus.CounterVec
	tasksCompleted     *prometheus.CounterVec
	backendInvocations *prometheus.CounterVec
	collabStarted      *prometheus.CounterVec
	sessionsOpened     prometheus.Counter

	agentInFlight  *prometheus.GaugeVec
	backendInFlight *prometheus.GaugeVec
	queueDepth     *prometheus.GaugeVec
	openSessions   prometheus.Gauge
	estimatedSavings prometheus.Gauge

	taskLatency   *prometheus.HistogramVec
	backendLatency *prometheus.HistogramVec
	collabLatency *prometheus.HistogramVec

	mu sync.Mutex
}

// New builds a Sink registered against a fresh prometheus.Registry.
func New() *Sink {
	reg := prometheus.NewRegistry()
	s := &Sink{
		reg: reg,
		tasksSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tasks_submitted_total", Help: "Tasks submitted to the queue.",
		}, []string{"agent", "kind"}),
		tasksCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tasks_completed_total", Help: "Tasks reaching a terminal status.",
		}, []string{"agent", "status"}),
		backendInvocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "backend_invocations_total", Help: "Backend invocation attempts.",
		}, []string{"backend", "status"}),
		collabStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "collab_started_total", Help: "Collaboration requests started.",
		}, []string{"strategy"}),
		sessionsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sessions_opened_total", Help: "Session Hub connections accepted.",
		}),
		agentInFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "agent_in_flight", Help: "Tasks currently running per agent.",
		}, []string{"agent"}),
		backendInFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "backend_in_flight", Help: "Requests currently awaiting a backend response.",
		}, []string{"backend"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "queue_depth", Help: "Queued tasks per priority band.",
		}, []string{"priority"}),
		openSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "open_sessions", Help: "Currently open Session Hub sessions.",
		}),
		estimatedSavings: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "router_estimated_savings_usd", Help: "Reporting-only estimate of cost avoided by local-first routing (not a correctness property, spec §9).",
		}),
		taskLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "task_latency_ms", Help: "Task end-to-end latency in milliseconds.",
			Buckets: prometheus.ExponentialBuckets(5, 2, 14),
		}, []string{"agent", "kind"}),
		backendLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "backend_latency_ms", Help: "Backend invocation latency in milliseconds.",
			Buckets: prometheus.ExponentialBuckets(5, 2, 14),
		}, []string{"backend"}),
		collabLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "collab_latency_ms", Help: "Collaboration end-to-end latency in milliseconds.",
			Buckets: prometheus.ExponentialBuckets(10, 2, 14),
		}, []string{"strategy"}),
	}
	reg.MustRegister(
		s.tasksSubmitted, s.tasksCompleted, s.backendInvocations, s.collabStarted, s.sessionsOpened,
		s.agentInFlight, s.backendInFlight, s.queueDepth, s.openSessions, s.estimatedSavings,
		s.taskLatency, s.backendLatency, s.collabLatency,
	)
	return s
}

// Registry exposes the underlying prometheus.Registry so the entrypoint can
// mount a /metrics handler without this package importing net/http.
func (s *Sink) Registry() *prometheus.Registry { return s.reg }

func (s *Sink) TaskSubmitted(agent, kind string)            { s.tasksSubmitted.WithLabelValues(agent, kind).Inc() }
func (s *Sink) TaskCompleted(agent, status string)          { s.tasksCompleted.WithLabelValues(agent, status).Inc() }
func (s *Sink) BackendInvocation(backend, status string)    { s.backendInvocations.WithLabelValues(backend, status).Inc() }
func (s *Sink) CollabStarted(strategy string)                { s.collabStarted.WithLabelValues(strategy).Inc() }
func (s *Sink) SessionOpened()                                { s.sessionsOpened.Inc() }
func (s *Sink) SetAgentInFlight(agent string, n int)          { s.agentInFlight.WithLabelValues(agent).Set(float64(n)) }
func (s *Sink) SetBackendInFlight(backend string, n int)      { s.backendInFlight.WithLabelValues(backend).Set(float64(n)) }
func (s *Sink) SetQueueDepth(priority string, n int)          { s.queueDepth.WithLabelValues(priority).Set(float64(n)) }
func (s *Sink) SetOpenSessions(n int)                          { s.openSessions.Set(float64(n)) }
func (s *Sink) SetEstimatedSavings(usd float64)                { s.estimatedSavings.Set(usd) }
func (s *Sink) ObserveTaskLatency(agent, kind string, ms float64) {
	s.taskLatency.WithLabelValues(agent, kind).Observe(ms)
}
func (s *Sink) ObserveBackendLatency(backend string, ms float64) {
	s.backendLatency.WithLabelValues(backend).Observe(ms)
}
func (s *Sink) ObserveCollabLatency(strategy string, ms float64) {
	s.collabLatency.WithLabelValues(strategy).Observe(ms)
}
