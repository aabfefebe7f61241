// Package metrics holds the Prometheus collectors of the question loop,
// the search engine and the clustering job. A nil *Metrics is valid and
// records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "lexgraph"

// Metrics groups the collectors
type Metrics struct {
	questions      *prometheus.CounterVec
	iterations     prometheus.Counter
	directives     *prometheus.CounterVec
	parseErrors    prometheus.Counter
	searchDuration *prometheus.HistogramVec
	edgesCreated   prometheus.Counter
	nodeFailures   prometheus.Counter
}

// New registers the collectors on reg
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		questions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "questions_total",
			Help:      "Questions processed, by outcome",
		}, []string{"status"}),
		iterations: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_iterations_total",
			Help:      "Agent loop iterations run",
		}),
		directives: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "directives_total",
			Help:      "Search directives dispatched, by name and result",
		}, []string{"name", "result"}),
		parseErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "directive_parse_errors_total",
			Help:      "Malformed directives dropped",
		}),
		searchDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_duration_seconds",
			Help:      "Search latency by strategy",
			Buckets:   prometheus.DefBuckets,
		}, []string{"strategy"}),
		edgesCreated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cluster_edges_created_total",
			Help:      "RELATED edges written by clustering",
		}),
		nodeFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cluster_node_failures_total",
			Help:      "Content nodes skipped by clustering after an error",
		}),
	}
}

func (m *Metrics) QuestionDone(status string) {
	if m == nil {
		return
	}
	m.questions.WithLabelValues(status).Inc()
}

func (m *Metrics) Iteration() {
	if m == nil {
		return
	}
	m.iterations.Inc()
}

func (m *Metrics) Directive(name string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.directives.WithLabelValues(name, result).Inc()
}

func (m *Metrics) ParseErrors(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.parseErrors.Add(float64(n))
}

// ObserveSearch records the time since start for strategy
func (m *Metrics) ObserveSearch(strategy string, start time.Time) {
	if m == nil {
		return
	}
	m.searchDuration.WithLabelValues(strategy).Observe(time.Since(start).Seconds())
}

func (m *Metrics) EdgeCreated() {
	if m == nil {
		return
	}
	m.edgesCreated.Inc()
}

func (m *Metrics) NodeFailed() {
	if m == nil {
		return
	}
	m.nodeFailures.Inc()
}
