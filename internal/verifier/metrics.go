package verifier

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts engine activity. A nil *Metrics records nothing.
type Metrics struct {
	results   *prometheus.CounterVec
	connects  *prometheus.CounterVec
	probes    *prometheus.CounterVec
	acceptAll prometheus.Counter
}

// NewMetrics registers the engine counters on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		results: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mailprobe",
			Name:      "results_total",
			Help:      "Number of addresses classified, by status.",
		}, []string{"status"}),
		connects: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mailprobe",
			Name:      "connections_total",
			Help:      "Number of connection attempts to receiving hosts, by outcome.",
		}, []string{"outcome"}),
		probes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mailprobe",
			Name:      "rcpt_probes_total",
			Help:      "Number of RCPT probes issued, by outcome.",
		}, []string{"outcome"}),
		acceptAll: f.NewCounter(prometheus.CounterOpts{
			Namespace: "mailprobe",
			Name:      "accept_all_domains_total",
			Help:      "Number of domains detected as accepting every recipient.",
		}),
	}
}

func (m *Metrics) result(st Status) {
	if m != nil {
		m.results.WithLabelValues(string(st)).Inc()
	}
}

func (m *Metrics) connect(outcome string) {
	if m != nil {
		m.connects.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) probe(outcome string) {
	if m != nil {
		m.probes.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) acceptAllDomain() {
	if m != nil {
		m.acceptAll.Inc()
	}
}
