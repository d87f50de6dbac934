// Package metrics records compile statistics and writes them in the
// Prometheus text format for the node_exporter textfile collector.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"dtree-rule-compiler/internal/model"
)

type Compile struct {
	registry *prometheus.Registry

	leaves      prometheus.Gauge
	rules       *prometheus.GaugeVec
	buckets     *prometheus.GaugeVec
	diagnostics prometheus.Gauge
	failures    prometheus.Counter
	duration    prometheus.Gauge
	lastSuccess prometheus.Gauge
}

func NewCompile() *Compile {
	m := &Compile{
		registry: prometheus.NewRegistry(),
		leaves: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dtree_compile_leaves",
			Help: "Number of leaf rules compiled from the policy.",
		}),
		rules: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dtree_compile_forwarding_rules",
			Help: "Number of forwarding rules emitted, by outcome.",
		}, []string{"outcome"}),
		buckets: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dtree_compile_partition_buckets",
			Help: "Number of buckets in each field's partition table.",
		}, []string{"field"}),
		diagnostics: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dtree_compile_skipped_lines",
			Help: "Number of policy lines skipped by the parser.",
		}),
		failures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dtree_compile_failures_total",
			Help: "Number of failed compile runs.",
		}),
		duration: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dtree_compile_duration_seconds",
			Help: "Wall time of the last compile run.",
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dtree_compile_last_success_timestamp_seconds",
			Help: "Unix time of the last successful compile run.",
		}),
	}
	m.registry.MustRegister(m.leaves, m.rules, m.buckets, m.diagnostics, m.failures, m.duration, m.lastSuccess)
	return m
}

// Observe records the outcome of a compile run. prog is nil on failure.
func (m *Compile) Observe(prog *model.Program, took time.Duration, now time.Time) {
	m.duration.Set(took.Seconds())
	if prog == nil {
		m.failures.Inc()
		return
	}
	m.leaves.Set(float64(len(prog.Rules)))
	m.diagnostics.Set(float64(len(prog.Diagnostics)))
	var drop, forward int
	for _, r := range prog.Rules {
		if r.Resolution.Drop {
			drop++
		} else {
			forward++
		}
	}
	m.rules.WithLabelValues("forward").Set(float64(forward))
	m.rules.WithLabelValues("drop").Set(float64(drop))
	for _, t := range prog.Tables {
		m.buckets.WithLabelValues(t.Field.Name).Set(float64(len(t.Buckets)))
	}
	m.lastSuccess.Set(float64(now.Unix()))
}

func (m *Compile) Gatherer() prometheus.Gatherer {
	return m.registry
}

// WriteTextfile atomically writes the metrics to path.
func (m *Compile) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}
