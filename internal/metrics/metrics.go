// Package metrics exposes the Prometheus collectors for the agent service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the service collectors around one registry so tests can
// construct isolated instances.
type Metrics struct {
	registry *prometheus.Registry

	TasksTotal      *prometheus.CounterVec
	NodeVisits      *prometheus.CounterVec
	LLMCallDuration *prometheus.HistogramVec
	SandboxCalls    *prometheus.CounterVec
	ActiveTasks     prometheus.Gauge
}

// New creates a Metrics instance with all collectors registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: reg,
		TasksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agent_tasks_total",
			Help: "Terminal task outcomes by status.",
		}, []string{"status"}),
		NodeVisits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agent_node_visits_total",
			Help: "Workflow node executions by node name.",
		}, []string{"node"}),
		LLMCallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agent_llm_call_duration_seconds",
			Help:    "LLM call latency by node and provider.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		}, []string{"node", "provider"}),
		SandboxCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agent_sandbox_calls_total",
			Help: "Sandbox gateway calls by operation and outcome.",
		}, []string{"op", "outcome"}),
		ActiveTasks: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "agent_active_tasks",
			Help: "Tasks currently in progress.",
		}),
	}

	reg.MustRegister(m.TasksTotal, m.NodeVisits, m.LLMCallDuration, m.SandboxCalls, m.ActiveTasks)
	return m
}

// Handler returns the /metrics HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
