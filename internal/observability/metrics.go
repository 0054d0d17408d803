package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "crew"

type moduleMetrics struct {
	queueSize    *prometheus.GaugeVec
	enqueueTotal *prometheus.CounterVec
	dequeueTotal *prometheus.CounterVec
	laneDuration *prometheus.HistogramVec

	runsActive  prometheus.Gauge
	runTotal    *prometheus.CounterVec
	runDuration *prometheus.HistogramVec

	taskTotal    *prometheus.CounterVec
	taskDuration *prometheus.HistogramVec
	taskRetries  *prometheus.CounterVec

	toolExecutionTotal    *prometheus.CounterVec
	toolExecutionDuration *prometheus.HistogramVec
	toolErrorsTotal       *prometheus.CounterVec
	toolRetriesTotal      *prometheus.CounterVec

	agentRunTotal     *prometheus.CounterVec
	agentRunDuration  *prometheus.HistogramVec
	agentErrorsTotal  *prometheus.CounterVec
	modelRetriesTotal *prometheus.CounterVec
	providerCooldown  *prometheus.GaugeVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			queueSize: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Namespace: namespace,
					Name:      "queue_size",
					Help:      "Current queue size by lane.",
				},
				[]string{"lane"},
			),
			enqueueTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "enqueue_total",
					Help:      "Total enqueue operations by lane.",
				},
				[]string{"lane"},
			),
			dequeueTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "dequeue_total",
					Help:      "Total dequeue/completion operations by lane and status.",
				},
				[]string{"lane", "status"},
			),
			laneDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "lane_task_duration_seconds",
					Help:      "Queued work duration in seconds by lane.",
					Buckets:   prometheus.DefBuckets,
				},
				[]string{"lane"},
			),
			runsActive: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Namespace: namespace,
					Name:      "runs_active",
					Help:      "Team runs currently in progress.",
				},
			),
			runTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "run_total",
					Help:      "Total team runs by mode and final state.",
				},
				[]string{"mode", "state"},
			),
			runDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "run_duration_seconds",
					Help:      "Team run duration in seconds by mode.",
					Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
				},
				[]string{"mode"},
			),
			taskTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "task_total",
					Help:      "Total task executions by agent and status.",
				},
				[]string{"agent", "status"},
			),
			taskDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "task_duration_seconds",
					Help:      "Task execution duration in seconds by agent.",
					Buckets:   []float64{0.5, 1, 5, 15, 30, 60, 120, 300},
				},
				[]string{"agent"},
			),
			taskRetries: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "task_timeout_retries_total",
					Help:      "Task attempts repeated after a timeout, by agent.",
				},
				[]string{"agent"},
			),
			toolExecutionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "tool_execution_total",
					Help:      "Total tool executions by tool and status.",
				},
				[]string{"tool", "status"},
			),
			toolExecutionDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "tool_execution_duration_seconds",
					Help:      "Tool execution duration in seconds by tool.",
					Buckets:   prometheus.DefBuckets,
				},
				[]string{"tool"},
			),
			toolErrorsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "tool_errors_total",
					Help:      "Total tool execution errors by tool and kind.",
				},
				[]string{"tool", "kind"},
			),
			toolRetriesTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "tool_retries_total",
					Help:      "Tool calls repeated after a transient failure, by tool and kind.",
				},
				[]string{"tool", "kind"},
			),
			agentRunTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "agent_run_total",
					Help:      "Total agent runs by provider and status.",
				},
				[]string{"provider", "status"},
			),
			agentRunDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "agent_run_duration_seconds",
					Help:      "Agent run duration in seconds by provider.",
					Buckets:   prometheus.DefBuckets,
				},
				[]string{"provider"},
			),
			agentErrorsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "agent_errors_total",
					Help:      "Total agent errors by provider.",
				},
				[]string{"provider"},
			),
			modelRetriesTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "model_retries_total",
					Help:      "Model calls repeated after the model was unavailable, by provider.",
				},
				[]string{"provider"},
			),
			providerCooldown: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Namespace: namespace,
					Name:      "provider_cooldown_active",
					Help:      "Provider cooldown active state (1 active, 0 inactive).",
				},
				[]string{"provider"},
			),
		}

		prometheus.MustRegister(
			m.queueSize,
			m.enqueueTotal,
			m.dequeueTotal,
			m.laneDuration,
			m.runsActive,
			m.runTotal,
			m.runDuration,
			m.taskTotal,
			m.taskDuration,
			m.taskRetries,
			m.toolExecutionTotal,
			m.toolExecutionDuration,
			m.toolErrorsTotal,
			m.toolRetriesTotal,
			m.agentRunTotal,
			m.agentRunDuration,
			m.agentErrorsTotal,
			m.modelRetriesTotal,
			m.providerCooldown,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

func RecordQueueEnqueue(lane string, queueSize int) {
	m := getMetrics()
	m.enqueueTotal.WithLabelValues(lane).Inc()
	m.queueSize.WithLabelValues(lane).Set(float64(queueSize))
}

func SetQueueSize(lane string, queueSize int) {
	m := getMetrics()
	m.queueSize.WithLabelValues(lane).Set(float64(queueSize))
}

func RecordQueueCompletion(lane string, duration time.Duration, success bool, queueSize int) {
	m := getMetrics()
	m.dequeueTotal.WithLabelValues(lane, statusLabel(success)).Inc()
	m.laneDuration.WithLabelValues(lane).Observe(duration.Seconds())
	m.queueSize.WithLabelValues(lane).Set(float64(queueSize))
}

// RecordRunStarted marks a team run as in progress.
func RecordRunStarted() {
	getMetrics().runsActive.Inc()
}

// RecordRunFinished records a team run reaching a terminal state.
func RecordRunFinished(mode, state string, duration time.Duration) {
	m := getMetrics()
	m.runsActive.Dec()
	m.runTotal.WithLabelValues(mode, state).Inc()
	m.runDuration.WithLabelValues(mode).Observe(duration.Seconds())
}

func RecordTaskRun(agent string, duration time.Duration, success bool) {
	m := getMetrics()
	m.taskTotal.WithLabelValues(agent, statusLabel(success)).Inc()
	m.taskDuration.WithLabelValues(agent).Observe(duration.Seconds())
}

func RecordTaskTimeoutRetry(agent string) {
	getMetrics().taskRetries.WithLabelValues(agent).Inc()
}

// RecordToolExecution records one tool call. kind is the error kind and is
// ignored on success.
func RecordToolExecution(tool string, duration time.Duration, success bool, kind string) {
	m := getMetrics()
	m.toolExecutionTotal.WithLabelValues(tool, statusLabel(success)).Inc()
	m.toolExecutionDuration.WithLabelValues(tool).Observe(duration.Seconds())
	if !success {
		m.toolErrorsTotal.WithLabelValues(tool, kind).Inc()
	}
}

func RecordToolRetry(tool, kind string) {
	getMetrics().toolRetriesTotal.WithLabelValues(tool, kind).Inc()
}

func RecordAgentRun(provider string, duration time.Duration, success bool) {
	m := getMetrics()
	m.agentRunTotal.WithLabelValues(provider, statusLabel(success)).Inc()
	m.agentRunDuration.WithLabelValues(provider).Observe(duration.Seconds())
	if !success {
		m.agentErrorsTotal.WithLabelValues(provider).Inc()
	}
}

func RecordModelRetry(provider string) {
	getMetrics().modelRetriesTotal.WithLabelValues(provider).Inc()
}

func SetProviderCooldown(provider string, active bool) {
	m := getMetrics()
	value := 0.0
	if active {
		value = 1.0
	}
	m.providerCooldown.WithLabelValues(provider).Set(value)
}
