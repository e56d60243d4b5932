package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Task lifecycle metrics
	TasksSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delphi_tasks_submitted_total",
			Help: "Total number of submitted deliberation tasks",
		},
		[]string{"market", "depth"},
	)

	TasksFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delphi_tasks_finished_total",
			Help: "Total number of tasks reaching a terminal state",
		},
		[]string{"status"}, // completed|failed|cancelled
	)

	TaskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "delphi_task_duration_seconds",
			Help:    "Wall-clock duration of completed tasks",
			Buckets: []float64{30, 60, 120, 300, 600, 900, 1500, 3000},
		},
		[]string{"depth"},
	)

	TasksRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "delphi_tasks_running",
			Help: "Number of tasks currently executing",
		},
	)

	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "delphi_queue_depth",
			Help: "Number of tasks waiting for a worker",
		},
	)

	// Deliberation metrics
	DeliberationStages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delphi_deliberation_stages_total",
			Help: "Total analyst stages executed",
		},
		[]string{"capability"},
	)

	DebateTurns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delphi_debate_turns_total",
			Help: "Total debate statements produced",
		},
		[]string{"phase", "role"},
	)

	StepRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delphi_step_retries_total",
			Help: "Total transient step retries",
		},
		[]string{"step"},
	)

	SynthesisFallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delphi_synthesis_fallbacks_total",
			Help: "Total synthesis steps that emitted the conservative default",
		},
		[]string{"role"},
	)

	MemoryLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delphi_memory_lookups_total",
			Help: "Total memory store lookups",
		},
		[]string{"result"}, // hit|miss|error
	)

	// Progress feed metrics
	ProgressEvents = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "delphi_progress_events_total",
			Help: "Total progress events published",
		},
	)

	Subscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "delphi_progress_subscribers",
			Help: "Number of live progress subscribers",
		},
	)

	// Zombie cleanup metrics
	ZombiesDetected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "delphi_zombies_detected_total",
			Help: "Total zombie tasks detected by the reaper",
		},
	)

	ZombiesReaped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "delphi_zombies_reaped_total",
			Help: "Total zombie tasks administratively failed",
		},
	)
)

// Register registers all metrics with the default registry
func Register() {
	prometheus.MustRegister(
		TasksSubmitted,
		TasksFinished,
		TaskDuration,
		TasksRunning,
		QueueDepth,
		DeliberationStages,
		DebateTurns,
		StepRetries,
		SynthesisFallbacks,
		MemoryLookups,
		ProgressEvents,
		Subscribers,
		ZombiesDetected,
		ZombiesReaped,
	)
}

// Handler returns the HTTP handler for the /metrics endpoint
func Handler() http.Handler {
	return promhttp.Handler()
}
