package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Cluster metrics
	NodesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "alpinekube_nodes_total",
			Help: "Total number of nodes by health state",
		},
		[]string{"state"},
	)

	PodsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "alpinekube_pods_total",
			Help: "Total number of pods by status",
		},
		[]string{"status"},
	)

	WaitlistLength = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "alpinekube_waitlist_length",
			Help: "Number of pods waiting for placement",
		},
	)

	CPUTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "alpinekube_cpu_total",
			Help: "Sum of CPU capacity across registered nodes",
		},
	)

	CPUAvailable = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "alpinekube_cpu_available",
			Help: "Sum of unallocated CPU across registered nodes",
		},
	)

	// Scheduler metrics
	SchedulingLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "alpinekube_scheduling_latency_seconds",
			Help:    "Time taken to place a submitted pod in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	PlacementsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alpinekube_placements_total",
			Help: "Placement attempts by policy and result",
		},
		[]string{"policy", "result"},
	)

	// Lifecycle metrics
	LifecycleOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alpinekube_lifecycle_outcomes_total",
			Help: "Fired completion tasks by outcome (completed, terminated, stale)",
		},
		[]string{"outcome"},
	)

	// Health controller metrics
	NodeTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alpinekube_node_transitions_total",
			Help: "Node health state transitions by target state",
		},
		[]string{"state"},
	)

	NodeRestartsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alpinekube_node_restarts_total",
			Help: "Node restart attempts by result",
		},
		[]string{"result"},
	)

	ReallocationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alpinekube_reallocations_total",
			Help: "Pods evicted from removed nodes by outcome (rescheduled, waitlisted, terminated)",
		},
		[]string{"outcome"},
	)

	// Sweep metrics
	SweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "alpinekube_sweep_duration_seconds",
			Help:    "Duration of one health and waitlist sweep in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	SweepCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "alpinekube_sweep_cycles_total",
			Help: "Total number of completed sweeps",
		},
	)

	WaitlistPlacementsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "alpinekube_waitlist_placements_total",
			Help: "Pods placed from the waitlist",
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alpinekube_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "alpinekube_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	prometheus.MustRegister(NodesTotal)
	prometheus.MustRegister(PodsTotal)
	prometheus.MustRegister(WaitlistLength)
	prometheus.MustRegister(CPUTotal)
	prometheus.MustRegister(CPUAvailable)
	prometheus.MustRegister(SchedulingLatency)
	prometheus.MustRegister(PlacementsTotal)
	prometheus.MustRegister(LifecycleOutcomesTotal)
	prometheus.MustRegister(NodeTransitionsTotal)
	prometheus.MustRegister(NodeRestartsTotal)
	prometheus.MustRegister(ReallocationsTotal)
	prometheus.MustRegister(SweepDuration)
	prometheus.MustRegister(SweepCyclesTotal)
	prometheus.MustRegister(WaitlistPlacementsTotal)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
