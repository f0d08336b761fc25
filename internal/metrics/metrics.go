package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ToolCalls counts tool invocations, labeled by tool name and outcome.
	ToolCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "netdiag_tool_calls_total",
		Help: "The total number of tool invocations",
	}, []string{"tool", "status"}) // status: success, error

	// ToolDuration measures end-to-end tool execution time.
	ToolDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "netdiag_tool_duration_seconds",
		Help:    "Time taken to execute a tool invocation",
		Buckets: []float64{.05, .25, 1, 5, 15, 30, 60, 120},
	}, []string{"tool"})

	// Admissions counts rate-limiter decisions per operation class.
	Admissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "netdiag_admissions_total",
		Help: "The total number of admission decisions",
	}, []string{"class", "outcome"}) // outcome: allowed, or a denial reason

	// ProbeDuration measures upstream probe runs by shape.
	ProbeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "netdiag_probe_duration_seconds",
		Help:    "Time taken by upstream probe runs",
		Buckets: []float64{.1, .5, 1, 5, 15, 30, 60, 120},
	}, []string{"shape", "result"}) // result: success, error

	// CatalogRefreshes counts upstream catalog fetches by outcome.
	CatalogRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "netdiag_catalog_refreshes_total",
		Help: "The total number of server catalog refresh attempts",
	}, []string{"status"}) // status: success, stale_served, error, denied
)
