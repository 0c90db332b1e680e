package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Result label values shared by the domain counters.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

var (
	// SyncOperations counts sync coordinator operations by op (save, delete,
	// connect, reload), authoritative backend name and result.
	SyncOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldops_sync_operations_total",
			Help: "Sync coordinator operations by op, backend and result.",
		},
		[]string{"op", "backend", "result"},
	)

	// AIRequests counts AI gateway calls by skill and result. Result is one of
	// ok, error, malformed or unavailable.
	AIRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldops_ai_requests_total",
			Help: "AI gateway requests by skill and result.",
		},
		[]string{"skill", "result"},
	)
)

func init() {
	prometheus.MustRegister(SyncOperations, AIRequests)
}

// Outcome maps err to ResultOK or ResultError.
func Outcome(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultOK
}
