package settlement

import "github.com/prometheus/client_golang/prometheus"

var (
	requestsCreated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_requests_created_total",
		Help: "Recharge and withdrawal requests created.",
	}, []string{"kind"})

	decisionsApplied = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_decisions_total",
		Help: "Admin decisions by kind and resulting status.",
	}, []string{"kind", "status"})
)

func init() {
	prometheus.MustRegister(requestsCreated, decisionsApplied)
}
