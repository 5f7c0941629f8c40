// Package metrics defines the Prometheus collectors exported by the deployer.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Label values for deployment and verification outcomes.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
	StatusSkipped = "skipped"
)

var (
	// Deployment metrics
	contractDeploymentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lanseller_contract_deployments_total",
			Help: "Contract deployments by contract and outcome",
		},
		[]string{"contract", "status"},
	)

	transactionsSentTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lanseller_transactions_sent_total",
			Help: "Total number of transactions broadcast",
		},
	)

	deployDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lanseller_deploy_duration_seconds",
			Help:    "Time from sending a deployment transaction to its receipt",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120, 300},
		},
		[]string{"contract"},
	)

	verificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lanseller_verifications_total",
			Help: "Explorer verification attempts by outcome",
		},
		[]string{"status"},
	)

	deploymentsByStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "lanseller_deployments",
			Help: "Recorded deployments by status",
		},
		[]string{"status"},
	)

	// HTTP metrics for the status server
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lanseller_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lanseller_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// RecordDeployment counts a future outcome. d is observed only for
// successful deployments.
func RecordDeployment(contract, status string, d time.Duration) {
	contractDeploymentsTotal.WithLabelValues(contract, status).Inc()
	if status == StatusSuccess {
		deployDuration.WithLabelValues(contract).Observe(d.Seconds())
	}
}

// IncTransactionsSent counts a broadcast transaction.
func IncTransactionsSent() {
	transactionsSentTotal.Inc()
}

// RecordVerification counts a verification outcome.
func RecordVerification(status string) {
	verificationsTotal.WithLabelValues(status).Inc()
}

// RecordHTTPRequest records one served request.
func RecordHTTPRequest(method, path, status string, d time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(d.Seconds())
}

// SetDeployments replaces the per-status deployment gauge.
func SetDeployments(counts map[string]int) {
	deploymentsByStatus.Reset()
	for status, n := range counts {
		deploymentsByStatus.WithLabelValues(status).Set(float64(n))
	}
}
