// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"sync"
	"time"

	"github.com/oklar/deployd/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	initOnce sync.Once

	deploymentsTotalCounter     *prometheus.CounterVec
	stepsTotalCounter           *prometheus.CounterVec
	stepExecutionDurationMetric prometheus.Histogram
	deploymentDurationMetric    prometheus.Histogram
	workerClaimLatencyMetric    prometheus.Histogram
)

// Init registers metrics on the default Prometheus registry exactly once.
func Init() {
	initOnce.Do(func() {
		deploymentsTotalCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deployments_total",
				Help: "Total number of deployment status transitions by status.",
			},
			[]string{"status"},
		)

		stepsTotalCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deployment_steps_total",
				Help: "Total number of step terminal updates by status.",
			},
			[]string{"status"},
		)

		stepExecutionDurationMetric = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "step_execution_duration_seconds",
				Help:    "Duration of pipeline step executions in seconds.",
				Buckets: prometheus.DefBuckets,
			},
		)

		deploymentDurationMetric = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "deployment_duration_seconds",
				Help:    "End-to-end duration of deployments in seconds.",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
			},
		)

		workerClaimLatencyMetric = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "worker_claim_latency_seconds",
				Help:    "Latency of worker deployment claim queries in seconds.",
				Buckets: prometheus.DefBuckets,
			},
		)

		prometheus.MustRegister(
			deploymentsTotalCounter,
			stepsTotalCounter,
			stepExecutionDurationMetric,
			deploymentDurationMetric,
			workerClaimLatencyMetric,
		)

		// Ensure counter vectors are visible at /metrics before first increment.
		for _, status := range []domain.DeploymentStatus{
			domain.DeploymentPending,
			domain.DeploymentRunning,
			domain.DeploymentSuccess,
			domain.DeploymentFailed,
			domain.DeploymentCanceled,
		} {
			deploymentsTotalCounter.WithLabelValues(string(status))
		}

		for _, status := range []domain.StepStatus{
			domain.StepPending,
			domain.StepRunning,
			domain.StepSuccess,
			domain.StepFailed,
			domain.StepSkipped,
			domain.StepCanceled,
		} {
			stepsTotalCounter.WithLabelValues(string(status))
		}
	})
}

func IncDeploymentStatus(status string) {
	Init()
	deploymentsTotalCounter.WithLabelValues(status).Inc()
}

func IncStepStatus(status string) {
	Init()
	stepsTotalCounter.WithLabelValues(status).Inc()
}

func ObserveStepExecutionDuration(d time.Duration) {
	Init()
	stepExecutionDurationMetric.Observe(d.Seconds())
}

func ObserveDeploymentDuration(d time.Duration) {
	Init()
	deploymentDurationMetric.Observe(d.Seconds())
}

func ObserveWorkerClaimLatency(d time.Duration) {
	Init()
	workerClaimLatencyMetric.Observe(d.Seconds())
}
