// Package metrics exposes Prometheus collectors for the coordinator.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	claimsTotal             prometheus.Counter
	claimedTasksTotal       prometheus.Counter
	resultsTotal            *prometheus.CounterVec
	escalationsTotal        *prometheus.CounterVec
	escalationQueueDepth    prometheus.Gauge
	partitionTermsPerRun    prometheus.Histogram
	areasFinishedTotal      prometheus.Counter
	leaseExpiriesTotal      prometheus.Counter
	httpRequestsTotal       *prometheus.CounterVec
	httpRequestDurationSecs *prometheus.HistogramVec
	deferredWriteFlushTotal *prometheus.CounterVec
	companiesImportedTotal  prometheus.Counter

	once sync.Once
)

// Init registers the Prometheus collectors. Safe to call repeatedly.
func Init() {
	once.Do(func() {
		claimsTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "coordinator_claims_total",
			Help: "Total number of successful task-batch claims.",
		})

		claimedTasksTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "coordinator_claimed_tasks_total",
			Help: "Total number of tasks handed out across all claims.",
		})

		resultsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coordinator_results_total",
				Help: "Reported result batches, labeled by class (empty, partial, capped).",
			},
			[]string{"class"},
		)

		escalationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coordinator_escalations_total",
				Help: "Processed escalation requests, labeled by refinement kind.",
			},
			[]string{"kind"},
		)

		escalationQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "coordinator_escalation_queue_depth",
			Help: "Escalation requests currently queued.",
		})

		partitionTermsPerRun = promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "coordinator_partition_terms_per_run",
			Help:    "Search terms produced per partitioning run.",
			Buckets: []float64{0, 5, 10, 20, 40, 80, 160, 320},
		})

		areasFinishedTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "coordinator_areas_finished_total",
			Help: "Areas that reached the Finished state.",
		})

		leaseExpiriesTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "coordinator_lease_expiries_total",
			Help: "Claims handed out over an expired prior lease.",
		})

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSecs = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		deferredWriteFlushTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coordinator_deferred_write_flushes_total",
				Help: "Deferred company write-batch flushes, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		companiesImportedTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "coordinator_companies_imported_total",
			Help: "Company records newly created or updated by imports.",
		})
	})
}

// Handler returns an http.Handler exposing the Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveClaim records a successful claim of a task batch.
func ObserveClaim(tasks int) {
	if claimsTotal == nil {
		return
	}
	claimsTotal.Inc()
	claimedTasksTotal.Add(float64(tasks))
}

// ObserveResult increments the result counter for the given class.
func ObserveResult(class string) {
	if resultsTotal == nil {
		return
	}
	resultsTotal.WithLabelValues(class).Inc()
}

// ObserveEscalation increments the escalation counter for the kind.
func ObserveEscalation(kind string) {
	if escalationsTotal == nil {
		return
	}
	escalationsTotal.WithLabelValues(kind).Inc()
}

// SetEscalationQueueDepth records the current queue depth.
func SetEscalationQueueDepth(depth int) {
	if escalationQueueDepth == nil {
		return
	}
	escalationQueueDepth.Set(float64(depth))
}

// ObservePartitionRun records the size of one partitioning output.
func ObservePartitionRun(terms int) {
	if partitionTermsPerRun == nil {
		return
	}
	partitionTermsPerRun.Observe(float64(terms))
}

// ObserveAreaFinished counts a Finished transition.
func ObserveAreaFinished() {
	if areasFinishedTotal == nil {
		return
	}
	areasFinishedTotal.Inc()
}

// ObserveLeaseExpiry counts a claim that displaced an expired lease.
func ObserveLeaseExpiry() {
	if leaseExpiriesTotal == nil {
		return
	}
	leaseExpiriesTotal.Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSecs.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveDeferredFlush counts one deferred write-batch flush.
func ObserveDeferredFlush(outcome string) {
	if deferredWriteFlushTotal == nil {
		return
	}
	deferredWriteFlushTotal.WithLabelValues(outcome).Inc()
}

// ObserveCompaniesImported counts created or updated company records.
func ObserveCompaniesImported(n int) {
	if companiesImportedTotal == nil || n <= 0 {
		return
	}
	companiesImportedTotal.Add(float64(n))
}
