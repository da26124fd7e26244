package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	JobsEnqueued     = prometheus.NewCounter(prometheus.CounterOpts{Name: "cleanup_jobs_enqueued_total", Help: "Deletion jobs inserted into the queue"})
	JobsCompleted    = prometheus.NewCounter(prometheus.CounterOpts{Name: "cleanup_jobs_completed_total", Help: "Deletion jobs that reached completed"})
	JobsFailed       = prometheus.NewCounter(prometheus.CounterOpts{Name: "cleanup_jobs_failed_total", Help: "Deletion jobs that exhausted retries"})
	JobsReclaimed    = prometheus.NewCounter(prometheus.CounterOpts{Name: "cleanup_jobs_reclaimed_total", Help: "Stale in_progress jobs returned to pending"})
	BatchRetries     = prometheus.NewCounter(prometheus.CounterOpts{Name: "cleanup_batch_retries_total", Help: "Storage delete batches retried after a transient error"})
	DirectDeletes    = prometheus.NewCounter(prometheus.CounterOpts{Name: "cleanup_direct_deletes_total", Help: "Synchronous tribe deletions served"})
	RateLimitRejects = prometheus.NewCounter(prometheus.CounterOpts{Name: "cleanup_rate_limit_rejects_total", Help: "Requests rejected by the rate limiter"})
	PendingDepth     = prometheus.NewGauge(prometheus.GaugeOpts{Name: "cleanup_pending_jobs", Help: "Deletion jobs waiting in the queue"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			JobsEnqueued,
			JobsCompleted,
			JobsFailed,
			JobsReclaimed,
			BatchRetries,
			DirectDeletes,
			RateLimitRejects,
			PendingDepth,
		)
	})
	return promhttp.Handler()
}
