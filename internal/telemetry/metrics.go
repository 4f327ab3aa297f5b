package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	EnqueueCounter       = prometheus.NewCounter(prometheus.CounterOpts{Name: "pipeline_jobs_enqueued_total", Help: "Total enqueued jobs"})
	WorkerSuccess        = prometheus.NewCounter(prometheus.CounterOpts{Name: "pipeline_jobs_completed_total", Help: "Jobs completed successfully"})
	WorkerFailures       = prometheus.NewCounter(prometheus.CounterOpts{Name: "pipeline_jobs_retried_total", Help: "Jobs that failed and will retry"})
	WorkerDeadLetter     = prometheus.NewCounter(prometheus.CounterOpts{Name: "pipeline_jobs_failed_total", Help: "Jobs that failed terminally"})
	LeasesReaped         = prometheus.NewCounter(prometheus.CounterOpts{Name: "pipeline_leases_reaped_total", Help: "Processing jobs requeued after lease expiry"})
	QueueDepthGauge      = prometheus.NewGauge(prometheus.GaugeOpts{Name: "pipeline_queue_depth", Help: "Runnable pending jobs"})
	InFlightGauge        = prometheus.NewGauge(prometheus.GaugeOpts{Name: "pipeline_jobs_inflight", Help: "Jobs currently being processed"})
	CheckinsValidated    = prometheus.NewCounter(prometheus.CounterOpts{Name: "pipeline_checkins_validated_total", Help: "Committed check-ins"})
	CheckinRejections    = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "pipeline_checkin_rejections_total", Help: "Rejected scans by reason"}, []string{"reason"})
	CertificatesRendered = prometheus.NewCounter(prometheus.CounterOpts{Name: "pipeline_certificates_rendered_total", Help: "Certificates rendered and uploaded"})
	NotificationsSent    = prometheus.NewCounter(prometheus.CounterOpts{Name: "pipeline_notifications_sent_total", Help: "Notification rows inserted"})
	RateLimitRejects     = prometheus.NewCounter(prometheus.CounterOpts{Name: "pipeline_rate_limit_rejects_total", Help: "Requests rejected by rate limiter"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			EnqueueCounter,
			WorkerSuccess,
			WorkerFailures,
			WorkerDeadLetter,
			LeasesReaped,
			QueueDepthGauge,
			InFlightGauge,
			CheckinsValidated,
			CheckinRejections,
			CertificatesRendered,
			NotificationsSent,
			RateLimitRejects,
		)
	})
	return promhttp.Handler()
}
