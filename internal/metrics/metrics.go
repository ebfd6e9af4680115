package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "disparo_http_requests_total",
			Help: "Total HTTP requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "disparo_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	campaignsPromoted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "disparo_campaigns_promoted_total",
			Help: "Campaigns picked up by the promotion scan",
		},
	)

	campaignsFinished = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "disparo_campaigns_finished_total",
			Help: "Campaigns that reached FINISHED",
		},
	)

	contactsPrepared = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "disparo_contacts_prepared_total",
			Help: "Per-contact preparation jobs that scheduled a dispatch",
		},
	)

	dispatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "disparo_dispatches_total",
			Help: "Dispatch executions by outcome (delivered, skipped, failed)",
		},
		[]string{"outcome"},
	)

	mediaSendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "disparo_media_sends_total",
			Help: "Media and file-list sends by outcome",
		},
		[]string{"outcome"},
	)

	jobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "disparo_job_duration_seconds",
			Help:    "Job handler execution time by job name",
			Buckets: []float64{.01, .05, .1, .5, 1, 5, 30, 120},
		},
		[]string{"job"},
	)

	queueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "disparo_queue_depth",
			Help: "Jobs waiting per queue bucket (ready, delayed, active, failed)",
		},
		[]string{"queue", "bucket"},
	)

	scheduledSends = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "disparo_scheduled_sends_total",
			Help: "One-off scheduled message sends by outcome",
		},
		[]string{"outcome"},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records HTTP request metrics
func RecordRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordCampaignPromoted counts a campaign entering the processing queue
func RecordCampaignPromoted() {
	campaignsPromoted.Inc()
}

// RecordCampaignFinished counts a campaign reaching its terminal state
func RecordCampaignFinished() {
	campaignsFinished.Inc()
}

// RecordContactPrepared counts a scheduled dispatch
func RecordContactPrepared() {
	contactsPrepared.Inc()
}

// RecordDispatch records a dispatch execution outcome
func RecordDispatch(outcome string) {
	dispatchesTotal.WithLabelValues(outcome).Inc()
}

// RecordMediaSend records a media/file-list send outcome
func RecordMediaSend(outcome string) {
	mediaSendsTotal.WithLabelValues(outcome).Inc()
}

// RecordJobDuration records how long a job handler ran
func RecordJobDuration(job string, duration time.Duration) {
	jobDuration.WithLabelValues(job).Observe(duration.Seconds())
}

// SetQueueDepth sets the waiting-job gauge for one queue bucket
func SetQueueDepth(queue, bucket string, depth int64) {
	queueDepth.WithLabelValues(queue, bucket).Set(float64(depth))
}

// RecordScheduledSend records a one-off scheduled message outcome
func RecordScheduledSend(outcome string) {
	scheduledSends.WithLabelValues(outcome).Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware returns HTTP middleware that records request metrics
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		RecordRequest(r.Method, r.URL.Path, wrapped.status, time.Since(start))
	})
}
