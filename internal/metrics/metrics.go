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
			Name: "classpulse_http_requests_total",
			Help: "Total HTTP requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "classpulse_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	remindersScheduled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "classpulse_reminders_scheduled_total",
			Help: "Scheduled reminders created by reconciliation trigger",
		},
		[]string{"trigger"},
	)

	remindersCancelled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "classpulse_reminders_cancelled_total",
			Help: "Pending reminders cancelled by reason",
		},
		[]string{"reason"},
	)

	remindersDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "classpulse_reminders_dispatched_total",
			Help: "Reminder dispatch outcomes",
		},
		[]string{"outcome"},
	)

	deliveryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "classpulse_delivery_attempts_total",
			Help: "Outbound delivery attempts by result",
		},
		[]string{"result"},
	)

	dueSweepBatch = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "classpulse_due_sweep_batch_size",
			Help: "Reminders selected by the most recent due sweep",
		},
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

// RecordReminderScheduled records one reminder created by a trigger
// (assessment_created, enrollment_created, assessment_updated).
func RecordReminderScheduled(trigger string) {
	remindersScheduled.WithLabelValues(trigger).Inc()
}

// RecordRemindersCancelled records cancelled reminders by reason
// (submission_received, due_date_changed, assessment_inactive).
func RecordRemindersCancelled(reason string, count int) {
	remindersCancelled.WithLabelValues(reason).Add(float64(count))
}

// RecordReminderDispatched records a dispatch outcome
// (sent, skipped, failed).
func RecordReminderDispatched(outcome string) {
	remindersDispatched.WithLabelValues(outcome).Inc()
}

// RecordDeliveryAttempt records an outbound send result
// (sent, retry, failed).
func RecordDeliveryAttempt(result string) {
	deliveryAttempts.WithLabelValues(result).Inc()
}

// SetDueSweepBatch sets the size of the last due-reminder selection.
func SetDueSweepBatch(count int) {
	dueSweepBatch.Set(float64(count))
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
