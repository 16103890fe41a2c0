package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	IngestRuns = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "followcast_ingest_runs_total",
		Help: "Total ingestion runs",
	})
	IngestErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "followcast_ingest_errors_total",
		Help: "Total ingestion runs aborted by an error",
	})
	IngestDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "followcast_ingest_duration_seconds",
		Help:    "Ingestion duration seconds",
		Buckets: prometheus.ExponentialBuckets(1, 4, 8),
	})
	IngestPages = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "followcast_ingest_pages_total",
		Help: "Follower pages committed to the store",
	})
	IngestUsers = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "followcast_ingest_users_total",
		Help: "Follower edges inserted",
	})
	APIRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "followcast_api_retries_total",
		Help: "Total remote retry attempts",
	}, []string{"endpoint", "reason"})
	MessagesSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "followcast_messages_sent_total",
		Help: "Messages recorded as sent",
	}, []string{"mode"})
	SendFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "followcast_send_failures_total",
		Help: "Recipients skipped after a permanent failure",
	}, []string{"reason"})
	SendWait = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "followcast_send_wait_seconds",
		Help:    "Delay imposed before a send",
		Buckets: prometheus.ExponentialBuckets(1, 3, 10),
	}, []string{"cause"})
	CommandRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "followcast_command_runs_total",
		Help: "CLI command invocations",
	}, []string{"command"})
	CommandErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "followcast_command_errors_total",
		Help: "CLI command failures",
	}, []string{"command"})
)

func init() {
	prometheus.MustRegister(IngestRuns, IngestErrors, IngestDuration, IngestPages, IngestUsers,
		APIRetries, MessagesSent, SendFailures, SendWait, CommandRuns, CommandErrors)
}

// NewServer returns a metrics HTTP server for addr (e.g., ":9090"); nil when addr is empty.
func NewServer(addr string) *http.Server {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	return &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
}

// ObserveIngestDuration records a run duration
func ObserveIngestDuration(start time.Time) {
	IngestDuration.Observe(time.Since(start).Seconds())
}

// IncAPIRetry increments the retry counter for an endpoint.
func IncAPIRetry(endpoint, reason string) { APIRetries.WithLabelValues(endpoint, reason).Inc() }

func IncSent(rehearsal bool) {
	mode := "live"
	if rehearsal {
		mode = "rehearsal"
	}
	MessagesSent.WithLabelValues(mode).Inc()
}

func IncSendFailure(reason string) { SendFailures.WithLabelValues(reason).Inc() }

func ObserveSendWait(cause string, d time.Duration) {
	SendWait.WithLabelValues(cause).Observe(d.Seconds())
}

func IncCommandRun(cmd string)   { CommandRuns.WithLabelValues(cmd).Inc() }
func IncCommandError(cmd string) { CommandErrors.WithLabelValues(cmd).Inc() }
