package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	JobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "derivative_jobs_total",
		Help: "Derivative jobs by kind and terminal status",
	}, []string{"kind", "status"})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "derivative_stage_duration_seconds",
		Help:    "Duration of each job stage",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
	}, []string{"kind", "stage"})

	ActiveJobs = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "derivative_jobs_active",
		Help: "Derivative jobs currently running",
	}, []string{"kind"})

	EventsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatcher_events_total",
		Help: "Inbound envelopes by event type and outcome",
	}, []string{"event_type", "outcome"})

	PublishFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "status_publish_failures_total",
		Help: "Status snapshots that could not be published after retries",
	}, []string{"topic"})

	ScratchSwept = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scratch_directories_swept_total",
		Help: "Stale scratch directories removed by the sweeper",
	})

	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "HTTP requests served",
	}, []string{"method", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method"})
)

// ObserveStage records how long a stage took since start.
func ObserveStage(kind, stage string, start time.Time) {
	StageDuration.WithLabelValues(kind, stage).Observe(time.Since(start).Seconds())
}

// Middleware records request counts and latency for gin routes.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		method := c.Request.Method + " " + c.FullPath()
		requestsTotal.WithLabelValues(method, strconv.Itoa(c.Writer.Status())).Inc()
		requestDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	}
}

func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
