package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

// PublishResult represents the outcome of a publish attempt.
type PublishResult string

const (
	// PublishResultSuccess indicates that the remote service accepted the status.
	PublishResultSuccess PublishResult = "success"
	// PublishResultRejected indicates a non-2xx response.
	PublishResultRejected PublishResult = "rejected"
	// PublishResultTransportError indicates that no response was received.
	PublishResultTransportError PublishResult = "transport_error"
	// PublishResultTimeout indicates that the attempt ran out of time.
	PublishResultTimeout PublishResult = "timeout"
	// PublishResultDropped indicates that the attempt never ran because the queue was full or closed.
	PublishResultDropped PublishResult = "dropped"
)

// Channel is the transport used to deliver a status.
type Channel string

const (
	// ChannelHTTP is used for REST deliveries.
	ChannelHTTP Channel = "http"
	// ChannelCommand is used for command deliveries such as Gerrit over SSH.
	ChannelCommand Channel = "command"
)

// RateLimit represents the rate limit information reported by a hosting service.
type RateLimit struct {
	// Limit is the maximum number of requests allowed in the current rate limit window.
	Limit int
	// Remaining is the number of requests remaining in the current rate limit window.
	Remaining int
	// ResetRemaining is the duration until the rate limit resets.
	ResetRemaining time.Duration
}

var (
	// Labels for publish_requests metrics
	publishLabels = []string{"scm_provider", "channel", "result", "response_code"}

	// Labels for rate limit metrics
	rateLimitLabels = []string{"scm_provider"}

	publishRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "publish_requests_total",
			Help: "A counter of commit status publish attempts.",
		},
		publishLabels,
	)

	publishRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "publish_request_duration_seconds",
			Help:    "A histogram of the duration of commit status publish attempts.",
			Buckets: prometheus.DefBuckets,
		},
		publishLabels,
	)

	publishQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "publish_queue_depth",
			Help: "Number of publish attempts waiting for a worker.",
		},
	)

	publishInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "publish_in_flight",
			Help: "Number of publish attempts submitted and not yet completed.",
		},
	)

	scmRateLimitLimit = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "scm_rate_limit_limit",
			Help: "A gauge for the rate limit of SCM API calls.",
		},
		rateLimitLabels,
	)

	scmRateLimitRemaining = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "scm_rate_limit_remaining",
			Help: "A gauge for the remaining rate limit of SCM API calls.",
		},
		rateLimitLabels,
	)

	scmRateLimitResetRemainingSeconds = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "scm_rate_limit_reset_remaining_seconds",
			Help: "A gauge for the remaining seconds until the SCM API rate limit resets.",
		},
		rateLimitLabels,
	)

	hostEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "host_events_total",
			Help: "A counter of build events received from the CI server.",
		},
		[]string{"event", "response_code"},
	)

	hostEventProcessingDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "host_event_processing_duration_seconds",
			Help: "A histogram of the duration of build event processing.",
		},
		[]string{"event", "response_code"},
	)

	// ProblemsRecorded counts build problems by kind.
	ProblemsRecorded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "publish_problems_total",
			Help: "Number of build problems recorded for failed publish attempts.",
		},
		[]string{"scm_provider", "kind"},
	)

	// If you add metrics here, document them in DESIGN.md.
)

func init() {
	// Register custom metrics with the k8s controller-runtime metrics registry
	metrics.Registry.MustRegister(
		publishRequestsTotal,
		publishRequestDurationSeconds,
		publishQueueDepth,
		publishInFlight,
		scmRateLimitLimit,
		scmRateLimitRemaining,
		scmRateLimitResetRemainingSeconds,
		hostEventsTotal,
		hostEventProcessingDurationSeconds,
		ProblemsRecorded,
	)
}

// RecordPublish records both the increment and observation for a publish attempt, and optionally observes rate limit metrics.
func RecordPublish(provider string, channel Channel, result PublishResult, responseCode int, duration time.Duration, rateLimit *RateLimit) {
	labels := prometheus.Labels{
		"scm_provider":  provider,
		"channel":       string(channel),
		"result":        string(result),
		"response_code": strconv.Itoa(responseCode),
	}
	publishRequestsTotal.With(labels).Inc()
	publishRequestDurationSeconds.With(labels).Observe(duration.Seconds())

	if rateLimit != nil {
		rateLimitLabels := prometheus.Labels{
			"scm_provider": provider,
		}

		scmRateLimitLimit.With(rateLimitLabels).Set(float64(rateLimit.Limit))
		scmRateLimitRemaining.With(rateLimitLabels).Set(float64(rateLimit.Remaining))
		scmRateLimitResetRemainingSeconds.With(rateLimitLabels).Set(rateLimit.ResetRemaining.Seconds())
	}
}

// SetQueueDepth reports the number of queued publish attempts.
func SetQueueDepth(depth int) {
	publishQueueDepth.Set(float64(depth))
}

// AddInFlight adjusts the number of outstanding publish attempts.
func AddInFlight(delta int) {
	publishInFlight.Add(float64(delta))
}

// RecordHostEvent records the processing of a build event received from the CI server.
func RecordHostEvent(event string, responseCode int, duration time.Duration) {
	labels := prometheus.Labels{
		"event":         event,
		"response_code": strconv.Itoa(responseCode),
	}
	hostEventsTotal.With(labels).Inc()
	hostEventProcessingDurationSeconds.With(labels).Observe(duration.Seconds())
}

// RateLimitFromHeaders reads the rate limit headers GitHub, Gitea and Forgejo
// (X-RateLimit-*) or GitLab (RateLimit-*) send. It returns nil when the
// response carries none.
func RateLimitFromHeaders(h http.Header, now time.Time) *RateLimit {
	for _, prefix := range []string{"X-Ratelimit-", "Ratelimit-"} {
		remaining := h.Get(prefix + "Remaining")
		if remaining == "" {
			continue
		}
		rl := &RateLimit{}
		rl.Remaining, _ = strconv.Atoi(remaining)
		rl.Limit, _ = strconv.Atoi(h.Get(prefix + "Limit"))
		if reset, err := strconv.ParseInt(h.Get(prefix+"Reset"), 10, 64); err == nil {
			rl.ResetRemaining = time.Unix(reset, 0).Sub(now)
			if rl.ResetRemaining < 0 {
				rl.ResetRemaining = 0
			}
		}
		return rl
	}
	return nil
}
