package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	MessagesSent     prometheus.Counter
	TestSends        prometheus.Counter
	QuotaRejections  prometheus.Counter
	RelayFailures    *prometheus.CounterVec
	RateLimited      prometheus.Counter
	WebhooksReceived *prometheus.CounterVec
	EnqueuedJobs     prometheus.Counter
	ProcessedJobs    prometheus.Counter
	FailedJobs       prometheus.Counter
	HTTPRequests     *prometheus.CounterVec
}

var (
	once   sync.Once
	global *Metrics
)

// Global returns the process-wide metrics registered on the default registry.
func Global() *Metrics {
	once.Do(func() {
		global = newMetrics()
		prometheus.MustRegister(global.collectors()...)
	})
	return global
}

func newMetrics() *Metrics {
	return &Metrics{
		MessagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "omnibot",
			Name:      "messages_sent_total",
			Help:      "Metered sends that produced a stored message record",
		}),
		TestSends: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "omnibot",
			Name:      "test_sends_total",
			Help:      "Unmetered test sends",
		}),
		QuotaRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "omnibot",
			Name:      "quota_rejections_total",
			Help:      "Sends rejected because the monthly quota was used up",
		}),
		RelayFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "omnibot",
			Name:      "relay_failures_total",
			Help:      "AI provider calls that degraded to an apology reply",
		}, []string{"provider"}),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "omnibot",
			Name:      "rate_limited_total",
			Help:      "Chat requests rejected by the per-user rate limiter",
		}),
		WebhooksReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "omnibot",
			Name:      "webhooks_received_total",
			Help:      "Inbound platform webhook deliveries",
		}, []string{"platform"}),
		EnqueuedJobs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "omnibot",
			Name:      "queue_enqueued_total",
			Help:      "Auto-reply jobs enqueued to the redis stream",
		}),
		ProcessedJobs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "omnibot",
			Name:      "queue_processed_total",
			Help:      "Auto-reply jobs processed",
		}),
		FailedJobs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "omnibot",
			Name:      "queue_failed_total",
			Help:      "Auto-reply jobs that failed",
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "omnibot",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status",
		}, []string{"method", "route", "status"}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.MessagesSent, m.TestSends, m.QuotaRejections, m.RelayFailures, m.RateLimited,
		m.WebhooksReceived, m.EnqueuedJobs, m.ProcessedJobs, m.FailedJobs, m.HTTPRequests,
	}
}
