package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeOK labels successfully classified frames.
	OutcomeOK = "ok"
	// OutcomeMock labels frames answered by the mock classifier.
	OutcomeMock = "mock"
	// OutcomeError labels frames degraded by classifier failures.
	OutcomeError = "error"
)

var (
	framesAnalyzedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "poolguard",
			Name:      "frames_analyzed_total",
			Help:      "Total frames run through the vision classifier, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	frameAnalysisSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "poolguard",
			Name:      "frame_analysis_seconds",
			Help:      "Frame classification latency in seconds.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 3, 5, 10, 20, 30},
		},
	)

	framesSkippedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "poolguard",
			Name:      "frames_skipped_total",
			Help:      "Sampler ticks that produced no analysis, partitioned by reason.",
		},
		[]string{"reason"},
	)

	alertsCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "poolguard",
			Name:      "alerts_created_total",
			Help:      "Total alerts written, partitioned by trigger type and severity.",
		},
		[]string{"trigger", "severity"},
	)

	alertsDismissedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "poolguard",
			Name:      "alerts_dismissed_total",
			Help:      "Total alerts dismissed.",
		},
	)

	feedEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "poolguard",
			Name:      "feed_events_total",
			Help:      "Change-feed events delivered to distributor views, partitioned by event type.",
		},
		[]string{"event"},
	)

	notifyDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "poolguard",
			Name:      "notify_deliveries_total",
			Help:      "Escalation deliveries, partitioned by channel and outcome.",
		},
		[]string{"channel", "outcome"},
	)
)

// Register attaches poolguard collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		framesAnalyzedTotal,
		frameAnalysisSeconds,
		framesSkippedTotal,
		alertsCreatedTotal,
		alertsDismissedTotal,
		feedEventsTotal,
		notifyDeliveriesTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveFrame records one classified frame with its latency and outcome label.
func ObserveFrame(duration time.Duration, outcome string) {
	framesAnalyzedTotal.WithLabelValues(outcome).Inc()
	if duration < 0 {
		duration = 0
	}
	frameAnalysisSeconds.Observe(duration.Seconds())
}

// FrameSkipped records one sampler tick skipped for the given reason.
func FrameSkipped(reason string) {
	framesSkippedTotal.WithLabelValues(reason).Inc()
}

// AlertCreated records one persisted alert.
func AlertCreated(trigger, severity string) {
	alertsCreatedTotal.WithLabelValues(trigger, severity).Inc()
}

// AlertDismissed records one alert dismissal.
func AlertDismissed() {
	alertsDismissedTotal.Inc()
}

// FeedEvent records one change-feed delivery.
func FeedEvent(event string) {
	feedEventsTotal.WithLabelValues(event).Inc()
}

// NotifyDelivery records one escalation attempt outcome.
func NotifyDelivery(channel, outcome string) {
	notifyDeliveriesTotal.WithLabelValues(channel, outcome).Inc()
}
