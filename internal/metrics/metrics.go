package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Stream outcomes.
const (
	OutcomeDone           = "done"
	OutcomeErrorEvent     = "error_event"
	OutcomeTransportError = "transport_error"
	OutcomeUnterminated   = "unterminated"
)

// Feedback results.
const (
	FeedbackSent    = "sent"
	FeedbackSkipped = "skipped"
	FeedbackFailed  = "failed"
)

var (
	// ExchangesTotal counts finished user turns by how their answer ended.
	ExchangesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "support_widget",
			Subsystem: "stream",
			Name:      "exchanges_total",
			Help:      "Total number of chat exchanges by outcome",
		},
		[]string{"outcome"},
	)

	// MalformedLinesTotal counts `data: ` lines that could not be decoded.
	MalformedLinesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "support_widget",
			Subsystem: "stream",
			Name:      "malformed_lines_total",
			Help:      "Total number of discarded malformed event lines",
		},
	)

	// FirstByteSeconds observes the time between send and the opening of the answer stream.
	FirstByteSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "support_widget",
			Subsystem: "stream",
			Name:      "first_byte_seconds",
			Help:      "Time until the answer stream is opened",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// FeedbackTotal counts feedback submissions by result.
	FeedbackTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "support_widget",
			Subsystem: "feedback",
			Name:      "submissions_total",
			Help:      "Total number of feedback submissions by result",
		},
		[]string{"result"},
	)

	// ActiveWidgets is the number of widget sessions held in memory.
	ActiveWidgets = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "support_widget",
			Subsystem: "sessions",
			Name:      "active",
			Help:      "Number of widget sessions held in memory",
		},
	)
)
