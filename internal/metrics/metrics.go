// Package metrics holds the Prometheus collectors of the chat service. They register with
// the default registry, which GET /metrics serves.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// turnsTotal counts finished turns by outcome (completed, cancelled, failed)
	turnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "repochat_turns_total",
		Help: "Chat turns by outcome",
	}, []string{"outcome"})

	activeStreams = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "repochat_active_streams",
		Help: "Turns currently streaming",
	})

	firstDeltaSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "repochat_time_to_first_delta_seconds",
		Help:    "Time from turn start to the first relayed delta",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
	})

	droppedFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "repochat_dropped_frames_total",
		Help: "Provider frames dropped because their data did not decode",
	}, []string{"event"})

	// persistAttempts counts store writes of completed turns by result (ok, retry, queued, lost)
	persistAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "repochat_persist_attempts_total",
		Help: "Turn persistence attempts by result",
	}, []string{"result"})

	resolutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "repochat_resolutions_total",
		Help: "Repository resolutions by kind (explicit, loose, none)",
	}, []string{"kind"})
)

func TurnFinished(outcome string) { turnsTotal.WithLabelValues(outcome).Inc() }

// StreamStarted marks a turn as streaming; call the returned func when it ends.
func StreamStarted() func() {
	activeStreams.Inc()
	return activeStreams.Dec
}

func FirstDelta(since time.Time) { firstDeltaSeconds.Observe(time.Since(since).Seconds()) }

func FrameDropped(event string) { droppedFrames.WithLabelValues(event).Inc() }

func Persist(result string) { persistAttempts.WithLabelValues(result).Inc() }

func Resolved(kind string) { resolutions.WithLabelValues(kind).Inc() }
