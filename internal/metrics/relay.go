package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	relayFrames = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "edgerelay",
		Subsystem: "relay",
		Name:      "frames_received_total",
		Help:      "Uploaded frames accepted by the relay",
	})

	relayRejected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "edgerelay",
		Subsystem: "relay",
		Name:      "uploads_rejected_total",
		Help:      "Upload requests rejected by validation",
	})

	relaySubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "edgerelay",
		Subsystem: "relay",
		Name:      "subscribers",
		Help:      "Currently connected push-channel subscribers",
	})

	relayDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "edgerelay",
		Subsystem: "relay",
		Name:      "messages_dropped_total",
		Help:      "Push messages dropped because a subscriber queue was full",
	})
)

// IncRelayFrames counts an accepted upload.
func IncRelayFrames() { relayFrames.Inc() }

// IncRelayRejected counts a rejected upload.
func IncRelayRejected() { relayRejected.Inc() }

// SetRelaySubscribers sets the current subscriber count.
func SetRelaySubscribers(n int) { relaySubscribers.Set(float64(n)) }

// IncRelayDropped counts a message dropped for a slow subscriber.
func IncRelayDropped() { relayDropped.Inc() }
