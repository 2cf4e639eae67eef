package exchange

import "github.com/prometheus/client_golang/prometheus"

// Metrics used in monitoring the exchange runtime.
var (
	framesSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Help:      "Number of frames written to peers",
			Name:      "frames_sent_total",
			Namespace: "mx",
		},
	)
	framesReceived = prometheus.NewCounter(
		prometheus.CounterOpts{
			Help:      "Number of frames read from peers",
			Name:      "frames_received_total",
			Namespace: "mx",
		},
	)
	broadcasts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Help:      "Number of Broadcast calls",
			Name:      "broadcasts_total",
			Namespace: "mx",
		},
	)
	connectedPeers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Help:      "Number of connected peers",
			Name:      "connected_peers",
			Namespace: "mx",
		},
	)
)

func init() {
	prometheus.MustRegister(
		framesSent,
		framesReceived,
		broadcasts,
		connectedPeers,
	)
}
