package framestream

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sbernauer/breakwater-rewrite-2/metric"
)

// Metrics holds Prometheus metrics for the frame bridge
type Metrics struct {
	framesPublished   prometheus.Counter
	snapshotDuration  prometheus.Histogram
	viewerConnects    prometheus.Counter
	natsPublished     prometheus.Counter
	natsErrors        prometheus.Counter
	encodedFrameBytes prometheus.Histogram
}

// newMetrics creates and registers bridge metrics. Returns nil if no
// registry is provided (nil input = nil feature pattern).
func newMetrics(registry *metric.MetricsRegistry, bus *Bus) *Metrics {
	if registry == nil {
		return nil
	}

	metrics := &Metrics{
		framesPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "breakwater",
			Subsystem: "frames",
			Name:      "published_total",
			Help:      "Canvas snapshots published to the frame bus",
		}),
		snapshotDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "breakwater",
			Subsystem: "frames",
			Name:      "snapshot_duration_seconds",
			Help:      "Time spent copying the canvas into a frame",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 12),
		}),
		viewerConnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "breakwater",
			Subsystem: "frames",
			Name:      "viewer_connections_total",
			Help:      "Websocket viewer connections accepted",
		}),
		natsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "breakwater",
			Subsystem: "frames",
			Name:      "nats_published_total",
			Help:      "Frames published to the NATS subject",
		}),
		natsErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "breakwater",
			Subsystem: "frames",
			Name:      "nats_errors_total",
			Help:      "Failed NATS publish attempts",
		}),
		encodedFrameBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "breakwater",
			Subsystem: "frames",
			Name:      "encoded_frame_bytes",
			Help:      "Size of encoded binary frames",
			Buckets:   prometheus.ExponentialBuckets(1024, 4, 10),
		}),
	}

	const serviceName = "frame_bridge"
	_ = registry.RegisterCounter(serviceName, "published", metrics.framesPublished)
	_ = registry.RegisterHistogram(serviceName, "snapshot_duration", metrics.snapshotDuration)
	_ = registry.RegisterCounter(serviceName, "viewer_connections", metrics.viewerConnects)
	_ = registry.RegisterCounter(serviceName, "nats_published", metrics.natsPublished)
	_ = registry.RegisterCounter(serviceName, "nats_errors", metrics.natsErrors)
	_ = registry.RegisterHistogram(serviceName, "encoded_frame_bytes", metrics.encodedFrameBytes)

	// Subscriber and drop figures come straight from the bus so the exported
	// values can never drift from its internal counters.
	if bus != nil {
		subscribers := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "breakwater",
			Subsystem: "frames",
			Name:      "subscribers",
			Help:      "Currently registered frame subscribers",
		}, func() float64 {
			return float64(bus.SubscriberCount())
		})
		_ = registry.RegisterGaugeFunc(serviceName, "subscribers", subscribers)

		dropped := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "breakwater",
			Subsystem: "frames",
			Name:      "dropped_total",
			Help:      "Frames dropped for slow subscribers",
		}, func() float64 {
			return float64(bus.Stats().TotalDropped)
		})
		_ = registry.RegisterGaugeFunc(serviceName, "dropped", dropped)
	}

	return metrics
}
