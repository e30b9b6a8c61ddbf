package server

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sbernauer/breakwater-rewrite-2/metric"
	"github.com/sbernauer/breakwater-rewrite-2/stats"
)

// Metrics holds Prometheus metrics for the pixel listener
type Metrics struct {
	commandsProcessed   prometheus.Counter
	pixelsSet           prometheus.Counter
	bytesRead           prometheus.Counter
	protocolErrors      prometheus.Counter
	oversizedLines      prometheus.Counter
	connectionsOpened   prometheus.Counter
	connectionsRejected prometheus.Counter
	socketErrors        prometheus.Counter
	parsePassBytes      prometheus.Histogram
}

// newMetrics creates and registers listener metrics. Returns nil if no
// registry is provided (nil input = nil feature pattern).
func newMetrics(registry *metric.MetricsRegistry, aggregator *stats.Aggregator) *Metrics {
	if registry == nil {
		return nil
	}

	metrics := &Metrics{
		commandsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "breakwater",
			Subsystem: "server",
			Name:      "commands_processed_total",
			Help:      "Total pixel commands processed",
		}),
		pixelsSet: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "breakwater",
			Subsystem: "server",
			Name:      "pixels_set_total",
			Help:      "Total pixels written to the canvas",
		}),
		bytesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "breakwater",
			Subsystem: "server",
			Name:      "bytes_read_total",
			Help:      "Total bytes read from client connections",
		}),
		protocolErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "breakwater",
			Subsystem: "server",
			Name:      "protocol_errors_total",
			Help:      "Lines skipped as malformed or unrecognized",
		}),
		oversizedLines: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "breakwater",
			Subsystem: "server",
			Name:      "oversized_lines_total",
			Help:      "Lines dropped because they exceeded the read buffer",
		}),
		connectionsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "breakwater",
			Subsystem: "server",
			Name:      "connections_opened_total",
			Help:      "Total client connections accepted",
		}),
		connectionsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "breakwater",
			Subsystem: "server",
			Name:      "connections_rejected_total",
			Help:      "Connections refused by the connection cap",
		}),
		socketErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "breakwater",
			Subsystem: "server",
			Name:      "socket_errors_total",
			Help:      "Accept and read errors encountered",
		}),
		parsePassBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "breakwater",
			Subsystem: "server",
			Name:      "parse_pass_bytes",
			Help:      "Distribution of bytes consumed per parse pass",
			Buckets:   []float64{64, 256, 1024, 4096, 16384, 65536},
		}),
	}

	const serviceName = "pixel_server"
	_ = registry.RegisterCounter(serviceName, "commands_processed", metrics.commandsProcessed)
	_ = registry.RegisterCounter(serviceName, "pixels_set", metrics.pixelsSet)
	_ = registry.RegisterCounter(serviceName, "bytes_read", metrics.bytesRead)
	_ = registry.RegisterCounter(serviceName, "protocol_errors", metrics.protocolErrors)
	_ = registry.RegisterCounter(serviceName, "oversized_lines", metrics.oversizedLines)
	_ = registry.RegisterCounter(serviceName, "connections_opened", metrics.connectionsOpened)
	_ = registry.RegisterCounter(serviceName, "connections_rejected", metrics.connectionsRejected)
	_ = registry.RegisterCounter(serviceName, "socket_errors", metrics.socketErrors)
	_ = registry.RegisterHistogram(serviceName, "parse_pass_bytes", metrics.parsePassBytes)

	// Active connections come straight from the aggregator so the gauge can
	// never drift from the exported statistics.
	if aggregator != nil {
		activeConns := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "breakwater",
			Subsystem: "server",
			Name:      "connections_active",
			Help:      "Currently open client connections",
		}, func() float64 {
			return float64(aggregator.ActiveConnections())
		})
		_ = registry.RegisterGaugeFunc(serviceName, "connections_active", activeConns)
	}

	return metrics
}
