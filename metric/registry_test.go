package metric

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCounter(name string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "breakwater",
		Subsystem: "test",
		Name:      name,
		Help:      "test counter",
	})
}

func TestRegisterCounter(t *testing.T) {
	registry := NewMetricsRegistry()

	err := registry.RegisterCounter("server", "commands_total", newCounter("commands_total"))
	require.NoError(t, err)

	// Same key again is rejected
	err = registry.RegisterCounter("server", "commands_total", newCounter("commands_total"))
	assert.Error(t, err)
}

func TestRegisterGaugeAndHistogram(t *testing.T) {
	registry := NewMetricsRegistry()

	gauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "breakwater", Subsystem: "test", Name: "active", Help: "h",
	})
	require.NoError(t, registry.RegisterGauge("server", "active", gauge))

	hist := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "breakwater", Subsystem: "test", Name: "latency", Help: "h",
	})
	require.NoError(t, registry.RegisterHistogram("server", "latency", hist))
}

func TestRegisterGaugeFunc(t *testing.T) {
	registry := NewMetricsRegistry()

	value := 42.0
	gf := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "breakwater", Subsystem: "test", Name: "pixels", Help: "h",
	}, func() float64 { return value })

	require.NoError(t, registry.RegisterGaugeFunc("stats", "pixels", gf))

	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)

	found := false
	for _, fam := range families {
		if fam.GetName() == "breakwater_test_pixels" {
			found = true
			require.Len(t, fam.GetMetric(), 1)
			assert.Equal(t, 42.0, fam.GetMetric()[0].GetGauge().GetValue())
		}
	}
	assert.True(t, found, "gauge func should be gathered")
}

func TestUnregister(t *testing.T) {
	registry := NewMetricsRegistry()

	require.NoError(t, registry.RegisterCounter("server", "bytes_total", newCounter("bytes_total")))
	assert.True(t, registry.Unregister("server", "bytes_total"))
	assert.False(t, registry.Unregister("server", "bytes_total"))

	// Re-registration after unregister succeeds
	assert.NoError(t, registry.RegisterCounter("server", "bytes_total", newCounter("bytes_total")))
}
