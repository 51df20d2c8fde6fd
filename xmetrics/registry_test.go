package xmetrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistryPreregistration(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	r, err := NewRegistry(&Options{
		Pedantic: true,
		Metrics: map[string]Metric{
			"device_count":     {Type: GaugeType, Help: "registered devices"},
			"commands_total":   {Type: CounterType},
			"command_duration": {Type: HistogramType, Buckets: []float64{0.1, 1, 10}},
		},
	})

	require.NoError(err)

	gauge := r.NewGauge("device_count")
	gauge.Set(3)

	counter := r.NewCounter("commands_total")
	counter.Add(2)

	families, err := r.Gatherer().Gather()
	require.NoError(err)

	found := make(map[string]bool, len(families))
	for _, family := range families {
		found[family.GetName()] = true
	}

	assert.True(found["hydrogen_gateway_device_count"])
	assert.True(found["hydrogen_gateway_commands_total"])
}

func TestRegistryRejectsBadOptions(t *testing.T) {
	assert := assert.New(t)

	_, err := NewRegistry(&Options{Metrics: map[string]Metric{"": {Type: GaugeType}}})
	assert.Error(err)

	_, err = NewRegistry(&Options{Metrics: map[string]Metric{"x": {Type: "timer"}}})
	assert.Error(err)
}

func TestTypeMismatchPanics(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	r, err := NewRegistry(nil)
	require.NoError(err)

	r.NewCounter("events_total")
	assert.Panics(func() { r.NewGauge("events_total") })
}

func TestAdHocMetricsAreCached(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	r, err := NewRegistry(nil)
	require.NoError(err)

	r.NewGauge("connection_count").Set(1)
	r.NewGauge("connection_count").Add(1)

	families, err := r.Gatherer().Gather()
	require.NoError(err)
	require.Len(families, 1)
	assert.Equal(float64(2), families[0].GetMetric()[0].GetGauge().GetValue())
}
