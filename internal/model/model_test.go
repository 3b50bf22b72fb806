package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHasDistinguishesEmptyFromFailed(t *testing.T) {
	var raw RawMetrics
	assert.False(t, raw.Has(SourceProcess))
	assert.False(t, raw.Has(SourceCPU))

	raw.Mark(SourceProcess)
	assert.True(t, raw.Has(SourceProcess), "empty but successful")
	assert.Empty(t, raw.Processes)

	raw.CPU = &CPU{}
	assert.True(t, raw.Has(SourceCPU))
	assert.False(t, raw.Has(SourceBattery))
}

func TestPercentHelpers(t *testing.T) {
	m := Memory{UsedBytes: 62, TotalBytes: 100, SwapUsed: 1, SwapTotal: 4}
	assert.InDelta(t, 62.0, m.UsedPercent(), 1e-9)
	assert.InDelta(t, 25.0, m.SwapPercent(), 1e-9)
	assert.Zero(t, Memory{}.SwapPercent())
	assert.InDelta(t, 50.0, Disk{UsedBytes: 5, TotalBytes: 10}.UsedPercent(), 1e-9)
}

func TestTempUnits(t *testing.T) {
	tests := []struct {
		in     string
		unit   TempUnit
		value  float64
		symbol string
	}{
		{"", Celsius, 40, "°C"},
		{"F", Fahrenheit, 104, "°F"},
		{"kelvin", Kelvin, 313.15, "K"},
	}
	for _, tt := range tests {
		t.Run(string(tt.unit), func(t *testing.T) {
			u, err := ParseTempUnit(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.unit, u)
			assert.InDelta(t, tt.value, u.Convert(40), 1e-9)
			assert.Equal(t, tt.symbol, u.Symbol())
		})
	}

	_, err := ParseTempUnit("rankine")
	assert.Error(t, err)
}

func TestUniqueSensors(t *testing.T) {
	assert.Nil(t, UniqueSensors(nil))

	in := []Temp{
		{Sensor: "acpitz", Celsius: 40},
		{Sensor: "nvme_composite", Celsius: 35},
		{Sensor: "acpitz", Celsius: 90},
		{Sensor: "acpitz_2", Celsius: 50},
		{Sensor: "nvme_composite", Celsius: 37},
		{Sensor: "acpitz", Celsius: 60},
	}
	got := UniqueSensors(in)

	names := make([]string, len(got))
	for i, tt := range got {
		names[i] = tt.Sensor
	}
	assert.Equal(t, []string{"acpitz", "nvme_composite", "acpitz_3", "acpitz_2", "nvme_composite_2", "acpitz_4"}, names)
	assert.Equal(t, 90.0, got[2].Celsius)
	assert.Equal(t, "acpitz", in[2].Sensor, "input untouched")
}
