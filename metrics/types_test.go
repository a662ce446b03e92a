package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBackendLimits(t *testing.T) {
	// The backend rejects payloads that cross these limits, so the constants
	// must track the published values exactly.
	assert.Equal(t, 100, MaxMetricsPerEvent)
	assert.Equal(t, 9, MaxDimensionSets)
	assert.Equal(t, 30, MaxDimensionsPerSet)
}

func TestStorageResolutionValues(t *testing.T) {
	assert.Equal(t, StorageResolution(1), StorageResolutionHigh)
	assert.Equal(t, StorageResolution(60), StorageResolutionStandard)
}

func TestStorageResolutionString(t *testing.T) {
	assert.Equal(t, "High", StorageResolutionHigh.String())
	assert.Equal(t, "Standard", StorageResolutionStandard.String())
	assert.Equal(t, "Unknown", StorageResolution(17).String())
}

func TestUnitWireNames(t *testing.T) {
	// Units pass through to the metadata block verbatim; spot-check the
	// spellings the backend expects, including the slash-separated rates.
	assert.Equal(t, Unit("None"), UnitNone)
	assert.Equal(t, Unit("Count"), UnitCount)
	assert.Equal(t, Unit("Percent"), UnitPercent)
	assert.Equal(t, Unit("Milliseconds"), UnitMilliseconds)
	assert.Equal(t, Unit("Bytes/Second"), UnitBytesPerSecond)
	assert.Equal(t, Unit("Count/Second"), UnitCountPerSecond)
	assert.Equal(t, Unit("Terabits/Second"), UnitTerabitsPerSecond)
}

func TestMetricDefinitionClone(t *testing.T) {
	def := &MetricDefinition{
		Name:       "Latency",
		Unit:       UnitMilliseconds,
		Resolution: StorageResolutionHigh,
		Values:     []float64{1, 2, 3},
	}

	cp := def.clone()
	assert.Equal(t, def, cp)

	cp.Values[0] = 99
	cp.Values = append(cp.Values, 4)
	assert.Equal(t, []float64{1, 2, 3}, def.Values)
}
