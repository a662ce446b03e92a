// Package metrics implements the CloudWatch Embedded Metric Format (EMF)
// document model: the mutable context that accumulates metrics, dimensions,
// properties, and metadata over the lifetime of a unit of work, the validation
// rules that keep the document internally consistent, and the size-bounded
// batching that splits an oversized document into independently emittable
// payloads. The package performs no I/O; sinks consume what Serialize returns.
package metrics

// Client-visible limits of the EMF backend. Emitted payloads must respect
// them; the builders reject mutations that would cross them.
const (
	// MaxMetricsPerEvent is the maximum number of metric definitions one
	// emitted EMF document may carry. Serialize splits larger contexts into
	// consecutive chunks of at most this size.
	MaxMetricsPerEvent = 100

	// MaxDimensionSets is the maximum number of custom dimension sets a
	// metric directive may declare.
	MaxDimensionSets = 9

	// MaxDimensionsPerSet is the maximum number of name/value entries in a
	// single dimension set.
	MaxDimensionsPerSet = 30
)

// Unit identifies the measurement unit of a metric. Values pass through
// untouched to the CloudWatchMetrics metadata block.
type Unit string

const (
	UnitNone               Unit = "None"
	UnitSeconds            Unit = "Seconds"
	UnitMicroseconds       Unit = "Microseconds"
	UnitMilliseconds       Unit = "Milliseconds"
	UnitBytes              Unit = "Bytes"
	UnitKilobytes          Unit = "Kilobytes"
	UnitMegabytes          Unit = "Megabytes"
	UnitGigabytes          Unit = "Gigabytes"
	UnitTerabytes          Unit = "Terabytes"
	UnitBits               Unit = "Bits"
	UnitKilobits           Unit = "Kilobits"
	UnitMegabits           Unit = "Megabits"
	UnitGigabits           Unit = "Gigabits"
	UnitTerabits           Unit = "Terabits"
	UnitPercent            Unit = "Percent"
	UnitCount              Unit = "Count"
	UnitBytesPerSecond     Unit = "Bytes/Second"
	UnitKilobytesPerSecond Unit = "Kilobytes/Second"
	UnitMegabytesPerSecond Unit = "Megabytes/Second"
	UnitGigabytesPerSecond Unit = "Gigabytes/Second"
	UnitTerabytesPerSecond Unit = "Terabytes/Second"
	UnitBitsPerSecond      Unit = "Bits/Second"
	UnitKilobitsPerSecond  Unit = "Kilobits/Second"
	UnitMegabitsPerSecond  Unit = "Megabits/Second"
	UnitGigabitsPerSecond  Unit = "Gigabits/Second"
	UnitTerabitsPerSecond  Unit = "Terabits/Second"
	UnitCountPerSecond     Unit = "Count/Second"
)

// StorageResolution selects the backend data-point granularity for a metric.
// The numeric values are the backend's own encoding: 1 for one-second
// resolution, 60 for one-minute resolution.
type StorageResolution int

const (
	// StorageResolutionHigh stores data points at one-second granularity.
	StorageResolutionHigh StorageResolution = 1

	// StorageResolutionStandard stores data points at one-minute granularity.
	// The StorageResolution field is omitted from serialized metric
	// definitions at this resolution.
	StorageResolutionStandard StorageResolution = 60
)

// String returns the symbolic name of the resolution.
func (r StorageResolution) String() string {
	switch r {
	case StorageResolutionHigh:
		return "High"
	case StorageResolutionStandard:
		return "Standard"
	default:
		return "Unknown"
	}
}

// MetricDefinition is one named metric inside a directive: the unit and
// resolution fixed at first registration, and every recorded sample in call
// order. A single sample serializes as a scalar, several as an array.
type MetricDefinition struct {
	Name       string
	Unit       Unit
	Resolution StorageResolution
	Values     []float64
}

// clone returns a structurally independent copy of the definition.
func (d *MetricDefinition) clone() *MetricDefinition {
	values := make([]float64, len(d.Values))
	copy(values, d.Values)
	return &MetricDefinition{
		Name:       d.Name,
		Unit:       d.Unit,
		Resolution: d.Resolution,
		Values:     values,
	}
}
