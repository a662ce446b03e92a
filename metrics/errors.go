package metrics

import "fmt"

// ValidationError reports malformed or out-of-bound input: an empty key or
// name, a non-finite numeric value, or a mutation that would cross a
// dimension or metric-count cap. The failed call leaves the document
// untouched.
type ValidationError struct {
	// Field names the offending input.
	Field string
	// Reason describes why the input was rejected.
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func newValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// InvalidMetricError reports a metric name reused with a storage resolution
// that conflicts with its first registration in the same context.
type InvalidMetricError struct {
	Metric     string
	Registered StorageResolution
	Requested  StorageResolution
}

func (e *InvalidMetricError) Error() string {
	return fmt.Sprintf("metric %q already registered with %s resolution, cannot record with %s resolution",
		e.Metric, e.Registered, e.Requested)
}

// DuplicateKeyError reports a metadata key collision. Metadata entries are
// write-once; there is no overwrite.
type DuplicateKeyError struct {
	Key string
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("metadata key %q already exists", e.Key)
}
