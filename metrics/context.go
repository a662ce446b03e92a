package metrics

import (
	"math"
	"sync"
	"time"
)

// DefaultNamespace is used when a context is created without an explicit
// metric namespace.
const DefaultNamespace = "aws-embedded-metrics"

// MetricsContext is the façade over one EMF document. It validates every
// metric insertion against the resolution-consistency rule, delegates
// dimension and metric mutation to the directive, delegates property and
// metadata storage to the root node, and implements size-bounded batching.
//
// All methods are safe for concurrent use. Resolution registrations live in
// a sync.Map so conflicting first-writes of a key are detected without
// holding the context lock; the lock then covers the document mutation
// itself. Flush pipelines should still hand off through
// CreateCopyWithContext and serialize the retired context, so producers
// never contend with serialization.
type MetricsContext struct {
	mu        sync.Mutex
	root      *RootNode
	directive *MetricDirective

	// resolutions records the storage resolution each metric name was first
	// registered with. Validation only; never serialized.
	resolutions sync.Map
}

// NewMetricsContext creates a context with the default namespace.
func NewMetricsContext() *MetricsContext {
	return NewMetricsContextFor(DefaultNamespace)
}

// NewMetricsContextFor creates a context with the given namespace.
func NewMetricsContextFor(namespace string) *MetricsContext {
	root := newRootNode(namespace)
	return &MetricsContext{
		root:      root,
		directive: root.directive,
	}
}

// Namespace returns the metric namespace.
func (c *MetricsContext) Namespace() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.directive.Namespace()
}

// SetNamespace replaces the metric namespace.
func (c *MetricsContext) SetNamespace(namespace string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.directive.SetNamespace(namespace)
}

// SetTimestamp overrides the document timestamp.
func (c *MetricsContext) SetTimestamp(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.root.SetTimestamp(t)
}

// PutMetric records one sample for the named metric at standard resolution.
func (c *MetricsContext) PutMetric(key string, value float64, unit Unit) error {
	return c.PutMetricWithResolution(key, value, unit, StorageResolutionStandard)
}

// PutMetricWithResolution records one sample for the named metric. The key
// must be non-empty and the value finite (ValidationError otherwise). The
// first registration of a key fixes its resolution for the context's
// lifetime: a matching re-registration is a no-op, a mismatch fails with an
// InvalidMetricError and mutates nothing.
func (c *MetricsContext) PutMetricWithResolution(key string, value float64, unit Unit, resolution StorageResolution) error {
	if key == "" {
		return newValidationError("metric name", "must not be empty")
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return newValidationError("metric value", "must be a finite number, got %v for %q", value, key)
	}
	if resolution != StorageResolutionHigh && resolution != StorageResolutionStandard {
		return newValidationError("storage resolution", "must be Standard or High, got %d", resolution)
	}

	if registered, loaded := c.resolutions.LoadOrStore(key, resolution); loaded {
		if existing := registered.(StorageResolution); existing != resolution {
			return &InvalidMetricError{Metric: key, Registered: existing, Requested: resolution}
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.directive.PutMetric(key, value, unit, resolution)
	return nil
}

// PutDimension adds a single-entry custom dimension set.
func (c *MetricsContext) PutDimension(name, value string) error {
	set, err := NewDimensionSetFrom(name, value)
	if err != nil {
		return err
	}
	return c.PutDimensionSet(set)
}

// PutDimensionSet appends a custom dimension set.
func (c *MetricsContext) PutDimensionSet(set *DimensionSet) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.directive.PutDimensionSet(set)
}

// GetAllDimensionSets returns the effective dimension sets after default
// merging.
func (c *MetricsContext) GetAllDimensionSets() []*DimensionSet {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.directive.GetAllDimensionSets()
}

// SetDimensions replaces the custom dimension sets wholesale; useDefault
// false suppresses the default set in later merges without clearing it.
func (c *MetricsContext) SetDimensions(useDefault bool, sets ...*DimensionSet) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.directive.SetDimensions(useDefault, sets)
}

// ResetDimensions clears the custom dimension sets; useDefault false also
// clears the default set.
func (c *MetricsContext) ResetDimensions(useDefault bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.directive.ResetDimensions(useDefault)
}

// SetDefaultDimensions replaces the default dimension set.
func (c *MetricsContext) SetDefaultDimensions(set *DimensionSet) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.directive.SetDefaultDimensions(set)
}

// PutProperty stores an arbitrary top-level field on the document.
func (c *MetricsContext) PutProperty(name string, value any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.root.PutProperty(name, value)
}

// GetProperty looks up a property; the boolean reports presence.
func (c *MetricsContext) GetProperty(name string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.root.GetProperty(name)
}

// GetProperties returns a snapshot of all properties.
func (c *MetricsContext) GetProperties() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.root.GetProperties()
}

// PutMetadata stores a write-once custom entry in the metadata block.
func (c *MetricsContext) PutMetadata(key string, value any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.root.PutMetadata(key, value)
}

// CreateCopyWithContext builds a fresh context for continuing a logical unit
// of work across a flush boundary: same namespace, a snapshot copy of the
// properties, the default dimension set always carried over, custom sets
// carried only when preserveDimensions is true. The copy starts with an
// empty metric table, an empty resolution map, and a fresh timestamp.
func (c *MetricsContext) CreateCopyWithContext(preserveDimensions bool) *MetricsContext {
	c.mu.Lock()
	defer c.mu.Unlock()

	cp := NewMetricsContextFor(c.directive.namespace)
	cp.directive.SetDefaultDimensions(c.directive.defaultDimensions.Clone())
	if preserveDimensions {
		sets := make([]*DimensionSet, 0, len(c.directive.customDimensions))
		for _, set := range c.directive.customDimensions {
			sets = append(sets, set.Clone())
		}
		cp.directive.customDimensions = sets
	}
	cp.root.properties = c.root.properties.clone()
	return cp
}

// Serialize renders the context as one or more emittable EMF documents. Up
// to MaxMetricsPerEvent metrics serialize as a single document; beyond that
// the ordered metric table is partitioned into consecutive chunks of at most
// MaxMetricsPerEvent, one structurally independent document per chunk, in
// chunk order. Every chunk carries the full metadata, dimensions, and
// properties.
func (c *MetricsContext) Serialize() ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	defs := c.directive.defs
	if len(defs) <= MaxMetricsPerEvent {
		doc, err := c.root.Serialize()
		if err != nil {
			return nil, err
		}
		return []string{doc}, nil
	}

	batches := make([]string, 0, (len(defs)+MaxMetricsPerEvent-1)/MaxMetricsPerEvent)
	for start := 0; start < len(defs); start += MaxMetricsPerEvent {
		end := min(start+MaxMetricsPerEvent, len(defs))
		doc, err := c.root.DeepCloneWithNewMetrics(defs[start:end]).Serialize()
		if err != nil {
			return nil, err
		}
		batches = append(batches, doc)
	}
	return batches, nil
}
