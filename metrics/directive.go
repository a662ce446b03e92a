package metrics

// MetricDirective owns the metric namespace, the default dimension set, the
// ordered custom dimension sets, and the accumulated metric table. It
// computes the effective dimension sets used at serialization time.
//
// The directive does not validate resolution consistency; that cross-check
// lives one layer up in MetricsContext, which owns the registration map.
type MetricDirective struct {
	namespace         string
	defaultDimensions *DimensionSet
	customDimensions  []*DimensionSet
	defs              []*MetricDefinition
	index             map[string]*MetricDefinition

	// useDefault folds the default set into merge computations. SetDimensions
	// can opt out per call site; the default set itself is never cleared by
	// the opt-out, only by ResetDimensions(false).
	useDefault bool
}

func newMetricDirective(namespace string) *MetricDirective {
	return &MetricDirective{
		namespace:         namespace,
		defaultDimensions: NewDimensionSet(),
		index:             make(map[string]*MetricDefinition),
		useDefault:        true,
	}
}

// Namespace returns the metric namespace.
func (d *MetricDirective) Namespace() string {
	return d.namespace
}

// SetNamespace replaces the metric namespace.
func (d *MetricDirective) SetNamespace(namespace string) error {
	if namespace == "" {
		return newValidationError("namespace", "must not be empty")
	}
	d.namespace = namespace
	return nil
}

// PutMetric appends a value to the named metric, creating the definition
// with the supplied unit and resolution when absent. For an existing
// definition the unit and resolution of the first registration stick; later
// arguments are accepted and ignored.
func (d *MetricDirective) PutMetric(key string, value float64, unit Unit, resolution StorageResolution) {
	if def, ok := d.index[key]; ok {
		def.Values = append(def.Values, value)
		return
	}

	if unit == "" {
		unit = UnitNone
	}
	if resolution == 0 {
		resolution = StorageResolutionStandard
	}
	def := &MetricDefinition{
		Name:       key,
		Unit:       unit,
		Resolution: resolution,
		Values:     []float64{value},
	}
	d.defs = append(d.defs, def)
	d.index[key] = def
}

// PutDimensionSet appends a custom dimension set. It fails with a
// ValidationError when the directive already carries MaxDimensionSets custom
// sets, leaving the existing list unchanged.
func (d *MetricDirective) PutDimensionSet(set *DimensionSet) error {
	if set == nil {
		return newValidationError("dimension set", "must not be nil")
	}
	if len(d.customDimensions) >= MaxDimensionSets {
		return newValidationError("dimension sets", "cannot exceed %d dimension sets", MaxDimensionSets)
	}
	d.customDimensions = append(d.customDimensions, set)
	return nil
}

// SetDimensions replaces the custom dimension sets wholesale. useDefault
// controls whether the default set participates in subsequent merge
// computations; false suppresses it without clearing it, so a later
// SetDimensions(true, …) or ResetDimensions(true) restores it.
func (d *MetricDirective) SetDimensions(useDefault bool, sets []*DimensionSet) error {
	if len(sets) > MaxDimensionSets {
		return newValidationError("dimension sets", "cannot exceed %d dimension sets", MaxDimensionSets)
	}
	for _, set := range sets {
		if set == nil {
			return newValidationError("dimension set", "must not be nil")
		}
	}
	d.useDefault = useDefault
	d.customDimensions = sets
	return nil
}

// ResetDimensions clears the custom dimension sets and restores default-set
// participation. With useDefault false the default set itself is cleared too.
func (d *MetricDirective) ResetDimensions(useDefault bool) {
	d.customDimensions = nil
	d.useDefault = true
	if !useDefault {
		d.defaultDimensions = NewDimensionSet()
	}
}

// SetDefaultDimensions replaces the default dimension set. Environment
// stamping uses this to install LogGroup/ServiceName/ServiceType dimensions.
func (d *MetricDirective) SetDefaultDimensions(set *DimensionSet) {
	if set == nil {
		set = NewDimensionSet()
	}
	d.defaultDimensions = set
}

// DefaultDimensions returns the default dimension set.
func (d *MetricDirective) DefaultDimensions() *DimensionSet {
	return d.defaultDimensions
}

// HasDefaultDimensions reports whether the default set holds any dimensions.
func (d *MetricDirective) HasDefaultDimensions() bool {
	return d.defaultDimensions.Len() > 0
}

// GetAllDimensionSets computes the effective dimension sets. With no custom
// sets the result is the default set alone, or empty when the default is
// empty or suppressed. With custom sets, each one is prefixed by the
// default's dimensions; a custom value overrides the default's on a shared
// name while the default's key order stays first. The returned sets are
// merged copies, never live references into the directive.
func (d *MetricDirective) GetAllDimensionSets() []*DimensionSet {
	defaults := d.defaultDimensions
	if !d.useDefault {
		defaults = NewDimensionSet()
	}

	if len(d.customDimensions) == 0 {
		if defaults.Len() == 0 {
			return nil
		}
		return []*DimensionSet{defaults.Clone()}
	}

	merged := make([]*DimensionSet, 0, len(d.customDimensions))
	for _, custom := range d.customDimensions {
		set := defaults.Clone()
		custom.mergeInto(set)
		merged = append(merged, set)
	}
	return merged
}

// clone returns a directive with structural copies of the namespace,
// dimension state, and inclusion flag, and with the metric table replaced by
// the supplied definitions.
func (d *MetricDirective) clone(defs []*MetricDefinition) *MetricDirective {
	c := &MetricDirective{
		namespace:         d.namespace,
		defaultDimensions: d.defaultDimensions.Clone(),
		customDimensions:  make([]*DimensionSet, 0, len(d.customDimensions)),
		defs:              make([]*MetricDefinition, 0, len(defs)),
		index:             make(map[string]*MetricDefinition, len(defs)),
		useDefault:        d.useDefault,
	}
	for _, set := range d.customDimensions {
		c.customDimensions = append(c.customDimensions, set.Clone())
	}
	for _, def := range defs {
		cloned := def.clone()
		c.defs = append(c.defs, cloned)
		c.index[cloned.Name] = cloned
	}
	return c
}
