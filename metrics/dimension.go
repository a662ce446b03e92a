package metrics

// DimensionSet is an ordered, duplicate-free collection of dimension names,
// each bound to a non-empty string value. One set forms one grouping key for
// metric extraction. Sets are bounded by MaxDimensionsPerSet; a failed
// mutation leaves the set untouched.
type DimensionSet struct {
	keys   []string
	values map[string]string
}

// NewDimensionSet creates an empty dimension set.
func NewDimensionSet() *DimensionSet {
	return &DimensionSet{values: make(map[string]string)}
}

// NewDimensionSetFrom creates a dimension set seeded with one entry. The
// entry is validated exactly like AddDimension.
func NewDimensionSetFrom(name, value string) (*DimensionSet, error) {
	s := NewDimensionSet()
	if err := s.AddDimension(name, value); err != nil {
		return nil, err
	}
	return s, nil
}

// AddDimension appends one name/value entry. It fails with a ValidationError
// when the name or value is empty, when the set already holds
// MaxDimensionsPerSet entries, or when the name is already present.
func (s *DimensionSet) AddDimension(name, value string) error {
	if name == "" {
		return newValidationError("dimension name", "must not be empty")
	}
	if value == "" {
		return newValidationError("dimension value", "must not be empty for dimension %q", name)
	}
	if len(s.keys) >= MaxDimensionsPerSet {
		return newValidationError("dimension set", "cannot exceed %d dimensions", MaxDimensionsPerSet)
	}
	if _, exists := s.values[name]; exists {
		return newValidationError("dimension name", "%q already exists in this set", name)
	}

	s.keys = append(s.keys, name)
	s.values[name] = value
	return nil
}

// DimensionKeys returns the dimension names in insertion order. The returned
// slice is the set's backing storage; callers must not modify it.
func (s *DimensionSet) DimensionKeys() []string {
	return s.keys
}

// Value looks up the value bound to a dimension name.
func (s *DimensionSet) Value(name string) (string, bool) {
	v, ok := s.values[name]
	return v, ok
}

// Len returns the number of dimensions in the set.
func (s *DimensionSet) Len() int {
	return len(s.keys)
}

// Clone returns a structurally independent copy of the set.
func (s *DimensionSet) Clone() *DimensionSet {
	c := &DimensionSet{
		keys:   make([]string, len(s.keys)),
		values: make(map[string]string, len(s.values)),
	}
	copy(c.keys, s.keys)
	for k, v := range s.values {
		c.values[k] = v
	}
	return c
}

// mergeInto overlays the receiver's entries onto dst: names absent from dst
// are appended in the receiver's order, names already present overwrite the
// value in place. Used to fold custom sets over the default set, so custom
// values win on a shared name while the default's key order stays first.
func (s *DimensionSet) mergeInto(dst *DimensionSet) {
	for _, name := range s.keys {
		if _, exists := dst.values[name]; !exists {
			dst.keys = append(dst.keys, name)
		}
		dst.values[name] = s.values[name]
	}
}
