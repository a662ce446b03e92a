package metrics

import (
	"math"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Properties and custom metadata accept arbitrary caller values at the API
// boundary but are stored as the closed variant structpb.Value (null, bool,
// number, string, list, map). Conversion rejects anything outside the variant
// and any non-finite number, so a successfully mutated document always
// serializes.

// toVariant converts a caller-supplied value into the stored variant form.
// Supported inputs are the structpb.NewValue set: nil, bool, integer and
// float types, string, []byte, []any, and map[string]any, nested freely.
func toVariant(field string, value any) (*structpb.Value, *ValidationError) {
	pv, err := structpb.NewValue(value)
	if err != nil {
		return nil, newValidationError(field, "unsupported value type: %v", err)
	}
	if !variantFinite(pv) {
		return nil, newValidationError(field, "non-finite numbers cannot be serialized")
	}
	return pv, nil
}

// variantFinite walks a variant and reports whether every number in it is
// finite. NaN and infinities have no JSON representation.
func variantFinite(v *structpb.Value) bool {
	switch k := v.GetKind().(type) {
	case *structpb.Value_NumberValue:
		return !math.IsNaN(k.NumberValue) && !math.IsInf(k.NumberValue, 0)
	case *structpb.Value_ListValue:
		for _, item := range k.ListValue.GetValues() {
			if !variantFinite(item) {
				return false
			}
		}
	case *structpb.Value_StructValue:
		for _, item := range k.StructValue.GetFields() {
			if !variantFinite(item) {
				return false
			}
		}
	}
	return true
}

// valueBag is an ordered string->variant store with last-write-wins
// semantics: rewriting an existing key updates the value in place and keeps
// the key's original position.
type valueBag struct {
	keys   []string
	values map[string]*structpb.Value
}

func newValueBag() *valueBag {
	return &valueBag{values: make(map[string]*structpb.Value)}
}

func (b *valueBag) put(key string, v *structpb.Value) {
	if _, exists := b.values[key]; !exists {
		b.keys = append(b.keys, key)
	}
	b.values[key] = v
}

func (b *valueBag) get(key string) (*structpb.Value, bool) {
	v, ok := b.values[key]
	return v, ok
}

func (b *valueBag) has(key string) bool {
	_, ok := b.values[key]
	return ok
}

func (b *valueBag) len() int {
	return len(b.keys)
}

// clone produces a structurally independent copy: fresh key slice, fresh map,
// and value-level copies of every stored variant.
func (b *valueBag) clone() *valueBag {
	c := &valueBag{
		keys:   make([]string, len(b.keys)),
		values: make(map[string]*structpb.Value, len(b.values)),
	}
	copy(c.keys, b.keys)
	for k, v := range b.values {
		c.values[k] = proto.Clone(v).(*structpb.Value)
	}
	return c
}
