package metrics

import (
	"bytes"
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/lcx/emflog/jsonenc"
)

// Reserved document keys. Properties must not collide with the metadata
// block; custom metadata must not collide with the block's fixed members.
const (
	metadataKey          = "_aws"
	timestampKey         = "Timestamp"
	cloudWatchMetricsKey = "CloudWatchMetrics"
	namespaceKey         = "Namespace"
	dimensionsKey        = "Dimensions"
	metricsKey           = "Metrics"
	storageResolutionKey = "StorageResolution"
	metricNameKey        = "Name"
	metricUnitKey        = "Unit"
)

// _initialDocSize pre-sizes the serialization buffer (1KB covers typical
// single-batch documents without growth).
const _initialDocSize = 1 << 10

// RootNode is the full emittable EMF document: the reserved metadata block
// (timestamp, metric directive, custom metadata) plus arbitrary top-level
// properties. One instance backs each MetricsContext; ephemeral derived
// instances are produced per batch during oversized serialization.
type RootNode struct {
	directive   *MetricDirective
	timestampMS int64
	properties  *valueBag
	metadata    *valueBag
}

func newRootNode(namespace string) *RootNode {
	return &RootNode{
		directive:   newMetricDirective(namespace),
		timestampMS: time.Now().UnixMilli(),
		properties:  newValueBag(),
		metadata:    newValueBag(),
	}
}

// SetTimestamp overrides the document timestamp.
func (n *RootNode) SetTimestamp(t time.Time) {
	n.timestampMS = t.UnixMilli()
}

// Timestamp returns the document timestamp as epoch milliseconds.
func (n *RootNode) Timestamp() int64 {
	return n.timestampMS
}

// PutProperty stores an arbitrary top-level field, last-write-wins on a
// repeated name with the key keeping its first position. The reserved
// metadata key is rejected.
func (n *RootNode) PutProperty(name string, value any) error {
	if name == "" {
		return newValidationError("property name", "must not be empty")
	}
	if name == metadataKey {
		return newValidationError("property name", "%q is reserved for the metadata block", metadataKey)
	}
	v, verr := toVariant("property value", value)
	if verr != nil {
		return verr
	}
	n.properties.put(name, v)
	return nil
}

// GetProperty looks up a property and returns it in Go-native form. The
// boolean reports presence; an unknown key is not an error.
func (n *RootNode) GetProperty(name string) (any, bool) {
	v, ok := n.properties.get(name)
	if !ok {
		return nil, false
	}
	return v.AsInterface(), true
}

// GetProperties returns a snapshot of all properties in Go-native form.
func (n *RootNode) GetProperties() map[string]any {
	out := make(map[string]any, n.properties.len())
	for _, key := range n.properties.keys {
		out[key] = n.properties.values[key].AsInterface()
	}
	return out
}

// PutMetadata stores a custom entry inside the reserved metadata block.
// Entries are write-once: an existing key, or one of the block's fixed
// members, fails with a DuplicateKeyError.
func (n *RootNode) PutMetadata(key string, value any) error {
	if key == "" {
		return newValidationError("metadata key", "must not be empty")
	}
	if key == timestampKey || key == cloudWatchMetricsKey {
		return &DuplicateKeyError{Key: key}
	}
	if n.metadata.has(key) {
		return &DuplicateKeyError{Key: key}
	}
	v, verr := toVariant("metadata value", value)
	if verr != nil {
		return verr
	}
	n.metadata.put(key, v)
	return nil
}

// DeepCloneWithNewMetrics produces a structurally independent copy of the
// node with the metric table replaced by deep copies of the supplied
// definitions, in the supplied order. Mutating either node afterwards never
// affects the other.
func (n *RootNode) DeepCloneWithNewMetrics(defs []*MetricDefinition) *RootNode {
	return &RootNode{
		directive:   n.directive.clone(defs),
		timestampMS: n.timestampMS,
		properties:  n.properties.clone(),
		metadata:    n.metadata.clone(),
	}
}

// Serialize renders the node as one newline-free EMF JSON document: the
// reserved metadata block, then the flattened dimension values, properties,
// and metric values as sibling top-level fields. It is a pure function of
// node state.
func (n *RootNode) Serialize() (string, error) {
	buf := bytes.NewBuffer(make([]byte, 0, _initialDocSize))

	jsonenc.AppendBeginMarker(buf)
	if err := n.appendMetadataBlock(buf); err != nil {
		return "", err
	}
	if err := n.appendBody(buf); err != nil {
		return "", err
	}
	jsonenc.AppendEndMarker(buf)

	return buf.String(), nil
}

// appendMetadataBlock writes the "_aws" object: timestamp, the CloudWatch
// metric directive, and any custom metadata entries.
func (n *RootNode) appendMetadataBlock(buf *bytes.Buffer) error {
	jsonenc.AppendKey(buf, metadataKey)
	jsonenc.AppendBeginMarker(buf)

	jsonenc.AppendKey(buf, timestampKey)
	jsonenc.AppendInt64(buf, n.timestampMS)

	jsonenc.AppendKey(buf, cloudWatchMetricsKey)
	jsonenc.AppendArrayStart(buf)
	jsonenc.AppendBeginMarker(buf)

	jsonenc.AppendKey(buf, namespaceKey)
	jsonenc.AppendString(buf, n.directive.namespace)

	jsonenc.AppendKey(buf, dimensionsKey)
	jsonenc.AppendArrayStart(buf)
	for _, set := range n.directive.GetAllDimensionSets() {
		jsonenc.AppendArrayDelim(buf)
		jsonenc.AppendStrings(buf, set.DimensionKeys())
	}
	jsonenc.AppendArrayEnd(buf)

	jsonenc.AppendKey(buf, metricsKey)
	jsonenc.AppendArrayStart(buf)
	for _, def := range n.directive.defs {
		jsonenc.AppendArrayDelim(buf)
		jsonenc.AppendBeginMarker(buf)
		jsonenc.AppendKey(buf, metricNameKey)
		jsonenc.AppendString(buf, def.Name)
		jsonenc.AppendKey(buf, metricUnitKey)
		jsonenc.AppendString(buf, string(def.Unit))
		if def.Resolution == StorageResolutionHigh {
			jsonenc.AppendKey(buf, storageResolutionKey)
			jsonenc.AppendInt(buf, int(def.Resolution))
		}
		jsonenc.AppendEndMarker(buf)
	}
	jsonenc.AppendArrayEnd(buf)

	jsonenc.AppendEndMarker(buf)
	jsonenc.AppendArrayEnd(buf)

	for _, key := range n.metadata.keys {
		jsonenc.AppendKey(buf, key)
		if err := appendVariant(buf, n.metadata.values[key]); err != nil {
			return err
		}
	}

	jsonenc.AppendEndMarker(buf)
	return nil
}

// appendBody flattens properties, dimension values, and metric values into
// sibling top-level fields. Categories are laid down in that order with
// last-write-wins per key and stable first position, so the document never
// carries a duplicate key.
func (n *RootNode) appendBody(buf *bytes.Buffer) error {
	fields := newFieldSet()

	for _, key := range n.properties.keys {
		frag, err := n.properties.values[key].MarshalJSON()
		if err != nil {
			return fmt.Errorf("encode property %q: %w", key, err)
		}
		fields.set(key, frag)
	}

	var scratch bytes.Buffer
	for _, set := range n.directive.GetAllDimensionSets() {
		for _, name := range set.DimensionKeys() {
			value, _ := set.Value(name)
			scratch.Reset()
			jsonenc.AppendString(&scratch, value)
			fields.set(name, bytes.Clone(scratch.Bytes()))
		}
	}

	for _, def := range n.directive.defs {
		scratch.Reset()
		if len(def.Values) == 1 {
			jsonenc.AppendFloat64(&scratch, def.Values[0])
		} else {
			jsonenc.AppendFloat64s(&scratch, def.Values)
		}
		fields.set(def.Name, bytes.Clone(scratch.Bytes()))
	}

	for _, key := range fields.keys {
		jsonenc.AppendKey(buf, key)
		jsonenc.AppendRawJSON(buf, fields.frags[key])
	}
	return nil
}

func appendVariant(buf *bytes.Buffer, v *structpb.Value) error {
	raw, err := v.MarshalJSON()
	if err != nil {
		return fmt.Errorf("encode metadata value: %w", err)
	}
	jsonenc.AppendRawJSON(buf, raw)
	return nil
}

// fieldSet stages top-level fields before emission: first write fixes a
// key's position, later writes update its fragment in place.
type fieldSet struct {
	keys  []string
	frags map[string][]byte
}

func newFieldSet() *fieldSet {
	return &fieldSet{frags: make(map[string][]byte)}
}

func (f *fieldSet) set(key string, frag []byte) {
	if _, ok := f.frags[key]; !ok {
		f.keys = append(f.keys, key)
	}
	f.frags[key] = frag
}
