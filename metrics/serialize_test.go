package metrics

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func serializeOne(t *testing.T, ctx *MetricsContext) string {
	t.Helper()
	docs, err := ctx.Serialize()
	require.NoError(t, err)
	require.Len(t, docs, 1)
	require.True(t, json.Valid([]byte(docs[0])), "document must be valid JSON: %s", docs[0])
	require.NotContains(t, docs[0], "\n")
	return docs[0]
}

func TestSerializeEmptyContext(t *testing.T) {
	ctx := NewMetricsContext()
	ctx.SetTimestamp(time.UnixMilli(1000))

	// A context with no metrics still renders one well-formed document.
	doc := serializeOne(t, ctx)
	assert.Equal(t,
		`{"_aws":{"Timestamp":1000,"CloudWatchMetrics":[{"Namespace":"aws-embedded-metrics","Dimensions":[],"Metrics":[]}]}}`,
		doc)
}

func TestSerializeDocumentShape(t *testing.T) {
	ctx := NewMetricsContextFor("checkout")
	ctx.SetTimestamp(time.UnixMilli(1609459200000))
	ctx.SetDefaultDimensions(mustSet(t, "LogGroup", "app-log"))
	require.NoError(t, ctx.PutDimension("Service", "checkout"))
	require.NoError(t, ctx.PutProperty("RequestID", "abc-123"))
	require.NoError(t, ctx.PutMetadata("Deployment", "blue"))
	require.NoError(t, ctx.PutMetricWithResolution("Latency", 80, UnitMilliseconds, StorageResolutionHigh))
	require.NoError(t, ctx.PutMetric("Errors", 1, UnitCount))

	doc := serializeOne(t, ctx)

	assert.Equal(t, int64(1609459200000), gjson.Get(doc, "_aws.Timestamp").Int())
	assert.Equal(t, "checkout", gjson.Get(doc, "_aws.CloudWatchMetrics.0.Namespace").String())
	assert.Equal(t, `[["LogGroup","Service"]]`, gjson.Get(doc, "_aws.CloudWatchMetrics.0.Dimensions").Raw)

	metrics := gjson.Get(doc, "_aws.CloudWatchMetrics.0.Metrics")
	require.Equal(t, int64(2), metrics.Get("#").Int())
	assert.Equal(t, "Latency", metrics.Get("0.Name").String())
	assert.Equal(t, "Milliseconds", metrics.Get("0.Unit").String())
	assert.Equal(t, int64(1), metrics.Get("0.StorageResolution").Int())
	assert.Equal(t, "Errors", metrics.Get("1.Name").String())
	assert.Equal(t, "Count", metrics.Get("1.Unit").String())

	// Standard resolution is implied by omission.
	assert.False(t, metrics.Get("1.StorageResolution").Exists())

	// Custom metadata rides inside the reserved block.
	assert.Equal(t, "blue", gjson.Get(doc, "_aws.Deployment").String())

	// The body flattens properties, dimension values, and metric values as
	// sibling top-level fields.
	assert.Equal(t, "abc-123", gjson.Get(doc, "RequestID").String())
	assert.Equal(t, "app-log", gjson.Get(doc, "LogGroup").String())
	assert.Equal(t, "checkout", gjson.Get(doc, "Service").String())
	assert.Equal(t, float64(80), gjson.Get(doc, "Latency").Float())
	assert.Equal(t, float64(1), gjson.Get(doc, "Errors").Float())
}

func TestSerializeScalarAndArraySamples(t *testing.T) {
	ctx := NewMetricsContext()
	require.NoError(t, ctx.PutMetric("Single", 42.5, UnitCount))
	require.NoError(t, ctx.PutMetric("Multi", 1, UnitCount))
	require.NoError(t, ctx.PutMetric("Multi", 2, UnitCount))
	require.NoError(t, ctx.PutMetric("Multi", 3, UnitCount))

	doc := serializeOne(t, ctx)

	single := gjson.Get(doc, "Single")
	assert.False(t, single.IsArray())
	assert.Equal(t, 42.5, single.Float())

	multi := gjson.Get(doc, "Multi")
	assert.True(t, multi.IsArray())
	assert.Equal(t, `[1,2,3]`, multi.Raw)
}

func TestSerializeTopLevelOrder(t *testing.T) {
	ctx := NewMetricsContext()
	require.NoError(t, ctx.PutProperty("First", 1))
	require.NoError(t, ctx.PutProperty("Second", 2))
	require.NoError(t, ctx.PutDimension("Zone", "a"))
	require.NoError(t, ctx.PutMetric("Latency", 80, UnitMilliseconds))

	doc := serializeOne(t, ctx)

	var keys []string
	gjson.Parse(doc).ForEach(func(key, _ gjson.Result) bool {
		keys = append(keys, key.String())
		return true
	})
	assert.Equal(t, []string{"_aws", "First", "Second", "Zone", "Latency"}, keys)
}

func TestSerializeKeyCollisions(t *testing.T) {
	ctx := NewMetricsContext()
	require.NoError(t, ctx.PutProperty("Service", "from-property"))
	require.NoError(t, ctx.PutProperty("Other", true))
	require.NoError(t, ctx.PutDimension("Service", "checkout"))
	require.NoError(t, ctx.PutMetric("Service", 7, UnitCount))

	doc := serializeOne(t, ctx)

	// One top-level key, the latest category's value, at the position of the
	// first write.
	assert.Equal(t, 1, strings.Count(doc, `"Service":`))
	assert.Equal(t, float64(7), gjson.Get(doc, "Service").Float())

	var keys []string
	gjson.Parse(doc).ForEach(func(key, _ gjson.Result) bool {
		keys = append(keys, key.String())
		return true
	})
	assert.Equal(t, []string{"_aws", "Service", "Other"}, keys)
}

func TestSerializeSuppressedDefaultDimensions(t *testing.T) {
	ctx := NewMetricsContext()
	ctx.SetDefaultDimensions(mustSet(t, "LogGroup", "app-log"))
	require.NoError(t, ctx.SetDimensions(false, mustSet(t, "Zone", "a")))
	require.NoError(t, ctx.PutMetric("Latency", 80, UnitMilliseconds))

	doc := serializeOne(t, ctx)

	assert.Equal(t, `[["Zone"]]`, gjson.Get(doc, "_aws.CloudWatchMetrics.0.Dimensions").Raw)
	assert.False(t, gjson.Get(doc, "LogGroup").Exists())
	assert.Equal(t, "a", gjson.Get(doc, "Zone").String())
}

func TestSerializeBatching(t *testing.T) {
	ctx := NewMetricsContextFor("checkout")
	ctx.SetTimestamp(time.UnixMilli(1609459200000))
	require.NoError(t, ctx.PutDimension("Service", "checkout"))
	require.NoError(t, ctx.PutProperty("RequestID", "abc-123"))
	require.NoError(t, ctx.PutMetadata("Deployment", "blue"))
	for i := 0; i < 250; i++ {
		require.NoError(t, ctx.PutMetric(fmt.Sprintf("m%03d", i), float64(i), UnitCount))
	}

	docs, err := ctx.Serialize()
	require.NoError(t, err)
	require.Len(t, docs, 3)

	wantCounts := []int64{100, 100, 50}
	for i, doc := range docs {
		require.True(t, json.Valid([]byte(doc)))
		require.NotContains(t, doc, "\n")

		assert.Equal(t, wantCounts[i], gjson.Get(doc, "_aws.CloudWatchMetrics.0.Metrics.#").Int())

		// Every chunk repeats the complete envelope.
		assert.Equal(t, int64(1609459200000), gjson.Get(doc, "_aws.Timestamp").Int())
		assert.Equal(t, "checkout", gjson.Get(doc, "_aws.CloudWatchMetrics.0.Namespace").String())
		assert.Equal(t, `[["Service"]]`, gjson.Get(doc, "_aws.CloudWatchMetrics.0.Dimensions").Raw)
		assert.Equal(t, "blue", gjson.Get(doc, "_aws.Deployment").String())
		assert.Equal(t, "abc-123", gjson.Get(doc, "RequestID").String())
	}

	// Chunks partition the metric table in insertion order.
	assert.Equal(t, "m000", gjson.Get(docs[0], "_aws.CloudWatchMetrics.0.Metrics.0.Name").String())
	assert.Equal(t, "m099", gjson.Get(docs[0], "_aws.CloudWatchMetrics.0.Metrics.99.Name").String())
	assert.Equal(t, "m100", gjson.Get(docs[1], "_aws.CloudWatchMetrics.0.Metrics.0.Name").String())
	assert.Equal(t, "m199", gjson.Get(docs[1], "_aws.CloudWatchMetrics.0.Metrics.99.Name").String())
	assert.Equal(t, "m200", gjson.Get(docs[2], "_aws.CloudWatchMetrics.0.Metrics.0.Name").String())
	assert.Equal(t, "m249", gjson.Get(docs[2], "_aws.CloudWatchMetrics.0.Metrics.49.Name").String())

	// Metric values land only in their own chunk's body.
	assert.Equal(t, float64(0), gjson.Get(docs[0], "m000").Float())
	assert.False(t, gjson.Get(docs[0], "m100").Exists())
	assert.Equal(t, float64(100), gjson.Get(docs[1], "m100").Float())
	assert.False(t, gjson.Get(docs[1], "m000").Exists())
	assert.Equal(t, float64(249), gjson.Get(docs[2], "m249").Float())
}

func TestSerializeBatchBoundaries(t *testing.T) {
	exactly := NewMetricsContext()
	for i := 0; i < MaxMetricsPerEvent; i++ {
		require.NoError(t, exactly.PutMetric(fmt.Sprintf("m%03d", i), 1, UnitCount))
	}
	docs, err := exactly.Serialize()
	require.NoError(t, err)
	assert.Len(t, docs, 1)

	over := NewMetricsContext()
	for i := 0; i < MaxMetricsPerEvent+1; i++ {
		require.NoError(t, over.PutMetric(fmt.Sprintf("m%03d", i), 1, UnitCount))
	}
	docs, err = over.Serialize()
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, int64(MaxMetricsPerEvent), gjson.Get(docs[0], "_aws.CloudWatchMetrics.0.Metrics.#").Int())
	assert.Equal(t, int64(1), gjson.Get(docs[1], "_aws.CloudWatchMetrics.0.Metrics.#").Int())
}

func TestSerializeEscapesEmbeddedControlCharacters(t *testing.T) {
	ctx := NewMetricsContext()
	require.NoError(t, ctx.PutProperty("Message", "line1\nline2\t\"quoted\""))
	require.NoError(t, ctx.PutDimension("Päth", "/checkout\nnext"))
	require.NoError(t, ctx.PutMetric("Latency", 80, UnitMilliseconds))

	doc := serializeOne(t, ctx)

	assert.Equal(t, "line1\nline2\t\"quoted\"", gjson.Get(doc, "Message").String())

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(doc), &decoded))
	assert.Equal(t, "/checkout\nnext", decoded["Päth"])
}

func TestDeepCloneWithNewMetricsIsIndependent(t *testing.T) {
	ctx := NewMetricsContextFor("checkout")
	ctx.SetTimestamp(time.UnixMilli(1000))
	require.NoError(t, ctx.PutProperty("RequestID", "abc-123"))
	require.NoError(t, ctx.PutMetric("Latency", 80, UnitMilliseconds))

	clone := ctx.root.DeepCloneWithNewMetrics(ctx.directive.defs)
	before, err := clone.Serialize()
	require.NoError(t, err)

	// Splitting a document never re-stamps it.
	assert.Equal(t, int64(1000), clone.Timestamp())

	require.NoError(t, ctx.PutProperty("RequestID", "changed"))
	require.NoError(t, ctx.PutMetric("Latency", 95, UnitMilliseconds))
	require.NoError(t, ctx.PutDimension("Zone", "a"))

	after, err := clone.Serialize()
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestNewContextStampsCurrentTime(t *testing.T) {
	lo := time.Now().UnixMilli()
	ctx := NewMetricsContext()
	hi := time.Now().UnixMilli()

	ts := ctx.root.Timestamp()
	assert.GreaterOrEqual(t, ts, lo)
	assert.LessOrEqual(t, ts, hi)
}
