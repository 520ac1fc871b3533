package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

func TestQuerySpanAttributes(t *testing.T) {
	attrs := QuerySpanAttributes(QueryInfo{
		Entity:      "blocks",
		Shape:       "fields",
		FieldCount:  3,
		FilterCount: 1,
		SortKey:     "level",
		Desc:        true,
		Limit:       10,
	})
	assert.Contains(t, attrs, attribute.String("chainquery.entity", "blocks"))
	assert.Contains(t, attrs, attribute.Int("chainquery.field_count", 3))
	assert.Contains(t, attrs, attribute.Bool("chainquery.sort.desc", true))

	count := QuerySpanAttributes(QueryInfo{Entity: "blocks", Shape: "count"})
	assert.Len(t, count, 2)
}

func TestQueryLogFieldsIncludesTraceID(t *testing.T) {
	spanCtx := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: trace.TraceID{1, 2, 3},
		SpanID:  trace.SpanID{4, 5, 6},
		Remote:  true,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), spanCtx)
	fields := QueryLogFields(ctx, QueryInfo{Entity: "ballots", Shape: "objects"})

	if len(fields) != 3 {
		t.Fatalf("expected entity, shape and trace_id fields, got %d", len(fields))
	}
}
