package observability

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// QueryInfo describes one engine call for spans and logs.
type QueryInfo struct {
	Entity      string
	Shape       string
	FieldCount  int
	FilterCount int
	SortKey     string
	Desc        bool
	Limit       int
	Offset      int
	Cursor      bool
}

// QuerySpanAttributes builds canonical span attributes for an engine call.
func QuerySpanAttributes(info QueryInfo) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 9)
	attrs = append(attrs,
		attribute.String("chainquery.entity", info.Entity),
		attribute.String("chainquery.shape", info.Shape),
	)
	if info.FieldCount > 0 {
		attrs = append(attrs, attribute.Int("chainquery.field_count", info.FieldCount))
	}
	if info.FilterCount > 0 {
		attrs = append(attrs, attribute.Int("chainquery.filter_count", info.FilterCount))
	}
	if info.Shape != "count" {
		attrs = append(attrs,
			attribute.String("chainquery.sort.key", info.SortKey),
			attribute.Bool("chainquery.sort.desc", info.Desc),
			attribute.Int("chainquery.limit", info.Limit),
			attribute.Int("chainquery.offset", info.Offset),
			attribute.Bool("chainquery.cursor", info.Cursor),
		)
	}
	return attrs
}

// QueryLogFields builds canonical structured log fields for an engine call.
func QueryLogFields(ctx context.Context, info QueryInfo) []any {
	fields := make([]any, 0, 6)
	fields = append(fields,
		slog.String("entity", info.Entity),
		slog.String("shape", info.Shape),
	)
	if info.FieldCount > 0 {
		fields = append(fields, slog.Int("field_count", info.FieldCount))
	}
	if info.FilterCount > 0 {
		fields = append(fields, slog.Int("filter_count", info.FilterCount))
	}

	spanCtx := trace.SpanContextFromContext(ctx)
	if spanCtx.IsValid() {
		fields = append(fields, slog.String("trace_id", spanCtx.TraceID().String()))
	}

	return fields
}
