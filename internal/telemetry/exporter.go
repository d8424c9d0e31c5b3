package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
)

// LogExporter writes every ended span as one structured log line.
type LogExporter struct {
	logger *zap.Logger
}

// NewLogExporter returns a span exporter backed by logger.
func NewLogExporter(logger *zap.Logger) *LogExporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogExporter{logger: logger}
}

// ExportSpans implements sdktrace.SpanExporter.
func (e *LogExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	for _, span := range spans {
		if err := ctx.Err(); err != nil {
			return err
		}
		sc := span.SpanContext()
		fields := []zap.Field{
			zap.String("span", span.Name()),
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
			zap.Duration("duration", span.EndTime().Sub(span.StartTime())),
		}
		if parent := span.Parent(); parent.IsValid() {
			fields = append(fields, zap.String("parent_span_id", parent.SpanID().String()))
		}
		for _, kv := range span.Attributes() {
			fields = append(fields, zap.String(string(kv.Key), kv.Value.Emit()))
		}
		if status := span.Status(); status.Code == codes.Error {
			fields = append(fields, zap.String("status", status.Description))
			e.logger.Warn("span ended with error", fields...)
			continue
		}
		e.logger.Info("span ended", fields...)
	}
	return nil
}

// Shutdown implements sdktrace.SpanExporter.
func (e *LogExporter) Shutdown(context.Context) error {
	return nil
}

// ExporterOptions maps an exporter name from config onto provider options.
func ExporterOptions(name string, logger *zap.Logger) ([]sdktrace.TracerProviderOption, error) {
	switch name {
	case "", "none":
		return nil, nil
	case "log":
		return []sdktrace.TracerProviderOption{sdktrace.WithBatcher(NewLogExporter(logger))}, nil
	default:
		return nil, fmt.Errorf("unknown trace exporter %q", name)
	}
}
