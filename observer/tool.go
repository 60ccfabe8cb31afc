package observer

import (
	"context"
	"encoding/json"
	"time"

	carnet "github.com/carnetd/carnet"

	"go.opentelemetry.io/otel/codes"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ObservedTool wraps a carnet.Tool with OTEL instrumentation.
type ObservedTool struct {
	inner carnet.Tool
	inst  *Instruments
}

// WrapTool returns an instrumented tool.
func WrapTool(inner carnet.Tool, inst *Instruments) *ObservedTool {
	return &ObservedTool{inner: inner, inst: inst}
}

var _ carnet.Tool = (*ObservedTool)(nil)

func (o *ObservedTool) Definitions() []carnet.ToolDefinition {
	return o.inner.Definitions()
}

func (o *ObservedTool) Execute(ctx context.Context, name string, args json.RawMessage) (carnet.ToolResult, error) {
	ctx, span := o.inst.Tracer.Start(ctx, "tool.execute", trace.WithAttributes(
		AttrToolName.String(name),
	))
	defer span.End()
	start := time.Now()

	result, err := o.inner.Execute(ctx, name, args)

	status := "ok"
	switch {
	case err != nil:
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	case !result.Success:
		status = result.Error
	}

	span.SetAttributes(
		AttrToolStatus.String(status),
		AttrToolResultLength.Int(len(result.Output)),
	)
	o.inst.ToolExecutions.Add(ctx, 1, metric.WithAttributes(
		AttrToolName.String(name),
		AttrToolStatus.String(status),
	))
	o.inst.ToolDuration.Record(ctx, float64(time.Since(start).Milliseconds()), metric.WithAttributes(
		AttrToolName.String(name),
	))

	var rec otellog.Record
	rec.SetSeverity(otellog.SeverityInfo)
	rec.SetBody(otellog.StringValue("tool executed"))
	rec.AddAttributes(
		otellog.String("tool.name", name),
		otellog.String("tool.status", status),
		otellog.Int("tool.result_length", len(result.Output)),
		otellog.Float64("tool.duration_ms", float64(time.Since(start).Milliseconds())),
	)
	o.inst.Logger.Emit(ctx, rec)
	return result, err
}
