package observer

import (
	"context"
	"time"

	carnet "github.com/carnetd/carnet"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ObservedProvider wraps a carnet.Provider with OTEL instrumentation.
type ObservedProvider struct {
	inner carnet.Provider
	inst  *Instruments
}

// WrapProvider returns an instrumented provider that emits traces and metrics.
func WrapProvider(inner carnet.Provider, inst *Instruments) *ObservedProvider {
	return &ObservedProvider{inner: inner, inst: inst}
}

var _ carnet.Provider = (*ObservedProvider)(nil)

func (o *ObservedProvider) Name() string  { return o.inner.Name() }
func (o *ObservedProvider) Model() string { return o.inner.Model() }

func (o *ObservedProvider) Chat(ctx context.Context, req carnet.ChatRequest) (carnet.ChatResponse, error) {
	ctx, span := o.inst.Tracer.Start(ctx, "llm.chat", trace.WithAttributes(
		AttrLLMModel.String(o.inner.Model()),
		AttrLLMProvider.String(o.inner.Name()),
	))
	defer span.End()
	start := time.Now()

	resp, err := o.inner.Chat(ctx, req)

	o.record(ctx, span, "chat", err, time.Since(start), resp.Usage)
	return resp, err
}

func (o *ObservedProvider) ChatStream(ctx context.Context, req carnet.ChatRequest, ch chan<- string) (carnet.ChatResponse, error) {
	ctx, span := o.inst.Tracer.Start(ctx, "llm.chat_stream", trace.WithAttributes(
		AttrLLMModel.String(o.inner.Model()),
		AttrLLMProvider.String(o.inner.Name()),
	))
	defer span.End()
	start := time.Now()

	// Forward through a buffered middle channel to count chunks without
	// letting the inner provider block on a slow consumer.
	bufSize := max(cap(ch), 64)
	mid := make(chan string, bufSize)
	chunks := 0
	done := make(chan struct{})
	go func() {
		defer close(ch)
		defer close(done)
		for delta := range mid {
			chunks++
			select {
			case ch <- delta:
			case <-ctx.Done():
				return
			}
		}
	}()

	resp, err := o.inner.ChatStream(ctx, req, mid)
	<-done

	span.SetAttributes(AttrStreamChunks.Int(chunks))
	o.record(ctx, span, "chat_stream", err, time.Since(start), resp.Usage)
	return resp, err
}

func (o *ObservedProvider) record(ctx context.Context, span trace.Span, method string, err error, elapsed time.Duration, usage carnet.Usage) {
	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	span.SetAttributes(
		AttrTokensInput.Int(usage.InputTokens),
		AttrTokensOutput.Int(usage.OutputTokens),
	)

	base := []attribute.KeyValue{
		AttrLLMModel.String(o.inner.Model()),
		AttrLLMProvider.String(o.inner.Name()),
	}
	o.inst.TokenUsage.Add(ctx, int64(usage.InputTokens), metric.WithAttributes(
		append(base, attribute.String("direction", "input"))...))
	o.inst.TokenUsage.Add(ctx, int64(usage.OutputTokens), metric.WithAttributes(
		append(base, attribute.String("direction", "output"))...))
	o.inst.LLMRequests.Add(ctx, 1, metric.WithAttributes(
		append(base, AttrLLMMethod.String(method), attribute.String("status", status))...))
	o.inst.LLMDuration.Record(ctx, float64(elapsed.Milliseconds()), metric.WithAttributes(
		append(base, AttrLLMMethod.String(method))...))

	var rec otellog.Record
	rec.SetSeverity(otellog.SeverityInfo)
	rec.SetBody(otellog.StringValue("llm call completed"))
	rec.AddAttributes(
		otellog.String("llm.model", o.inner.Model()),
		otellog.String("llm.provider", o.inner.Name()),
		otellog.String("llm.method", method),
		otellog.Int("llm.tokens.input", usage.InputTokens),
		otellog.Int("llm.tokens.output", usage.OutputTokens),
		otellog.Float64("llm.duration_ms", float64(elapsed.Milliseconds())),
		otellog.String("status", status),
	)
	o.inst.Logger.Emit(ctx, rec)
}
