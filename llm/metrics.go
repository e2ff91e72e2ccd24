package llm

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/BaSui01/reviewflow/llm"

// Metrics holds the otel instruments recorded for every completion.
type Metrics struct {
	tracer trace.Tracer

	requestTotal    metric.Int64Counter
	tokenTotal      metric.Int64Counter
	errorTotal      metric.Int64Counter
	requestDuration metric.Float64Histogram
	activeRequests  metric.Int64UpDownCounter
}

// NewMetrics creates the instruments on the global meter and tracer providers.
func NewMetrics() (*Metrics, error) {
	return NewMetricsWith(otel.GetMeterProvider(), otel.GetTracerProvider())
}

func NewMetricsWith(mp metric.MeterProvider, tp trace.TracerProvider) (*Metrics, error) {
	meter := mp.Meter(instrumentationName)
	m := &Metrics{tracer: tp.Tracer(instrumentationName)}

	var err error
	m.requestTotal, err = meter.Int64Counter("llm.request.total",
		metric.WithDescription("Total number of LLM requests"),
		metric.WithUnit("{request}"))
	if err != nil {
		return nil, err
	}

	m.tokenTotal, err = meter.Int64Counter("llm.token.total",
		metric.WithDescription("Total tokens consumed"),
		metric.WithUnit("{token}"))
	if err != nil {
		return nil, err
	}

	m.errorTotal, err = meter.Int64Counter("llm.error.total",
		metric.WithDescription("Total number of errors"),
		metric.WithUnit("{error}"))
	if err != nil {
		return nil, err
	}

	m.requestDuration, err = meter.Float64Histogram("llm.request.duration",
		metric.WithDescription("Request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60))
	if err != nil {
		return nil, err
	}

	m.activeRequests, err = meter.Int64UpDownCounter("llm.request.active",
		metric.WithDescription("Number of in-flight requests"),
		metric.WithUnit("{request}"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// InstrumentedProvider records a span and metrics around each completion.
type InstrumentedProvider struct {
	inner   Provider
	metrics *Metrics
}

func NewInstrumentedProvider(inner Provider, m *Metrics) *InstrumentedProvider {
	return &InstrumentedProvider{inner: inner, metrics: m}
}

var _ Provider = (*InstrumentedProvider)(nil)

func (p *InstrumentedProvider) Name() string { return p.inner.Name() }

func (p *InstrumentedProvider) Completion(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	m := p.metrics
	base := []attribute.KeyValue{
		attribute.String("provider", p.inner.Name()),
		attribute.String("model", req.Model),
		attribute.String("node", req.Metadata["node"]),
	}

	ctx, span := m.tracer.Start(ctx, "llm.completion", trace.WithAttributes(base...))
	defer span.End()

	m.activeRequests.Add(ctx, 1, metric.WithAttributes(base[:2]...))
	start := time.Now()
	resp, err := p.inner.Completion(ctx, req)
	m.activeRequests.Add(ctx, -1, metric.WithAttributes(base[:2]...))

	status := "success"
	if err != nil {
		status = "error"
		code := string(ErrUpstreamError)
		if e, ok := err.(*Error); ok {
			code = string(e.Code)
		}
		m.errorTotal.Add(ctx, 1, metric.WithAttributes(append(base, attribute.String("error_code", code))...))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	attrs := metric.WithAttributes(append(base, attribute.String("status", status))...)
	m.requestTotal.Add(ctx, 1, attrs)
	m.requestDuration.Record(ctx, time.Since(start).Seconds(), attrs)
	if resp != nil && resp.Usage.TotalTokens > 0 {
		m.tokenTotal.Add(ctx, int64(resp.Usage.TotalTokens), metric.WithAttributes(base...))
		span.SetAttributes(attribute.Int("llm.tokens.total", resp.Usage.TotalTokens))
	}
	return resp, err
}
