// Package observability wires OpenTelemetry tracing and metrics for the
// enforcement plane: decision rate and latency, reload outcomes, quota
// rejections, and audit upload cycles, exported over OTLP gRPC.
package observability

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const scopeName = "github.com/Mindburn-Labs/edgepolicy"

// Config configures the OTLP exporters. A missing endpoint leaves
// telemetry disabled and every Record call a no-op.
type Config struct {
	ServiceName  string
	OTLPEndpoint string
	Insecure     bool
	BatchTimeout time.Duration
}

// FromEnv builds a Config for a service binary from OTEL_EXPORTER_OTLP_ENDPOINT
// and OTEL_EXPORTER_OTLP_INSECURE.
func FromEnv(serviceName string) Config {
	return Config{
		ServiceName:  serviceName,
		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		Insecure:     os.Getenv("OTEL_EXPORTER_OTLP_INSECURE") == "true",
		BatchTimeout: 5 * time.Second,
	}
}

// Provider owns the trace and metric providers plus the enforcement-plane
// instruments. The zero value is a disabled provider whose methods are
// safe no-ops, so call sites never need a nil check.
type Provider struct {
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer

	decisions       metric.Int64Counter
	evalDuration    metric.Float64Histogram
	reloads         metric.Int64Counter
	quotaRejections metric.Int64Counter
	uploadCycles    metric.Int64Counter
	uploadedRecords metric.Int64Counter
}

// Init builds a Provider and installs it as the global OTel provider.
// When cfg.OTLPEndpoint is empty the returned Provider is disabled.
func Init(ctx context.Context, cfg Config) (*Provider, error) {
	p := &Provider{}
	if cfg.OTLPEndpoint == "" {
		return p, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("observability: build resource: %w", err)
	}

	traceOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint)}
	metricOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.Insecure {
		traceOpts = append(traceOpts, otlptracegrpc.WithInsecure())
		metricOpts = append(metricOpts, otlpmetricgrpc.WithInsecure())
	}

	traceExp, err := otlptracegrpc.New(ctx, traceOpts...)
	if err != nil {
		return nil, fmt.Errorf("observability: trace exporter: %w", err)
	}
	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(traceExp, sdktrace.WithBatchTimeout(cfg.BatchTimeout)),
	)
	otel.SetTracerProvider(p.tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	metricExp, err := otlpmetricgrpc.New(ctx, metricOpts...)
	if err != nil {
		return nil, fmt.Errorf("observability: metric exporter: %w", err)
	}
	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp,
			sdkmetric.WithInterval(15*time.Second),
		)),
	)
	otel.SetMeterProvider(p.meterProvider)

	p.tracer = otel.Tracer(scopeName)
	if err := p.initInstruments(otel.Meter(scopeName)); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Provider) initInstruments(m metric.Meter) error {
	var err error
	p.decisions, err = m.Int64Counter("edgepolicy.decisions.total",
		metric.WithDescription("Policy decisions by tenant and outcome"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return err
	}
	p.evalDuration, err = m.Float64Histogram("edgepolicy.eval.duration",
		metric.WithDescription("Rule evaluation duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.0001, 0.0005, 0.001, 0.0025, 0.005, 0.01),
	)
	if err != nil {
		return err
	}
	p.reloads, err = m.Int64Counter("edgepolicy.reloads.total",
		metric.WithDescription("Tenant engine reloads by outcome"),
		metric.WithUnit("{reload}"),
	)
	if err != nil {
		return err
	}
	p.quotaRejections, err = m.Int64Counter("edgepolicy.quota.rejections.total",
		metric.WithDescription("Requests rejected for exceeding quota"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return err
	}
	p.uploadCycles, err = m.Int64Counter("edgepolicy.audit.upload.cycles.total",
		metric.WithDescription("Audit upload cycles by outcome"),
		metric.WithUnit("{cycle}"),
	)
	if err != nil {
		return err
	}
	p.uploadedRecords, err = m.Int64Counter("edgepolicy.audit.uploaded.total",
		metric.WithDescription("Audit records acknowledged by the upload endpoint"),
		metric.WithUnit("{record}"),
	)
	return err
}

// Shutdown flushes and stops both providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	var firstErr error
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			firstErr = err
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// StartSpan opens a span when tracing is enabled; otherwise it returns
// ctx with a no-op span.
func (p *Provider) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if p.tracer == nil {
		return noop.NewTracerProvider().Tracer(scopeName).Start(ctx, name)
	}
	return p.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// RecordDecision counts one policy decision and its evaluation latency.
func (p *Provider) RecordDecision(ctx context.Context, tenantID string, allow bool, evalDuration time.Duration) {
	if p.decisions == nil {
		return
	}
	outcome := "deny"
	if allow {
		outcome = "allow"
	}
	attrs := metric.WithAttributes(
		attribute.String("tenant_id", tenantID),
		attribute.String("outcome", outcome),
	)
	p.decisions.Add(ctx, 1, attrs)
	p.evalDuration.Record(ctx, evalDuration.Seconds(), attrs)
}

// RecordReload counts one tenant engine reload attempt.
func (p *Provider) RecordReload(ctx context.Context, tenantID string, err error) {
	if p.reloads == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	p.reloads.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tenant_id", tenantID),
		attribute.String("outcome", outcome),
	))
}

// RecordQuotaRejection counts one request rejected at the quota pre-check.
func (p *Provider) RecordQuotaRejection(ctx context.Context, tenantID, quotaType string) {
	if p.quotaRejections == nil {
		return
	}
	p.quotaRejections.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tenant_id", tenantID),
		attribute.String("quota_type", quotaType),
	))
}

// RecordUploadCycle counts one deferred-upload cycle and the records it
// successfully delivered.
func (p *Provider) RecordUploadCycle(ctx context.Context, uploaded int, err error) {
	if p.uploadCycles == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	p.uploadCycles.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	if uploaded > 0 {
		p.uploadedRecords.Add(ctx, int64(uploaded))
	}
}
