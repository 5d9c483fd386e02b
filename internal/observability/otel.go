package observability

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.32.0"
)

// OTelConfig defines OpenTelemetry metric export parameters.
type OTelConfig struct {
	Enabled        bool
	Endpoint       string
	Insecure       bool
	MetricInterval time.Duration
	ServiceName    string
	ServiceVersion string
	Environment    string
}

// OTelProvider manages the OpenTelemetry meter provider lifecycle and
// implements the Metrics interface on top of it.
type OTelProvider struct {
	meterProvider *sdkmetric.MeterProvider
	meter         metric.Meter

	mu         sync.Mutex
	counters   map[string]metric.Float64Counter
	histograms map[string]metric.Float64Histogram
	gauges     map[string]metric.Float64Gauge
}

// NewOTelProvider initialises metric export. A disabled config yields a
// provider whose instruments fall back to the global (no-op) meter.
func NewOTelProvider(ctx context.Context, cfg OTelConfig) (*OTelProvider, error) {
	p := &OTelProvider{
		meterProvider: nil,
		meter:         otel.Meter(cfg.ServiceName),
		counters:      make(map[string]metric.Float64Counter),
		histograms:    make(map[string]metric.Float64Histogram),
		gauges:        make(map[string]metric.Float64Gauge),
	}
	if !cfg.Enabled {
		return p, nil
	}

	opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}
	exporter, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create otlp metric exporter: %w", err)
	}

	interval := cfg.MetricInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			attribute.String("deployment.environment", cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval))),
	)
	otel.SetMeterProvider(mp)
	p.meterProvider = mp
	p.meter = mp.Meter(cfg.ServiceName)
	return p, nil
}

// Shutdown flushes and stops the meter provider.
func (p *OTelProvider) Shutdown(ctx context.Context) error {
	if p.meterProvider == nil {
		return nil
	}
	if err := p.meterProvider.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown meter provider: %w", err)
	}
	return nil
}

// IncCounter adds to the named counter.
func (p *OTelProvider) IncCounter(name string, value float64, labels map[string]string) {
	p.mu.Lock()
	counter, ok := p.counters[name]
	if !ok {
		var err error
		counter, err = p.meter.Float64Counter(name)
		if err != nil {
			p.mu.Unlock()
			return
		}
		p.counters[name] = counter
	}
	p.mu.Unlock()
	counter.Add(context.Background(), value, metric.WithAttributes(toAttributes(labels)...))
}

// ObserveHistogram records into the named histogram.
func (p *OTelProvider) ObserveHistogram(name string, value float64, labels map[string]string) {
	p.mu.Lock()
	histogram, ok := p.histograms[name]
	if !ok {
		var err error
		histogram, err = p.meter.Float64Histogram(name)
		if err != nil {
			p.mu.Unlock()
			return
		}
		p.histograms[name] = histogram
	}
	p.mu.Unlock()
	histogram.Record(context.Background(), value, metric.WithAttributes(toAttributes(labels)...))
}

// SetGauge records the named gauge value.
func (p *OTelProvider) SetGauge(name string, value float64, labels map[string]string) {
	p.mu.Lock()
	gauge, ok := p.gauges[name]
	if !ok {
		var err error
		gauge, err = p.meter.Float64Gauge(name)
		if err != nil {
			p.mu.Unlock()
			return
		}
		p.gauges[name] = gauge
	}
	p.mu.Unlock()
	gauge.Record(context.Background(), value, metric.WithAttributes(toAttributes(labels)...))
}

func toAttributes(labels map[string]string) []attribute.KeyValue {
	if len(labels) == 0 {
		return nil
	}
	attrs := make([]attribute.KeyValue, 0, len(labels))
	for k, v := range labels {
		attrs = append(attrs, attribute.String(k, v))
	}
	return attrs
}
