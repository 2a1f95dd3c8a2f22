// Package telemetry wires up Prometheus + OpenTelemetry exporters used across
// the project.
package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"duskhole/pkg/logging"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// Options configures telemetry. None of these are recognized YAML config
// keys (spec §6 names none); they're fixed operational defaults set by the
// CLI entry point, not user-tunable via the config file.
type Options struct {
	ServiceName    string
	ServiceVersion string
	PrometheusPort int
	Enabled        bool
}

// Telemetry holds telemetry providers and exporters.
type Telemetry struct {
	opts               Options
	meterProvider      metric.MeterProvider
	tracerProvider     trace.TracerProvider
	prometheusExporter *prometheus.Exporter
	prometheusServer   *http.Server
	logger             *logging.Logger
}

// Metrics holds the metric set scoped to the resolver core (see SPEC_FULL's
// Ambient Stack section).
type Metrics struct {
	DNSQueriesTotal     metric.Int64Counter
	DNSQueriesByType    metric.Int64Counter
	DNSQueryDuration    metric.Float64Histogram
	DNSBlockedQueries   metric.Int64Counter
	DNSForwardedQueries metric.Int64Counter
	BlocklistSize       metric.Int64UpDownCounter
	UpstreamAttempts    metric.Int64Counter
	UpstreamFailures    metric.Int64Counter
}

// New creates a new telemetry instance.
func New(ctx context.Context, opts Options, logger *logging.Logger) (*Telemetry, error) {
	if !opts.Enabled {
		logger.Info("Telemetry disabled")
		return &Telemetry{
			opts:           opts,
			meterProvider:  noop.NewMeterProvider(),
			tracerProvider: tracenoop.NewTracerProvider(),
			logger:         logger,
		}, nil
	}

	t := &Telemetry{
		opts:   opts,
		logger: logger,
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(opts.ServiceName),
			semconv.ServiceVersionKey.String(opts.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	if err := t.setupMetrics(res); err != nil {
		return nil, fmt.Errorf("failed to setup metrics: %w", err)
	}
	t.tracerProvider = tracenoop.NewTracerProvider()

	logger.Info("Telemetry initialized",
		"service", opts.ServiceName,
		"version", opts.ServiceVersion,
		"prometheus_port", opts.PrometheusPort,
	)

	return t, nil
}

// setupMetrics initializes the Prometheus-backed meter provider.
func (t *Telemetry) setupMetrics(res *resource.Resource) error {
	exporter, err := prometheus.New()
	if err != nil {
		return fmt.Errorf("failed to create prometheus exporter: %w", err)
	}
	t.prometheusExporter = exporter

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)

	t.meterProvider = provider
	otel.SetMeterProvider(provider)

	if err := t.startPrometheusServer(); err != nil {
		return fmt.Errorf("failed to start prometheus server: %w", err)
	}

	t.logger.Info("Prometheus metrics enabled", "port", t.opts.PrometheusPort)
	return nil
}

// startPrometheusServer starts the Prometheus metrics HTTP server.
func (t *Telemetry) startPrometheusServer() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	t.prometheusServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", t.opts.PrometheusPort),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := t.prometheusServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			t.logger.Error("Prometheus server failed", "error", err)
		}
	}()

	return nil
}

// InitMetrics initializes and returns the application's metric instruments.
func (t *Telemetry) InitMetrics() (*Metrics, error) {
	meter := t.meterProvider.Meter("duskhole")

	queriesTotal, err := meter.Int64Counter(
		"dns.queries.total",
		metric.WithDescription("Total number of DNS queries received"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create queries counter: %w", err)
	}

	queriesByType, err := meter.Int64Counter(
		"dns.queries.by_type",
		metric.WithDescription("DNS queries by query type"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create queries by type counter: %w", err)
	}

	queryDuration, err := meter.Float64Histogram(
		"dns.query.duration",
		metric.WithDescription("DNS query processing duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create query duration histogram: %w", err)
	}

	blockedQueries, err := meter.Int64Counter(
		"dns.queries.blocked",
		metric.WithDescription("Number of blocked DNS queries"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create blocked queries counter: %w", err)
	}

	forwardedQueries, err := meter.Int64Counter(
		"dns.queries.forwarded",
		metric.WithDescription("Number of forwarded DNS queries"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create forwarded queries counter: %w", err)
	}

	blocklistSize, err := meter.Int64UpDownCounter(
		"blocklist.size",
		metric.WithDescription("Number of names in the currently published blocklist snapshot"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create blocklist size gauge: %w", err)
	}

	upstreamAttempts, err := meter.Int64Counter(
		"upstream.attempts",
		metric.WithDescription("Number of upstream forward attempts, per upstream"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create upstream attempts counter: %w", err)
	}

	upstreamFailures, err := meter.Int64Counter(
		"upstream.failures",
		metric.WithDescription("Number of failed upstream forward attempts, per upstream"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create upstream failures counter: %w", err)
	}

	return &Metrics{
		DNSQueriesTotal:     queriesTotal,
		DNSQueriesByType:    queriesByType,
		DNSQueryDuration:    queryDuration,
		DNSBlockedQueries:   blockedQueries,
		DNSForwardedQueries: forwardedQueries,
		BlocklistSize:       blocklistSize,
		UpstreamAttempts:    upstreamAttempts,
		UpstreamFailures:    upstreamFailures,
	}, nil
}

// MeterProvider returns the meter provider.
func (t *Telemetry) MeterProvider() metric.MeterProvider {
	return t.meterProvider
}

// TracerProvider returns the tracer provider.
func (t *Telemetry) TracerProvider() trace.TracerProvider {
	return t.tracerProvider
}

// Shutdown gracefully shuts down telemetry.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error

	if t.prometheusServer != nil {
		if err := t.prometheusServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("prometheus server shutdown: %w", err))
		}
	}

	if provider, ok := t.meterProvider.(*sdkmetric.MeterProvider); ok {
		if err := provider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter provider shutdown: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("telemetry shutdown errors: %v", errs)
	}

	t.logger.Info("Telemetry shut down")
	return nil
}
