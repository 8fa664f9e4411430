// Package otel wires OpenTelemetry tracing, metrics and logs for the API and worker binaries,
// and adapts security events onto OTel log records.
package otel

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
	"go.uber.org/zap"
)

const defaultMetricInterval = 10 * time.Second

// Options configures NewProviders.
type Options struct {
	// Endpoint is the OTLP gRPC collector, with or without scheme. Empty means no export.
	Endpoint string
	// Insecure forces a plaintext connection even for https endpoints.
	Insecure    bool
	ServiceName string
	// Environment is recorded as deployment.environment.name when set.
	Environment string
	// MetricInterval is the periodic export interval; zero uses 10s.
	MetricInterval time.Duration
	// Logger receives shutdown failures; nil discards them.
	Logger *zap.Logger
}

// Providers holds the OpenTelemetry providers and a shutdown function.
type Providers struct {
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  *metric.MeterProvider
	LoggerProvider *sdklog.LoggerProvider
	// Shutdown flushes and stops every provider, newest first. Safe to call more than once.
	Shutdown func(context.Context) error
}

// NewProviders builds tracer, meter and logger providers exporting to opts.Endpoint.
// With no endpoint the providers are local only, so instrumentation still works in tests
// and development without a collector.
func NewProviders(ctx context.Context, opts Options) (*Providers, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if strings.TrimSpace(opts.Endpoint) == "" {
		return &Providers{
			TracerProvider: sdktrace.NewTracerProvider(),
			MeterProvider:  metric.NewMeterProvider(),
			LoggerProvider: sdklog.NewLoggerProvider(),
			Shutdown:       func(context.Context) error { return nil },
		}, nil
	}

	target, plaintext, err := collectorTarget(opts.Endpoint)
	if err != nil {
		return nil, err
	}
	plaintext = plaintext || opts.Insecure

	res, err := serviceResource(opts.ServiceName, opts.Environment)
	if err != nil {
		return nil, err
	}

	var stack shutdownStack

	traceOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(target)}
	if plaintext {
		traceOpts = append(traceOpts, otlptracegrpc.WithInsecure())
	}
	traceExp, err := otlptracegrpc.New(ctx, traceOpts...)
	if err != nil {
		return nil, fmt.Errorf("otel: trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(traceExp), sdktrace.WithResource(res))
	stack.push(tp.Shutdown)

	metricOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(target)}
	if plaintext {
		metricOpts = append(metricOpts, otlpmetricgrpc.WithInsecure())
	}
	metricExp, err := otlpmetricgrpc.New(ctx, metricOpts...)
	if err != nil {
		_ = stack.unwind(ctx)
		return nil, fmt.Errorf("otel: metric exporter: %w", err)
	}
	interval := opts.MetricInterval
	if interval <= 0 {
		interval = defaultMetricInterval
	}
	mp := metric.NewMeterProvider(
		metric.WithResource(res),
		metric.WithReader(metric.NewPeriodicReader(metricExp, metric.WithInterval(interval))),
	)
	stack.push(mp.Shutdown)

	logOpts := []otlploggrpc.Option{otlploggrpc.WithEndpoint(target)}
	if plaintext {
		logOpts = append(logOpts, otlploggrpc.WithInsecure())
	}
	logExp, err := otlploggrpc.New(ctx, logOpts...)
	if err != nil {
		_ = stack.unwind(ctx)
		return nil, fmt.Errorf("otel: log exporter: %w", err)
	}
	lp := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewBatchProcessor(logExp)),
		sdklog.WithResource(res),
	)
	stack.push(lp.Shutdown)

	return &Providers{
		TracerProvider: tp,
		MeterProvider:  mp,
		LoggerProvider: lp,
		Shutdown: func(ctx context.Context) error {
			err := stack.unwind(ctx)
			if err != nil {
				log.Warn("otel: provider shutdown failed", zap.Error(err))
			}
			return err
		},
	}, nil
}

// collectorTarget reduces endpoint to the host:port the gRPC exporters dial. Paths are
// dropped. Anything but an https scheme is plaintext.
func collectorTarget(endpoint string) (string, bool, error) {
	endpoint = strings.TrimSpace(endpoint)
	if !strings.Contains(endpoint, "://") {
		endpoint = "http://" + endpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", false, fmt.Errorf("otel: invalid endpoint %q: %w", endpoint, err)
	}
	if u.Host == "" {
		return "", false, fmt.Errorf("otel: invalid endpoint %q: missing host", endpoint)
	}
	return u.Host, u.Scheme != "https", nil
}

// serviceResource is left schemaless so merging never conflicts with the SDK default's schema URL.
func serviceResource(name, env string) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{semconv.ServiceName(name)}
	if env != "" {
		attrs = append(attrs, semconv.DeploymentEnvironmentName(env))
	}
	return resource.Merge(resource.Default(), resource.NewSchemaless(attrs...))
}

// shutdownStack runs provider shutdowns in reverse order of creation, once.
type shutdownStack struct {
	fns []func(context.Context) error
}

func (s *shutdownStack) push(fn func(context.Context) error) {
	s.fns = append(s.fns, fn)
}

func (s *shutdownStack) unwind(ctx context.Context) error {
	var errs []error
	for i := len(s.fns) - 1; i >= 0; i-- {
		if err := s.fns[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	s.fns = nil
	return errors.Join(errs...)
}

// SetGlobal installs the TracerProvider and MeterProvider globally so otelgrpc picks them up.
// The LoggerProvider stays local; hand it to NewEventEmitter.
func (p *Providers) SetGlobal() {
	if p.TracerProvider != nil {
		otel.SetTracerProvider(p.TracerProvider)
	}
	if p.MeterProvider != nil {
		otel.SetMeterProvider(p.MeterProvider)
	}
}
