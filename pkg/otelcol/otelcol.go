package otelcol

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"investhub-platform/pkg/config"
	"investhub-platform/pkg/otelcol/exporters"
)

// Module installs a global OTLP tracer provider when OTEL.ENABLE is set.
// gorm spans and the trace fields in logger.L pick it up from the globals.
var Module = fx.Module("otelcol", fx.Invoke(Register))

func Resource(cfg *config.Config) *resource.Resource {
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		attribute.String("service.name", cfg.AppName),
		attribute.String("service.version", cfg.AppVersion),
		attribute.String("deployment.environment", cfg.AppEnv),
	))
	if err != nil {
		return resource.Default()
	}
	return res
}

func ProvideTrace(exporter trace.SpanExporter, opts ...trace.TracerProviderOption) *trace.TracerProvider {
	if len(opts) == 0 {
		opts = []trace.TracerProviderOption{trace.WithResource(resource.Default())}
	}

	opts = append(opts, trace.WithBatcher(exporter))

	return trace.NewTracerProvider(opts...)
}

func Register(lc fx.Lifecycle, cfg *config.Config) error {
	if !cfg.Otel.Enable {
		return nil
	}

	exporter, err := exporters.New(cfg)
	if err != nil {
		return err
	}

	tp := ProvideTrace(exporter, trace.WithResource(Resource(cfg)))
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	zap.L().Info("otel tracing enabled",
		zap.String("addr", cfg.Otel.Addr),
		zap.String("protocol", cfg.Otel.Protocol),
	)

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return tp.Shutdown(ctx)
		},
	})
	return nil
}
