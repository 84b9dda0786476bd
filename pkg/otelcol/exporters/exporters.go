package exporters

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"

	"investhub-platform/pkg/config"
)

const (
	ProtocolGrpc = "grpc"
	ProtocolHttp = "http"
)

// New builds the OTLP span exporter selected by OTEL.PROTOCOL.
func New(cfg *config.Config) (*otlptrace.Exporter, error) {
	switch cfg.Otel.Protocol {
	case ProtocolGrpc, "":
		return ProvideGrpc(cfg)
	case ProtocolHttp:
		return ProvideHttp(cfg)
	default:
		return nil, fmt.Errorf("unsupported otel protocol %q", cfg.Otel.Protocol)
	}
}

func ProvideGrpc(cfg *config.Config) (*otlptrace.Exporter, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client := otlptracegrpc.NewClient(
		otlptracegrpc.WithEndpoint(cfg.Otel.Addr),
		otlptracegrpc.WithInsecure(),
		otlptracegrpc.WithCompressor("gzip"),
	)

	return otlptrace.New(ctx, client)
}

func ProvideHttp(cfg *config.Config) (*otlptrace.Exporter, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client := otlptracehttp.NewClient(
		otlptracehttp.WithEndpoint(cfg.Otel.Addr),
		otlptracehttp.WithInsecure(),
		otlptracehttp.WithCompression(otlptracehttp.GzipCompression),
	)

	return otlptrace.New(ctx, client)
}
