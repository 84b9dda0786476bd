package otelcol

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/fx/fxtest"

	"investhub-platform/pkg/config"
	"investhub-platform/pkg/otelcol/exporters"
)

func TestRegisterDisabledIsNoop(t *testing.T) {
	lc := fxtest.NewLifecycle(t)
	require.NoError(t, Register(lc, &config.Config{}))
	lc.RequireStart().RequireStop()
}

func TestResourceCarriesServiceName(t *testing.T) {
	cfg := &config.Config{AppName: "investhub", AppVersion: "1.2.3", AppEnv: "staging"}

	res := Resource(cfg)
	set := res.Set()
	name, ok := set.Value(attribute.Key("service.name"))
	require.True(t, ok)
	require.Equal(t, "investhub", name.AsString())

	env, ok := set.Value(attribute.Key("deployment.environment"))
	require.True(t, ok)
	require.Equal(t, "staging", env.AsString())
}

func TestProvideTraceExportsSpans(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	tp := ProvideTrace(exp)

	_, span := tp.Tracer("test").Start(context.Background(), "ledger.credit")
	span.End()
	require.NoError(t, tp.ForceFlush(context.Background()))

	spans := exp.GetSpans()
	require.Len(t, spans, 1)
	require.Equal(t, "ledger.credit", spans[0].Name)
	require.NoError(t, tp.Shutdown(context.Background()))
}

func TestUnsupportedProtocol(t *testing.T) {
	cfg := &config.Config{}
	cfg.Otel.Protocol = "carrier-pigeon"

	_, err := exporters.New(cfg)
	require.Error(t, err)
}
