//go:build !otel

// Package telemetry exports traces and metrics to an OTLP backend when the
// binary is built with -tags otel. The default build compiles to a no-op so
// the exporter SDKs stay out of the binary unless asked for.
package telemetry

import (
	"context"
	"log/slog"

	"github.com/nextlevelbuilder/agentgate/internal/config"
)

// Init does nothing in the default build. Build with 'go build -tags otel'
// to compile the OTLP exporters in.
func Init(_ context.Context, cfg config.TelemetryConfig) (func(context.Context) error, error) {
	if cfg.Enabled {
		slog.Info("telemetry enabled in config but exporters not compiled in; rebuild with -tags otel")
	}
	return func(context.Context) error { return nil }, nil
}
