// Package observability configures process-wide logging and OpenTelemetry log export.
package observability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/contrib/processors/minsev"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// Log exporters.
const (
	ExporterNone     = "none"
	ExporterStdout   = "stdout"
	ExporterOTLPHTTP = "otlp-http"
	ExporterOTLPGRPC = "otlp-grpc"
)

// instrumentationName identifies this binary's logger in exported records.
const instrumentationName = "github.com/florianilch/copilot-auth"

// Options controls Instrument.
type Options struct {
	Level    slog.Level
	Format   string // text or json
	Exporter string // none, stdout, otlp-http or otlp-grpc

	// Output receives local log lines. Defaults to os.Stderr.
	Output io.Writer
}

// Instrument installs the default slog logger and the global W3C propagator. With an
// exporter other than none, records are also sent through the OpenTelemetry log SDK.
// The returned function flushes and stops the exporter.
func Instrument(ctx context.Context, opts Options) (func(context.Context) error, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	handler, err := newLocalHandler(out, opts.Format, opts.Level)
	if err != nil {
		return nil, err
	}

	shutdown := func(context.Context) error { return nil }

	if opts.Exporter != "" && opts.Exporter != ExporterNone {
		exporter, err := newExporter(ctx, opts.Exporter, out)
		if err != nil {
			return nil, err
		}

		provider := sdklog.NewLoggerProvider(
			sdklog.WithProcessor(minsev.NewLogProcessor(sdklog.NewBatchProcessor(exporter), severity(opts.Level))),
		)
		global.SetLoggerProvider(provider)

		handler = fanout{handler, otelslog.NewHandler(instrumentationName, otelslog.WithLoggerProvider(provider))}
		shutdown = provider.Shutdown
	}

	slog.SetDefault(slog.New(handler))
	return shutdown, nil
}

func newLocalHandler(w io.Writer, format string, level slog.Level) (slog.Handler, error) {
	opts := &slog.HandlerOptions{Level: level}

	switch format {
	case "", "text":
		return traceHandler{slog.NewTextHandler(w, opts)}, nil
	case "json":
		return traceHandler{slog.NewJSONHandler(w, opts)}, nil
	default:
		return nil, fmt.Errorf("unsupported log format: %s", format)
	}
}

func newExporter(ctx context.Context, name string, stdout io.Writer) (sdklog.Exporter, error) {
	switch name {
	case ExporterStdout:
		return stdoutlog.New(stdoutlog.WithWriter(stdout))
	case ExporterOTLPHTTP:
		// Endpoint and headers come from the standard OTEL_EXPORTER_OTLP_* variables.
		return otlploghttp.New(ctx)
	case ExporterOTLPGRPC:
		return otlploggrpc.New(ctx)
	default:
		return nil, errors.New("unsupported log exporter: " + name)
	}
}

// severity maps a slog level onto the OpenTelemetry minimum severity.
func severity(level slog.Level) minsev.Severity {
	switch {
	case level <= slog.LevelDebug:
		return minsev.SeverityDebug
	case level <= slog.LevelInfo:
		return minsev.SeverityInfo
	case level <= slog.LevelWarn:
		return minsev.SeverityWarn
	default:
		return minsev.SeverityError
	}
}
