// Package observability configures process-wide logging.
//
// Text output goes straight through a slog text handler. JSON output and OTLP
// export are routed through the OpenTelemetry log SDK via the otelslog bridge,
// so records carry the trace context of the operation that emitted them.
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
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	"go.opentelemetry.io/otel/log/global"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
)

// ServiceName identifies this process in exported log records.
const ServiceName = "hopx-cli"

const instrumentationScope = "github.com/hopx-ai/hopx-cli"

// OTLP transport protocols.
const (
	ProtocolHTTP = "http"
	ProtocolGRPC = "grpc"
)

// Options selects how log records are written and exported.
type Options struct {
	Level  slog.Level
	Format string // text or json

	// OTLPEndpoint enables export to an OTLP collector when set, e.g. http://localhost:4318.
	OTLPEndpoint string
	OTLPProtocol string // http (default) or grpc
}

// ShutdownFunc flushes pending log records and releases exporters.
type ShutdownFunc func(context.Context) error

// Instrument installs the default slog logger writing to stderr.
// Stdout stays reserved for command output such as tokens and status JSON.
// The returned ShutdownFunc must be called before exit to flush OTLP exports.
func Instrument(ctx context.Context, opts Options) (ShutdownFunc, error) {
	handler, shutdown, err := newHandler(ctx, os.Stderr, opts)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(slog.New(handler))
	return shutdown, nil
}

func newHandler(ctx context.Context, w io.Writer, opts Options) (slog.Handler, ShutdownFunc, error) {
	var (
		handlers   []slog.Handler
		processors []sdklog.Processor
	)

	switch opts.Format {
	case "", "text":
		handlers = append(handlers, slog.NewTextHandler(w, &slog.HandlerOptions{Level: opts.Level}))
	case "json":
		exporter, err := stdoutlog.New(stdoutlog.WithWriter(w))
		if err != nil {
			return nil, nil, fmt.Errorf("creating stdout log exporter: %w", err)
		}
		processors = append(processors, sdklog.NewSimpleProcessor(exporter))
	default:
		return nil, nil, fmt.Errorf("unsupported log format: %s", opts.Format)
	}

	if opts.OTLPEndpoint != "" {
		exporter, err := newOTLPExporter(ctx, opts.OTLPProtocol, opts.OTLPEndpoint)
		if err != nil {
			return nil, nil, err
		}
		processors = append(processors, sdklog.NewBatchProcessor(exporter))
	}

	shutdown := func(context.Context) error { return nil }
	if len(processors) > 0 {
		provider := newLoggerProvider(opts.Level, processors)
		global.SetLoggerProvider(provider)
		shutdown = provider.Shutdown
		handlers = append(handlers, otelslog.NewHandler(instrumentationScope, otelslog.WithLoggerProvider(provider)))

		// Exporter failures must not recurse into the logger that produced them
		otel.SetErrorHandler(otel.ErrorHandlerFunc(func(err error) {
			_, _ = fmt.Fprintf(w, "log export failed: %v\n", err)
		}))
	}

	if len(handlers) == 1 {
		return handlers[0], shutdown, nil
	}
	return fanout(handlers), shutdown, nil
}

func newLoggerProvider(level slog.Level, processors []sdklog.Processor) *sdklog.LoggerProvider {
	res := resource.NewSchemaless(attribute.String("service.name", ServiceName))

	opts := []sdklog.LoggerProviderOption{sdklog.WithResource(res)}
	for _, p := range processors {
		opts = append(opts, sdklog.WithProcessor(minsev.NewLogProcessor(p, minSeverity(level))))
	}
	return sdklog.NewLoggerProvider(opts...)
}

func newOTLPExporter(ctx context.Context, protocol, endpoint string) (sdklog.Exporter, error) {
	switch protocol {
	case "", ProtocolHTTP:
		exporter, err := otlploghttp.New(ctx, otlploghttp.WithEndpointURL(endpoint))
		if err != nil {
			return nil, fmt.Errorf("creating otlp http log exporter: %w", err)
		}
		return exporter, nil
	case ProtocolGRPC:
		exporter, err := otlploggrpc.New(ctx, otlploggrpc.WithEndpointURL(endpoint))
		if err != nil {
			return nil, fmt.Errorf("creating otlp grpc log exporter: %w", err)
		}
		return exporter, nil
	default:
		return nil, fmt.Errorf("unsupported otlp protocol: %s", protocol)
	}
}

// minSeverity maps a slog level onto the nearest OpenTelemetry severity floor.
func minSeverity(level slog.Level) minsev.Severity {
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

// fanout dispatches every record to all handlers that accept its level.
type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f {
		if h.Enabled(ctx, r.Level) {
			errs = append(errs, h.Handle(ctx, r.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanout) WithGroup(name string) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}
