// Package cli holds the wiring shared by the mimir commands: logger and
// tracer construction from configuration, transport selection and the
// terminal point printer.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"github.com/INLOpen/mimir/config"
	"github.com/INLOpen/mimir/hooks"
	"github.com/INLOpen/mimir/hooks/listeners"
	"github.com/INLOpen/mimir/session"
	"github.com/INLOpen/mimir/transport"
	"github.com/INLOpen/mimir/transport/rpc"
	"github.com/INLOpen/mimir/transport/zmq"
)

// CreateLogger creates a slog.Logger based on the provided configuration.
func CreateLogger(cfg config.LoggingConfig) (*slog.Logger, io.Closer, error) {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, nil, fmt.Errorf("invalid log level: %s", cfg.Level)
	}

	var output io.Writer
	var closer io.Closer
	switch strings.ToLower(cfg.Output) {
	case "stdout":
		output = os.Stdout
	case "stderr":
		output = os.Stderr
	case "file":
		if cfg.File == "" {
			return nil, nil, fmt.Errorf("log output is 'file' but no file path is specified")
		}
		file, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file %s: %w", cfg.File, err)
		}
		output = file
		closer = file
	case "none":
		output = io.Discard
	default:
		return nil, nil, fmt.Errorf("invalid log output: %s", cfg.Output)
	}

	logger := slog.New(slog.NewJSONHandler(output, &slog.HandlerOptions{Level: level}))
	return logger, closer, nil
}

// InitTracerProvider creates and configures an OpenTelemetry TracerProvider.
// It sets up an exporter based on the configuration to send traces to a collector.
func InitTracerProvider(cfg config.TracingConfig, serviceName string, logger *slog.Logger) (*sdktrace.TracerProvider, func(), error) {
	if !cfg.Enabled {
		logger.Info("Distributed tracing is disabled.")
		return sdktrace.NewTracerProvider(), func() {}, nil
	}

	logger.Info("Initializing distributed tracing...", "protocol", cfg.Protocol, "endpoint", cfg.Endpoint)

	ctx := context.Background()
	var exporter sdktrace.SpanExporter
	var err error

	switch strings.ToLower(cfg.Protocol) {
	case "http":
		exporter, err = otlptrace.New(ctx, otlptracehttp.NewClient(otlptracehttp.WithEndpoint(cfg.Endpoint), otlptracehttp.WithInsecure()))
	case "grpc":
		exporter, err = otlptrace.New(ctx, otlptracegrpc.NewClient(otlptracegrpc.WithEndpoint(cfg.Endpoint), otlptracegrpc.WithInsecure()))
	default:
		return nil, nil, fmt.Errorf("unsupported tracing protocol: %q", cfg.Protocol)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceNameKey.String(serviceName)))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create trace resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	cleanup := func() {
		logger.Info("Shutting down tracer provider...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Error("Error shutting down tracer provider", "error", err)
		}
	}
	return tp, cleanup, nil
}

// NewConnector returns the connector selected by cfg.Transport. The closer
// releases the transport once every channel is closed.
func NewConnector(cfg config.ClientConfig, logger *slog.Logger) (transport.Connector, io.Closer, error) {
	connectTimeout := config.ParseDuration(cfg.ConnectTimeout, 5*time.Second, logger)
	switch cfg.Transport {
	case "zmq":
		c, err := zmq.NewConnector(zmq.Options{
			Endpoint: transport.Endpoint{
				Host:          cfg.Host,
				SubscribePort: cfg.SubscribePort,
				RequestPort:   cfg.RequestPort,
			},
			ConnectTimeout: connectTimeout,
			Logger:         logger,
		})
		if err != nil {
			return nil, nil, err
		}
		return c, c, nil
	case "grpc":
		c, err := rpc.NewConnector(rpc.Options{
			Target:         net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.SubscribePort)),
			ConnectTimeout: connectTimeout,
			Logger:         logger,
		})
		if err != nil {
			return nil, nil, err
		}
		return c, c, nil
	default:
		return nil, nil, fmt.Errorf("unsupported transport: %q", cfg.Transport)
	}
}

// SessionOptions maps the client configuration onto session options.
func SessionOptions(cfg config.ClientConfig, logger *slog.Logger) session.Options {
	return session.Options{
		Persistent:      cfg.Persistent,
		XKey:            cfg.XKey,
		YKeys:           cfg.YKeys,
		FilterSnapshot:  cfg.FilterSnapshot,
		SnapshotTimeout: config.ParseDuration(cfg.SnapshotTimeout, 0, logger),
		DebugOrdering:   cfg.DebugOrdering,
		TrackDropped:    cfg.TrackDropped,
		Hooks:           NewHookManager(cfg.Hooks, logger),
		Logger:          logger,
	}
}

// NewHookManager registers the listeners enabled in cfg. It returns nil when
// none is, so sessions skip event dispatch entirely.
func NewHookManager(cfg config.HooksConfig, logger *slog.Logger) hooks.HookManager {
	if !cfg.AlertDropped && !cfg.DropMetrics && len(cfg.Outliers) == 0 {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	manager := hooks.NewHookManager(logger)
	if cfg.AlertDropped {
		manager.Register(hooks.EventOnEntryDropped, listeners.NewDropAlerterListener(logger))
	}
	if cfg.DropMetrics {
		l := listeners.NewDropRatioListener(logger)
		manager.Register(hooks.EventPostAppendPoint, l)
		manager.Register(hooks.EventOnEntryDropped, l)
		manager.Register(hooks.EventPostCloseSession, l)
	}
	if len(cfg.Outliers) > 0 {
		rules := make([]listeners.OutlierRule, 0, len(cfg.Outliers))
		for _, o := range cfg.Outliers {
			rules = append(rules, listeners.OutlierRule{Key: o.Key, Thresholds: listeners.Thresholds{Min: o.Min, Max: o.Max}})
		}
		manager.Register(hooks.EventPostAppendPoint, listeners.NewOutlierDetectionListener(logger, rules))
	}
	logger.Info("Session hooks enabled", "alert_dropped", cfg.AlertDropped,
		"drop_metrics", cfg.DropMetrics, "outlier_rules", len(cfg.Outliers))
	return manager
}

// SplitKeys splits a comma separated key list, dropping empty items.
func SplitKeys(s string) []string {
	var keys []string
	for _, k := range strings.Split(s, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}
