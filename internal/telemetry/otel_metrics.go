package telemetry

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/anubani/ibnet/internal/ib"
)

var _ ib.MetricHook = (*OTelMetrics)(nil)

// OTelMetrics implements ib.MetricHook pushing counters to an OTLP
// collector. All hook methods run on the dispatcher goroutine; the
// periodic reader exports in the background.
type OTelMetrics struct {
	provider *sdkmetric.MeterProvider
	meter    metric.Meter
	ctx      context.Context

	eqPolls     metric.Int64Counter
	sendsDone   metric.Int64Counter
	recvsDone   metric.Int64Counter
	recvRefills metric.Int64Counter
}

// NewOTelMetrics creates an OTLP-backed metric hook. The collector
// address carries the protocol as its scheme: grpc, grpcs, http or
// https; a schemeless host:port defaults to grpc.
func NewOTelMetrics(ctx context.Context, instanceID, collectorAddr string) (*OTelMetrics, error) {
	parsedURL, err := url.Parse(collectorAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse otel-collector-addr '%s': %w", collectorAddr, err)
	}

	exporterEndpoint := parsedURL.Host
	if parsedURL.Host == "" {
		if parsedURL.Path != "" && !strings.Contains(parsedURL.Path, "/") {
			exporterEndpoint = parsedURL.Path
		} else if parsedURL.Opaque != "" && !strings.Contains(parsedURL.Opaque, "/") {
			exporterEndpoint = parsedURL.Opaque
		} else if collectorAddr != "" && !strings.Contains(collectorAddr, "/") && strings.Contains(collectorAddr, ":") {
			exporterEndpoint = collectorAddr
		} else {
			return nil, fmt.Errorf("otel-collector-addr '%s' is missing a host or is not a valid schemeless address (e.g. localhost:4317)", collectorAddr)
		}
	}

	if parsedURL.Scheme == "" {
		parsedURL.Scheme = "grpc"
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName("ibnetd"),
			semconv.ServiceVersion("0.1.0"),
			semconv.ServiceInstanceID(instanceID),
		),
	)
	if err != nil {
		return nil, err
	}

	var exporter sdkmetric.Exporter
	switch strings.ToLower(parsedURL.Scheme) {
	case "grpc":
		exporter, err = otlpmetricgrpc.New(
			ctx,
			otlpmetricgrpc.WithEndpoint(exporterEndpoint),
			otlpmetricgrpc.WithInsecure(),
		)
	case "grpcs":
		exporter, err = otlpmetricgrpc.New(
			ctx,
			otlpmetricgrpc.WithEndpoint(exporterEndpoint),
		)
	case "http", "https":
		options := []otlpmetrichttp.Option{
			otlpmetrichttp.WithEndpoint(exporterEndpoint),
		}
		if parsedURL.Scheme == "http" {
			options = append(options, otlpmetrichttp.WithInsecure())
		}
		exporter, err = otlpmetrichttp.New(ctx, options...)
	default:
		return nil, fmt.Errorf("unsupported OTLP exporter protocol scheme: '%s' in %s. Use 'grpc', 'grpcs', 'http', or 'https'", parsedURL.Scheme, collectorAddr)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter (%s://%s): %w", parsedURL.Scheme, exporterEndpoint, err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(
				exporter,
				sdkmetric.WithInterval(10*time.Second),
			),
		),
	)
	otel.SetMeterProvider(provider)

	meter := provider.Meter("github.com/anubani/ibnet")

	m := &OTelMetrics{provider: provider, meter: meter, ctx: ctx}

	if m.eqPolls, err = meter.Int64Counter(
		"ibnet.event_queue_polls",
		metric.WithDescription("Number of device event queue poll cycles"),
		metric.WithUnit("{poll}"),
	); err != nil {
		return nil, err
	}
	if m.sendsDone, err = meter.Int64Counter(
		"ibnet.send_completions",
		metric.WithDescription("Number of send work queue completions"),
		metric.WithUnit("{completion}"),
	); err != nil {
		return nil, err
	}
	if m.recvsDone, err = meter.Int64Counter(
		"ibnet.recv_completions",
		metric.WithDescription("Number of receive work queue completions"),
		metric.WithUnit("{completion}"),
	); err != nil {
		return nil, err
	}
	if m.recvRefills, err = meter.Int64Counter(
		"ibnet.recv_refills",
		metric.WithDescription("Number of receive buffers posted by the refill path"),
		metric.WithUnit("{buffer}"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *OTelMetrics) EventQueuePolled(dev string) {
	m.eqPolls.Add(m.ctx, 1, metric.WithAttributes(attribute.String("device", dev)))
}

func (m *OTelMetrics) SendCompleted(dev string, canceled bool) {
	m.sendsDone.Add(m.ctx, 1, metric.WithAttributes(
		attribute.String("device", dev),
		attribute.Bool("canceled", canceled),
	))
}

func (m *OTelMetrics) RecvCompleted(dev string, canceled bool) {
	m.recvsDone.Add(m.ctx, 1, metric.WithAttributes(
		attribute.String("device", dev),
		attribute.Bool("canceled", canceled),
	))
}

func (m *OTelMetrics) RecvRefilled(dev string, posted int) {
	m.recvRefills.Add(m.ctx, int64(posted), metric.WithAttributes(attribute.String("device", dev)))
}

// Shutdown flushes and stops the metrics provider.
func (m *OTelMetrics) Shutdown(ctx context.Context) error {
	return m.provider.Shutdown(ctx)
}
