// Package telemetry wires OpenTelemetry metrics for issuehub.
//
// Telemetry is off unless telemetry.enabled is set in issuehub.yml. With
// telemetry.stdout the meter provider periodically prints metrics to stdout.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/sdk/resource"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const instrumentationScope = "issuehub"

// Options mirrors the telemetry section of the config.
type Options struct {
	Enabled bool
	Stdout  bool
}

var shutdownFns []func(context.Context) error

// Init installs the global meter provider. Disabled telemetry installs a
// no-op provider.
func Init(ctx context.Context, opts Options, serviceName, version string) error {
	if !opts.Enabled {
		otel.SetMeterProvider(metricnoop.NewMeterProvider())
		return nil
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(version),
		),
		resource.WithHost(),
	)
	if err != nil {
		return fmt.Errorf("telemetry: resource: %w", err)
	}
	mpOpts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	if opts.Stdout {
		exp, err := stdoutmetric.New()
		if err != nil {
			return fmt.Errorf("telemetry: stdout exporter: %w", err)
		}
		mpOpts = append(mpOpts, sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(15*time.Second)),
		))
	}
	mp := sdkmetric.NewMeterProvider(mpOpts...)
	otel.SetMeterProvider(mp)
	shutdownFns = append(shutdownFns, mp.Shutdown)
	return nil
}

// Meter returns a meter with the given instrumentation name (or the global scope).
func Meter(name string) metric.Meter {
	if name == "" {
		name = instrumentationScope
	}
	return otel.Meter(name)
}

// Shutdown flushes metrics and shuts the providers down.
func Shutdown(ctx context.Context) {
	for _, fn := range shutdownFns {
		_ = fn(ctx)
	}
	shutdownFns = nil
}

// Workflow holds the issue workflow instruments. A nil *Workflow records nothing.
type Workflow struct {
	transitions   metric.Int64Counter
	rejections    metric.Int64Counter
	focusSeconds  metric.Float64Histogram
	notifications metric.Int64Counter
	webhooks      metric.Int64Counter
}

// NewWorkflow creates the workflow instruments on meter m (the global meter when nil).
func NewWorkflow(m metric.Meter) *Workflow {
	if m == nil {
		m = Meter(instrumentationScope + "/workflow")
	}
	transitions, _ := m.Int64Counter("ih.issue.transitions",
		metric.WithDescription("Issue status transitions applied"),
	)
	rejections, _ := m.Int64Counter("ih.issue.rejections",
		metric.WithDescription("Workflow operations rejected by business rules"),
	)
	focusSeconds, _ := m.Float64Histogram("ih.focus.work_seconds",
		metric.WithDescription("Net work time of ended focus sessions"),
		metric.WithUnit("s"),
	)
	notifications, _ := m.Int64Counter("ih.notify.deliveries",
		metric.WithDescription("Push notification deliveries by outcome"),
	)
	webhooks, _ := m.Int64Counter("ih.webhook.deliveries",
		metric.WithDescription("Webhook deliveries by outcome"),
	)
	return &Workflow{
		transitions:   transitions,
		rejections:    rejections,
		focusSeconds:  focusSeconds,
		notifications: notifications,
		webhooks:      webhooks,
	}
}

func (w *Workflow) Transition(ctx context.Context, from, to string) {
	if w == nil {
		return
	}
	w.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

// Rejected counts a business-rule rejection by error kind.
func (w *Workflow) Rejected(ctx context.Context, op, kind string) {
	if w == nil {
		return
	}
	w.rejections.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("kind", kind),
	))
}

func (w *Workflow) SessionEnded(ctx context.Context, workSeconds int64) {
	if w == nil {
		return
	}
	w.focusSeconds.Record(ctx, float64(workSeconds))
}

func (w *Workflow) Delivered(ctx context.Context, outcome string, n int) {
	if w == nil || n == 0 {
		return
	}
	w.notifications.Add(ctx, int64(n), metric.WithAttributes(attribute.String("outcome", outcome)))
}

// Webhook counts one webhook delivery outcome: delivered, rejected or failed.
func (w *Workflow) Webhook(ctx context.Context, outcome string) {
	if w == nil {
		return
	}
	w.webhooks.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
