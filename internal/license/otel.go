package license

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	lerrors "github.com/christian-schlichtherle/truelicense-sub000/internal/errors"
)

const (
	TracerName = "license-manager"
	MeterName  = "license-manager"
	component  = "license_manager"
)

// Operation names used in spans, metrics and logs
const (
	OpGenerate  = "generate"
	OpSave      = "save"
	OpInstall   = "install"
	OpLoad      = "load"
	OpVerify    = "verify"
	OpUninstall = "uninstall"
)

// Metrics holds the license manager instruments
type Metrics struct {
	Operations  metric.Int64Counter
	Failures    metric.Int64Counter
	Duration    metric.Float64Histogram
	CacheHits   metric.Int64Counter
	CacheMisses metric.Int64Counter
	TrialKeys   metric.Int64Counter
}

// NewMetrics creates the license manager instruments
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	if m.Operations, err = meter.Int64Counter(
		"license_operations_total",
		metric.WithDescription("Total number of license manager operations"),
	); err != nil {
		return nil, fmt.Errorf("failed to create operations counter: %w", err)
	}
	if m.Failures, err = meter.Int64Counter(
		"license_operation_failures_total",
		metric.WithDescription("Total number of failed license manager operations"),
	); err != nil {
		return nil, fmt.Errorf("failed to create failures counter: %w", err)
	}
	if m.Duration, err = meter.Float64Histogram(
		"license_operation_duration_seconds",
		metric.WithDescription("License manager operation duration in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("failed to create duration histogram: %w", err)
	}
	if m.CacheHits, err = meter.Int64Counter(
		"license_cache_hits_total",
		metric.WithDescription("Total number of license cache hits"),
	); err != nil {
		return nil, fmt.Errorf("failed to create cache hits counter: %w", err)
	}
	if m.CacheMisses, err = meter.Int64Counter(
		"license_cache_misses_total",
		metric.WithDescription("Total number of license cache misses"),
	); err != nil {
		return nil, fmt.Errorf("failed to create cache misses counter: %w", err)
	}
	if m.TrialKeys, err = meter.Int64Counter(
		"license_trial_keys_generated_total",
		metric.WithDescription("Total number of generated free trial license keys"),
	); err != nil {
		return nil, fmt.Errorf("failed to create trial keys counter: %w", err)
	}
	return m, nil
}

// DefaultMetrics creates the instruments on the global meter provider
func DefaultMetrics() (*Metrics, error) {
	return NewMetrics(otel.Meter(MeterName))
}

// observe runs fn in a span and records its outcome
func (e *engine) observe(ctx context.Context, op string, fn func(context.Context) error) error {
	ctx, span := otel.Tracer(TracerName).Start(ctx, "license."+op,
		trace.WithAttributes(
			attribute.String("license.operation", op),
			attribute.String("license.subject", e.subject),
			attribute.String("component", component),
		),
	)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	e.logOperation(ctx, op, start, err)
	return err
}

// logOperation logs the outcome of an operation and records it on the
// active span and in the metrics
func (e *engine) logOperation(ctx context.Context, op string, start time.Time, err error) {
	duration := time.Since(start)
	e.recordMetrics(ctx, op, duration, err)

	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.SetAttributes(
			attribute.Float64("license.duration_ms", float64(duration.Milliseconds())),
			attribute.Bool("license.success", err == nil),
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, lerrors.PublicMessage(err))
			span.SetAttributes(attribute.String("license.error_type", classifyError(err)))
		} else {
			span.SetStatus(codes.Ok, "")
		}
	}

	attrs := []slog.Attr{
		slog.String("component", component),
		slog.String("operation", op),
		slog.String("subject", e.subject),
		slog.Duration("duration", duration),
	}
	switch {
	case err == nil:
		level := slog.LevelInfo
		if op == OpLoad || op == OpVerify {
			level = slog.LevelDebug
		}
		e.logger.LogAttrs(ctx, level, "license operation completed", attrs...)
	case lerrors.KindOf(err) == lerrors.KindValidation:
		attrs = append(attrs, slog.String("error", err.Error()))
		e.logger.LogAttrs(ctx, slog.LevelWarn, "license operation rejected", attrs...)
	default:
		attrs = append(attrs,
			slog.String("error_type", classifyError(err)),
			slog.String("error", err.Error()))
		e.logger.LogAttrs(ctx, slog.LevelError, "license operation failed", attrs...)
	}
}

func (e *engine) recordMetrics(ctx context.Context, op string, duration time.Duration, err error) {
	if e.metrics == nil {
		return
	}
	labels := metric.WithAttributes(
		attribute.String("operation", op),
		attribute.String("component", component),
	)
	e.metrics.Operations.Add(ctx, 1, labels)
	e.metrics.Duration.Record(ctx, duration.Seconds(), labels)
	if err != nil {
		e.metrics.Failures.Add(ctx, 1, metric.WithAttributes(
			attribute.String("operation", op),
			attribute.String("component", component),
			attribute.String("error_type", classifyError(err)),
		))
	}
}

func (e *engine) recordCache(ctx context.Context, slot string, hit bool) {
	if e.metrics == nil {
		return
	}
	labels := metric.WithAttributes(
		attribute.String("cache", slot),
		attribute.String("component", component),
	)
	if hit {
		e.metrics.CacheHits.Add(ctx, 1, labels)
	} else {
		e.metrics.CacheMisses.Add(ctx, 1, labels)
	}
}

func (e *engine) recordTrialKey(ctx context.Context) {
	if e.metrics == nil {
		return
	}
	e.metrics.TrialKeys.Add(ctx, 1, metric.WithAttributes(attribute.String("component", component)))
}

// classifyError maps err to a low cardinality label
func classifyError(err error) string {
	if err == nil {
		return ""
	}
	if !lerrors.IsClassified(err) {
		return "unauthorized"
	}
	return lerrors.KindOf(err).String()
}
