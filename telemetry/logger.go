package telemetry

import (
	"context"
	"os"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTELHook adds trace and span IDs to every log entry
type OTELHook struct{}

func (h OTELHook) Run(e *zerolog.Event, level zerolog.Level, msg string) {
	ctx := e.GetCtx()
	if ctx == nil {
		return
	}

	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return
	}

	e.Str("trace_id", span.SpanContext().TraceID().String())
	e.Str("span_id", span.SpanContext().SpanID().String())

	if level == zerolog.ErrorLevel {
		span.SetStatus(codes.Error, msg)
	}
}

// Logger wraps zerolog with OTEL integration
type Logger struct {
	zerolog.Logger
}

// NewLogger creates a new logger with OTEL hooks
func NewLogger(component string) *Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs

	logger := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("component", component).
		Logger().
		Hook(OTELHook{})

	return &Logger{Logger: logger}
}

// WithContext returns a logger with context (for trace propagation)
func (l *Logger) WithContext(ctx context.Context) *zerolog.Logger {
	logger := l.Logger.With().Ctx(ctx).Logger()
	return &logger
}

// LogResourceCreate logs a provisioning attempt
func (l *Logger) LogResourceCreate(ctx context.Context, resourceID string, dependencies int) {
	l.WithContext(ctx).Info().
		Str("resource_id", resourceID).
		Int("dependencies", dependencies).
		Str("operation", "create").
		Msg("provisioning resource")
}

// LogResourceDelete logs a teardown attempt
func (l *Logger) LogResourceDelete(ctx context.Context, resourceID string, state string) {
	l.WithContext(ctx).Info().
		Str("resource_id", resourceID).
		Str("state", state).
		Str("operation", "delete").
		Msg("tearing down resource")
}

// LogJobComplete logs a finished job with its service-reported timing
func (l *Logger) LogJobComplete(ctx context.Context, kind string, runSeconds, pendingSeconds float64) {
	l.WithContext(ctx).Info().
		Str("job_kind", kind).
		Float64("run_seconds", runSeconds).
		Float64("pending_seconds", pendingSeconds).
		Msg("job completed")
}

// LogJobFailed logs a failed or timed-out job
func (l *Logger) LogJobFailed(ctx context.Context, kind string, err error) {
	l.WithContext(ctx).Error().
		Err(err).
		Str("job_kind", kind).
		Msg("job failed")
}
