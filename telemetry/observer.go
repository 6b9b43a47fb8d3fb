package telemetry

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/MrEthical07/authcore/storage"
)

const instrumentationName = "github.com/MrEthical07/authcore/storage"

// TraceObserver opens one client span per store operation.
type TraceObserver struct {
	tracer trace.Tracer
}

// NewTraceObserver uses tp, or the global provider when tp is nil.
func NewTraceObserver(tp trace.TracerProvider) *TraceObserver {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &TraceObserver{tracer: tp.Tracer(instrumentationName)}
}

// Start implements storage.Observer. Not-found results are not span errors.
func (o *TraceObserver) Start(ctx context.Context, op string) (context.Context, func(error)) {
	ctx, span := o.tracer.Start(ctx, "store."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("db.operation.name", op)),
	)
	return ctx, func(err error) {
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

// DefaultSlowThreshold marks operations worth a warning.
const DefaultSlowThreshold = 250 * time.Millisecond

// LogObserver logs store operations at debug level, slow ones at warn and
// backend failures at error.
type LogObserver struct {
	logger *zap.Logger
	clock  clockwork.Clock
	slow   time.Duration
}

// NewLogObserver returns a LogObserver. Zero slow means DefaultSlowThreshold.
func NewLogObserver(logger *zap.Logger, clock clockwork.Clock, slow time.Duration) *LogObserver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if slow <= 0 {
		slow = DefaultSlowThreshold
	}
	return &LogObserver{logger: logger.Named("store"), clock: clock, slow: slow}
}

// Start implements storage.Observer.
func (o *LogObserver) Start(ctx context.Context, op string) (context.Context, func(error)) {
	started := o.clock.Now()
	return ctx, func(err error) {
		elapsed := o.clock.Since(started)
		fields := []zap.Field{zap.String("op", op), zap.Duration("elapsed", elapsed)}
		switch {
		case errors.Is(err, storage.ErrUnavailable):
			o.logger.Error("store operation failed", append(fields, zap.Error(err))...)
		case elapsed >= o.slow:
			o.logger.Warn("slow store operation", append(fields, zap.Error(err))...)
		default:
			if ce := o.logger.Check(zap.DebugLevel, "store operation"); ce != nil {
				ce.Write(append(fields, zap.Error(err))...)
			}
		}
	}
}

// Observers fans out to every member. Completion runs in reverse order so
// nested spans close inside out.
type Observers []storage.Observer

// Start implements storage.Observer.
func (obs Observers) Start(ctx context.Context, op string) (context.Context, func(error)) {
	dones := make([]func(error), 0, len(obs))
	for _, o := range obs {
		if o == nil {
			continue
		}
		var done func(error)
		ctx, done = o.Start(ctx, op)
		dones = append(dones, done)
	}
	return ctx, func(err error) {
		for i := len(dones) - 1; i >= 0; i-- {
			dones[i](err)
		}
	}
}
