// ABOUTME: Prometheus metrics and trace spans for lifecycle operations
// ABOUTME: Every operation records one span, one counter increment, and one duration sample

package orchestrator

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	operationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clawhuddle_gateway_operations_total",
			Help: "Gateway lifecycle operations by operation and result",
		},
		[]string{"operation", "result"},
	)
	operationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "clawhuddle_gateway_operation_duration_seconds",
			Help:    "Duration of gateway lifecycle operations in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~82s
		},
		[]string{"operation"},
	)
)

var tracer = otel.Tracer("github.com/2389/clawhuddle/orchestrator")

func init() {
	prometheus.MustRegister(operationsTotal, operationDuration)
}

func result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case IsPrecondition(err):
		return "rejected"
	default:
		return "error"
	}
}

// operation tracks one lifecycle call.
type operation struct {
	name  string
	start time.Time
	span  trace.Span
}

func startOperation(ctx context.Context, name, orgID, memberID string) (context.Context, *operation) {
	ctx, span := tracer.Start(ctx, "gateway."+name, trace.WithAttributes(
		attribute.String("clawhuddle.org.id", orgID),
		attribute.String("clawhuddle.member.id", memberID),
	))
	return ctx, &operation{name: name, start: time.Now(), span: span}
}

// end records the outcome. Call it deferred with a pointer to the named error.
func (op *operation) end(errp *error) {
	var err error
	if errp != nil {
		err = *errp
	}
	operationsTotal.WithLabelValues(op.name, result(err)).Inc()
	operationDuration.WithLabelValues(op.name).Observe(time.Since(op.start).Seconds())

	if err != nil {
		op.span.RecordError(err)
		if !IsPrecondition(err) {
			op.span.SetStatus(codes.Error, err.Error())
		}
	}
	op.span.End()
}
