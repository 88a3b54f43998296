package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span attributes must stay low cardinality. Fingerprints, display names,
// file ids and URLs belong in logs, never in attributes.

// InstrumentedFunc represents a function that can be instrumented.
type InstrumentedFunc func(ctx context.Context) error

// InstrumentOperation wraps fn in a span tagged with the component and
// operation name.
func (t *Telemetry) InstrumentOperation(ctx context.Context, operationName, component string, fn InstrumentedFunc) error {
	if t == nil || t.tracer == nil {
		return fn(ctx)
	}

	start := time.Now()

	ctx, span := t.tracer.Start(ctx, operationName)
	defer span.End()

	span.SetAttributes(
		attribute.String("component", component),
		attribute.String("operation", operationName),
	)

	err := fn(ctx)

	status := statusOf(err)
	if err != nil {
		// The error message stays out of the attributes; the full error is
		// in the span status.
		span.SetAttributes(attribute.Bool("error", true))
		span.SetStatus(codes.Error, err.Error())
	}

	span.SetAttributes(
		attribute.String("status", status),
		attribute.Float64("duration_seconds", time.Since(start).Seconds()),
	)

	return err
}

// InstrumentDBOperation instruments database operations.
func (t *Telemetry) InstrumentDBOperation(ctx context.Context, operation string, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	start := time.Now()
	err := t.InstrumentOperation(ctx, "db_"+operation, "database", fn)

	t.RecordDBOperation(operation, statusOf(err), time.Since(start))

	return err
}

// InstrumentStoreOperation instruments calls to a remote store backend.
func (t *Telemetry) InstrumentStoreOperation(ctx context.Context, store, operation string, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	start := time.Now()

	// Tag the span the operation runs in with the store type
	err := t.InstrumentOperation(ctx, "store_"+operation, "remote_store", func(ctx context.Context) error {
		trace.SpanFromContext(ctx).SetAttributes(
			attribute.String("store.type", store),
			attribute.String("store.operation", operation),
		)

		return fn(ctx)
	})

	t.RecordStoreOperation(store, operation, statusOf(err), time.Since(start))

	return err
}

// InstrumentResolution wraps the remote part of a resolution (add, poll,
// match, link) and keeps the in-flight gauge accurate.
func (t *Telemetry) InstrumentResolution(ctx context.Context, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	t.IncrementResolutionsInFlight()
	defer t.DecrementResolutionsInFlight()

	return t.InstrumentOperation(ctx, "resolve", "resolver", fn)
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}

	return "success"
}
