package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Span attributes must stay bounded: content ids, file paths, URLs and user ids
// belong in logs, not in attributes that feed metrics.

// InstrumentedFunc represents a function that can be instrumented.
type InstrumentedFunc func(ctx context.Context) error

// InstrumentOperation wraps fn in a span named operationName.
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

	status := "success"
	if err != nil {
		status = "error"

		span.SetAttributes(attribute.Bool("error", true))
		span.SetStatus(codes.Error, err.Error())
	}

	span.SetAttributes(
		attribute.String("status", status),
		attribute.Float64("duration_seconds", time.Since(start).Seconds()),
	)

	return err
}

// InstrumentStoreOperation instruments local persistence operations.
func (t *Telemetry) InstrumentStoreOperation(ctx context.Context, operation string, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	start := time.Now()
	err := t.InstrumentOperation(ctx, "store_"+operation, "store", fn)

	t.RecordStoreOperation(ctx, operation, statusOf(err), time.Since(start))

	return err
}

// InstrumentDownload instruments a whole download, from the backend request to
// the final status. bytes is read after fn returns.
func (t *Telemetry) InstrumentDownload(ctx context.Context, bytes *int64, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	start := time.Now()

	t.IncrementActiveDownloads(ctx)
	defer t.DecrementActiveDownloads(ctx)

	err := t.InstrumentOperation(ctx, "download", "downloader", fn)

	var written int64
	if bytes != nil {
		written = *bytes
	}

	t.RecordDownload(ctx, statusOf(err), time.Since(start), written)

	return err
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}

	return "success"
}
