package dispatch

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "keel/dispatch"

// Tracing opens a span per dispatch, named after the use case.
func Tracing() Middleware {
	tracer := otel.Tracer(tracerName)
	return func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, req Request) (any, error) {
			ctx, span := tracer.Start(ctx, "dispatch "+req.UseCase(),
				trace.WithAttributes(attribute.String("keel.use_case", req.UseCase())))
			defer span.End()

			result, err := next.Handle(ctx, req)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			return result, err
		})
	}
}
