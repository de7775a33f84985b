package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Validatable marks requests that carry their own input checks.
type Validatable interface {
	Validate() error
}

// ValidationError reports a request that failed validation. It short-circuits
// dispatch before the handler runs, so nothing is ever registered or flushed.
type ValidationError struct {
	UseCase string
	Err     error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %q: %v", e.UseCase, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Validation checks requests implementing Validatable before the rest of the
// chain runs. Register it first so nothing downstream sees invalid input.
func Validation() Middleware {
	return func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, req Request) (any, error) {
			if v, ok := req.(Validatable); ok {
				if err := v.Validate(); err != nil {
					return nil, &ValidationError{UseCase: req.UseCase(), Err: err}
				}
			}
			return next.Handle(ctx, req)
		})
	}
}

// Logging records every dispatch with its use case, duration, and outcome.
func Logging(logger *slog.Logger) Middleware {
	return func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, req Request) (any, error) {
			start := time.Now()
			result, err := next.Handle(ctx, req)
			if err != nil {
				logger.ErrorContext(ctx, "dispatch failed",
					"use_case", req.UseCase(),
					"duration", time.Since(start),
					"error", err)
				return nil, err
			}
			logger.InfoContext(ctx, "dispatch completed",
				"use_case", req.UseCase(),
				"duration", time.Since(start))
			return result, nil
		})
	}
}
