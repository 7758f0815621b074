package orchestrator

import (
	"context"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/fpt/klein-dm/pkg/agent/domain"
	"github.com/fpt/klein-dm/pkg/agent/events"
)

// withRetry calls fn until it succeeds, fails with anything other than a
// protocol error, or has been tried retries+1 times.
func withRetry[T any](ctx context.Context, o *Orchestrator, name string, fn func(context.Context) (T, error)) (T, error) {
	attempts := o.retries + 1
	var (
		out T
		err error
	)
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return out, ctxErr
		}

		callCtx, span := o.tracer.Start(ctx, "collaborator."+name)
		span.SetAttributes(attribute.Int("attempt", attempt))
		out, err = fn(callCtx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()

		if err == nil {
			return out, nil
		}
		if !errors.Is(err, domain.ErrAgentProtocol) {
			return out, err
		}
		o.logger.Warn("Malformed collaborator reply", "collaborator", name, "attempt", attempt, "of", attempts, "error", err)
		o.emit(events.EventTypeProtocolError, events.ErrorData{Error: err, Context: name}, nil)
	}
	var zero T
	return zero, errors.Wrapf(err, "%s gave up after %d attempts", name, attempts)
}
