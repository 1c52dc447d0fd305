// Package instrument wraps business operations so they emit audit events without hand-written
// logging calls. A wrapped operation's outcome is never altered: its result and error reach the
// caller exactly as returned, and a panic is re-raised after it has been recorded.
package instrument

import (
	"context"
	"fmt"

	audit "storefront/pkg/platform/audit"
	"storefront/pkg/platform/audit/service"
)

// EventLogger records audit events. *service.Service implements it.
type EventLogger interface {
	LogEvent(ctx context.Context, ev service.Event) string
}

// Operation declares what a wrapped call does to which entity.
type Operation[Req any] struct {
	Action audit.Action
	Entity audit.Entity

	// EntityID extracts the affected entity's ID from the request. Optional.
	EntityID func(Req) string
	// Metadata extracts extra context from the request. Optional.
	Metadata func(Req) audit.Fields
}

// Wrap returns fn instrumented with op. Success emits one event; an error emits one FAILURE
// event carrying the error's message and the error is returned unchanged.
func Wrap[Req, Resp any](logger EventLogger, op Operation[Req], fn func(context.Context, Req) (Resp, error)) func(context.Context, Req) (Resp, error) {
	return func(ctx context.Context, req Req) (resp Resp, err error) {
		defer func() {
			if r := recover(); r != nil {
				record(ctx, logger, op, req, fmt.Errorf("panic: %v", r))
				panic(r)
			}
		}()

		resp, err = fn(ctx, req)
		record(ctx, logger, op, req, err)
		return resp, err
	}
}

// WrapFunc is Wrap for operations that return only an error.
func WrapFunc[Req any](logger EventLogger, op Operation[Req], fn func(context.Context, Req) error) func(context.Context, Req) error {
	wrapped := Wrap(logger, op, func(ctx context.Context, req Req) (struct{}, error) {
		return struct{}{}, fn(ctx, req)
	})
	return func(ctx context.Context, req Req) error {
		_, err := wrapped(ctx, req)
		return err
	}
}

// record never panics: a faulty extractor must not change the operation's outcome.
func record[Req any](ctx context.Context, logger EventLogger, op Operation[Req], req Req, opErr error) {
	defer func() { _ = recover() }()

	ev := service.Event{
		Action: op.Action,
		Entity: op.Entity,
		Status: audit.StatusSuccess,
	}
	if op.EntityID != nil {
		ev.EntityID = op.EntityID(req)
	}
	if op.Metadata != nil {
		ev.Metadata = op.Metadata(req)
	}
	if opErr != nil {
		ev.Status = audit.StatusFailure
		ev.ErrorMessage = opErr.Error()
		if ev.ErrorMessage == "" {
			ev.ErrorMessage = fmt.Sprintf("%T", opErr)
		}
	}
	logger.LogEvent(ctx, ev)
}
