package lock

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Factory hands out lock handles bound to a single state manager.
type Factory struct {
	manager StateManager
	opts    []LockOption
}

func NewFactory(manager StateManager, opts ...LockOption) *Factory {
	return &Factory{
		manager: manager,
		opts:    opts,
	}
}

// Lock returns a new handle for id. Handles are not cached: any two handles for the same
// id are interchangeable.
func (f *Factory) Lock(id string, opts ...LockOption) *Lock {
	options := DefaultLockOptions()
	options.Apply(f.opts...)
	options.Apply(opts...)
	return &Lock{
		id:          id,
		manager:     f.manager,
		LockOptions: options,
	}
}

// Lock is a stateless reference to a resource id held through a StateManager.
// All hold state lives in the manager.
type Lock struct {
	id      string
	manager StateManager

	*LockOptions
}

func (l *Lock) ID() string {
	return l.id
}

func (l *Lock) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if !l.TracingEnabled() {
		return ctx, nil
	}
	return l.Tracer.Start(ctx, name, trace.WithAttributes(
		attribute.KeyValue{
			Key:   "id",
			Value: attribute.StringValue(l.id),
		},
	))
}

func endSpan(span trace.Span) {
	if span != nil {
		span.End()
	}
}

func (l *Lock) Acquire(ctx context.Context) error {
	ctx, span := l.startSpan(ctx, "Lock/acquire")
	defer endSpan(span)
	if err := l.manager.Acquire(ctx, l.id); err != nil {
		l.RecordError(span, err)
		return err
	}
	if l.Logger != nil {
		l.Logger.Debug("acquired lock", "id", l.id)
	}
	return nil
}

func (l *Lock) Release(ctx context.Context) error {
	ctx, span := l.startSpan(ctx, "Lock/release")
	defer endSpan(span)
	if err := l.manager.Release(ctx, l.id); err != nil {
		l.RecordError(span, err)
		return err
	}
	if l.Logger != nil {
		l.Logger.Debug("released lock", "id", l.id)
	}
	return nil
}

func (l *Lock) Locked(ctx context.Context) (bool, error) {
	return l.manager.IsActivelyLocked(ctx, l.id)
}

// Do acquires the lock, runs fn and releases the lock on every exit path, including panics.
// The error returned by fn is returned as is; a release error is only reported when fn succeeded.
func (l *Lock) Do(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	ctx, span := l.startSpan(ctx, "Lock/do")
	defer endSpan(span)
	if err := l.Acquire(ctx); err != nil {
		return err
	}
	defer func() {
		// the hold must not outlive a cancelled caller
		relErr := l.Release(context.WithoutCancel(ctx))
		if err == nil {
			err = relErr
		}
		l.RecordError(span, err)
	}()
	return fn(ctx)
}
