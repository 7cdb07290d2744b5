package lock

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	// ErrBackendUnavailable is returned when a state manager cannot service a request
	// because its backend is gone, as opposed to the resource being contested.
	ErrBackendUnavailable = errors.New("lock backend unavailable")
)

// StateManager coordinates exclusive access to resources named by opaque string ids.
//
// Safety : at most one caller holds a given id at any instant.
// Visibility : immediately after Acquire returns nil, IsActivelyLocked reports true for that id.
// Independence : acquiring distinct ids never blocks either caller on the other.
//
// Acquisition is not reentrant: a caller acquiring an id it already holds waits forever,
// or until its context is done.
type StateManager interface {
	// Acquire blocks until the caller holds exclusive access to id, or the context is done.
	Acquire(ctx context.Context, id string) error
	// Release relinquishes exclusive access to id. Releasing an unknown or unheld id is a no-op.
	Release(ctx context.Context, id string) error
	// IsActivelyLocked is a best effort snapshot of whether id is currently held.
	IsActivelyLocked(ctx context.Context, id string) (bool, error)
}

// HealthChecker is implemented by state managers that can report on their backend.
// An empty list of conditions means the backend is healthy.
type HealthChecker interface {
	Health(ctx context.Context) (conditions []string, err error)
}

// RegistrySizer is implemented by state managers that keep one registry entry per id
// and never reclaim them.
type RegistrySizer interface {
	Len(ctx context.Context) (int, error)
}

type LockOptions struct {
	Tracer trace.Tracer
	Logger *slog.Logger
}

func DefaultLockOptions() *LockOptions {
	return &LockOptions{}
}

func (o *LockOptions) Apply(opts ...LockOption) {
	for _, op := range opts {
		op(o)
	}
}

func (o *LockOptions) TracingEnabled() bool {
	return o.Tracer != nil
}

func (o *LockOptions) RecordError(span trace.Span, err error) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

type LockOption func(o *LockOptions)

func WithTracer(tracer trace.Tracer) LockOption {
	return func(o *LockOptions) {
		o.Tracer = tracer
	}
}

func WithLogger(lg *slog.Logger) LockOption {
	return func(o *LockOptions) {
		o.Logger = lg
	}
}
