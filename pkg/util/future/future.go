package future

import (
	"context"
	"sync"
)

// Future is a value that is set exactly once and can be waited on by any number of readers.
type Future[T any] interface {
	Set(T)
	Get() T
	GetContext(context.Context) (T, error)
	IsSet() bool
}

type future[T any] struct {
	once  sync.Once
	value T
	wait  chan struct{}
}

func New[T any]() Future[T] {
	return &future[T]{
		wait: make(chan struct{}),
	}
}

func Instant[T any](value T) Future[T] {
	f := New[T]()
	f.Set(value)
	return f
}

// Set stores value and wakes all readers. Only the first call has an effect.
func (f *future[T]) Set(value T) {
	f.once.Do(func() {
		f.value = value
		close(f.wait)
	})
}

func (f *future[T]) Get() T {
	<-f.wait
	return f.value
}

func (f *future[T]) GetContext(ctx context.Context) (T, error) {
	select {
	case <-f.wait:
		return f.value, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func (f *future[T]) IsSet() bool {
	select {
	case <-f.wait:
		return true
	default:
		return false
	}
}
