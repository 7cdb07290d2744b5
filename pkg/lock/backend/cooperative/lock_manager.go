package cooperative

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/alexandreLamarre/lockstate/pkg/constants"
	"github.com/alexandreLamarre/lockstate/pkg/lock"
	"github.com/alexandreLamarre/lockstate/pkg/lock/broker"
)

func init() {
	broker.RegisterLockBroker(
		constants.CooperativeLockManager,
		func(ctx context.Context, l broker.LockBroker) (lock.StateManager, error) {
			return NewLockManager(ctx, l.Lg), nil
		},
	)
}

// LockManager is an in-process state manager where a single scheduler goroutine owns the
// registry. Callers hand requests to the scheduler and suspend until it grants them the
// resource, so registry bookkeeping for any id interleaves freely with other callers' waits.
//
// Waiters on the same id are granted in FIFO order.
//
// Entries are never reclaimed: the set of distinct ids used with a LockManager must be bounded.
type LockManager struct {
	requests chan request
	stopped  chan struct{}
	stopOnce sync.Once
	cancel   context.CancelFunc

	lg *slog.Logger
}

var _ lock.StateManager = (*LockManager)(nil)
var _ lock.HealthChecker = (*LockManager)(nil)
var _ lock.RegistrySizer = (*LockManager)(nil)

// NewLockManager starts the scheduler. It runs until ctx is done or Close is called,
// after which every operation fails with lock.ErrBackendUnavailable.
func NewLockManager(ctx context.Context, lg *slog.Logger) *LockManager {
	ctxca, ca := context.WithCancel(ctx)
	lm := &LockManager{
		requests: make(chan request),
		stopped:  make(chan struct{}),
		cancel:   ca,
		lg:       lg,
	}
	s := &scheduler{
		locks: map[string]*entry{},
		lg:    lg,
	}
	go func() {
		defer close(lm.stopped)
		s.run(ctxca, lm.requests)
	}()
	return lm
}

// Close stops the scheduler. Callers suspended in Acquire are woken with lock.ErrBackendUnavailable.
func (lm *LockManager) Close() {
	lm.stopOnce.Do(func() {
		lm.cancel()
	})
	<-lm.stopped
}

func (lm *LockManager) errStopped() error {
	return fmt.Errorf("%w : cooperative scheduler stopped", lock.ErrBackendUnavailable)
}

// submit hands req to the scheduler, giving up if the caller's context ends first.
func (lm *LockManager) submit(ctx context.Context, req request) error {
	select {
	case lm.requests <- req:
		return nil
	case <-lm.stopped:
		return lm.errStopped()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// submitDetached hands req to the scheduler regardless of the caller's context.
func (lm *LockManager) submitDetached(req request) error {
	select {
	case lm.requests <- req:
		return nil
	case <-lm.stopped:
		return lm.errStopped()
	}
}

func (lm *LockManager) Acquire(ctx context.Context, id string) error {
	w := newWaiter()
	if err := lm.submit(ctx, request{op: opAcquire, id: id, waiter: w}); err != nil {
		return err
	}
	select {
	case <-w.granted:
		return nil
	case <-lm.stopped:
		return lm.errStopped()
	case <-ctx.Done():
		lm.lg.With("id", id).Debug("abandoning lock acquisition")
		if err := lm.submitDetached(request{op: opAbandon, id: id, waiter: w}); err != nil {
			return err
		}
		return ctx.Err()
	}
}

func (lm *LockManager) Release(ctx context.Context, id string) error {
	done := make(chan struct{})
	if err := lm.submit(ctx, request{op: opRelease, id: id, done: done}); err != nil {
		return err
	}
	<-done
	return nil
}

func (lm *LockManager) IsActivelyLocked(ctx context.Context, id string) (bool, error) {
	reply := make(chan bool, 1)
	if err := lm.submit(ctx, request{op: opLocked, id: id, reply: reply}); err != nil {
		return false, err
	}
	return <-reply, nil
}

func (lm *LockManager) Health(_ context.Context) ([]string, error) {
	select {
	case <-lm.stopped:
		return []string{"cooperative scheduler stopped"}, nil
	default:
		return []string{}, nil
	}
}

// Len returns the number of registry entries.
func (lm *LockManager) Len(ctx context.Context) (int, error) {
	reply := make(chan int, 1)
	if err := lm.submit(ctx, request{op: opLen, size: reply}); err != nil {
		return 0, err
	}
	return <-reply, nil
}
