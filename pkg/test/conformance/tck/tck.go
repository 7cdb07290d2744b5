// Package tck is the conformance kit every lock.StateManager implementation must pass.
//
// Check contends a fixed number of workers on a single resource id, each holding it for a
// fixed duration, and verifies that the workers were serialized, that each of them observed
// the lock as held right after acquiring it, and that the whole run finished within a bound.
package tck

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/alexandreLamarre/lockstate/pkg/constants"
	"github.com/alexandreLamarre/lockstate/pkg/lock"
	"github.com/alexandreLamarre/lockstate/pkg/logger"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
)

var (
	ErrNotLocked        = errors.New("the lock is not locked right after it was acquired")
	ErrMutualExclusion  = errors.New("more than one worker held the lock at the same time")
	ErrRuntimeExceeded  = errors.New("the actual total runtime exceeded the expected total runtime")
	ErrInvalidArguments = errors.New("invalid conformance arguments")
)

var (
	DefaultWorkers      = 5
	DefaultHoldDuration = 1 * time.Second
	DefaultSlack        = 1 * time.Second
)

type CheckOptions struct {
	Workers      int
	HoldDuration time.Duration
	// zero means Workers * HoldDuration + DefaultSlack
	RuntimeBound time.Duration
	ResourceID   string
	Verbose      bool
	Logger       *slog.Logger
	LockOptions  []lock.LockOption
}

type CheckOption func(o *CheckOptions)

func (o *CheckOptions) apply(opts ...CheckOption) {
	for _, op := range opts {
		op(o)
	}
}

func WithWorkers(n int) CheckOption {
	return func(o *CheckOptions) {
		o.Workers = n
	}
}

func WithHoldDuration(d time.Duration) CheckOption {
	return func(o *CheckOptions) {
		o.HoldDuration = d
	}
}

func WithRuntimeBound(d time.Duration) CheckOption {
	return func(o *CheckOptions) {
		o.RuntimeBound = d
	}
}

func WithResourceID(id string) CheckOption {
	return func(o *CheckOptions) {
		o.ResourceID = id
	}
}

func WithVerbose(verbose bool) CheckOption {
	return func(o *CheckOptions) {
		o.Verbose = verbose
	}
}

func WithLogger(lg *slog.Logger) CheckOption {
	return func(o *CheckOptions) {
		o.Logger = lg
	}
}

// WithLockOptions sets the options of the handles the workers lock through.
func WithLockOptions(opts ...lock.LockOption) CheckOption {
	return func(o *CheckOptions) {
		o.LockOptions = append(o.LockOptions, opts...)
	}
}

// Report summarizes a conformance run.
type Report struct {
	RunID         string
	ResourceID    string
	Workers       int
	HoldDuration  time.Duration
	RuntimeBound  time.Duration
	Elapsed       time.Duration
	MaxConcurrent int32
}

func (r *Report) String() string {
	return fmt.Sprintf(
		"run %s : %d workers holding '%s' for %s completed in %.3fs (bound %.3fs, max concurrent holders %d)",
		r.RunID, r.Workers, r.ResourceID, r.HoldDuration, r.Elapsed.Seconds(), r.RuntimeBound.Seconds(), r.MaxConcurrent,
	)
}

type critical struct {
	inside atomic.Int32
	max    atomic.Int32
}

func (c *critical) enter() int32 {
	n := c.inside.Add(1)
	for {
		cur := c.max.Load()
		if n <= cur || c.max.CompareAndSwap(cur, n) {
			return n
		}
	}
}

func (c *critical) exit() {
	c.inside.Add(-1)
}

// Check runs the conformance protocol against sm. The returned report is always non-nil
// once the workers were started, even when the run failed.
func Check(ctx context.Context, sm lock.StateManager, opts ...CheckOption) (*Report, error) {
	options := &CheckOptions{
		Workers:      DefaultWorkers,
		HoldDuration: DefaultHoldDuration,
		ResourceID:   constants.DefaultResourceID,
	}
	options.apply(opts...)
	if options.Workers <= 0 {
		return nil, fmt.Errorf("%w : workers must be positive, got %d", ErrInvalidArguments, options.Workers)
	}
	if options.HoldDuration < 0 {
		return nil, fmt.Errorf("%w : hold duration must not be negative, got %s", ErrInvalidArguments, options.HoldDuration)
	}
	if options.RuntimeBound < 0 {
		return nil, fmt.Errorf("%w : runtime bound must not be negative, got %s", ErrInvalidArguments, options.RuntimeBound)
	}
	if options.RuntimeBound == 0 {
		options.RuntimeBound = time.Duration(options.Workers)*options.HoldDuration + DefaultSlack
	}
	if options.Logger == nil {
		options.Logger = logger.NewNop()
	}

	report := &Report{
		RunID:        uuid.New().String(),
		ResourceID:   options.ResourceID,
		Workers:      options.Workers,
		HoldDuration: options.HoldDuration,
		RuntimeBound: options.RuntimeBound,
	}
	lg := options.Logger.With("run", report.RunID)
	factory := lock.NewFactory(sm, options.LockOptions...)

	// workers still waiting when the bound is hit are abandoned through this context
	ctxca, ca := context.WithCancel(ctx)
	defer ca()

	var cs critical
	eg, egCtx := errgroup.WithContext(ctxca)

	start := time.Now()
	for i := 0; i < options.Workers; i++ {
		idx := i
		eg.Go(func() error {
			return worker(egCtx, idx, factory, options, &cs, lg)
		})
	}

	timer := time.NewTimer(options.RuntimeBound)
	defer timer.Stop()
	var runErr error
	select {
	case err := <-lo.Async(eg.Wait):
		runErr = err
	case <-timer.C:
		ca()
		runErr = fmt.Errorf("%w : workers still running after %.3fs", ErrRuntimeExceeded, options.RuntimeBound.Seconds())
	}

	report.Elapsed = time.Since(start)
	report.MaxConcurrent = cs.max.Load()
	if options.Verbose {
		lg.Info(fmt.Sprintf("Complete in %.3fs", report.Elapsed.Seconds()))
	}
	if runErr != nil {
		return report, runErr
	}
	if report.Elapsed > options.RuntimeBound {
		return report, fmt.Errorf("%w : the ACTUAL total runtime (%.3fs) exceeded the expected total runtime (%.3fs)",
			ErrRuntimeExceeded, report.Elapsed.Seconds(), options.RuntimeBound.Seconds())
	}
	return report, nil
}

func worker(
	ctx context.Context,
	idx int,
	factory *lock.Factory,
	options *CheckOptions,
	cs *critical,
	lg *slog.Logger,
) error {
	lg = lg.With("worker", idx)
	verbose := func(msg string) {
		if options.Verbose {
			lg.Info(fmt.Sprintf("W-%d: %s", idx, msg))
		}
	}
	verbose("Begin")
	err := factory.Lock(options.ResourceID).Do(ctx, func(ctx context.Context) error {
		n := cs.enter()
		defer cs.exit()
		verbose("Enter the lock.")
		if n > 1 {
			return fmt.Errorf("%w : worker %d saw %d holders", ErrMutualExclusion, idx, n)
		}
		locked, err := factory.Lock(options.ResourceID).Locked(ctx)
		if err != nil {
			return fmt.Errorf("worker %d failed to check the lock : %w", idx, err)
		}
		if !locked {
			return fmt.Errorf("%w : worker %d", ErrNotLocked, idx)
		}
		select {
		case <-time.After(options.HoldDuration):
		case <-ctx.Done():
			return ctx.Err()
		}
		verbose("Exit the lock.")
		return nil
	})
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			lg.With(logger.Err(err)).Warn("worker failed")
		}
		return err
	}
	verbose("End")
	return nil
}
