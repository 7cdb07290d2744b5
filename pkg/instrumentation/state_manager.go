package instrumentation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alexandreLamarre/lockstate/pkg/lock"
	"github.com/alexandreLamarre/lockstate/pkg/logger"
	"go.opentelemetry.io/otel/attribute"
	api "go.opentelemetry.io/otel/metric"
)

const meterName = "lockstate"

// StateManager records metrics about the calls it forwards to the wrapped state manager.
type StateManager struct {
	lock.StateManager

	lg *slog.Logger

	mu        sync.Mutex
	heldSince map[string]time.Time

	acquisitionCount   api.Float64Counter
	requestCount       api.Float64Counter
	unlockRequestCount api.Float64Counter
	acquisitionLatency api.Float64Histogram
	heldTime           api.Float64Histogram
}

var _ lock.StateManager = (*StateManager)(nil)

func NewStateManager(sm lock.StateManager, mp api.MeterProvider, lg *slog.Logger) (*StateManager, error) {
	meter := mp.Meter(meterName)
	acquisitionCount, err := meter.Float64Counter("lock_acquisition_count")
	if err != nil {
		return nil, err
	}
	requestCount, err := meter.Float64Counter("lock_request_count")
	if err != nil {
		return nil, err
	}
	unlockRequestCount, err := meter.Float64Counter("unlock_request_count")
	if err != nil {
		return nil, err
	}
	acquisitionLatency, err := meter.Float64Histogram("lock_acquisition_latency", api.WithUnit("ns"))
	if err != nil {
		return nil, err
	}
	heldTime, err := meter.Float64Histogram("lock_held_time", api.WithUnit("ms"))
	if err != nil {
		return nil, err
	}
	return &StateManager{
		StateManager:       sm,
		lg:                 lg,
		heldSince:          map[string]time.Time{},
		acquisitionCount:   acquisitionCount,
		requestCount:       requestCount,
		unlockRequestCount: unlockRequestCount,
		acquisitionLatency: acquisitionLatency,
		heldTime:           heldTime,
	}, nil
}

func idAttr(id string) api.MeasurementOption {
	return api.WithAttributes(attribute.String("id", id))
}

func (s *StateManager) Acquire(ctx context.Context, id string) error {
	s.requestCount.Add(ctx, 1, idAttr(id))
	start := time.Now()
	if err := s.StateManager.Acquire(ctx, id); err != nil {
		s.lg.With("id", id, logger.Err(err)).Warn("failed to acquire lock")
		return err
	}
	now := time.Now()
	s.acquisitionLatency.Record(ctx, float64(now.Sub(start).Nanoseconds()), idAttr(id))
	s.acquisitionCount.Add(ctx, 1, idAttr(id))
	s.mu.Lock()
	s.heldSince[id] = now
	s.mu.Unlock()
	return nil
}

func (s *StateManager) Release(ctx context.Context, id string) error {
	s.unlockRequestCount.Add(ctx, 1, idAttr(id))
	if err := s.StateManager.Release(ctx, id); err != nil {
		s.lg.With("id", id, logger.Err(err)).Warn("failed to release lock")
		return err
	}
	s.mu.Lock()
	since, ok := s.heldSince[id]
	delete(s.heldSince, id)
	s.mu.Unlock()
	if ok {
		s.heldTime.Record(ctx, float64(time.Since(since).Milliseconds()), idAttr(id))
	}
	return nil
}

// Health forwards to the wrapped state manager when it can report its health.
func (s *StateManager) Health(ctx context.Context) ([]string, error) {
	if hc, ok := s.StateManager.(lock.HealthChecker); ok {
		return hc.Health(ctx)
	}
	return []string{}, nil
}
