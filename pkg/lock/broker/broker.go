package broker

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/alexandreLamarre/lockstate/pkg/lock"
)

// LockBroker carries what a backend constructor needs to build a state manager.
type LockBroker struct {
	Lg *slog.Logger
}

// NewLockManager builds a fresh state manager for the backend registered under name.
func NewLockManager(ctx context.Context, lg *slog.Logger, name string) (lock.StateManager, error) {
	b, ok := GetLockBroker(name)
	if !ok {
		return nil, fmt.Errorf("unknown lock backend '%s', expected one of : %s", name, strings.Join(Backends(), ", "))
	}
	lm, err := b(ctx, LockBroker{Lg: lg.With("backend", name)})
	if err != nil {
		return nil, fmt.Errorf("failed to acquire %s lock backend : %w", name, err)
	}
	return lm, nil
}

// Backends lists the registered backend names in sorted order.
func Backends() []string {
	keys := brokerKeys()
	slices.Sort(keys)
	return keys
}
