package broker

import (
	"context"
	"fmt"
	"sync"

	"github.com/alexandreLamarre/lockstate/pkg/lock"
	"github.com/samber/lo"
)

type lockBroker = func(context.Context, LockBroker) (lock.StateManager, error)

var (
	brokerMu    sync.RWMutex
	brokerCache = map[string]lockBroker{}
)

// RegisterLockBroker makes a backend constructor available under name.
// Backends register themselves from init, registering the same name twice panics.
func RegisterLockBroker(name string, broker lockBroker) {
	brokerMu.Lock()
	defer brokerMu.Unlock()
	if _, ok := brokerCache[name]; ok {
		panic(fmt.Sprintf("lock broker '%s' already registered", name))
	}
	brokerCache[name] = broker
}

func GetLockBroker(name string) (broker lockBroker, ok bool) {
	brokerMu.RLock()
	defer brokerMu.RUnlock()
	broker, ok = brokerCache[name]
	return
}

func brokerKeys() []string {
	brokerMu.RLock()
	defer brokerMu.RUnlock()
	return lo.Keys(brokerCache)
}
