package nakadi

import (
	"fmt"
	"sync"
)

// Factory builds a Driver (e.g. HTTPDriver).
type Factory func() Driver

var (
	regMu    sync.RWMutex
	registry = map[string]Factory{}
)

// Register is called from main() or a driver's init().
func Register(name string, f Factory) {
	regMu.Lock()
	registry[name] = f
	regMu.Unlock()
}

// NewDriver returns a driver by name ("http", ...).
func NewDriver(name string) (Driver, error) {
	regMu.RLock()
	f, ok := registry[name]
	regMu.RUnlock()
	if ok {
		return f(), nil
	}
	return nil, fmt.Errorf("nakadi: unsupported driver %q", name)
}
