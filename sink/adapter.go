package sink

import (
	"context"
	"fmt"
	"sync"

	"subflow/source/nakadi"
)

// Adapter is the common behaviour every sink exposes. A batch whose Handle
// returns nil is considered processed and its cursor may be committed.
type Adapter interface {
	Configure(any) error                          // driver-specific YAML ⇒ struct
	Handle(context.Context, *nakadi.Batch) error // consume one batch
	Close() error                                // idempotent
}

/*──────── registry ───────*/

type factory = func() Adapter

var (
	mu  sync.RWMutex
	reg = map[string]factory{}
)

func Register(name string, f factory) {
	mu.Lock()
	reg[name] = f
	mu.Unlock()
}

func NewAdapter(name string) (Adapter, error) {
	mu.RLock()
	f, ok := reg[name]
	mu.RUnlock()
	if ok {
		return f(), nil
	}
	return nil, fmt.Errorf("unknown sink %q", name)
}
