package collector

import (
	"fmt"
	"sync"

	apperrors "github.com/contentops/lifecycle-platform/pkg/errors"
)

// Factory builds a Collector from its shared retry base. Per-source
// collector packages register themselves at init time.
type Factory func(base Base) Collector

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register makes a collector factory available under the source name.
// Registering the same name twice panics; that is a wiring bug.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[name]; dup {
		panic(fmt.Sprintf("collector %q registered twice", name))
	}
	registry[name] = factory
}

// Lookup builds the collector registered under name.
func Lookup(name string, base Base) (Collector, error) {
	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, apperrors.Newf(apperrors.ErrInvalidInput, "no collector registered for source %q", name)
	}
	return factory(base), nil
}
