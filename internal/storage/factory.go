// factory.go maps archive backend names (local, s3, azure, gcs) to constructors.
package storage

import (
	"fmt"
	"sort"
	"sync"

	"github.com/consortium-members/membership-backend/internal/config"
)

// FactoryFunc builds an archive backend from its configuration section.
type FactoryFunc func(*config.ArchiveConfig) (Archive, error)

var (
	factoriesMu sync.RWMutex
	factories   = make(map[string]FactoryFunc)
)

// Register registers an archive backend factory
func Register(name string, factory FactoryFunc) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[name] = factory
}

// Backends returns the registered backend names in sorted order.
func Backends() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewArchive creates the configured archive backend. An empty backend name
// disables archiving and returns (nil, nil).
func NewArchive(cfg *config.ArchiveConfig) (Archive, error) {
	if cfg.Backend == "" {
		return nil, nil
	}

	factoriesMu.RLock()
	factory, ok := factories[cfg.Backend]
	factoriesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported archive backend: %s (registered: %v)", cfg.Backend, Backends())
	}

	return factory(cfg)
}
