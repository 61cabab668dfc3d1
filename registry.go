package datamux

import (
	"fmt"
	"sort"
	"sync"
)

// Provider creates a Source from config.  Source provider packages
// (google, awss3, azure, sftp, localfs) register themselves at init.
type Provider func(conf *Config) (Source, error)

// ErrUnknownSourceType config.Type matched no registered provider.
var ErrUnknownSourceType = fmt.Errorf("datamux: unknown source type")

var registryMu sync.Mutex
var registry = make(map[string]Provider)

// Register adds a source provider under sourceType.  Register panics
// on a duplicate type or nil provider, both are programmer error.
func Register(sourceType string, provider Provider) {
	if provider == nil {
		panic(fmt.Sprintf("datamux: Register provider is nil for %q", sourceType))
	}
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[sourceType]; exists {
		panic(fmt.Sprintf("datamux: Register called twice for type %q", sourceType))
	}
	registry[sourceType] = provider
}

// NewSource creates a Source from the registered provider for
// conf.Type.
func NewSource(conf *Config) (Source, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	registryMu.Lock()
	provider, ok := registry[conf.Type]
	registryMu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w %q, known types: %v", ErrUnknownSourceType, conf.Type, sourceTypes())
	}
	return provider(conf)
}

func sourceTypes() []string {
	types := make([]string, 0, len(registry))
	for t := range registry {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
