package proofs

import (
	"errors"
	"sort"
	"sync"

	"github.com/flightshield/flightshield/circuit"
)

// Registry errors.
var (
	ErrBackendExists   = errors.New("proofs: backend already registered")
	ErrBackendNotFound = errors.New("proofs: backend not found")
)

// Config selects circuit parameters and key files for a backend.
type Config struct {
	Params       circuit.Params
	ProvingKey   string
	VerifyingKey string
}

// Factory opens a backend from a Config.
type Factory func(cfg Config) (Backend, error)

var (
	registryMu sync.RWMutex
	factories  = make(map[string]Factory)
)

func init() {
	Register(Groth16Name, func(cfg Config) (Backend, error) {
		return LoadGroth16(cfg.Params, cfg.ProvingKey, cfg.VerifyingKey)
	})
	Register(StubName, func(cfg Config) (Backend, error) {
		if err := cfg.Params.Validate(); err != nil {
			return nil, err
		}
		return NewStubBackend(cfg.Params), nil
	})
}

// Register adds a backend factory under name.
func Register(name string, f Factory) error {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := factories[name]; exists {
		return ErrBackendExists
	}
	factories[name] = f
	return nil
}

// Lookup returns the factory registered under name.
func Lookup(name string) (Factory, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	f, ok := factories[name]
	if !ok {
		return nil, ErrBackendNotFound
	}
	return f, nil
}

// Open looks up name and opens the backend with cfg.
func Open(name string, cfg Config) (Backend, error) {
	f, err := Lookup(name)
	if err != nil {
		return nil, err
	}
	return f(cfg)
}

// Names returns the registered backend names, sorted.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
