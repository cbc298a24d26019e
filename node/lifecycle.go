package node

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ServiceState represents the lifecycle state of a service.
type ServiceState int

const (
	StateCreated  ServiceState = iota // registered but not started
	StateRunning                      // running normally
	StateStopped                      // stopped cleanly
	StateFailed                       // failed to start or stop
)

// String returns a human-readable name for the service state.
func (s ServiceState) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Service is a subsystem that the node starts and stops.
type Service interface {
	Start() error
	Stop() error
	Name() string
}

// serviceFuncs adapts a pair of functions to Service.
type serviceFuncs struct {
	name  string
	start func() error
	stop  func() error
}

func (s serviceFuncs) Name() string { return s.name }

func (s serviceFuncs) Start() error {
	if s.start == nil {
		return nil
	}
	return s.start()
}

func (s serviceFuncs) Stop() error {
	if s.stop == nil {
		return nil
	}
	return s.stop()
}

type serviceEntry struct {
	svc      Service
	state    ServiceState
	priority int // lower value = start first
	err      error
}

// lifecycle starts services in priority order and stops them in reverse.
type lifecycle struct {
	mu       sync.Mutex
	services []*serviceEntry
	byName   map[string]*serviceEntry
}

func newLifecycle() *lifecycle {
	return &lifecycle{byName: make(map[string]*serviceEntry)}
}

// register adds a service. Names must be unique.
func (lc *lifecycle) register(svc Service, priority int) error {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	if _, exists := lc.byName[svc.Name()]; exists {
		return fmt.Errorf("service %q already registered", svc.Name())
	}
	e := &serviceEntry{svc: svc, priority: priority}
	lc.services = append(lc.services, e)
	lc.byName[svc.Name()] = e
	sort.SliceStable(lc.services, func(i, j int) bool {
		return lc.services[i].priority < lc.services[j].priority
	})
	return nil
}

// startAll starts every service. If one fails, the services already started
// are stopped again and the start error is returned.
func (lc *lifecycle) startAll() error {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	for i, e := range lc.services {
		if err := e.svc.Start(); err != nil {
			e.state, e.err = StateFailed, err
			errs := []error{fmt.Errorf("start %s: %w", e.svc.Name(), err)}
			errs = append(errs, lc.stopLocked(lc.services[:i])...)
			return errors.Join(errs...)
		}
		e.state, e.err = StateRunning, nil
	}
	return nil
}

// stopAll stops running services in reverse priority order.
func (lc *lifecycle) stopAll() error {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	return errors.Join(lc.stopLocked(lc.services)...)
}

func (lc *lifecycle) stopLocked(entries []*serviceEntry) []error {
	var errs []error
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if e.state != StateRunning {
			continue
		}
		if err := e.svc.Stop(); err != nil {
			e.state, e.err = StateFailed, err
			errs = append(errs, fmt.Errorf("stop %s: %w", e.svc.Name(), err))
			continue
		}
		e.state = StateStopped
	}
	return errs
}

// state returns a service's state, or StateFailed if it is unknown.
func (lc *lifecycle) state(name string) ServiceState {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	e, ok := lc.byName[name]
	if !ok {
		return StateFailed
	}
	return e.state
}

// health maps each service name to its state, with the error of a failed
// service appended.
func (lc *lifecycle) health() map[string]string {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	out := make(map[string]string, len(lc.services))
	for _, e := range lc.services {
		s := e.state.String()
		if e.err != nil {
			s += ": " + e.err.Error()
		}
		out[e.svc.Name()] = s
	}
	return out
}

// healthy reports whether every service is running.
func (lc *lifecycle) healthy() bool {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	for _, e := range lc.services {
		if e.state != StateRunning {
			return false
		}
	}
	return len(lc.services) > 0
}
