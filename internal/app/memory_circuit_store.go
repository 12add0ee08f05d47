/**
 * @description
 * In-process circuit state store used when Redis is not configured. Breaker
 * state is then only shared within one process; multi-worker deployments
 * should configure Redis so all workers observe the same health signal.
 */

package app

import (
	"context"
	"sync"
	"time"
)

type memoryCircuit struct {
	state        string
	openedAtUnix int64
	failures     int64
	total        int64
	windowStart  time.Time
}

// MemoryCircuitStateStore is a process-local CircuitStateStore.
type MemoryCircuitStateStore struct {
	mu       sync.Mutex
	circuits map[CommandClass]*memoryCircuit
	now      func() time.Time
}

// NewMemoryCircuitStateStore returns an empty in-process store.
func NewMemoryCircuitStateStore() *MemoryCircuitStateStore {
	return &MemoryCircuitStateStore{
		circuits: make(map[CommandClass]*memoryCircuit),
		now:      time.Now,
	}
}

func (s *MemoryCircuitStateStore) circuit(cmd CommandClass) *memoryCircuit {
	c, ok := s.circuits[cmd]
	if !ok {
		c = &memoryCircuit{state: CircuitClosed, windowStart: s.now()}
		s.circuits[cmd] = c
	}
	return c
}

// Get returns the current snapshot for a command class.
func (s *MemoryCircuitStateStore) Get(ctx context.Context, cmd CommandClass) (CircuitState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.circuit(cmd)
	return CircuitState{
		State:        c.state,
		Failures:     c.failures,
		Total:        c.total,
		OpenedAtUnix: c.openedAtUnix,
	}, nil
}

// RecordCall increments the window counters, resetting them when the rolling
// window has elapsed.
func (s *MemoryCircuitStateStore) RecordCall(ctx context.Context, cmd CommandClass, success bool, window time.Duration) (int64, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.circuit(cmd)
	if window > 0 && s.now().Sub(c.windowStart) > window {
		c.failures, c.total = 0, 0
		c.windowStart = s.now()
	}
	c.total++
	if !success {
		c.failures++
	}
	return c.failures, c.total, nil
}

// CompareAndSwapState transitions the state when it still holds `from`.
func (s *MemoryCircuitStateStore) CompareAndSwapState(ctx context.Context, cmd CommandClass, from, to string, openedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.circuit(cmd)
	if c.state != from {
		return false, nil
	}
	c.state = to
	c.openedAtUnix = openedAt.Unix()
	c.failures, c.total = 0, 0
	c.windowStart = s.now()
	return true, nil
}
