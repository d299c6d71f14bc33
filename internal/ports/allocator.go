package ports

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// ErrExhausted is returned when the pool cannot satisfy an allocation
var ErrExhausted = errors.New("port pool exhausted")

// Allocator hands out unique host ports from a bounded pool. Allocation is
// all-or-nothing: either every requested port is reserved or none are.
type Allocator struct {
	mu       sync.Mutex
	free     []int
	inUse    map[int]bool
	capacity int
	logger   *logrus.Logger
}

// NewAllocator creates an allocator covering the inclusive range [start, end]
func NewAllocator(start, end int, logger *logrus.Logger) (*Allocator, error) {
	if start <= 0 || end < start {
		return nil, fmt.Errorf("invalid port range %d-%d", start, end)
	}

	free := make([]int, 0, end-start+1)
	for p := start; p <= end; p++ {
		free = append(free, p)
	}

	return &Allocator{
		free:     free,
		inUse:    make(map[int]bool),
		capacity: len(free),
		logger:   logger,
	}, nil
}

// Allocate reserves n free ports atomically. If fewer than n ports are free
// the call fails with ErrExhausted and nothing is reserved.
func (a *Allocator) Allocate(n int) ([]int, error) {
	if n <= 0 {
		return nil, fmt.Errorf("invalid port count %d", n)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.free) < n {
		return nil, fmt.Errorf("%w: %d requested, %d free", ErrExhausted, n, len(a.free))
	}

	allocated := make([]int, n)
	copy(allocated, a.free[:n])
	a.free = a.free[n:]
	for _, p := range allocated {
		a.inUse[p] = true
	}

	a.logger.WithField("ports", allocated).Debug("Allocated ports")
	return allocated, nil
}

// Release returns ports to the pool. Ports not held by the allocator are
// ignored so release is safe to call from teardown paths that may run twice.
func (a *Allocator) Release(ports []int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, p := range ports {
		if !a.inUse[p] {
			continue
		}
		delete(a.inUse, p)
		a.free = append(a.free, p)
	}

	a.logger.WithField("ports", ports).Debug("Released ports")
}

// Free returns the number of ports currently available
func (a *Allocator) Free() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.free)
}

// Capacity returns the total size of the pool
func (a *Allocator) Capacity() int {
	return a.capacity
}
