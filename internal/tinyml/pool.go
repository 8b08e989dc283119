package tinyml

import (
	"fmt"
	"sync"
)

// Pool is a memory region the tensor arena can be carved from.
type Pool interface {
	Name() string
	// Free returns the number of bytes still available.
	Free() int
	// Alloc reserves size bytes.
	Alloc(size int) ([]byte, error)
	// Release returns size bytes previously reserved with Alloc.
	Release(size int)
}

// HeapPool is a Pool with a fixed byte budget backed by the Go heap.
type HeapPool struct {
	mu       sync.Mutex
	name     string
	capacity int
	used     int
}

// NewHeapPool returns a pool that will hand out at most capacity bytes.
func NewHeapPool(name string, capacity int) *HeapPool {
	return &HeapPool{name: name, capacity: capacity}
}

func (p *HeapPool) Name() string { return p.name }

func (p *HeapPool) Free() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.capacity - p.used
}

func (p *HeapPool) Alloc(size int) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if size <= 0 || size > p.capacity-p.used {
		return nil, fmt.Errorf("%w: pool %s has %d bytes free, need %d", ErrNoPool, p.name, p.capacity-p.used, size)
	}
	p.used += size
	return make([]byte, size), nil
}

// Release returns size bytes to the pool.
func (p *HeapPool) Release(size int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.used = max(0, p.used-size)
}

// AllocateArena carves size bytes out of the pool with the most free
// memory. There is no fallback to a smaller pool: if the largest pool
// cannot hold the arena the call fails.
func AllocateArena(size int, pools ...Pool) ([]byte, Pool, error) {
	var best Pool
	for _, p := range pools {
		if p == nil {
			continue
		}
		if best == nil || p.Free() > best.Free() {
			best = p
		}
	}
	if best == nil {
		return nil, nil, fmt.Errorf("%w: no pools configured", ErrNoPool)
	}
	buf, err := best.Alloc(size)
	if err != nil {
		return nil, nil, err
	}
	return buf, best, nil
}
