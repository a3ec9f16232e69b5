// Package resources tracks capacity for named resource classes (CPU
// slots, GPU slots, external API quota, ...) that tasks reserve before
// execution and release on completion.
package resources

import (
	"sync"

	"github.com/taskmesh/engine/internal/model"
)

// Pool tracks reserved vs. total capacity for a set of named resource
// classes. It maintains the invariant 0 <= reserved <= capacity for
// every class through atomic reserve/release under a single mutex.
type Pool struct {
	mu        sync.Mutex
	capacity  map[string]int
	reserved  map[string]int
	heldByTask map[string]map[string]int // taskID -> class -> units held
}

// NewPool builds a Pool with the given per-class capacities.
func NewPool(capacity map[string]int) *Pool {
	p := &Pool{
		capacity:   make(map[string]int, len(capacity)),
		reserved:   make(map[string]int, len(capacity)),
		heldByTask: make(map[string]map[string]int),
	}
	for class, cap := range capacity {
		p.capacity[class] = cap
	}
	return p
}

// SetCapacity adds or resizes a resource class. Shrinking below the
// currently reserved amount is allowed; new reservations against that
// class will fail until usage drops back under the new capacity.
func (p *Pool) SetCapacity(class string, capacity int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.capacity[class] = capacity
}

// Reserve attempts to reserve one unit of each requested resource class
// for taskID, atomically: either every class has room or none are
// reserved. Returns a ResourceContentionError naming the first
// unavailable class on failure.
func (p *Pool) Reserve(taskID string, classes []string) error {
	if len(classes) == 0 {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for _, class := range classes {
		if p.reserved[class]+1 > p.capacity[class] {
			return model.NewResourceContentionError("resources", taskID, class)
		}
	}

	held := p.heldByTask[taskID]
	if held == nil {
		held = make(map[string]int)
		p.heldByTask[taskID] = held
	}
	for _, class := range classes {
		p.reserved[class]++
		held[class]++
	}
	return nil
}

// Release returns every unit taskID currently holds back to the pool.
func (p *Pool) Release(taskID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	held, ok := p.heldByTask[taskID]
	if !ok {
		return
	}
	for class, units := range held {
		p.reserved[class] -= units
		if p.reserved[class] < 0 {
			p.reserved[class] = 0
		}
	}
	delete(p.heldByTask, taskID)
}

// Utilization returns reserved/capacity for a class, or 0 if the class
// has no capacity defined.
func (p *Pool) Utilization(class string) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	cap := p.capacity[class]
	if cap == 0 {
		return 0
	}
	return float64(p.reserved[class]) / float64(cap)
}

// Snapshot returns a copy of capacity/reserved counts for reporting.
func (p *Pool) Snapshot() (capacity, reserved map[string]int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	capacity = make(map[string]int, len(p.capacity))
	reserved = make(map[string]int, len(p.reserved))
	for k, v := range p.capacity {
		capacity[k] = v
	}
	for k, v := range p.reserved {
		reserved[k] = v
	}
	return
}
