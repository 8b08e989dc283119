// Package ringbuf provides a fixed-capacity circular buffer backed by a
// single contiguous slice. Pushing never allocates once the ring is built.
package ringbuf

// Ring is a fixed-capacity circular buffer. Index 0 is the oldest element
// and Len()-1 the newest. When full, Push overwrites the oldest element.
type Ring[T any] struct {
	items []T
	head  int // next write position
	count int
}

// New creates a ring holding at most capacity elements.
// A capacity below 1 is raised to 1.
func New[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{items: make([]T, capacity)}
}

// Push appends v, overwriting the oldest element when the ring is full.
func (r *Ring[T]) Push(v T) {
	r.items[r.head] = v
	r.head = (r.head + 1) % len(r.items)
	if r.count < len(r.items) {
		r.count++
	}
}

// At returns the element at idx, where 0 is the oldest.
// It panics if idx is out of range, like a slice index.
func (r *Ring[T]) At(idx int) T {
	if idx < 0 || idx >= r.count {
		panic("ringbuf: index out of range")
	}
	return r.items[r.physical(idx)]
}

// Ptr returns a pointer to the element at idx (0 is the oldest) so callers
// can read large elements without copying them.
func (r *Ring[T]) Ptr(idx int) *T {
	if idx < 0 || idx >= r.count {
		panic("ringbuf: index out of range")
	}
	return &r.items[r.physical(idx)]
}

// Newest returns the most recently pushed element and false when empty.
func (r *Ring[T]) Newest() (T, bool) {
	var zero T
	if r.count == 0 {
		return zero, false
	}
	return r.items[(r.head-1+len(r.items))%len(r.items)], true
}

// Last returns the element n steps back from the newest.
// Last(1) is the newest element.
func (r *Ring[T]) Last(n int) (T, bool) {
	var zero T
	if n < 1 || n > r.count {
		return zero, false
	}
	return r.items[(r.head-n+len(r.items))%len(r.items)], true
}

func (r *Ring[T]) physical(idx int) int {
	return (r.head - r.count + idx + len(r.items)) % len(r.items)
}

// Len returns the number of stored elements.
func (r *Ring[T]) Len() int { return r.count }

// Cap returns the ring capacity.
func (r *Ring[T]) Cap() int { return len(r.items) }

// Full reports whether the ring holds Cap() elements.
func (r *Ring[T]) Full() bool { return r.count == len(r.items) }

// Clear empties the ring without releasing its storage.
func (r *Ring[T]) Clear() {
	var zero T
	for i := range r.items {
		r.items[i] = zero
	}
	r.head = 0
	r.count = 0
}

// Raw returns the stored elements in storage order, not time order.
// It is meant for order-independent reductions (max, mean) and must not
// be retained across Push calls.
func (r *Ring[T]) Raw() []T {
	if r.count < len(r.items) {
		return r.items[:r.count]
	}
	return r.items
}

// Do calls fn for each element from oldest to newest.
func (r *Ring[T]) Do(fn func(T)) {
	for i := 0; i < r.count; i++ {
		fn(r.items[r.physical(i)])
	}
}
