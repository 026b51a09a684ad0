package activity

// ring is a bounded append-only sequence ordered oldest first.
// Once full, every append evicts the oldest element. It is not safe for concurrent use.
type ring[T any] struct {
	items    []T
	start    int
	capacity int
}

func newRing[T any](capacity int) *ring[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &ring[T]{items: make([]T, 0, capacity), capacity: capacity}
}

func (r *ring[T]) push(item T) {
	if len(r.items) < r.capacity {
		r.items = append(r.items, item)
		return
	}
	r.items[r.start] = item
	r.start = (r.start + 1) % r.capacity
}

func (r *ring[T]) len() int {
	return len(r.items)
}

// slice copies the contents oldest first.
func (r *ring[T]) slice() []T {
	result := make([]T, 0, len(r.items))
	result = append(result, r.items[r.start:]...)
	return append(result, r.items[:r.start]...)
}

// filter keeps the elements for which keep returns true, preserving order.
func (r *ring[T]) filter(keep func(T) bool) {
	kept := make([]T, 0, r.capacity)
	for _, item := range r.slice() {
		if keep(item) {
			kept = append(kept, item)
		}
	}
	r.items = kept
	r.start = 0
}

func (r *ring[T]) reset() {
	r.items = r.items[:0]
	r.start = 0
}
