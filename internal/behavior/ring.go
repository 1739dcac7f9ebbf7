package behavior

// Ring is a fixed-capacity sample buffer. Pushing beyond capacity discards
// the oldest element, so the buffer always holds the most recent samples in
// insertion order. The zero value is not usable; construct with NewRing.
//
// Ring is not safe for concurrent use. The Manager serializes access behind
// its own mutex.
type Ring[T any] struct {
	items []T
	cap   int
}

// NewRing returns an empty ring holding at most capacity elements. A
// non-positive capacity is treated as 1.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{items: make([]T, 0, capacity), cap: capacity}
}

// Push appends v, evicting the oldest element when the ring is full.
func (r *Ring[T]) Push(v T) {
	if len(r.items) == r.cap {
		copy(r.items, r.items[1:])
		r.items[len(r.items)-1] = v
		return
	}
	r.items = append(r.items, v)
}

// Items returns the buffered samples, oldest first. The returned slice is a
// copy; mutating it does not affect the ring.
func (r *Ring[T]) Items() []T {
	out := make([]T, len(r.items))
	copy(out, r.items)
	return out
}

// Replace discards the current contents and loads items, keeping only the
// newest capacity elements. Used when hydrating a ring from a stored profile.
func (r *Ring[T]) Replace(items []T) {
	if len(items) > r.cap {
		items = items[len(items)-r.cap:]
	}
	r.items = r.items[:0]
	r.items = append(r.items, items...)
}

// Len reports the number of buffered samples.
func (r *Ring[T]) Len() int {
	return len(r.items)
}

// Cap reports the fixed capacity.
func (r *Ring[T]) Cap() int {
	return r.cap
}
