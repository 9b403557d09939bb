// Package ringbuf provides a fixed-capacity ring buffer for bounded metric history.
//
// 변동성/상관관계/전이 이력처럼 "최근 N개"만 필요한 시계열에 사용한다.
// 동시성 보호는 호출자가 담당한다 (각 엔진이 자신의 mutex 아래에서 Push).
package ringbuf

// Ring is a fixed-capacity circular buffer; Push overwrites the oldest value when full
type Ring[T any] struct {
	buf   []T
	start int // 가장 오래된 원소 인덱스
	size  int
}

// New creates a ring with the given capacity (minimum 1)
func New[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

// Push appends v, evicting the oldest value when full
func (r *Ring[T]) Push(v T) {
	if r.size < len(r.buf) {
		r.buf[(r.start+r.size)%len(r.buf)] = v
		r.size++
		return
	}
	r.buf[r.start] = v
	r.start = (r.start + 1) % len(r.buf)
}

// Len returns the number of stored values
func (r *Ring[T]) Len() int {
	return r.size
}

// Cap returns the fixed capacity
func (r *Ring[T]) Cap() int {
	return len(r.buf)
}

// At returns the i-th value counted from the oldest (0 = oldest)
func (r *Ring[T]) At(i int) (T, bool) {
	var zero T
	if i < 0 || i >= r.size {
		return zero, false
	}
	return r.buf[(r.start+i)%len(r.buf)], true
}

// Latest returns the most recent value
func (r *Ring[T]) Latest() (T, bool) {
	return r.At(r.size - 1)
}

// Last returns up to n most recent values ordered oldest → newest (copy)
func (r *Ring[T]) Last(n int) []T {
	if n > r.size {
		n = r.size
	}
	if n <= 0 {
		return []T{}
	}

	out := make([]T, n)
	offset := r.size - n
	for i := 0; i < n; i++ {
		out[i] = r.buf[(r.start+offset+i)%len(r.buf)]
	}
	return out
}

// Values returns all values ordered oldest → newest (copy)
func (r *Ring[T]) Values() []T {
	return r.Last(r.size)
}

// Reset drops all values, keeping capacity
func (r *Ring[T]) Reset() {
	var zero T
	for i := range r.buf {
		r.buf[i] = zero
	}
	r.start = 0
	r.size = 0
}
