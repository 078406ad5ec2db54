package gateway

// Deque is a growable ring buffer. PushBack, PushFront, PopFront and PopBack
// are O(1) amortized; the backing array is only reallocated when full.
type Deque[T any] struct {
	buf  []T
	head int
	size int
}

func (d *Deque[T]) Len() int { return d.size }

func (d *Deque[T]) PushBack(v T) {
	d.grow()
	d.buf[(d.head+d.size)%len(d.buf)] = v
	d.size++
}

func (d *Deque[T]) PushFront(v T) {
	d.grow()
	d.head = (d.head - 1 + len(d.buf)) % len(d.buf)
	d.buf[d.head] = v
	d.size++
}

func (d *Deque[T]) PopFront() (T, bool) {
	var zero T
	if d.size == 0 {
		return zero, false
	}
	v := d.buf[d.head]
	d.buf[d.head] = zero
	d.head = (d.head + 1) % len(d.buf)
	d.size--
	return v, true
}

func (d *Deque[T]) PopBack() (T, bool) {
	var zero T
	if d.size == 0 {
		return zero, false
	}
	i := (d.head + d.size - 1) % len(d.buf)
	v := d.buf[i]
	d.buf[i] = zero
	d.size--
	return v, true
}

func (d *Deque[T]) Front() (T, bool) {
	if d.size == 0 {
		var zero T
		return zero, false
	}
	return d.buf[d.head], true
}

// At returns the i-th element from the front. It panics if i is out of range.
func (d *Deque[T]) At(i int) T {
	if i < 0 || i >= d.size {
		panic("deque: index out of range")
	}
	return d.buf[(d.head+i)%len(d.buf)]
}

func (d *Deque[T]) grow() {
	if d.size < len(d.buf) {
		return
	}
	n := len(d.buf) * 2
	if n == 0 {
		n = 16
	}
	buf := make([]T, n)
	for i := 0; i < d.size; i++ {
		buf[i] = d.buf[(d.head+i)%len(d.buf)]
	}
	d.buf = buf
	d.head = 0
}
