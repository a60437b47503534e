package types

// Queue is a FIFO queue backed by a slice.
// It is not safe for concurrent use.
type Queue[T any] struct {
	data []T
	head int
}

func (q *Queue[T]) Push(item T) {
	q.data = append(q.data, item)
}

// Pop removes and returns the first element.
// The second return value is false when the queue is empty.
func (q *Queue[T]) Pop() (T, bool) {
	var zero T
	if q == nil || q.head >= len(q.data) {
		return zero, false
	}

	item := q.data[q.head]
	q.data[q.head] = zero
	q.head++
	if q.head == len(q.data) {
		q.data = q.data[:0]
		q.head = 0
	}
	return item, true
}

func (q *Queue[T]) Len() int {
	if q == nil {
		return 0
	}
	return len(q.data) - q.head
}
