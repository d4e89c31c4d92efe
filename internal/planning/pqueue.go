package planning

import "container/heap"

type item[T any] struct {
	value    T
	priority float64
	// Ties go to the shorter path, then to the older entry.
	steps int
	seq   int
	index int
}

// maxQueue pops the highest priority first.
type maxQueue[T any] []*item[T]

func (pq maxQueue[T]) Len() int { return len(pq) }
func (pq maxQueue[T]) Less(i, j int) bool {
	a, b := pq[i], pq[j]
	if a.priority != b.priority {
		return a.priority > b.priority
	}
	if a.steps != b.steps {
		return a.steps < b.steps
	}
	return a.seq < b.seq
}
func (pq maxQueue[T]) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].index = i
	pq[j].index = j
}
func (pq *maxQueue[T]) Push(x any) {
	it := x.(*item[T])
	it.index = len(*pq)
	*pq = append(*pq, it)
}
func (pq *maxQueue[T]) Pop() any {
	old := *pq
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*pq = old[:n-1]
	return it
}

var _ heap.Interface = (*maxQueue[int])(nil)
