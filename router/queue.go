package router

import (
	"slices"
	"sync"
)

// Status is the resolution of a queued record.
type Status int

const (
	// StatusPending records have not been confirmed or canceled yet.
	StatusPending Status = iota
	// StatusConfirmed records were approved.
	StatusConfirmed
	// StatusCanceled records were vetoed.
	StatusCanceled
)

func (s Status) String() string {
	switch s {
	case StatusConfirmed:
		return "confirmed"
	case StatusCanceled:
		return "canceled"
	default:
		return "pending"
	}
}

// Element is one record of a MinesweeperQueue.
type Element[T any] struct {
	Value T

	queue  *MinesweeperQueue[T]
	status Status
}

// Status returns the element's current resolution.
func (e *Element[T]) Status() Status {
	e.queue.mu.Lock()
	defer e.queue.mu.Unlock()
	return e.status
}

// MinesweeperQueue is an append-only sequence of speculative records that
// are retroactively confirmed or canceled. The queue is never empty; its top
// is the owner's current belief of truth.
//
// Confirming a record clears every record before it. Canceling the top
// record clears it together with the canceled records directly beneath it.
// Canceling any other record only marks it; a later sweep from the top
// removes it.
type MinesweeperQueue[T any] struct {
	mu    sync.Mutex
	elems []*Element[T]
}

// NewMinesweeperQueue creates a queue holding one confirmed record.
func NewMinesweeperQueue[T any](initial T) *MinesweeperQueue[T] {
	q := &MinesweeperQueue[T]{}
	q.elems = []*Element[T]{{Value: initial, queue: q, status: StatusConfirmed}}
	return q
}

// Push appends a pending record and returns it.
func (q *MinesweeperQueue[T]) Push(v T) *Element[T] {
	q.mu.Lock()
	defer q.mu.Unlock()
	e := &Element[T]{Value: v, queue: q}
	q.elems = append(q.elems, e)
	return e
}

// Top returns the most recent record.
func (q *MinesweeperQueue[T]) Top() *Element[T] {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.elems[len(q.elems)-1]
}

// Len returns the number of records currently held.
func (q *MinesweeperQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.elems)
}

// Elements returns a snapshot of the records, oldest first.
func (q *MinesweeperQueue[T]) Elements() []*Element[T] {
	q.mu.Lock()
	defer q.mu.Unlock()
	return slices.Clone(q.elems)
}

// Confirm marks e confirmed and discards every record before it. A record
// that was already canceled stays canceled and Confirm reports false.
func (q *MinesweeperQueue[T]) Confirm(e *Element[T]) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if e.status == StatusCanceled {
		return false
	}
	e.status = StatusConfirmed
	if i := slices.Index(q.elems, e); i > 0 {
		q.elems = slices.Clone(q.elems[i:])
	}
	return true
}

// Cancel marks e canceled and reports whether it was the top record. When
// it was, the top and every canceled record directly beneath it are
// discarded. Confirmed records are final; canceling one is a no-op.
func (q *MinesweeperQueue[T]) Cancel(e *Element[T]) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if e.status == StatusConfirmed {
		return false
	}
	e.status = StatusCanceled

	if q.elems[len(q.elems)-1] != e {
		return false
	}
	for len(q.elems) > 1 && q.elems[len(q.elems)-1].status == StatusCanceled {
		q.elems[len(q.elems)-1] = nil
		q.elems = q.elems[:len(q.elems)-1]
	}
	return true
}
