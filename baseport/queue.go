package baseport

import "container/list"

// Queue is an ordered FIFO of packets: a port's inputqueue (fully
// assembled, awaiting global ordering) or outputqueue (awaiting egress).
// container/list gives us O(1) push/pop without the bookkeeping of a
// hand-rolled ring buffer, and is never touched concurrently — each queue
// is owned by exactly one port and crossed only at the serial phase
// boundaries in switchcore.Context.Switch.
type Queue struct {
	l list.List
}

// NewQueue returns an empty queue.
func NewQueue() *Queue {
	return &Queue{}
}

// PushBack enqueues p.
func (q *Queue) PushBack(p *Packet) {
	q.l.PushBack(p)
}

// Front returns the head of the queue without removing it, or nil if
// empty.
func (q *Queue) Front() *Packet {
	e := q.l.Front()
	if e == nil {
		return nil
	}
	return e.Value.(*Packet)
}

// PopFront removes and returns the head of the queue, or nil if empty.
func (q *Queue) PopFront() *Packet {
	e := q.l.Front()
	if e == nil {
		return nil
	}
	q.l.Remove(e)
	return e.Value.(*Packet)
}

// Empty reports whether the queue has no packets.
func (q *Queue) Empty() bool {
	return q.l.Len() == 0
}

// Len returns the number of queued packets.
func (q *Queue) Len() int {
	return q.l.Len()
}
