// Package interchange hands fully built values between two goroutines.
package interchange

// Triple is a three-slot buffer between one producer and one consumer
// goroutine. The producer fills a free slot and publishes it; the consumer
// takes the most recently published slot. Neither side blocks: a value still
// unread when the next one is published is taken back by the producer, offered
// to the merge hook, and recycled.
//
// Slots rotate through channels only. At any time one slot may be held by the
// producer, one by the published mailbox and one by the consumer, so a free
// slot is always available to the producer.
type Triple[T any] struct {
	free      chan *T
	published chan *T
	merge     func(fresh, stale *T)

	held *T // Consumer-owned
}

// NewTriple creates a triple buffer whose slots come from newSlot. merge, if
// non-nil, is called on the producer goroutine with the value being published
// and an unread stale value it replaces.
func NewTriple[T any](newSlot func() *T, merge func(fresh, stale *T)) *Triple[T] {
	t := &Triple[T]{
		free:      make(chan *T, 3),
		published: make(chan *T, 1),
		merge:     merge,
	}
	for i := 0; i < 3; i++ {
		t.free <- newSlot()
	}
	return t
}

// Acquire returns a slot for the producer to fill. The slot holds whatever
// value it last carried; the producer overwrites it.
func (t *Triple[T]) Acquire() *T {
	return <-t.free
}

// Publish makes v the latest value. It must be a slot returned by Acquire.
func (t *Triple[T]) Publish(v *T) {
	for {
		select {
		case t.published <- v:
			return
		default:
		}
		select {
		case stale := <-t.published:
			if t.merge != nil {
				t.merge(v, stale)
			}
			t.free <- stale
		default:
		}
	}
}

// Latest returns the newest published value and whether it is new since the
// previous call. The value stays valid until the next call to Latest. Before
// anything is published it returns nil, false.
func (t *Triple[T]) Latest() (*T, bool) {
	select {
	case v := <-t.published:
		if t.held != nil {
			t.free <- t.held
		}
		t.held = v
		return v, true
	default:
		return t.held, false
	}
}

// Take passes the newest published value, if any, to fn and hands the slot
// back when fn returns. A consumer uses either Take or Latest, not both.
func (t *Triple[T]) Take(fn func(v *T)) bool {
	select {
	case v := <-t.published:
		fn(v)
		t.free <- v
		return true
	default:
		return false
	}
}
