// Package activeview partitions a particle buffer into contiguous index ranges
// that can be switched on and off without per-particle flags.
//
// The range table is a list of signed bounds. The absolute value of entry i is
// the exclusive end of range i (which starts at the previous bound, or 0), and
// the sign is the activation state: positive is active, negative inactive.
// Only the sign of an entry is ever changed in place.
package activeview

import (
	"fmt"
	"sort"

	"github.com/pthm-cable/pbd/parallel"
)

// View is an active-range index over items, typically a *particles.Buffer.
type View[T any] struct {
	items  T
	ranges []int
	pool   *parallel.Pool
}

// New creates a view over items. A nil pool makes ParallelFor sequential.
func New[T any](items T, pool *parallel.Pool) *View[T] {
	return &View[T]{items: items, pool: pool}
}

// Items returns the underlying collection.
func (v *View[T]) Items() T { return v.items }

// Size returns the exclusive upper bound of the last range.
func (v *View[T]) Size() int {
	if len(v.ranges) == 0 {
		return 0
	}
	return abs(v.ranges[len(v.ranges)-1])
}

// NumRanges returns the number of ranges in the table.
func (v *View[T]) NumRanges() int { return len(v.ranges) }

// AddRange appends a range of count indices and returns the index of its
// first element. A zero count adds nothing and returns the current bound.
func (v *View[T]) AddRange(count int, activate bool) int {
	offset := v.Size()
	if count <= 0 {
		return offset
	}
	bound := offset + count
	if !activate {
		bound = -bound
	}
	v.ranges = append(v.ranges, bound)
	return offset
}

// ActivateRange sets the activation state of the range starting at offset.
// Offsets must come from AddRange.
func (v *View[T]) ActivateRange(offset int, activate bool) {
	i := v.find(offset)
	if i < 0 {
		contractf("ActivateRange: offset %d beyond last bound %d", offset, v.Size())
		return
	}
	if offset != v.start(i) {
		contractf("ActivateRange: offset %d is not a range start (range %d starts at %d)", offset, i, v.start(i))
	}
	if (v.ranges[i] > 0) != activate {
		v.ranges[i] = -v.ranges[i]
	}
}

// GetRangeSize returns the size of the range containing offset, regardless of
// its activation state.
func (v *View[T]) GetRangeSize(offset int) int {
	i := v.find(offset)
	if i < 0 {
		contractf("GetRangeSize: offset %d beyond last bound %d", offset, v.Size())
		return 0
	}
	return abs(v.ranges[i]) - v.start(i)
}

// RangeStart returns the first index of the range containing offset, or -1
// past the last bound.
func (v *View[T]) RangeStart(offset int) int {
	i := v.find(offset)
	if i < 0 {
		return -1
	}
	return v.start(i)
}

// IsActive reports whether index lies inside an active range.
func (v *View[T]) IsActive(index int) bool {
	i := v.find(index)
	return i >= 0 && v.ranges[i] > 0
}

// HasActiveRange reports whether any range is active.
func (v *View[T]) HasActiveRange() bool {
	for _, b := range v.ranges {
		if b > 0 {
			return true
		}
	}
	return false
}

// NumActive returns the number of indices in active ranges.
func (v *View[T]) NumActive() int {
	n := 0
	prev := 0
	for _, b := range v.ranges {
		if b > 0 {
			n += b - prev
		}
		prev = abs(b)
	}
	return n
}

// Reset truncates the table so that no range extends past offset. A range
// straddling offset is clipped to end there.
func (v *View[T]) Reset(offset int) {
	if offset <= 0 {
		v.ranges = v.ranges[:0]
		return
	}
	keep := 0
	prev := 0
	for _, b := range v.ranges {
		if prev >= offset {
			break
		}
		if abs(b) > offset {
			if b > 0 {
				b = offset
			} else {
				b = -offset
			}
		}
		v.ranges[keep] = b
		keep++
		prev = abs(b)
	}
	v.ranges = v.ranges[:keep]
}

// SequentialFor visits every index of every active range in ascending order.
func (v *View[T]) SequentialFor(fn func(items T, index int)) {
	prev := 0
	for _, b := range v.ranges {
		if b > 0 {
			for i := prev; i < b; i++ {
				fn(v.items, i)
			}
		}
		prev = abs(b)
	}
}

// RangeFor visits every active range as a half-open interval, in order.
func (v *View[T]) RangeFor(fn func(lo, hi int)) {
	prev := 0
	for _, b := range v.ranges {
		if b > 0 {
			fn(prev, b)
		}
		prev = abs(b)
	}
}

// ParallelFor visits every index of every active range. Ranges of at least
// minBatch indices are split across the pool; smaller ones run inline on the
// caller. It returns once every index has been visited. No ordering is
// guaranteed.
func (v *View[T]) ParallelFor(fn func(items T, index int), minBatch int) {
	v.ParallelRangeFor(func(lo, hi int) {
		for i := lo; i < hi; i++ {
			fn(v.items, i)
		}
	}, minBatch)
}

// ParallelRangeFor is ParallelFor at chunk granularity.
func (v *View[T]) ParallelRangeFor(fn func(lo, hi int), minBatch int) {
	if v.pool == nil || v.pool.Workers() == 1 {
		v.RangeFor(fn)
		return
	}

	batch := v.pool.NewBatch()
	var small [][2]int
	v.RangeFor(func(lo, hi int) {
		if hi-lo < minBatch {
			small = append(small, [2]int{lo, hi})
			return
		}
		batch.Add(lo, hi, minBatch, parallel.Task(fn))
	})

	batch.Run(func() {
		for _, r := range small {
			fn(r[0], r[1])
		}
	})
}

// String renders the range table, e.g. "[0,4)+ [4,9)-".
func (v *View[T]) String() string {
	s := ""
	prev := 0
	for i, b := range v.ranges {
		if i > 0 {
			s += " "
		}
		state := "+"
		if b < 0 {
			state = "-"
		}
		s += fmt.Sprintf("[%d,%d)%s", prev, abs(b), state)
		prev = abs(b)
	}
	return s
}

// find returns the index of the range whose bound is the first one exceeding
// offset, or -1 if offset is out of range.
func (v *View[T]) find(offset int) int {
	if offset < 0 {
		return -1
	}
	i := sort.Search(len(v.ranges), func(i int) bool {
		return abs(v.ranges[i]) > offset
	})
	if i == len(v.ranges) {
		return -1
	}
	return i
}

func (v *View[T]) start(i int) int {
	if i == 0 {
		return 0
	}
	return abs(v.ranges[i-1])
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
