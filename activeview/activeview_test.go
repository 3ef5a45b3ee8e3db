package activeview

import (
	"math"
	"sort"
	"sync"
	"testing"

	"github.com/pthm-cable/pbd/parallel"
)

type rangeDef struct {
	count  int
	active bool
}

func build(t *testing.T, pool *parallel.Pool, ranges []rangeDef) (*View[[]int], []int) {
	t.Helper()
	v := New([]int(nil), pool)
	offsets := make([]int, len(ranges))
	for i, r := range ranges {
		offsets[i] = v.AddRange(r.count, r.active)
	}
	return v, offsets
}

func TestAddRangeOffsets(t *testing.T) {
	v, offsets := build(t, nil, []rangeDef{{4, true}, {0, true}, {5, false}, {3, true}})

	want := []int{0, 4, 4, 9}
	for i := range want {
		if offsets[i] != want[i] {
			t.Errorf("offset[%d] = %d, want %d", i, offsets[i], want[i])
		}
	}
	if v.NumRanges() != 3 {
		t.Errorf("NumRanges = %d, want 3 (zero count adds nothing)", v.NumRanges())
	}
	if v.Size() != 12 {
		t.Errorf("Size = %d, want 12", v.Size())
	}
	if v.NumActive() != 7 {
		t.Errorf("NumActive = %d, want 7", v.NumActive())
	}
	if got := v.String(); got != "[0,4)+ [4,9)- [9,12)+" {
		t.Errorf("String = %q", got)
	}
}

func TestRangesPartitionIndices(t *testing.T) {
	v, _ := build(t, nil, []rangeDef{{3, true}, {7, false}, {1, true}, {10, false}, {2, true}})

	covered := make([]int, v.Size())
	prev := 0
	for i := 0; i < v.NumRanges(); i++ {
		size := v.GetRangeSize(prev)
		for j := prev; j < prev+size; j++ {
			covered[j]++
		}
		prev += size
	}
	if prev != v.Size() {
		t.Fatalf("ranges end at %d, size is %d", prev, v.Size())
	}
	for i, c := range covered {
		if c != 1 {
			t.Fatalf("index %d covered %d times", i, c)
		}
	}
}

func TestActivateRangeIdempotent(t *testing.T) {
	v, offsets := build(t, nil, []rangeDef{{4, true}, {5, false}, {3, true}})

	v.ActivateRange(offsets[1], true)
	once := v.String()
	v.ActivateRange(offsets[1], true)
	if v.String() != once {
		t.Errorf("second activate changed table: %q -> %q", once, v.String())
	}
	if !v.IsActive(6) {
		t.Error("index 6 should be active")
	}

	v.ActivateRange(offsets[0], false)
	v.ActivateRange(offsets[0], false)
	if v.IsActive(0) || v.IsActive(3) {
		t.Error("first range should be inactive")
	}
	if v.GetRangeSize(offsets[0]) != 4 {
		t.Errorf("deactivation changed size to %d", v.GetRangeSize(offsets[0]))
	}
	if v.NumActive() != 8 {
		t.Errorf("NumActive = %d, want 8", v.NumActive())
	}
}

func TestHasActiveRange(t *testing.T) {
	tests := []struct {
		name   string
		ranges []rangeDef
		want   bool
	}{
		{"empty", nil, false},
		{"all inactive", []rangeDef{{2, false}, {3, false}}, false},
		{"one active", []rangeDef{{2, false}, {3, true}}, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			v, _ := build(t, nil, tc.ranges)
			if got := v.HasActiveRange(); got != tc.want {
				t.Errorf("HasActiveRange = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestGetRangeSizeInsideRange(t *testing.T) {
	v, _ := build(t, nil, []rangeDef{{4, true}, {5, false}})
	for _, off := range []int{4, 6, 8} {
		if got := v.GetRangeSize(off); got != 5 {
			t.Errorf("GetRangeSize(%d) = %d, want 5", off, got)
		}
	}
}

func TestRangeStart(t *testing.T) {
	v, _ := build(t, nil, []rangeDef{{4, true}, {5, false}, {3, true}})

	tests := []struct {
		offset int
		want   int
	}{
		{0, 0}, {3, 0}, {4, 4}, {8, 4}, {9, 9}, {11, 9}, {12, -1}, {-1, -1},
	}
	for _, tt := range tests {
		if got := v.RangeStart(tt.offset); got != tt.want {
			t.Errorf("RangeStart(%d) = %d, want %d", tt.offset, got, tt.want)
		}
	}
}

func TestReset(t *testing.T) {
	tests := []struct {
		name   string
		offset int
		want   string
	}{
		{"to zero", 0, ""},
		{"at bound", 4, "[0,4)+"},
		{"inside range", 6, "[0,4)+ [4,6)-"},
		{"past end", 100, "[0,4)+ [4,9)- [9,12)+"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			v, _ := build(t, nil, []rangeDef{{4, true}, {5, false}, {3, true}})
			v.Reset(tc.offset)
			if got := v.String(); got != tc.want {
				t.Errorf("after Reset(%d) = %q, want %q", tc.offset, got, tc.want)
			}
		})
	}
}

func TestResetThenAdd(t *testing.T) {
	v, _ := build(t, nil, []rangeDef{{4, true}, {5, false}})
	v.Reset(4)
	if off := v.AddRange(2, true); off != 4 {
		t.Errorf("AddRange after Reset returned %d, want 4", off)
	}
}

func TestSequentialForOrder(t *testing.T) {
	v, _ := build(t, nil, []rangeDef{{2, true}, {3, false}, {2, true}})
	var got []int
	v.SequentialFor(func(_ []int, i int) { got = append(got, i) })

	want := []int{0, 1, 5, 6}
	if len(got) != len(want) {
		t.Fatalf("visited %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("visited %v, want %v", got, want)
		}
	}
}

func TestParallelForMatchesSequential(t *testing.T) {
	pool := parallel.NewPool(4)
	defer pool.Stop()

	ranges := []rangeDef{{1000, true}, {17, true}, {500, false}, {2048, true}, {3, true}}

	tests := []struct {
		name     string
		minBatch int
	}{
		{"all inline", math.MaxInt},
		{"mixed", 64},
		{"all parallel", 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			v, _ := build(t, pool, ranges)

			var seq []int
			v.SequentialFor(func(_ []int, i int) { seq = append(seq, i) })

			var mu sync.Mutex
			var par []int
			v.ParallelFor(func(_ []int, i int) {
				mu.Lock()
				par = append(par, i)
				mu.Unlock()
			}, tc.minBatch)

			sort.Ints(par)
			if len(par) != len(seq) {
				t.Fatalf("parallel visited %d indices, sequential %d", len(par), len(seq))
			}
			for i := range seq {
				if par[i] != seq[i] {
					t.Fatalf("index mismatch at %d: %d vs %d", i, par[i], seq[i])
				}
			}
		})
	}
}

func TestParallelForEmpty(t *testing.T) {
	pool := parallel.NewPool(2)
	defer pool.Stop()

	v := New([]int(nil), pool)
	called := false
	v.ParallelFor(func(_ []int, _ int) { called = true }, 1)
	if called {
		t.Error("callback invoked on empty view")
	}
}
