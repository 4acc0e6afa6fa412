package heap

import (
	"testing"
)

func mustFault(t *testing.T, op string, fn func()) {
	t.Helper()
	defer func() {
		r := recover()
		if r == nil {
			t.Fatalf("expected a *Fault panic, got none")
		}
		f, ok := r.(*Fault)
		if !ok {
			t.Fatalf("expected panic value of type *Fault, got %T (%v)", r, r)
		}
		if op != "" && f.Op != op {
			t.Errorf("Fault.Op = %q, want %q (msg=%q)", f.Op, op, f.Msg)
		}
	}()
	fn()
}

func TestNewRoundsToWordMultiple(t *testing.T) {
	a := New(make([]byte, 101))
	s := a.Stats()
	if s.Fragments != 1 {
		t.Fatalf("Fragments = %d, want 1", s.Fragments)
	}
	if s.BytesFree != 100 {
		t.Errorf("BytesFree = %d, want 100 (101 rounded down to word multiple)", s.BytesFree)
	}
}

func TestNewTooSmallFaults(t *testing.T) {
	mustFault(t, "mem_init", func() {
		New(make([]byte, 4))
	})
}

func TestAllocBasic(t *testing.T) {
	a := New(make([]byte, 1024))
	p := a.Alloc(32)
	if len(p) != 32 {
		t.Fatalf("len(p) = %d, want 32", len(p))
	}
	if cap(p) != 32 {
		t.Errorf("cap(p) = %d, want 32 (rounded size should equal requested since 32 is word aligned)", cap(p))
	}

	s := a.Stats()
	if s.BytesFree >= 1024 {
		t.Errorf("BytesFree = %d, should have shrunk below 1024 after alloc", s.BytesFree)
	}
}

func TestAllocRoundsToWordBoundary(t *testing.T) {
	a := New(make([]byte, 1024))
	p := a.Alloc(1)
	if len(p) != 1 {
		t.Fatalf("len(p) = %d, want 1", len(p))
	}
	if cap(p) != 4 {
		t.Errorf("cap(p) = %d, want 4 (1 byte rounded up to a word)", cap(p))
	}
}

func TestAllocZeroSize(t *testing.T) {
	a := New(make([]byte, 1024))
	mustFault(t, "mem_alloc", func() {
		a.Alloc(0)
	})
}

func TestAllocNegativeSizeFaults(t *testing.T) {
	a := New(make([]byte, 1024))
	mustFault(t, "mem_alloc", func() {
		a.Alloc(-1)
	})
}

func TestAllocExhaustionFaults(t *testing.T) {
	a := New(make([]byte, 64))
	mustFault(t, "mem_alloc", func() {
		a.Alloc(1024)
	})
}

func TestAllocBestFitPicksSmallestSufficientBlock(t *testing.T) {
	// Carve the region into two free fragments of distinct sizes by
	// allocating and freeing an interior block, then confirm the next
	// allocation lands in the smaller fragment that still fits it rather
	// than the first-fit (larger, head-of-list) fragment.
	a := New(make([]byte, 256))

	p1 := a.Alloc(16) // small, stays allocated as a spacer
	p2 := a.Alloc(64) // freed: leaves a 72-byte hole
	p3 := a.Alloc(16) // stays allocated as a spacer
	_ = p1
	_ = p3
	a.Free(p2)

	// Free list is now [head block: 136 bytes] -> [hole: 72 bytes].
	before := a.Stats()
	if before.Fragments != 2 || before.LargestFree != 136 {
		t.Fatalf("before alloc: Fragments = %d, LargestFree = %d, want 2 and 136", before.Fragments, before.LargestFree)
	}

	// A 24-byte request needs a 32-byte block plus room for a free header:
	// both fragments fit it, and best fit must pick the 72-byte hole,
	// leaving the 136-byte head block untouched.
	p4 := a.Alloc(24)
	if len(p4) != 24 {
		t.Fatalf("len(p4) = %d, want 24", len(p4))
	}
	after := a.Stats()
	if after.LargestFree != 136 {
		t.Errorf("LargestFree after alloc = %d, want 136 (allocation should come from the 72-byte hole)", after.LargestFree)
	}
}

func TestFreeCoalescesAdjacentBlocks(t *testing.T) {
	a := New(make([]byte, 256))

	p1 := a.Alloc(16)
	p2 := a.Alloc(16)
	p3 := a.Alloc(16)

	singleFragBefore := a.Stats()

	a.Free(p1)
	a.Free(p2)
	a.Free(p3)

	after := a.Stats()
	if after.Fragments != 1 {
		t.Fatalf("Fragments after freeing everything = %d, want 1 (fully coalesced back into the initial block)", after.Fragments)
	}
	if after.BytesFree <= singleFragBefore.BytesFree {
		t.Errorf("BytesFree did not grow back after freeing all blocks: before-alloc-fragment=%d after-free=%d", singleFragBefore.BytesFree, after.BytesFree)
	}
}

func TestFreeCoalescesOutOfOrder(t *testing.T) {
	a := New(make([]byte, 256))

	p1 := a.Alloc(16)
	p2 := a.Alloc(16)
	p3 := a.Alloc(16)

	// Blocks are carved from the tail of the free block, so p1 sits at the
	// highest address and p3 right after the remaining head block. Free
	// the middle block first (isolated, appended to the end of the free
	// list), then p1 (extends that fragment upward, case 1), then p3
	// (extends the head block, case 1, which then absorbs the following
	// fragment).
	a.Free(p2)
	mid := a.Stats()
	if mid.Fragments != 2 {
		t.Fatalf("Fragments after freeing only the middle block = %d, want 2", mid.Fragments)
	}

	a.Free(p1)
	a.Free(p3)

	final := a.Stats()
	if final.Fragments != 1 {
		t.Fatalf("Fragments after freeing everything out of order = %d, want 1", final.Fragments)
	}
}

func TestAllocReusesFreedSpace(t *testing.T) {
	a := New(make([]byte, 256))
	initial := a.Stats()

	p := a.Alloc(64)
	a.Free(p)

	after := a.Stats()
	if after.BytesFree != initial.BytesFree {
		t.Errorf("BytesFree after alloc+free = %d, want %d (back to the original single free block)", after.BytesFree, initial.BytesFree)
	}
	if after.Fragments != 1 {
		t.Errorf("Fragments after alloc+free = %d, want 1", after.Fragments)
	}
}

func TestFreeDoubleFreeFaults(t *testing.T) {
	a := New(make([]byte, 256))
	p := a.Alloc(16)
	a.Free(p)
	mustFault(t, "mem_free", func() {
		a.Free(p)
	})
}

func TestFreeForeignPointerFaults(t *testing.T) {
	a := New(make([]byte, 256))
	foreign := make([]byte, 16)
	mustFault(t, "mem_free", func() {
		a.Free(foreign)
	})
}

func TestWriteThroughPersistsAcrossAllocations(t *testing.T) {
	a := New(make([]byte, 256))
	p := a.Alloc(5)
	copy(p, []byte("hello"))

	q := a.Alloc(5)
	copy(q, []byte("world"))

	if string(p) != "hello" {
		t.Errorf("p = %q, want %q (should not alias q's payload)", p, "hello")
	}
	if string(q) != "world" {
		t.Errorf("q = %q, want %q", q, "world")
	}
}

type countingObserver struct {
	allocs, frees int
	lastBytesFree uint32
}

func (c *countingObserver) ObserveAlloc(int, uint64) { c.allocs++ }
func (c *countingObserver) ObserveFree(int, uint64)  { c.frees++ }
func (c *countingObserver) ObserveHeapStats(bytesFree uint32, largestFree uint32, fragments int) {
	c.lastBytesFree = bytesFree
}
func (c *countingObserver) ObserveContextSwitch(int, int)      {}
func (c *countingObserver) ObserveTaskStart(int)                {}
func (c *countingObserver) ObserveTaskEnd(int)                  {}
func (c *countingObserver) ObserveIndicationDiscarded(int)      {}
func (c *countingObserver) ObserveQueueDepth(int, string, int) {}

func TestObserverReceivesAllocAndFreeEvents(t *testing.T) {
	obs := &countingObserver{}
	a := New(make([]byte, 256), WithObserver(obs))

	p := a.Alloc(16)
	if obs.allocs != 1 {
		t.Errorf("allocs = %d, want 1", obs.allocs)
	}

	a.Free(p)
	if obs.frees != 1 {
		t.Errorf("frees = %d, want 1", obs.frees)
	}
	if obs.lastBytesFree == 0 {
		t.Errorf("lastBytesFree = 0, want the region's free byte count to be reported")
	}
}

type debugLogger struct {
	lines []string
}

func (d *debugLogger) Printf(format string, args ...interface{}) {
	d.lines = append(d.lines, format)
}
func (d *debugLogger) Debugf(format string, args ...interface{}) {
	d.lines = append(d.lines, format)
}

func TestLoggerReceivesDebugLines(t *testing.T) {
	lg := &debugLogger{}
	a := New(make([]byte, 256), WithLogger(lg))
	a.Alloc(16)

	if len(lg.lines) == 0 {
		t.Errorf("expected at least one debug line logged for New+Alloc")
	}
}

func TestStatsFragmentsTracksFreeListLength(t *testing.T) {
	a := New(make([]byte, 256))
	p1 := a.Alloc(16)
	_ = a.Alloc(16)
	p3 := a.Alloc(16)

	a.Free(p1)
	a.Free(p3)

	s := a.Stats()
	if s.Fragments != 2 {
		t.Fatalf("Fragments = %d, want 2 (p3 merged into the head free block, p1 isolated behind the still-allocated middle block)", s.Fragments)
	}
}
