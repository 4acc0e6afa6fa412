// Package heap implements the private best-fit allocator that backs
// every message in a tinyrtos executive: best-fit allocation and eager
// coalescing of variable-size blocks carved out of a single contiguous
// region, exactly as rtos_ac.c's mem_init/mem_alloc/mem_free did for the
// original firmware.
//
// Block headers (free: next/magic/size, used: magic/size) are encoded
// directly into the region with encoding/binary so the layout matches
// the C layout byte-for-byte; offsets of returned payload slices back
// into the region are recovered with unsafe.Pointer arithmetic, the
// same tool a pooled buffer runner uses for its mmap'd descriptor and
// buffer arithmetic.
package heap

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"
	"unsafe"

	"github.com/lcaron/tinyrtos/internal/interfaces"
)

const (
	magicFree uint32 = 0x46524545 // "FREE"
	magicUsed uint32 = 0x55534544 // "USED"

	// freeHeaderSize is next(4) + magic(4) + size(4).
	freeHeaderSize = 12
	// usedHeaderSize is magic(4) + size(4).
	usedHeaderSize = 8

	// noOffset is the null sentinel for next_free links.
	noOffset = -1

	wordSize = 4
)

// Fault is raised (via panic) for every contract violation the
// allocator can detect: corruption of the free list, a free of a
// non-heap pointer, a double free, or exhaustion. These are treated as
// fatal programmer errors, not recoverable conditions, so Alloc and
// Free never return an error value.
type Fault struct {
	Op  string
	Msg string
}

func (f *Fault) Error() string {
	return fmt.Sprintf("heap: %s: %s", f.Op, f.Msg)
}

func fault(op, format string, args ...interface{}) {
	panic(&Fault{Op: op, Msg: fmt.Sprintf(format, args...)})
}

// Allocator is a best-fit allocator over one contiguous []byte region,
// handed out at construction the way mem_init(heap_bottom, heap_top)
// carves up the firmware's static heap array.
type Allocator struct {
	mu       sync.Mutex
	region   []byte
	freeHead int // offset of the first free block, noOffset if empty
	logger   interfaces.Logger
	observer interfaces.Observer
}

// Option configures an Allocator at construction.
type Option func(*Allocator)

// WithLogger attaches a debug logger: an optional *logging.Logger
// threaded through every constructor in this codebase.
func WithLogger(l interfaces.Logger) Option {
	return func(a *Allocator) { a.logger = l }
}

// WithObserver attaches an instrumentation sink for alloc/free/heap-state events.
func WithObserver(o interfaces.Observer) Option {
	return func(a *Allocator) { a.observer = o }
}

// New initializes the region as one free block spanning the whole
// region, equivalent to mem_init(bottom, top). The region length is
// rounded down to a word multiple; the caller-visible capacity shrinks
// accordingly, matching the word-alignment assumption mem_init makes
// about its caller.
func New(region []byte, opts ...Option) *Allocator {
	if len(region) < freeHeaderSize+wordSize {
		fault("mem_init", "region of %d bytes is too small to hold a single free block", len(region))
	}
	usable := len(region) - (len(region) % wordSize)
	region = region[:usable]

	a := &Allocator{
		region:   region,
		freeHead: 0,
		observer: interfaces.NoOpObserver{},
	}
	for _, opt := range opts {
		opt(a)
	}
	a.putFreeHeader(0, noOffset, uint32(usable))
	if a.logger != nil {
		a.logger.Debugf("heap: initialized %d-byte region", usable)
	}
	return a
}

// --- header encoding -------------------------------------------------

func (a *Allocator) putFreeHeader(off, next int, size uint32) {
	binary.LittleEndian.PutUint32(a.region[off:], uint32(int32(next)))
	binary.LittleEndian.PutUint32(a.region[off+4:], magicFree)
	binary.LittleEndian.PutUint32(a.region[off+8:], size)
}

func (a *Allocator) freeNext(off int) int {
	return int(int32(binary.LittleEndian.Uint32(a.region[off:])))
}

func (a *Allocator) freeMagic(off int) uint32 {
	return binary.LittleEndian.Uint32(a.region[off+4:])
}

func (a *Allocator) freeSize(off int) uint32 {
	return binary.LittleEndian.Uint32(a.region[off+8:])
}

func (a *Allocator) setFreeNext(off int, next int) {
	binary.LittleEndian.PutUint32(a.region[off:], uint32(int32(next)))
}

func (a *Allocator) setFreeSize(off int, size uint32) {
	binary.LittleEndian.PutUint32(a.region[off+8:], size)
}

func (a *Allocator) putUsedHeader(off int, size uint32) {
	binary.LittleEndian.PutUint32(a.region[off:], magicUsed)
	binary.LittleEndian.PutUint32(a.region[off+4:], size)
}

func (a *Allocator) usedMagic(off int) uint32 {
	return binary.LittleEndian.Uint32(a.region[off:])
}

func (a *Allocator) usedSize(off int) uint32 {
	return binary.LittleEndian.Uint32(a.region[off+4:])
}

// --- public API --------------------------------------------------------

// Alloc rounds size up to a word multiple, adds the used-header size,
// and selects the smallest free block whose size is at least
// total+freeHeaderSize (best-fit, strict inequality so the remainder
// can still host a free header). Ties are broken by list order — the
// first block encountered of the smallest qualifying size wins, per
// rtos_ac.c's strict `found->size > node->size` replacement test.
//
// Alloc never returns nil: exhaustion is a fatal contract violation,
// reported via panic(*Fault). A request of 0 bytes faults as well, since
// its block would be too small to hold a free header once freed.
func (a *Allocator) Alloc(size int) []byte {
	if size < 0 {
		fault("mem_alloc", "negative size %d", size)
	}
	start := time.Now()

	a.mu.Lock()
	defer a.mu.Unlock()

	rounded := (size + wordSize - 1) &^ (wordSize - 1)
	total := rounded + usedHeaderSize
	if total < freeHeaderSize {
		// A used block must always be big enough to later host a free
		// header once freed; rtos_ac.c enforces this with a bare assert.
		fault("mem_alloc", "requested size %d yields a block smaller than a free header", size)
	}

	bestOff := noOffset
	var bestSize uint32
	off := a.freeHead
	for off != noOffset {
		if a.freeMagic(off) != magicFree {
			fault("mem_alloc", "free list corruption at offset %d: bad magic", off)
		}
		sz := a.freeSize(off)
		if sz >= uint32(total+freeHeaderSize) {
			if bestOff == noOffset || bestSize > sz {
				bestOff = off
				bestSize = sz
			}
		}
		off = a.freeNext(off)
	}

	if bestOff == noOffset {
		fault("mem_alloc", "heap exhausted: no free block >= %d bytes", total+freeHeaderSize)
	}

	// Shrink the chosen free block and carve the used block from its tail.
	newFreeSize := bestSize - uint32(total)
	a.setFreeSize(bestOff, newFreeSize)

	usedOff := bestOff + int(newFreeSize)
	a.putUsedHeader(usedOff, uint32(total))

	if a.observer != nil {
		a.observer.ObserveAlloc(size, uint64(time.Since(start).Nanoseconds()))
		a.reportStats()
	}
	if a.logger != nil {
		a.logger.Debugf("heap: alloc(%d) -> off=%d total=%d from block off=%d", size, usedOff, total, bestOff)
	}

	payloadOff := usedOff + usedHeaderSize
	return a.region[payloadOff : payloadOff+size : payloadOff+rounded]
}

// Free returns p's block to the free list, coalescing it with any
// physically adjacent free neighbor(s). p must be a slice previously
// returned by Alloc on this Allocator and not already freed;
// violations panic with a *Fault, matching rtos_ac.c's magic-word
// assertions.
func (a *Allocator) Free(p []byte) {
	start := time.Now()

	a.mu.Lock()
	defer a.mu.Unlock()

	usedOff := a.offsetOf(p) - usedHeaderSize
	if usedOff < 0 || usedOff >= len(a.region) {
		fault("mem_free", "pointer does not belong to this heap region")
	}
	if a.usedMagic(usedOff) != magicUsed {
		fault("mem_free", "bad magic at offset %d: double free or corruption", usedOff)
	}
	size := a.usedSize(usedOff)
	freedOff := usedOff
	// Clear the used magic so a second Free of this block faults even when
	// case 1 below merges it into a neighbor without rewriting its header.
	binary.LittleEndian.PutUint32(a.region[usedOff:], 0)

	prev := noOffset
	node := a.freeHead

	for node != noOffset {
		if a.freeMagic(node) != magicFree {
			fault("mem_free", "free list corruption at offset %d: bad magic", node)
		}

		switch {
		case freedOff == node+int(a.freeSize(node)):
			// Case 1: freed block sits immediately after node; extend node.
			a.setFreeSize(node, a.freeSize(node)+size)
			if next := a.freeNext(node); next != noOffset && next == node+int(a.freeSize(node)) {
				a.setFreeSize(node, a.freeSize(node)+a.freeSize(next))
				a.setFreeNext(node, a.freeNext(next))
			}
			a.finishFree(size, start)
			return

		case freedOff < node:
			// Case 2 or 3: insert before node.
			if freedOff+int(size) == node {
				// Case 2: freed block sits immediately before node; absorb it.
				a.putFreeHeader(freedOff, a.freeNext(node), size+a.freeSize(node))
			} else {
				// Case 3: neither side abuts; splice freedOff in place.
				a.putFreeHeader(freedOff, node, size)
			}
			if prev == noOffset {
				a.freeHead = freedOff
			} else {
				a.setFreeNext(prev, freedOff)
			}
			a.finishFree(size, start)
			return
		}

		prev = node
		node = a.freeNext(node)
	}

	// Walked off the end: append as a new tail node.
	a.putFreeHeader(freedOff, noOffset, size)
	if prev == noOffset {
		a.freeHead = freedOff
	} else {
		a.setFreeNext(prev, freedOff)
	}
	a.finishFree(size, start)
}

func (a *Allocator) finishFree(size uint32, start time.Time) {
	if a.observer != nil {
		a.observer.ObserveFree(int(size), uint64(time.Since(start).Nanoseconds()))
		a.reportStats()
	}
}

// offsetOf returns p's byte offset within the region. p must be backed
// by the region's underlying array, which holds for every slice this
// package hands out since Alloc only ever returns sub-slices of region.
func (a *Allocator) offsetOf(p []byte) int {
	if len(a.region) == 0 {
		fault("mem_free", "heap region is empty")
	}
	pd := unsafe.SliceData(p)
	if pd == nil {
		fault("mem_free", "free of a nil pointer")
	}
	base := uintptr(unsafe.Pointer(&a.region[0]))
	target := uintptr(unsafe.Pointer(pd))
	return int(target - base)
}

// Stats reports the current state of the free list: total free bytes,
// the largest single free block, and the number of free fragments.
type Stats struct {
	BytesFree   uint32
	LargestFree uint32
	Fragments   int
}

// Stats returns a snapshot of the free list's current state.
func (a *Allocator) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats()
}

func (a *Allocator) stats() Stats {
	var s Stats
	off := a.freeHead
	for off != noOffset {
		sz := a.freeSize(off)
		s.BytesFree += sz
		if sz > s.LargestFree {
			s.LargestFree = sz
		}
		s.Fragments++
		off = a.freeNext(off)
	}
	return s
}

func (a *Allocator) reportStats() {
	s := a.stats()
	a.observer.ObserveHeapStats(s.BytesFree, s.LargestFree, s.Fragments)
}
