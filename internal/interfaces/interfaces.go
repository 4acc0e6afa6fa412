// Package interfaces provides internal interface definitions shared by
// tinyrtos's subpackages. These are separate from the public interfaces
// in the root package to avoid circular imports between the root
// package and internal/heap, internal/task and internal/boot.
package interfaces

// Logger is the minimal logging surface internal packages depend on.
// internal/logging's *Logger satisfies this.
type Logger interface {
	Printf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}

// Observer receives instrumentation events from the heap allocator and
// the scheduler. Implementations must be safe to call from whichever
// goroutine currently holds the CPU inside the executive; since the
// executive is cooperative and single-threaded by contract, no method
// here is ever called concurrently with another, but the interface
// itself makes no such promise for callers wiring in their own
// collectors.
type Observer interface {
	// ObserveAlloc is called after a successful heap allocation.
	ObserveAlloc(size int, latencyNs uint64)
	// ObserveFree is called after a heap block is released.
	ObserveFree(size int, latencyNs uint64)
	// ObserveHeapStats is called after every alloc/free with the
	// resulting state of the free list.
	ObserveHeapStats(bytesFree uint32, largestFree uint32, fragments int)

	// ObserveContextSwitch is called whenever the scheduler hands the
	// CPU from one descriptor to another (a start or a resume).
	ObserveContextSwitch(fromTask, toTask int)
	// ObserveTaskStart is called when a descriptor transitions IDLE -> RUNNING.
	ObserveTaskStart(taskID int)
	// ObserveTaskEnd is called when a descriptor transitions -> IDLE.
	ObserveTaskEnd(taskID int)
	// ObserveIndicationDiscarded is called when task_send_ind targets an
	// inactive task and the indication is freed unread.
	ObserveIndicationDiscarded(taskID int)
	// ObserveQueueDepth reports the depth of a task's request or
	// indication mailbox after an enqueue or dequeue.
	ObserveQueueDepth(taskID int, queue string, depth int)
}

// NoOpObserver implements Observer with no-op methods.
type NoOpObserver struct{}

func (NoOpObserver) ObserveAlloc(int, uint64)                 {}
func (NoOpObserver) ObserveFree(int, uint64)                  {}
func (NoOpObserver) ObserveHeapStats(uint32, uint32, int)     {}
func (NoOpObserver) ObserveContextSwitch(int, int)            {}
func (NoOpObserver) ObserveTaskStart(int)                     {}
func (NoOpObserver) ObserveTaskEnd(int)                       {}
func (NoOpObserver) ObserveIndicationDiscarded(int)           {}
func (NoOpObserver) ObserveQueueDepth(int, string, int)       {}

var _ Observer = NoOpObserver{}
