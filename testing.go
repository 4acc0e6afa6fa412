package tinyrtos

import (
	"fmt"
	"sync"
)

// FakeLogger is a minimal Logger implementation that records every line
// passed to it, for tests that want to assert on logging behavior
// without parsing a text-formatted logging.Logger.
type FakeLogger struct {
	mu    sync.Mutex
	lines []string
}

// NewFakeLogger creates a FakeLogger with an empty line buffer.
func NewFakeLogger() *FakeLogger {
	return &FakeLogger{}
}

func (f *FakeLogger) record(format string, args ...interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lines = append(f.lines, fmt.Sprintf(format, args...))
}

// Printf implements interfaces.Logger.
func (f *FakeLogger) Printf(format string, args ...interface{}) { f.record(format, args...) }

// Debugf implements interfaces.Logger.
func (f *FakeLogger) Debugf(format string, args ...interface{}) { f.record(format, args...) }

// Lines returns every recorded line, in call order.
func (f *FakeLogger) Lines() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.lines))
	copy(out, f.lines)
	return out
}

// Reset clears the recorded lines.
func (f *FakeLogger) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lines = nil
}

// FakeObserver records every instrumentation call it receives, for tests
// that want to assert scheduler/heap behavior by call count rather than
// by inspecting Metrics' atomic counters directly.
type FakeObserver struct {
	mu sync.Mutex

	allocs, frees                       int
	contextSwitches, taskStarts         int
	taskEnds, indicationsDiscarded      int
	queueDepthCalls                     int
	lastAllocSize, lastFreeSize         int
	lastHeapBytesFree, lastHeapLargest  uint32
	lastHeapFragments                   int
	lastSwitchFrom, lastSwitchTo        int
	lastQueueTask                       int
	lastQueueName                       string
	lastQueueDepth                      int
}

// NewFakeObserver creates a FakeObserver with all counters at zero.
func NewFakeObserver() *FakeObserver {
	return &FakeObserver{}
}

func (f *FakeObserver) ObserveAlloc(size int, _ uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.allocs++
	f.lastAllocSize = size
}

func (f *FakeObserver) ObserveFree(size int, _ uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frees++
	f.lastFreeSize = size
}

func (f *FakeObserver) ObserveHeapStats(bytesFree, largestFree uint32, fragments int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastHeapBytesFree = bytesFree
	f.lastHeapLargest = largestFree
	f.lastHeapFragments = fragments
}

func (f *FakeObserver) ObserveContextSwitch(fromTask, toTask int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.contextSwitches++
	f.lastSwitchFrom = fromTask
	f.lastSwitchTo = toTask
}

func (f *FakeObserver) ObserveTaskStart(int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.taskStarts++
}

func (f *FakeObserver) ObserveTaskEnd(int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.taskEnds++
}

func (f *FakeObserver) ObserveIndicationDiscarded(int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indicationsDiscarded++
}

func (f *FakeObserver) ObserveQueueDepth(taskID int, queue string, depth int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queueDepthCalls++
	f.lastQueueTask = taskID
	f.lastQueueName = queue
	f.lastQueueDepth = depth
}

// Counts returns a snapshot of every call counter, keyed by event name.
func (f *FakeObserver) Counts() map[string]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return map[string]int{
		"alloc":                  f.allocs,
		"free":                   f.frees,
		"context_switch":         f.contextSwitches,
		"task_start":             f.taskStarts,
		"task_end":               f.taskEnds,
		"indication_discarded":   f.indicationsDiscarded,
		"queue_depth":            f.queueDepthCalls,
	}
}

// Reset zeroes every counter and recorded value.
func (f *FakeObserver) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	*f = FakeObserver{}
}

var (
	_ Observer = (*FakeObserver)(nil)
)
