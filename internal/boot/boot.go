// Package boot sequences the construction of a tinyrtos executive the
// way ctrl.Controller sequenced ADD_DEV -> SET_PARAMS -> START_DEV
// against a kernel device: validate configuration, build dependent
// subsystems in a fixed order, and roll back everything already
// constructed if any step fails.
package boot

import (
	"fmt"

	"github.com/lcaron/tinyrtos/internal/config"
	"github.com/lcaron/tinyrtos/internal/heap"
	"github.com/lcaron/tinyrtos/internal/interfaces"
	"github.com/lcaron/tinyrtos/internal/task"
)

// Params carries the dependencies Bring wires into the heap and task
// subsystems. Logger and Observer may be nil.
type Params struct {
	Config   config.Config
	Logger   interfaces.Logger
	Observer interfaces.Observer
}

// Bring validates cfg, builds the heap region (mem_init's equivalent),
// then builds the task table and registers every entry as task id
// 1..len(entries) (AddDevice populating descriptors' equivalent). It
// returns a ready, not-yet-running executive; the caller starts it with
// Executive.Run, preserving the construct/go-live separation a device
// bring-up sequence enforces before it starts serving. Any failure after
// the heap has been built simply drops the region so it can be garbage
// collected, the allocator's rollback equivalent -- there is no kernel
// resource to explicitly release.
func Bring(p Params, entries []task.Entry) (exec *task.Executive, err error) {
	if err := p.Config.Validate(); err != nil {
		return nil, fmt.Errorf("boot: %w", err)
	}
	if len(entries) != p.Config.TaskCount {
		return nil, fmt.Errorf("boot: got %d entries, config wants %d tasks", len(entries), p.Config.TaskCount)
	}
	for i, entry := range entries {
		if entry == nil {
			return nil, fmt.Errorf("boot: entry for task %d is nil", i+1)
		}
	}

	defer func() {
		if r := recover(); r != nil {
			switch f := r.(type) {
			case *heap.Fault:
				err = fmt.Errorf("boot: heap init failed: %w", f)
			case *task.Fault:
				err = fmt.Errorf("boot: executive init failed: %w", f)
			default:
				panic(r)
			}
			exec = nil
		}
	}()

	heapOpts := []heap.Option{}
	if p.Logger != nil {
		heapOpts = append(heapOpts, heap.WithLogger(p.Logger))
	}
	if p.Observer != nil {
		heapOpts = append(heapOpts, heap.WithObserver(p.Observer))
	}
	h := heap.New(make([]byte, p.Config.HeapSize), heapOpts...)

	taskOpts := []task.Option{
		task.WithHeap(h),
		task.WithHistoryDepth(historyDepthFor(p.Config.TaskStackHint)),
	}
	if p.Logger != nil {
		taskOpts = append(taskOpts, task.WithLogger(p.Logger))
	}
	if p.Observer != nil {
		taskOpts = append(taskOpts, task.WithObserver(p.Observer))
	}

	exec = task.NewExecutive(p.Config.TaskCount, 0, taskOpts...)
	for i, entry := range entries {
		exec.RegisterTask(i+1, entry)
	}
	return exec, nil
}

// historyDepthFor derives a descriptor's diagnostic ring-buffer depth
// from the configured per-task stack hint, so TaskStackHint has a real
// effect on a hosted Go process instead of being vestigial.
func historyDepthFor(stackHint int) int {
	depth := stackHint / 256
	if depth < 4 {
		depth = 4
	}
	if depth > 64 {
		depth = 64
	}
	return depth
}

// Teardown rolls the boot sequence back: it is the Go equivalent of
// StopDevice followed by DeleteDevice, though a tinyrtos executive owns
// no kernel resources to release -- dropping every reference lets the
// heap region and task goroutines be collected once Run has returned.
// Teardown exists as an explicit step so callers follow the same
// construct/run/teardown lifecycle even though there is nothing left to
// close by the time Run returns.
func Teardown(exec *task.Executive) error {
	if exec == nil {
		return fmt.Errorf("boot: teardown called with nil executive")
	}
	return nil
}
