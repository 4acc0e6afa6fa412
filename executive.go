// Package tinyrtos provides the public API for running a cooperative
// task executive: a fixed table of tasks, a best-fit heap backing every
// message, and synchronous request/reply plus asynchronous indication
// messaging between them.
package tinyrtos

import (
	"context"
	"fmt"

	"github.com/lcaron/tinyrtos/internal/boot"
	"github.com/lcaron/tinyrtos/internal/config"
	"github.com/lcaron/tinyrtos/internal/logging"
	"github.com/lcaron/tinyrtos/internal/task"
)

// Entry is a task's body: given a context bound to this activation and
// the message that started it (nil for an AsyncStart with no initial
// message), it runs until it returns a reply, if any.
type Entry = task.Entry

// TaskContext is the per-activation handle a task body uses to send
// requests, send indications, wait for one, and allocate/free messages.
type TaskContext = task.TaskContext

// Message is a heap-backed request, reply, or indication payload.
type Message = task.Message

// Params configures a new Executive, the Go equivalent of the firmware's
// TASK_CNT/TASK_STACK_SIZE build-time constants plus the heap region
// size passed to mem_init.
type Params struct {
	// Config is the compile-time shape of the executive: task count,
	// per-task stack hint, heap size, queue-depth warning threshold.
	Config config.Config

	// Logger receives debug-level scheduling and heap trace lines. If
	// nil, a default logger tagged "exec" is shared by the heap and the
	// scheduler.
	Logger *logging.Logger

	// Observer receives instrumentation events. If nil, metrics are
	// collected internally and exposed via MetricsSnapshot.
	Observer Observer
}

// DefaultParams returns Params populated with the reference firmware's
// default task count, stack hint, and heap size.
func DefaultParams() Params {
	return Params{Config: config.Default()}
}

// Executive wraps internal/task.Executive with the public lifecycle a
// caller drives: construct, register task bodies, run until the context
// is cancelled or a task raises a Fault.
type Executive struct {
	inner   *task.Executive
	metrics *Metrics
	cfg     config.Config
}

// Create validates params, builds the heap and task table, and returns
// a not-yet-running Executive -- the equivalent of CreateAndServe's
// device-construction phase before queue runners start fetching I/O.
// Every entry in entries is registered as task id 1..len(entries);
// Create returns an error if len(entries) differs from Config.TaskCount
// or any entry is nil.
func Create(params Params, entries []Entry) (*Executive, error) {
	metrics := NewMetrics()
	var observer Observer = NewMetricsObserver(metrics)
	if params.Observer != nil {
		observer = params.Observer
	}

	logger := params.Logger
	if logger == nil {
		logger = logging.NewLogger(&logging.Config{Component: "exec"})
	}

	inner, err := boot.Bring(boot.Params{
		Config:   params.Config,
		Logger:   logger,
		Observer: observer,
	}, entries)
	if err != nil {
		return nil, fmt.Errorf("tinyrtos: %w", err)
	}

	return &Executive{inner: inner, metrics: metrics, cfg: params.Config}, nil
}

// Run starts the scheduler's idle loop on the calling goroutine and
// blocks until ctx is cancelled or any task raises a Fault. It returns
// nil on a clean context cancellation, and the wrapped *Fault otherwise.
func (e *Executive) Run(ctx context.Context) error {
	err := e.inner.Run(ctx)
	if err == context.Canceled || err == context.DeadlineExceeded {
		return nil
	}
	if err == nil {
		return nil
	}
	return WrapFault(err)
}

// AsyncStart starts taskID with no initial message and no synchronous
// caller. Must be called sequentially, never concurrently with Run or
// another AsyncStart -- see internal/task's package doc for why.
func (e *Executive) AsyncStart(taskID int) {
	e.inner.AsyncStart(taskID)
}

// SendIndication delivers ind to taskID's indication mailbox if it is
// started, or silently discards it otherwise. Unlike a synchronous
// request, the root task may call this directly -- it is root's way of
// waking a task parked in Wait without going through a task body's
// TaskContext. Must be called sequentially, never concurrently with Run.
func (e *Executive) SendIndication(ind *Message, taskID int) {
	e.inner.SendIndication(ind, taskID)
}

// Close tears down the executive. It should be called once Run has
// returned; the Go equivalent of StopAndDelete for a device that owns no
// kernel resources to release.
func (e *Executive) Close() error {
	return boot.Teardown(e.inner)
}

// TaskCount returns the number of non-root tasks this executive manages.
func (e *Executive) TaskCount() int {
	return e.inner.TaskCount()
}

// TaskState reports taskID's current lifecycle phase.
func (e *Executive) TaskState(taskID int) task.State {
	return e.inner.TaskState(taskID)
}

// TaskHistory returns taskID's recent scheduling events, oldest first,
// the diagnostic equivalent of inspecting a stack trace on real hardware.
func (e *Executive) TaskHistory(taskID int) []string {
	return e.inner.TaskHistory(taskID)
}

// Metrics returns the executive's metrics collector. It reflects live
// activity only when the Executive was created without a custom
// Observer (otherwise the caller's own Observer is the source of truth).
func (e *Executive) Metrics() *Metrics {
	return e.metrics
}

// MetricsSnapshot returns a point-in-time snapshot of the executive's
// metrics.
func (e *Executive) MetricsSnapshot() MetricsSnapshot {
	if e.metrics == nil {
		return MetricsSnapshot{}
	}
	return e.metrics.Snapshot()
}

// Info summarizes an executive's static configuration and live state.
type Info struct {
	TaskCount     int
	TaskStackHint int
	HeapSize      int
	TaskStates    []task.State
}

// Info returns comprehensive information about the executive.
func (e *Executive) Info() Info {
	states := make([]task.State, e.inner.TaskCount())
	for i := range states {
		states[i] = e.inner.TaskState(i + 1)
	}
	return Info{
		TaskCount:     e.cfg.TaskCount,
		TaskStackHint: e.cfg.TaskStackHint,
		HeapSize:      e.cfg.HeapSize,
		TaskStates:    states,
	}
}
