package tinyrtos

import (
	"errors"
	"fmt"

	"github.com/lcaron/tinyrtos/internal/heap"
	"github.com/lcaron/tinyrtos/internal/task"
)

// Fault represents a structured contract violation surfaced by the
// executive: an out-of-range task id, a heap corruption, a scheduler
// rule broken by a task body. These are the Go-level equivalent of the
// firmware's ASSERT(...) macros, which simply halted -- here they unwind
// as a panic recovered at the boundary of Run and returned as a single
// error value.
type Fault struct {
	Op     string    // operation that detected the violation
	TaskID int       // task id involved, -1 if not applicable
	Code   FaultCode // high-level category
	Msg    string    // human-readable detail
	Inner  error     // wrapped internal fault, if any
}

func (f *Fault) Error() string {
	var parts []string
	if f.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", f.Op))
	}
	if f.TaskID >= 0 {
		parts = append(parts, fmt.Sprintf("task=%d", f.TaskID))
	}

	msg := f.Msg
	if msg == "" {
		msg = string(f.Code)
	}
	if len(parts) == 0 {
		return fmt.Sprintf("tinyrtos: %s", msg)
	}
	detail := parts[0]
	for _, p := range parts[1:] {
		detail += " " + p
	}
	return fmt.Sprintf("tinyrtos: %s (%s)", msg, detail)
}

// Unwrap returns the wrapped internal fault, if any.
func (f *Fault) Unwrap() error {
	return f.Inner
}

// Is supports errors.Is comparison by FaultCode.
func (f *Fault) Is(target error) bool {
	if target == nil {
		return false
	}
	if tf, ok := target.(*Fault); ok {
		return f.Code == tf.Code
	}
	return false
}

// FaultCode categorizes a Fault.
type FaultCode string

const (
	CodeInvalidTask    FaultCode = "invalid_task"
	CodeAlreadyStarted FaultCode = "already_started"
	CodeNotBlocked     FaultCode = "not_blocked"
	CodeHeapExhausted  FaultCode = "heap_exhausted"
	CodeHeapCorrupt    FaultCode = "heap_corrupt"
	CodeIllegalResume  FaultCode = "illegal_resume"
	CodeNilMessage     FaultCode = "nil_message"
	CodeMissingEntry   FaultCode = "missing_entry"
	CodeRootViolation  FaultCode = "root_violation"
	CodeUnknown        FaultCode = "unknown"
)

// NewFault creates a new structured fault.
func NewFault(op string, code FaultCode, msg string) *Fault {
	return &Fault{Op: op, TaskID: -1, Code: code, Msg: msg}
}

// NewTaskFault creates a new fault scoped to a specific task.
func NewTaskFault(op string, taskID int, code FaultCode, msg string) *Fault {
	return &Fault{Op: op, TaskID: taskID, Code: code, Msg: msg}
}

// WrapFault converts an internal task.Fault or heap.Fault (the package-
// local panic values raised deep inside the scheduler or allocator) into
// a root Fault, preserving operation, task id and message. Any other
// error is wrapped as CodeUnknown. Used exactly once, at Run's recovery
// boundary, so a violation raised on any goroutine surfaces uniformly.
func WrapFault(err error) *Fault {
	if err == nil {
		return nil
	}
	if f, ok := err.(*Fault); ok {
		return f
	}
	if tf, ok := err.(*task.Fault); ok {
		return &Fault{Op: tf.Op, TaskID: tf.TaskID, Code: FaultCode(tf.Code), Msg: tf.Msg, Inner: tf}
	}
	if hf, ok := err.(*heap.Fault); ok {
		return &Fault{Op: hf.Op, TaskID: -1, Code: CodeHeapCorrupt, Msg: hf.Msg, Inner: hf}
	}
	return &Fault{Op: "run", TaskID: -1, Code: CodeUnknown, Msg: err.Error(), Inner: err}
}

// IsCode reports whether err is a *Fault with the given code.
func IsCode(err error, code FaultCode) bool {
	var f *Fault
	if errors.As(err, &f) {
		return f.Code == code
	}
	return false
}
