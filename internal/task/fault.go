package task

import "fmt"

// FaultCode classifies a contract violation raised by the executive.
type FaultCode string

const (
	CodeInvalidTask    FaultCode = "invalid_task"
	CodeAlreadyStarted FaultCode = "already_started"
	CodeNotBlocked     FaultCode = "not_blocked"
	CodeIllegalResume  FaultCode = "illegal_resume"
	CodeNilMessage     FaultCode = "nil_message"
	CodeMissingEntry   FaultCode = "missing_entry"
	CodeRootViolation  FaultCode = "root_violation"
)

// Fault is panicked for every scheduler contract violation: an
// out-of-range task id, a double start, a request sent while already
// blocked, resuming a task that cannot legally be resumed. These mirror
// rtos_ac.c's ASSERT(...) calls, which halted the firmware outright --
// here, the panic unwinds to the Executive's Run loop, which converts it
// into a single fatal error rather than crashing the process, unless it
// originates on a task goroutine, where it is funneled back through
// faultCh instead.
type Fault struct {
	Op     string
	TaskID int
	Code   FaultCode
	Msg    string
}

func (f *Fault) Error() string {
	return fmt.Sprintf("task: %s: task %d: %s: %s", f.Op, f.TaskID, f.Code, f.Msg)
}

func fault(op string, taskID int, code FaultCode, format string, args ...interface{}) {
	panic(&Fault{Op: op, TaskID: taskID, Code: code, Msg: fmt.Sprintf(format, args...)})
}
