package tinyrtos

import (
	"errors"
	"strings"
	"testing"

	"github.com/lcaron/tinyrtos/internal/heap"
	"github.com/lcaron/tinyrtos/internal/task"
)

func TestFaultErrorFormatsOpAndTask(t *testing.T) {
	f := NewTaskFault("send_request", 2, CodeNotBlocked, "task is already blocked")
	msg := f.Error()
	if msg == "" {
		t.Fatal("Error() returned empty string")
	}
	if !containsAll(msg, "task is already blocked", "op=send_request", "task=2") {
		t.Errorf("Error() = %q, missing expected components", msg)
	}
}

func TestFaultErrorOmitsTaskWhenNotApplicable(t *testing.T) {
	f := NewFault("new_executive", CodeInvalidTask, "taskCount must be >= 1")
	msg := f.Error()
	if containsAll(msg, "task=") {
		t.Errorf("Error() = %q, should not mention a task id", msg)
	}
}

func TestFaultIsComparesByCode(t *testing.T) {
	a := NewFault("op_a", CodeHeapExhausted, "out of memory")
	b := NewFault("op_b", CodeHeapExhausted, "a different message")
	c := NewFault("op_c", CodeInvalidTask, "different code")

	if !errors.Is(a, b) {
		t.Error("expected faults with the same code to satisfy errors.Is")
	}
	if errors.Is(a, c) {
		t.Error("expected faults with different codes not to satisfy errors.Is")
	}
}

func TestFaultUnwrapReturnsInner(t *testing.T) {
	inner := errors.New("underlying cause")
	f := &Fault{Op: "op", TaskID: -1, Code: CodeUnknown, Msg: "wrapped", Inner: inner}
	if errors.Unwrap(f) != inner {
		t.Error("Unwrap() did not return the wrapped error")
	}
}

func TestWrapFaultPassesThroughExistingFault(t *testing.T) {
	f := NewFault("op", CodeInvalidTask, "bad")
	if WrapFault(f) != f {
		t.Error("WrapFault should return an existing *Fault unchanged")
	}
}

func TestWrapFaultNilIsNil(t *testing.T) {
	if WrapFault(nil) != nil {
		t.Error("WrapFault(nil) should return nil")
	}
}

func TestWrapFaultConvertsTaskFault(t *testing.T) {
	tf := &task.Fault{Op: "task_asynch", TaskID: 1, Code: task.CodeAlreadyStarted, Msg: "already started"}
	wrapped := WrapFault(tf)
	if wrapped.Code != CodeAlreadyStarted {
		t.Errorf("Code = %v, want CodeAlreadyStarted", wrapped.Code)
	}
	if wrapped.TaskID != 1 {
		t.Errorf("TaskID = %d, want 1", wrapped.TaskID)
	}
	if !errors.Is(wrapped, wrapped.Inner) && wrapped.Unwrap() != tf {
		t.Error("expected Inner to unwrap to the original task.Fault")
	}
}

func TestWrapFaultConvertsHeapFault(t *testing.T) {
	hf := &heap.Fault{Op: "alloc", Msg: "heap exhausted"}
	wrapped := WrapFault(hf)
	if wrapped.Code != CodeHeapCorrupt {
		t.Errorf("Code = %v, want CodeHeapCorrupt", wrapped.Code)
	}
	if wrapped.Unwrap() != hf {
		t.Error("expected Inner to unwrap to the original heap.Fault")
	}
}

func TestWrapFaultConvertsArbitraryError(t *testing.T) {
	plain := errors.New("boom")
	wrapped := WrapFault(plain)
	if wrapped.Code != CodeUnknown {
		t.Errorf("Code = %v, want CodeUnknown", wrapped.Code)
	}
	if wrapped.Msg != "boom" {
		t.Errorf("Msg = %q, want %q", wrapped.Msg, "boom")
	}
}

func TestIsCode(t *testing.T) {
	f := NewFault("op", CodeNilMessage, "message is nil")
	if !IsCode(f, CodeNilMessage) {
		t.Error("IsCode should match the fault's own code")
	}
	if IsCode(f, CodeUnknown) {
		t.Error("IsCode should not match an unrelated code")
	}
	if IsCode(errors.New("not a fault"), CodeNilMessage) {
		t.Error("IsCode should return false for a non-Fault error")
	}
}

func containsAll(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if !strings.Contains(s, sub) {
			return false
		}
	}
	return true
}
