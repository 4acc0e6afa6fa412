package task

// messageAccountingSize is the number of heap bytes every in-flight
// Message reserves via Executive's allocator, standing in for
// sizeof(struct task_msg) in the original firmware (next + calling + id
// + param, four 32-bit words). Go cannot reinterpret raw heap bytes as a
// struct containing pointers the way the original did -- the garbage
// collector must be able to see every pointer a live object holds -- so
// a Message here is an ordinary Go struct, and the heap reservation is
// pure accounting: it makes the "every message costs heap capacity"
// contract (I6/I7) observable without unsafely aliasing GC-managed
// pointers onto allocator bytes.
const messageAccountingSize = 16

// Entry is a task's body, the Go-native stand-in for reg_init.entry_point.
// It receives the context through which it reaches every scheduler
// operation and the message that started this activation, and it
// returns the reply delivered to a synchronous caller -- the Go
// equivalent of the entry function's C return value flowing back through
// the return trampoline (P7).
type Entry func(tc *TaskContext, first *Message) *Message

// Message is the datum passed between tasks: a request, a reply, or an
// indication. Every field mirrors rtos_ac.c's struct task_msg.
type Message struct {
	ID    uint32
	Param uint32

	next    *Message
	calling *Descriptor

	backing []byte
}
