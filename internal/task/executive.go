// Package task implements the cooperative scheduler: task descriptors,
// their mailboxes, and the request/indication dispatch rules of
// rtos_ac.c's task_send_req/task_send_ind/task_wait/task_schedule/
// task_ending_handler, realized with a goroutine per task and an
// unbuffered "resume" channel standing in for the saved CPU context
// (reg_save) that context_switch restored on real hardware.
//
// Exactly one goroutine is ever runnable at a time: every handoff is
// either a channel send to a goroutine already blocked receiving on its
// own resume channel, or the spawning of a brand-new goroutine for a
// task being started for the first time. This is what lets Executive's
// scheduling state (current, descriptor started/blocked flags, mailbox
// contents) be read and written without a lock -- the Go memory model
// guarantees a happens-before edge across both a channel rendezvous and
// a go statement, so state written by the task relinquishing control is
// always visible to the task receiving it.
package task

import (
	"context"
	"fmt"
	"time"

	"github.com/lcaron/tinyrtos/internal/heap"
	"github.com/lcaron/tinyrtos/internal/interfaces"
)

// rootID is the descriptor index reserved for the boot task, the Go
// stand-in for task_desc_tab[0].
const rootID = 0

// idlePoll is how often Run retries scheduling when the root task finds
// no work, the cooperative-executive equivalent of an idle/WFI loop.
const idlePoll = time.Millisecond

// Option configures an Executive at construction.
type Option func(*Executive)

// WithLogger attaches a debug logger.
func WithLogger(l interfaces.Logger) Option {
	return func(e *Executive) { e.logger = l }
}

// WithObserver attaches an instrumentation sink for scheduler events.
func WithObserver(o interfaces.Observer) Option {
	return func(e *Executive) { e.observer = o }
}

// WithHeap lets a caller supply a pre-built allocator (e.g. one already
// wired to an Observer/Logger) instead of having NewExecutive build one
// from heapSize.
func WithHeap(h *heap.Allocator) Option {
	return func(e *Executive) { e.heap = h }
}

// WithHistoryDepth sets how many recent scheduling events each descriptor
// keeps in its diagnostic ring buffer. Typically derived from
// config.Config.TaskStackHint.
func WithHistoryDepth(n int) Option {
	return func(e *Executive) { e.historyDepth = n }
}

const defaultHistoryDepth = 8

// Executive owns the task table, the heap messages are allocated from,
// and the single thread of control that hands off between descriptors.
// It is the Go-native stand-in for the whole of rtos_ac.c's scheduler
// state: task_desc_tab, task_current, and the context_switch machinery.
type Executive struct {
	descs []*Descriptor // descs[0] is root; descs[1..TaskCount] are tasks
	heap  *heap.Allocator

	current *Descriptor

	logger   interfaces.Logger
	observer interfaces.Observer

	historyDepth int

	faultCh chan *Fault
}

// NewExecutive allocates taskCount task descriptors plus the root, and a
// heapSize-byte message heap, the Go equivalent of sizing
// task_desc_tab[TASK_CNT+1] and the static heap array at build time.
func NewExecutive(taskCount int, heapSize int, opts ...Option) *Executive {
	if taskCount < 1 {
		fault("new_executive", 0, CodeInvalidTask, "taskCount must be >= 1, got %d", taskCount)
	}

	e := &Executive{
		descs:        make([]*Descriptor, taskCount+1),
		observer:     interfaces.NoOpObserver{},
		historyDepth: defaultHistoryDepth,
		faultCh:      make(chan *Fault, 1),
	}
	for _, opt := range opts {
		opt(e)
	}
	for i := range e.descs {
		e.descs[i] = newDescriptor(i, e.historyDepth)
	}
	if e.heap == nil {
		heapOpts := []heap.Option{}
		if e.logger != nil {
			heapOpts = append(heapOpts, heap.WithLogger(e.logger))
		}
		heapOpts = append(heapOpts, heap.WithObserver(e.observer))
		e.heap = heap.New(make([]byte, heapSize), heapOpts...)
	}
	e.current = e.descs[rootID]
	return e
}

// TaskCount returns the number of non-root tasks.
func (e *Executive) TaskCount() int {
	return len(e.descs) - 1
}

// TaskState reports taskID's current phase.
func (e *Executive) TaskState(taskID int) State {
	return e.descriptor("task_state", taskID).State()
}

// TaskHistory returns taskID's recent scheduling events, oldest first.
func (e *Executive) TaskHistory(taskID int) []string {
	return e.descriptor("task_history", taskID).History()
}

// RegisterTask installs taskID's entry function. It must be called
// before Run for every id in 1..TaskCount; Run faults if any is left
// unregistered, the closest Go analogue to a dangling null function
// pointer in task_desc_tab.
func (e *Executive) RegisterTask(id int, entry Entry) {
	d := e.descriptor("register_task", id)
	d.entry = entry
}

func (e *Executive) descriptor(op string, taskID int) *Descriptor {
	if taskID < 1 || taskID >= len(e.descs) {
		fault(op, taskID, CodeInvalidTask, "task id out of range [1,%d]", len(e.descs)-1)
	}
	return e.descs[taskID]
}

// --- messages ------------------------------------------------------

// NewMessage allocates a message charged against the executive's heap,
// the Go equivalent of task_malloc. calling is recorded as whichever
// task is current at allocation time, matching task_malloc's
// `msg->calling = task_current`.
func (e *Executive) NewMessage(id, param uint32) *Message {
	backing := e.heap.Alloc(messageAccountingSize)
	m := getMessage()
	m.ID = id
	m.Param = param
	m.calling = e.current
	m.backing = backing
	return m
}

// FreeMessage releases a message's heap reservation and returns its
// wrapper to the pool. The receiving task is responsible
// for freeing every message it consumes, whether a request, a reply, or
// an indication.
func (e *Executive) FreeMessage(m *Message) {
	if m == nil {
		return
	}
	if m.backing != nil {
		e.heap.Free(m.backing)
	}
	putMessage(m)
}

// --- TaskContext -----------------------------------------------------

// TaskContext is the Go-idiomatic substitute for the implicit global
// task_current: rather than being read from package state, it is
// threaded explicitly into every Entry invocation.
type TaskContext struct {
	exec *Executive
	desc *Descriptor
}

// ID returns the current task's descriptor id.
func (tc *TaskContext) ID() int { return tc.desc.ID }

// NewMessage allocates a message on behalf of the current task.
func (tc *TaskContext) NewMessage(id, param uint32) *Message {
	return tc.exec.NewMessage(id, param)
}

// Free releases a message the current task is done with.
func (tc *TaskContext) Free(m *Message) {
	tc.exec.FreeMessage(m)
}

// SendRequest is task_send_req: send req to taskID and block until that
// task (or a chain of tasks it calls in turn) replies.
func (tc *TaskContext) SendRequest(req *Message, taskID int) *Message {
	return tc.exec.sendRequest(tc.desc, req, taskID)
}

// SendIndication is task_send_ind: enqueue ind on taskID's indication
// mailbox if it is started, else silently discard it.
func (tc *TaskContext) SendIndication(ind *Message, taskID int) {
	tc.exec.sendIndication(tc.desc, ind, taskID)
}

// Wait is task_wait: return the next pending indication immediately, or
// block until the scheduler delivers one. Requests queued to this task
// are not returned here; they start a new activation once this one ends.
func (tc *TaskContext) Wait() *Message {
	return tc.exec.wait(tc.desc)
}

// --- scheduler operations -------------------------------------------

// SendIndication is task_send_ind called on behalf of whichever
// descriptor currently holds the CPU -- unlike task_send_req, the
// original firmware never forbids the root task from sending an
// indication, so this is the root's path to the same sendIndication a
// TaskContext uses from within a task body.
func (e *Executive) SendIndication(ind *Message, taskID int) {
	e.sendIndication(e.current, ind, taskID)
}

// AsyncStart is task_asynch: start taskID with no initial message and no
// synchronous caller. Only the root task may call it.
func (e *Executive) AsyncStart(taskID int) {
	self := e.current
	if self.ID != rootID {
		fault("task_asynch", self.ID, CodeRootViolation, "task_asynch may only be called from the root task")
	}
	d := e.descriptor("task_asynch", taskID)
	if d.started {
		fault("task_asynch", taskID, CodeAlreadyStarted, "task already started")
	}
	if d.entry == nil {
		fault("task_asynch", taskID, CodeMissingEntry, "no entry function registered")
	}
	d.calling = nil
	e.dispatchStart(d, nil)
	reply := <-self.resume
	e.current = self
	e.freeIfUnowned(reply)
}

func (e *Executive) sendRequest(self *Descriptor, req *Message, taskID int) *Message {
	if self.blocked {
		fault("task_send_req", self.ID, CodeNotBlocked, "task is already blocked on a pending request")
	}
	if self.ID == rootID {
		fault("task_send_req", self.ID, CodeRootViolation, "the root task may not send synchronous requests")
	}
	if req == nil {
		fault("task_send_req", self.ID, CodeNilMessage, "request message is nil")
	}
	d := e.descriptor("task_send_req", taskID)
	if d.entry == nil {
		fault("task_send_req", taskID, CodeMissingEntry, "no entry function registered")
	}

	self.blocked = true

	if d.started || !d.requests.empty() {
		d.requests.push(req)
		e.observeQueueDepth(d, "req")
		return e.schedule(self)
	}

	d.calling = self
	e.dispatchStart(d, req)
	reply := <-self.resume
	e.current = self
	return reply
}

func (e *Executive) sendIndication(self *Descriptor, ind *Message, taskID int) {
	if ind == nil {
		fault("task_send_ind", self.ID, CodeNilMessage, "indication message is nil")
	}
	d := e.descriptor("task_send_ind", taskID)

	if d.started {
		d.indications.push(ind)
		e.observeQueueDepth(d, "ind")
		return
	}
	e.FreeMessage(ind)
	e.observer.ObserveIndicationDiscarded(taskID)
}

func (e *Executive) wait(self *Descriptor) *Message {
	if !self.indications.empty() {
		m := self.indications.pop()
		e.observeQueueDepth(self, "ind")
		return m
	}
	return e.schedule(self)
}

// schedule is task_schedule as called from a live, continuing task
// (task_send_req's busy-target branch, task_wait's empty-queue branch):
// find the next runnable descriptor after self, dispatch to it, then
// park on self's own resume channel until control returns.
func (e *Executive) schedule(self *Descriptor) *Message {
	if !e.scheduleNext(self) {
		// self is root and nothing is runnable: caller stays current.
		return nil
	}
	reply := <-self.resume
	e.current = self
	return reply
}

// scheduleFromRoot runs one scheduling attempt on behalf of root,
// blocking for root's resume if a switch happened. It reports whether
// any work was found, the signal Run's idle loop polls on.
func (e *Executive) scheduleFromRoot() bool {
	root := e.descs[rootID]
	if !e.scheduleNext(root) {
		return false
	}
	<-root.resume
	e.current = root
	return true
}

// scheduleNext implements the exact selection rule of task_schedule:
// scan ascending from from.ID+1. The first non-blocked descriptor with a
// pending indication (if started) or a pending request (if not started)
// is dispatched. If the scan runs past the last descriptor: if from is
// already root, there is nothing to do; otherwise root is selected
// unconditionally as the fallback resume target, with no further check
// of its own state, mirroring task_schedule's direct `task_new =
// task_desc_tab; break;` on wraparound.
func (e *Executive) scheduleNext(from *Descriptor) bool {
	n := len(e.descs) - 1
	for idx := from.ID + 1; ; idx++ {
		if idx > n {
			if from.ID == rootID {
				return false
			}
			e.dispatchResume(e.descs[rootID], nil)
			return true
		}
		cand := e.descs[idx]
		if cand.blocked {
			continue
		}
		if cand.started && !cand.indications.empty() {
			msg := cand.indications.pop()
			e.observeQueueDepth(cand, "ind")
			e.dispatchResume(cand, msg)
			return true
		}
		if !cand.started && !cand.requests.empty() {
			msg := cand.requests.pop()
			e.observeQueueDepth(cand, "req")
			cand.calling = msg.calling
			e.dispatchStart(cand, msg)
			return true
		}
	}
}

// dispatchStart spawns target's goroutine with msg as its first and only
// argument -- a "start" delivers directly, since the target goroutine
// does not exist yet to be waiting on a channel.
func (e *Executive) dispatchStart(target *Descriptor, msg *Message) {
	e.observer.ObserveContextSwitch(e.current.ID, target.ID)
	target.started = true
	e.observer.ObserveTaskStart(target.ID)
	e.current = target
	target.recordHistory("start")
	if e.logger != nil {
		e.logger.Debugf("task: start %d", target.ID)
	}
	go e.runTask(target, msg)
}

// dispatchResume hands msg to an already-started, parked target by
// sending on its resume channel: the state-machine invariant
// (started && !blocked && not currently executing) guarantees the
// target goroutine is blocked receiving there.
func (e *Executive) dispatchResume(target *Descriptor, msg *Message) {
	e.observer.ObserveContextSwitch(e.current.ID, target.ID)
	if e.logger != nil {
		e.logger.Debugf("task: resume %d", target.ID)
	}
	e.current = target
	target.recordHistory("resume")
	target.resume <- msg
}

// runTask is the body every non-root goroutine executes for exactly one
// activation: run the entry function to completion, then run the ending
// handler with whatever it returned. A panic here (a *Fault from a
// nested scheduler call, or anything else) is recovered and forwarded to
// Run over faultCh rather than crashing the process, since an unrecovered
// panic on a non-boot goroutine is fatal to the whole program in Go.
func (e *Executive) runTask(d *Descriptor, first *Message) {
	defer func() {
		if r := recover(); r != nil {
			f, ok := r.(*Fault)
			if !ok {
				f = &Fault{Op: "task_entry", TaskID: d.ID, Code: CodeInvalidTask, Msg: fmt.Sprintf("panic: %v", r)}
			}
			select {
			case e.faultCh <- f:
			default:
			}
		}
	}()

	tc := &TaskContext{exec: e, desc: d}
	reply := d.entry(tc, first)
	e.endTask(d, reply)
}

// endTask is task_ending_handler: mark d idle, then either hand reply
// straight to the synchronous caller that is blocked on d (a direct
// resume, no scheduling scan, matching context_switch2's "restore only,
// no save" shape since the dying task has nothing worth saving) or, if
// nothing was waiting synchronously, run the ordinary scheduling scan
// to find the next runnable descriptor.
func (e *Executive) endTask(d *Descriptor, reply *Message) {
	d.started = false
	e.observer.ObserveTaskEnd(d.ID)
	d.recordHistory("end")

	calling := d.calling
	d.calling = nil

	if calling != nil {
		if calling.ID == rootID {
			fault("task_ending_handler", d.ID, CodeIllegalResume, "synchronous caller cannot be the root task")
		}
		if !calling.blocked || !calling.started {
			fault("task_ending_handler", d.ID, CodeIllegalResume, "synchronous caller %d is not blocked", calling.ID)
		}
		calling.blocked = false
		e.observer.ObserveContextSwitch(d.ID, calling.ID)
		if e.logger != nil {
			e.logger.Debugf("task: end %d, resume caller %d", d.ID, calling.ID)
		}
		e.current = calling
		calling.resume <- reply
		return
	}

	if e.logger != nil {
		e.logger.Debugf("task: end %d, no caller to resume", d.ID)
	}
	e.freeIfUnowned(reply)
	e.scheduleNext(d)
}

// freeIfUnowned releases a reply message nobody is going to read: the
// ending handler's no-caller branch, and AsyncStart's post-start resume
// (the root never inspects an asynch-started task's eventual return
// value, since task_asynch's caller passed no message to begin with).
func (e *Executive) freeIfUnowned(m *Message) {
	if m != nil {
		e.FreeMessage(m)
	}
}

func (e *Executive) observeQueueDepth(d *Descriptor, which string) {
	var depth int
	if which == "req" {
		depth = d.requests.len()
	} else {
		depth = d.indications.len()
	}
	e.observer.ObserveQueueDepth(d.ID, which, depth)
}

// --- boot loop ---------------------------------------------------------

// Run is the root task's body: the perpetual idle loop that the
// firmware's main() fell into after initialization. On every iteration
// it attempts one scheduling step on root's behalf; if a task is
// runnable, it dispatches and waits for control to return, otherwise it
// idle-polls. Run returns when ctx is done, or when any task raises a
// *Fault (surfaced here as a single fatal event regardless of which
// goroutine raised it).
func (e *Executive) Run(ctx context.Context) (err error) {
	for i := 1; i < len(e.descs); i++ {
		if e.descs[i].entry == nil {
			return &Fault{Op: "run", TaskID: i, Code: CodeMissingEntry, Msg: "no entry function registered"}
		}
	}

	defer func() {
		if r := recover(); r != nil {
			if f, ok := r.(*Fault); ok {
				err = f
				return
			}
			panic(r)
		}
	}()

	e.current = e.descs[rootID]
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f := <-e.faultCh:
			return f
		default:
		}

		if e.scheduleFromRoot() {
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case f := <-e.faultCh:
			return f
		case <-time.After(idlePoll):
		}
	}
}
