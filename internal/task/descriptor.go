package task

// State is the externally observable phase of a Descriptor, derived
// entirely from its started/blocked flags -- there is no separate state
// field to keep in sync, matching rtos_ac.c's choice to encode the whole
// state machine in two booleans.
type State int

const (
	// StateIdle: !started && !blocked. Not running; ready to be started
	// by a request or an AsyncStart.
	StateIdle State = iota
	// StateRunning: started && !blocked. Executing, or parked waiting for
	// its next message via Wait.
	StateRunning
	// StateBlocked: started && blocked. Suspended inside SendRequest,
	// awaiting a reply from the callee before it can run again.
	StateBlocked
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateBlocked:
		return "blocked"
	default:
		return "unknown"
	}
}

// Descriptor is the Go stand-in for struct task_desc. Descriptor 0 is
// always the root task and runs on the goroutine that calls
// Executive.Run; descriptors 1..TaskCount run each on their own spawned
// goroutine for the lifetime of one activation (started -> ended).
type Descriptor struct {
	ID int

	entry Entry

	started bool
	blocked bool

	// calling is the descriptor synchronously waiting on this task's
	// reply, nil if this task was asynch-started or dequeued without a
	// synchronous caller.
	calling *Descriptor

	requests     mailbox
	indications  mailbox

	// resume is this descriptor's rendezvous channel, the Go stand-in for
	// reg_save: a parked goroutine is always blocked receiving from its
	// own resume channel, so delivering to it is a plain channel send
	// rather than a saved-context restore.
	resume chan *Message

	// history is a fixed-depth ring of recent scheduling events for this
	// descriptor, sized from config.Config.TaskStackHint so that constant
	// does real work in a hosted Go process instead of being vestigial.
	history    []string
	historyPos int
	historyLen int
}

func newDescriptor(id int, historyDepth int) *Descriptor {
	if historyDepth < 1 {
		historyDepth = 1
	}
	return &Descriptor{
		ID:      id,
		resume:  make(chan *Message),
		history: make([]string, historyDepth),
	}
}

// recordHistory appends event to the descriptor's ring buffer, overwriting
// the oldest entry once the buffer is full.
func (d *Descriptor) recordHistory(event string) {
	d.history[d.historyPos] = event
	d.historyPos = (d.historyPos + 1) % len(d.history)
	if d.historyLen < len(d.history) {
		d.historyLen++
	}
}

// History returns recorded events in chronological order (oldest first).
func (d *Descriptor) History() []string {
	out := make([]string, d.historyLen)
	start := d.historyPos - d.historyLen
	if start < 0 {
		start += len(d.history)
	}
	for i := 0; i < d.historyLen; i++ {
		out[i] = d.history[(start+i)%len(d.history)]
	}
	return out
}

// State reports this descriptor's current phase.
func (d *Descriptor) State() State {
	switch {
	case d.started && d.blocked:
		return StateBlocked
	case d.started:
		return StateRunning
	default:
		return StateIdle
	}
}
