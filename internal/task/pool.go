package task

import "sync"

// messagePool recycles Message wrapper objects across activations, the
// same size-bucketed-pool idea a pooled I/O-buffer allocator uses,
// collapsed to a single bucket since a Message's Go-visible footprint
// (two uint32s, two pointers) is fixed size -- only its heap-backed
// accounting slice varies, and that is owned by the allocator, not the
// pool.
var messagePool = sync.Pool{
	New: func() interface{} { return &Message{} },
}

func getMessage() *Message {
	return messagePool.Get().(*Message)
}

func putMessage(m *Message) {
	m.ID = 0
	m.Param = 0
	m.next = nil
	m.calling = nil
	m.backing = nil
	messagePool.Put(m)
}
