package events

import "sync"

type message struct {
	event Event
	prev  *message
}

// buffer is a FIFO of pending events. When bounded and full, the oldest
// event is dropped.
type buffer struct {
	lock    sync.Mutex
	head    *message
	tail    *message
	size    int
	limit   int
	dropped int
}

func newBuffer(limit int) *buffer {
	return &buffer{limit: limit}
}

func (b *buffer) PushBack(e Event) {
	b.lock.Lock()
	defer b.lock.Unlock()

	if b.limit > 0 && b.size >= b.limit {
		b.popLocked()
		b.dropped++
	}
	msg := &message{event: e}
	if b.head == nil {
		b.head = msg
		b.tail = msg
	} else {
		b.tail.prev = msg
		b.tail = msg
	}
	b.size++
}

func (b *buffer) Pop() (Event, bool) {
	b.lock.Lock()
	defer b.lock.Unlock()
	msg := b.popLocked()
	if msg == nil {
		return Event{}, false
	}
	return msg.event, true
}

func (b *buffer) popLocked() *message {
	if b.head == nil {
		return nil
	}
	tmp := b.head
	if b.head.prev != nil {
		b.head = b.head.prev
	} else {
		b.head = nil
		b.tail = nil
	}
	b.size--
	return tmp
}

func (b *buffer) Size() int {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.size
}

func (b *buffer) Dropped() int {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.dropped
}
