package room

import "sync"

type packet struct {
	eventType string
	payload   any
}

// outbox is one connection's bounded FIFO of pending events. Whoever finds
// it idle drains it, so events leave in the order they were queued and at
// most one goroutine writes to the sender at a time.
type outbox struct {
	connID   string
	sender   Sender
	capacity int

	mu       sync.Mutex
	queue    []packet
	draining bool
	closed   bool
}

func newOutbox(connID string, sender Sender, capacity int) *outbox {
	return &outbox{connID: connID, sender: sender, capacity: capacity}
}

// push queues p. It reports false when the outbox is closed or full.
func (o *outbox) push(p packet) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed || len(o.queue) >= o.capacity {
		return false
	}
	o.queue = append(o.queue, p)
	return true
}

// drain writes queued events until the queue is empty. It returns at once
// when another goroutine is draining; that goroutine picks up anything
// queued meanwhile.
func (o *outbox) drain() error {
	o.mu.Lock()
	if o.draining {
		o.mu.Unlock()
		return nil
	}
	o.draining = true
	for len(o.queue) > 0 && !o.closed {
		next := o.queue[0]
		o.queue[0] = packet{}
		o.queue = o.queue[1:]
		o.mu.Unlock()

		err := o.sender.Send(next.eventType, next.payload)

		o.mu.Lock()
		if err != nil {
			o.draining = false
			o.mu.Unlock()
			return err
		}
	}
	o.draining = false
	o.mu.Unlock()
	return nil
}

// shut discards pending events. It reports whether this call closed it.
func (o *outbox) shut() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return false
	}
	o.closed = true
	o.queue = nil
	return true
}
