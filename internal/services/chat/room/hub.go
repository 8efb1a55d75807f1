// Package room tracks which connections are subscribed to which rooms and
// serializes delivery within each room.
package room

import (
	"log"
	"sort"
	"sync"
	"time"
)

// Sender delivers one event to a live connection.
type Sender interface {
	Send(eventType string, payload any) error
}

// Composer builds the event for a room message stamped at stamp. It runs
// under the room's ordering lock; an error aborts the broadcast.
type Composer func(stamp time.Time) (eventType string, payload any, err error)

// DefaultOutboxCapacity bounds how many events may wait for one
// connection before it is dropped as too slow.
const DefaultOutboxCapacity = 256

// Closer is implemented by senders that can tear down their connection.
// The hub closes a sender it evicts for falling behind or failing a write.
type Closer interface {
	Close() error
}

// Hub owns connection subscriptions. Each (connection, room) pair is
// subscribed at most once, so a broadcast reaches a connection once.
//
// Events for a connection go through its outbox: publishers enqueue under
// the room's ordering lock and deliver after releasing it, so a connection
// that stops reading delays only itself.
type Hub struct {
	capacity int

	mu      sync.Mutex
	peers   map[string]*outbox
	members map[string]map[string]struct{} // room -> connections
	rooms   map[string]map[string]struct{} // connection -> rooms
	order   map[string]*roomOrder
}

// roomOrder serializes stamping and enqueueing for one room.
type roomOrder struct {
	mu   sync.Mutex
	last time.Time
}

// Option configures a Hub.
type Option func(*Hub)

// WithOutboxCapacity sets the per-connection queue bound.
func WithOutboxCapacity(capacity int) Option {
	return func(h *Hub) {
		if capacity > 0 {
			h.capacity = capacity
		}
	}
}

// NewHub returns an empty hub.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		capacity: DefaultOutboxCapacity,
		peers:    make(map[string]*outbox),
		members:  make(map[string]map[string]struct{}),
		rooms:    make(map[string]map[string]struct{}),
		order:    make(map[string]*roomOrder),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register attaches sender to connID, replacing any previous sender.
func (h *Hub) Register(connID string, sender Sender) {
	if connID == "" || sender == nil {
		return
	}
	h.mu.Lock()
	h.peers[connID] = newOutbox(connID, sender, h.capacity)
	h.mu.Unlock()
}

// Remove drops connID and every subscription it holds.
func (h *Hub) Remove(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unsubscribeAllLocked(connID)
	if box, ok := h.peers[connID]; ok {
		box.shut()
		delete(h.peers, connID)
	}
}

// Subscribe adds connID to roomID. It reports whether a new subscription
// was created; repeated calls and unknown connections return false.
func (h *Hub) Subscribe(connID, roomID string) bool {
	if roomID == "" {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.peers[connID]; !ok {
		return false
	}
	connections, ok := h.members[roomID]
	if !ok {
		connections = make(map[string]struct{})
		h.members[roomID] = connections
	}
	if _, ok := connections[connID]; ok {
		return false
	}
	connections[connID] = struct{}{}

	joined, ok := h.rooms[connID]
	if !ok {
		joined = make(map[string]struct{})
		h.rooms[connID] = joined
	}
	joined[roomID] = struct{}{}
	return true
}

// UnsubscribeAll drops every subscription of connID but keeps it registered.
func (h *Hub) UnsubscribeAll(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unsubscribeAllLocked(connID)
}

func (h *Hub) unsubscribeAllLocked(connID string) {
	for roomID := range h.rooms[connID] {
		connections := h.members[roomID]
		delete(connections, connID)
		if len(connections) == 0 {
			delete(h.members, roomID)
		}
	}
	delete(h.rooms, connID)
}

// Subscribed reports whether connID receives broadcasts for roomID.
func (h *Hub) Subscribed(connID, roomID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.members[roomID][connID]
	return ok
}

// RoomsOf lists the rooms connID is subscribed to, sorted.
func (h *Hub) RoomsOf(connID string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	roomIDs := make([]string, 0, len(h.rooms[connID]))
	for roomID := range h.rooms[connID] {
		roomIDs = append(roomIDs, roomID)
	}
	sort.Strings(roomIDs)
	return roomIDs
}

// SendTo queues one event for connID and delivers it. Unknown or evicted
// connections are reported as false.
func (h *Hub) SendTo(connID, eventType string, payload any) bool {
	h.mu.Lock()
	box, ok := h.peers[connID]
	h.mu.Unlock()
	if !ok {
		return false
	}
	if !box.push(packet{eventType: eventType, payload: payload}) {
		h.evict(box)
		return false
	}
	h.deliver(box)
	return true
}

// Publish stamps and broadcasts one room message. Within a room, stamps
// strictly increase at millisecond resolution and every connection receives
// the room's events in stamp order. It returns how many connections the
// event was queued for.
func (h *Hub) Publish(roomID string, now time.Time, compose Composer) (int, error) {
	order := h.roomOrder(roomID)
	order.mu.Lock()

	stamp := now.UTC().Truncate(time.Millisecond)
	if !order.last.IsZero() && !stamp.After(order.last) {
		stamp = order.last.Add(time.Millisecond)
	}

	eventType, payload, err := compose(stamp)
	if err != nil {
		order.mu.Unlock()
		return 0, err
	}
	order.last = stamp

	var queued, overflowed []*outbox
	for _, box := range h.subscribers(roomID) {
		if box.push(packet{eventType: eventType, payload: payload}) {
			queued = append(queued, box)
		} else {
			overflowed = append(overflowed, box)
		}
	}
	order.mu.Unlock()

	for _, box := range overflowed {
		h.evict(box)
	}
	for _, box := range queued {
		h.deliver(box)
	}
	return len(queued), nil
}

// deliver drains box unless another goroutine already is. A failed write
// evicts the connection.
func (h *Hub) deliver(box *outbox) {
	if err := box.drain(); err != nil {
		h.evict(box)
	}
}

// evict drops a connection that fell behind or broke, then closes it so its
// reader notices.
func (h *Hub) evict(box *outbox) {
	h.mu.Lock()
	current, ok := h.peers[box.connID]
	if ok && current == box {
		h.unsubscribeAllLocked(box.connID)
		delete(h.peers, box.connID)
	}
	h.mu.Unlock()

	if !box.shut() {
		return
	}
	log.Printf("chat: dropping slow connection conn_id=%q", box.connID)
	if closer, ok := box.sender.(Closer); ok {
		go func() { _ = closer.Close() }()
	}
}

func (h *Hub) roomOrder(roomID string) *roomOrder {
	h.mu.Lock()
	defer h.mu.Unlock()
	order, ok := h.order[roomID]
	if !ok {
		order = &roomOrder{}
		h.order[roomID] = order
	}
	return order
}

func (h *Hub) subscribers(roomID string) []*outbox {
	h.mu.Lock()
	defer h.mu.Unlock()
	boxes := make([]*outbox, 0, len(h.members[roomID]))
	for connID := range h.members[roomID] {
		if box, ok := h.peers[connID]; ok {
			boxes = append(boxes, box)
		}
	}
	return boxes
}
