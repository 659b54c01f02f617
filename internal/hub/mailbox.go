package hub

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/vanneszias/Safe-Chat/internal/event"
)

// DefaultMailboxCapacity is the number of pending events a session may hold.
const DefaultMailboxCapacity = 100

var ErrMailboxClosed = errors.New("mailbox closed")

// Mailbox is a session's bounded, multi-producer single-consumer event queue.
//
// Delivery is FIFO. When the queue is full the oldest unread event is
// discarded to make room, so producers never block on a slow consumer.
type Mailbox struct {
	sessionID string

	mu     sync.Mutex // serializes producers and Close
	ch     chan event.Event
	done   chan struct{}
	closed bool

	dropped atomic.Uint64
}

func NewMailbox(sessionID string, capacity int) *Mailbox {
	if capacity <= 0 {
		capacity = DefaultMailboxCapacity
	}
	return &Mailbox{
		sessionID: sessionID,
		ch:        make(chan event.Event, capacity),
		done:      make(chan struct{}),
	}
}

// Push enqueues ev. It reports whether an older event was evicted to make room.
func (m *Mailbox) Push(ev event.Event) (evicted bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false, ErrMailboxClosed
	}

	for {
		select {
		case m.ch <- ev:
			return evicted, nil
		default:
		}

		// full: drop the head
		select {
		case <-m.ch:
			m.dropped.Add(1)
			evicted = true
		default:
		}
	}
}

// Events is the consumer side of the queue.
func (m *Mailbox) Events() <-chan event.Event {
	return m.ch
}

// Done is closed once the mailbox is closed.
func (m *Mailbox) Done() <-chan struct{} {
	return m.done
}

// Close stops accepting events. Pending events stay readable.
func (m *Mailbox) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	close(m.done)
}

func (m *Mailbox) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *Mailbox) SessionID() string {
	return m.sessionID
}

func (m *Mailbox) Len() int {
	return len(m.ch)
}

func (m *Mailbox) Cap() int {
	return cap(m.ch)
}

// Dropped is the number of events evicted by overflow.
func (m *Mailbox) Dropped() uint64 {
	return m.dropped.Load()
}
