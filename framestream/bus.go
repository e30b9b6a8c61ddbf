// Package framestream periodically snapshots the canvas and fans the
// resulting frames out to remote viewers.
//
// Distribution follows a strict drop policy: frames are handed to
// subscribers over buffered channels and dropped when a channel is full. A
// slow or disconnected viewer therefore never blocks snapshot production,
// other viewers, or the ingestion path.
package framestream

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrSubscriberExists is returned when Subscribe is called with a duplicate id.
	ErrSubscriberExists = errors.New("subscriber id already exists")

	// ErrSubscriberNotFound is returned when Unsubscribe is called with an unknown id.
	ErrSubscriberNotFound = errors.New("subscriber id not found")

	// ErrBusClosed is returned when operations are attempted on a closed bus.
	ErrBusClosed = errors.New("bus is closed")
)

// Frame is one canvas snapshot to be distributed.
type Frame struct {
	// Width and Height are the canvas dimensions in pixels.
	Width  int
	Height int

	// Pixels is the row-major grid, one 0xRRGGBBAA value per pixel.
	Pixels []uint32

	// Seq is the frame sequence number.
	Seq uint64

	// Timestamp is when the snapshot was taken.
	Timestamp time.Time
}

// BusStats contains distribution counters.
type BusStats struct {
	TotalPublished uint64
	TotalSent      uint64
	TotalDropped   uint64
	Subscribers    int
}

// Bus distributes frames to subscribers with a drop-on-full policy. All
// methods are safe for concurrent use.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string]chan<- Frame
	closed bool

	published atomic.Uint64
	sent      atomic.Uint64
	dropped   atomic.Uint64
}

// NewBus creates an empty frame bus.
func NewBus() *Bus {
	return &Bus{
		subs: make(map[string]chan<- Frame),
	}
}

// Subscribe registers a channel to receive frames. The channel should be
// buffered; an unbuffered channel drops every frame its receiver is not
// already waiting for.
func (b *Bus) Subscribe(id string, ch chan<- Frame) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBusClosed
	}
	if _, exists := b.subs[id]; exists {
		return ErrSubscriberExists
	}
	b.subs[id] = ch
	return nil
}

// Unsubscribe removes a subscriber by id.
func (b *Bus) Unsubscribe(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBusClosed
	}
	if _, exists := b.subs[id]; !exists {
		return ErrSubscriberNotFound
	}
	delete(b.subs, id)
	return nil
}

// Publish sends frame to all subscribers without blocking, dropping it for
// subscribers whose channels are full. Publishing on a closed bus is a no-op.
func (b *Bus) Publish(frame Frame) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	b.published.Add(1)
	for _, ch := range b.subs {
		select {
		case ch <- frame:
			b.sent.Add(1)
		default:
			b.dropped.Add(1)
		}
	}
}

// SubscriberCount returns the number of registered subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Stats returns current distribution counters.
func (b *Bus) Stats() BusStats {
	b.mu.RLock()
	subscribers := len(b.subs)
	b.mu.RUnlock()

	return BusStats{
		TotalPublished: b.published.Load(),
		TotalSent:      b.sent.Load(),
		TotalDropped:   b.dropped.Load(),
		Subscribers:    subscribers,
	}
}

// Close stops the bus. Subsequent Subscribe/Unsubscribe return ErrBusClosed
// and Publish becomes a no-op.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBusClosed
	}
	b.closed = true
	b.subs = make(map[string]chan<- Frame)
	return nil
}
