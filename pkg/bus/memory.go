package bus

import (
	"context"
	"errors"
	"sync"
)

// ErrBusClosed indicates a publish or subscribe on a closed bus.
var ErrBusClosed = errors.New("bus is closed")

// MemoryBus is an in-process Bus used when no broker is configured (single
// server instance) and in tests. Each subscription gets its own ordered
// delivery goroutine, matching the one-ordered-stream-per-process model of
// the NATS implementation.
type MemoryBus struct {
	mu     sync.Mutex
	subs   map[string][]*memorySubscription
	closed bool
}

// NewMemoryBus creates an empty in-process bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[string][]*memorySubscription)}
}

// Publish delivers data to every current subscriber of subject.
func (b *MemoryBus) Publish(ctx context.Context, subject string, data []byte) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBusClosed
	}
	subs := make([]*memorySubscription, len(b.subs[subject]))
	copy(subs, b.subs[subject])
	b.mu.Unlock()

	for _, sub := range subs {
		select {
		case sub.events <- data:
		case <-sub.quit:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Subscribe registers handler for events on subject.
func (b *MemoryBus) Subscribe(subject string, handler Handler) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBusClosed
	}

	sub := &memorySubscription{
		bus:     b,
		subject: subject,
		events:  make(chan []byte, 64),
		quit:    make(chan struct{}),
	}
	b.subs[subject] = append(b.subs[subject], sub)

	go sub.deliverLoop(handler)
	return sub, nil
}

// Close tears down all subscriptions.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	for _, subs := range b.subs {
		for _, sub := range subs {
			sub.stop()
		}
	}
	b.subs = nil
	return nil
}

type memorySubscription struct {
	bus      *MemoryBus
	subject  string
	events   chan []byte
	quit     chan struct{}
	stopOnce sync.Once
}

func (s *memorySubscription) deliverLoop(handler Handler) {
	for {
		select {
		case data := <-s.events:
			handler(data)
		case <-s.quit:
			return
		}
	}
}

func (s *memorySubscription) stop() {
	s.stopOnce.Do(func() { close(s.quit) })
}

// Unsubscribe removes the subscription from the bus.
func (s *memorySubscription) Unsubscribe() error {
	s.bus.mu.Lock()
	subs := s.bus.subs[s.subject]
	for i, sub := range subs {
		if sub == s {
			s.bus.subs[s.subject] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	s.bus.mu.Unlock()

	s.stop()
	return nil
}
