package events

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// MemoryPublisher delivers messages in-process. Each subscription has its
// own buffered queue and goroutine; messages to a full queue are dropped.
type MemoryPublisher struct {
	mu            sync.RWMutex
	subscriptions map[string][]*memorySubscription
	closed        atomic.Bool
	subCounter    atomic.Uint64
}

// NewMemoryPublisher creates an in-memory publisher.
func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{subscriptions: make(map[string][]*memorySubscription)}
}

func (p *MemoryPublisher) Publish(_ context.Context, subject string, data []byte) error {
	if p.closed.Load() {
		return ErrClosed
	}
	msg := &Message{Subject: subject, Data: data}

	p.mu.RLock()
	defer p.mu.RUnlock()
	for pattern, subs := range p.subscriptions {
		if !matchSubject(pattern, subject) {
			continue
		}
		for _, sub := range subs {
			if sub.closed.Load() {
				continue
			}
			select {
			case sub.messages <- msg:
			default:
			}
		}
	}
	return nil
}

func (p *MemoryPublisher) Subscribe(ctx context.Context, pattern string, handler Handler) (Subscription, error) {
	if p.closed.Load() {
		return nil, ErrClosed
	}
	sub := &memorySubscription{
		id:        fmt.Sprintf("sub-%d", p.subCounter.Add(1)),
		subject:   pattern,
		messages:  make(chan *Message, 256),
		handler:   handler,
		publisher: p,
	}

	p.mu.Lock()
	p.subscriptions[pattern] = append(p.subscriptions[pattern], sub)
	p.mu.Unlock()

	go sub.run(ctx)
	return sub, nil
}

func (p *MemoryPublisher) Close() error {
	if p.closed.Swap(true) {
		return ErrClosed
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, subs := range p.subscriptions {
		for _, sub := range subs {
			if !sub.closed.Swap(true) {
				close(sub.messages)
			}
		}
	}
	return nil
}

type memorySubscription struct {
	id        string
	subject   string
	messages  chan *Message
	handler   Handler
	publisher *MemoryPublisher
	closed    atomic.Bool
}

func (s *memorySubscription) Unsubscribe() error {
	s.publisher.mu.Lock()
	defer s.publisher.mu.Unlock()

	if s.closed.Swap(true) {
		return nil
	}
	close(s.messages)

	subs := s.publisher.subscriptions[s.subject]
	for i, sub := range subs {
		if sub.id == s.id {
			s.publisher.subscriptions[s.subject] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	return nil
}

func (s *memorySubscription) Subject() string {
	return s.subject
}

func (s *memorySubscription) run(ctx context.Context) {
	for {
		select {
		case msg, ok := <-s.messages:
			if !ok {
				return
			}
			s.handler(msg)
		case <-ctx.Done():
			return
		}
	}
}
