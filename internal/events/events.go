// Package events is a small typed publish/subscribe bus. Automation
// runs publish progress, log and completion events on it; the HTTP
// layer and the CLI subscribe to relay them to whoever is watching.
package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// HandlerFunc is the untyped form a handler is stored in.
type HandlerFunc func(context.Context, any) error

// emitTimeout bounds how long Emit blocks when the bus is backed up.
const emitTimeout = 5 * time.Second

// Subject is the bus. A single dispatch goroutine delivers events in
// emission order, so handlers for one topic are never called
// concurrently with each other.
type Subject struct {
	mu     sync.RWMutex
	subs   map[string]map[string]HandlerFunc
	nextID atomic.Int64

	events   chan event
	shutdown chan struct{}
	closed   atomic.Bool
	wg       sync.WaitGroup

	log *slog.Logger
}

type event struct {
	topic   string
	payload any
}

// Subscription identifies one subscriber and detaches it on demand.
type Subscription struct {
	ID          string
	Topic       string
	Unsubscribe func()
}

// NewSubject starts a bus with its dispatch goroutine running.
func NewSubject(log *slog.Logger) *Subject {
	if log == nil {
		log = slog.Default()
	}
	s := &Subject{
		subs:     make(map[string]map[string]HandlerFunc),
		events:   make(chan event, 256),
		shutdown: make(chan struct{}),
		log:      log,
	}
	s.wg.Add(1)
	go s.dispatch()
	return s
}

// Close stops dispatch. Events emitted after Close are dropped.
// Idempotent.
func (s *Subject) Close() {
	if s.closed.CompareAndSwap(false, true) {
		close(s.shutdown)
		s.wg.Wait()
	}
}

// Emit publishes a value to a topic. It fails when the bus is closed or
// the buffer stays full for emitTimeout.
func Emit[T any](s *Subject, topic string, value T) error {
	if s.closed.Load() {
		return fmt.Errorf("events: bus closed, dropping %s", topic)
	}
	select {
	case s.events <- event{topic: topic, payload: value}:
		return nil
	case <-s.shutdown:
		return fmt.Errorf("events: bus closed, dropping %s", topic)
	case <-time.After(emitTimeout):
		return fmt.Errorf("events: emit to %s timed out", topic)
	}
}

// Subscribe registers a typed handler for a topic. Payloads of a
// different type are reported as handler errors, not panics.
func Subscribe[T any](s *Subject, topic string, handler func(context.Context, T) error) Subscription {
	wrapped := func(ctx context.Context, payload any) error {
		typed, ok := payload.(T)
		if !ok {
			return fmt.Errorf("events: %s carried %T, subscriber wants %T", topic, payload, *new(T))
		}
		return handler(ctx, typed)
	}

	id := fmt.Sprintf("%s-%d", topic, s.nextID.Add(1))

	s.mu.Lock()
	if s.subs[topic] == nil {
		s.subs[topic] = make(map[string]HandlerFunc)
	}
	s.subs[topic][id] = wrapped
	s.mu.Unlock()

	return Subscription{
		ID:    id,
		Topic: topic,
		Unsubscribe: func() {
			s.mu.Lock()
			delete(s.subs[topic], id)
			if len(s.subs[topic]) == 0 {
				delete(s.subs, topic)
			}
			s.mu.Unlock()
		},
	}
}

func (s *Subject) dispatch() {
	defer s.wg.Done()
	for {
		select {
		case <-s.shutdown:
			return
		case evt := <-s.events:
			s.deliver(evt)
		}
	}
}

func (s *Subject) deliver(evt event) {
	s.mu.RLock()
	handlers := make([]HandlerFunc, 0, len(s.subs[evt.topic]))
	for _, h := range s.subs[evt.topic] {
		handlers = append(handlers, h)
	}
	s.mu.RUnlock()

	for _, h := range handlers {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := h(ctx, evt.payload); err != nil {
			s.log.Debug("event handler error", "topic", evt.topic, "error", err)
		}
		cancel()
	}
}
