package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/draftfoundry/foundry/pkg/blackboard"
)

// Subscription is an active stream of one session's events. Caller must
// call Close() when done to clean up resources.
type Subscription struct {
	events <-chan *blackboard.Event
	errors <-chan error
	cancel func()
	once   sync.Once
}

// Events returns the channel of session events. The channel is closed when
// the subscription is closed or the context is cancelled.
func (s *Subscription) Events() <-chan *blackboard.Event {
	return s.events
}

// Errors returns the channel of subscription errors. Errors include JSON
// unmarshaling failures and other non-fatal issues; the subscription
// continues after errors.
func (s *Subscription) Errors() <-chan error {
	return s.errors
}

// Close stops the subscription and cleans up resources. Implements
// io.Closer. Safe to call multiple times.
func (s *Subscription) Close() error {
	s.once.Do(s.cancel)
	return nil
}

// Bridge fans session events out to stream consumers. Delivery is
// at-most-once: a consumer that subscribes late or falls behind misses
// events, and catches up from the checkpointed state instead.
type Bridge interface {
	// Publish sends one event to the session's subscribers.
	Publish(ctx context.Context, event *blackboard.Event) error

	// Subscribe opens a live event stream for one session.
	Subscribe(ctx context.Context, sessionID string) (*Subscription, error)

	// Close releases bridge resources. Implements io.Closer.
	Close() error
}

// RedisBridge carries events over Redis Pub/Sub, one channel per session.
type RedisBridge struct {
	rdb          *redis.Client
	instanceName string
}

// NewRedisBridge connects to Redis at the given URL and verifies
// connectivity before returning.
func NewRedisBridge(ctx context.Context, redisURL, instanceName string) (*RedisBridge, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisBridge{rdb: rdb, instanceName: instanceName}, nil
}

// Publish implements Bridge.
func (b *RedisBridge) Publish(ctx context.Context, event *blackboard.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	channel := blackboard.SessionEventsChannel(b.instanceName, event.SessionID)
	if err := b.rdb.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish event for session %s: %w", event.SessionID, err)
	}
	return nil
}

// Subscribe implements Bridge. Events are delivered on a buffered channel
// (size 16); a subscriber that cannot keep up misses events.
func (b *RedisBridge) Subscribe(ctx context.Context, sessionID string) (*Subscription, error) {
	channel := blackboard.SessionEventsChannel(b.instanceName, sessionID)
	pubsub := b.rdb.Subscribe(ctx, channel)

	eventsChan := make(chan *blackboard.Event, 16)
	errorsChan := make(chan error, 16)

	subCtx, cancelFunc := context.WithCancel(ctx)

	go func() {
		defer close(eventsChan)
		defer close(errorsChan)
		defer pubsub.Close()

		ch := pubsub.Channel()

		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				var event blackboard.Event
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					select {
					case errorsChan <- fmt.Errorf("failed to unmarshal session event: %w", err):
					case <-subCtx.Done():
						return
					}
					continue
				}

				select {
				case eventsChan <- &event:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	return &Subscription{
		events: eventsChan,
		errors: errorsChan,
		cancel: cancelFunc,
	}, nil
}

// Close releases the underlying Redis connection.
func (b *RedisBridge) Close() error {
	return b.rdb.Close()
}

// MemoryBridge fans events out in-process. It backs the memory checkpoint
// backend and tests.
type MemoryBridge struct {
	mu   sync.Mutex
	subs map[string]map[int]*memorySub
	next int
}

type memorySub struct {
	events chan *blackboard.Event
	errors chan error
}

// NewMemoryBridge creates an empty in-process bridge.
func NewMemoryBridge() *MemoryBridge {
	return &MemoryBridge{subs: make(map[string]map[int]*memorySub)}
}

// Publish implements Bridge. Slow subscribers miss events rather than
// blocking the publisher, matching Pub/Sub delivery.
func (b *MemoryBridge) Publish(ctx context.Context, event *blackboard.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subs[event.SessionID] {
		select {
		case sub.events <- event:
		default:
		}
	}
	return nil
}

// Subscribe implements Bridge.
func (b *MemoryBridge) Subscribe(ctx context.Context, sessionID string) (*Subscription, error) {
	sub := &memorySub{
		events: make(chan *blackboard.Event, 16),
		errors: make(chan error, 1),
	}

	b.mu.Lock()
	if b.subs[sessionID] == nil {
		b.subs[sessionID] = make(map[int]*memorySub)
	}
	id := b.next
	b.next++
	b.subs[sessionID][id] = sub
	b.mu.Unlock()

	subCtx, cancelFunc := context.WithCancel(ctx)

	go func() {
		<-subCtx.Done()
		b.mu.Lock()
		b.removeLocked(sessionID, id)
		b.mu.Unlock()
	}()

	return &Subscription{
		events: sub.events,
		errors: sub.errors,
		cancel: cancelFunc,
	}, nil
}

func (b *MemoryBridge) removeLocked(sessionID string, id int) {
	sub, ok := b.subs[sessionID][id]
	if !ok {
		return
	}
	delete(b.subs[sessionID], id)
	close(sub.events)
	close(sub.errors)
}

// Close drops every subscriber.
func (b *MemoryBridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sessionID, subs := range b.subs {
		for id := range subs {
			b.removeLocked(sessionID, id)
		}
	}
	return nil
}
