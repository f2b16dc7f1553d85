package event

import (
	"context"
	"log/slog"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
)

// Bus is the interface for event publishing and subscription.
type Bus interface {
	// Publish sends an event to all matching subscribers.
	Publish(ctx context.Context, evt Event) error

	// Subscribe registers a handler for specific topics.
	// Returns a Subscription that can be used to unsubscribe.
	Subscribe(topics []string, handler Handler) Subscription

	// SubscribeAll registers a handler for all topics.
	SubscribeAll(handler Handler) Subscription

	// Close shuts down the bus after delivering queued events.
	Close() error
}

// Subscription represents an active subscription.
type Subscription interface {
	// ID returns the subscription identifier.
	ID() string

	// Unsubscribe removes this subscription from the bus and waits until
	// its queued events have been delivered. It must not be called from
	// the subscription's own handler.
	Unsubscribe() error
}

// BusConfig configures the event bus.
type BusConfig struct {
	// BufferSize is the queue size per subscription (default: 256).
	BufferSize int

	// NonBlocking drops events when a subscriber queue is full instead of
	// blocking the publisher.
	NonBlocking bool

	// OnDrop is called when an event is dropped (NonBlocking mode only).
	OnDrop func(evt Event, subscriptionID string)

	// OnError is called when a handler returns an error.
	OnError func(evt Event, err error)

	// Logger receives handler failures when OnError is nil.
	Logger *slog.Logger
}

// DefaultBusConfig returns sensible defaults.
func DefaultBusConfig() BusConfig {
	return BusConfig{
		BufferSize: 256,
	}
}

// LocalBus is an in-memory event bus. Each subscription owns a queue and a
// goroutine, so delivery to one subscriber is strictly in publish order.
type LocalBus struct {
	mu            sync.RWMutex
	subscriptions map[string]*subscription
	config        BusConfig
	nextID        atomic.Uint64
	closed        atomic.Bool
	wg            sync.WaitGroup
}

// NewBus creates a new in-memory event bus.
func NewBus(cfg BusConfig) *LocalBus {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 256
	}
	return &LocalBus{
		subscriptions: make(map[string]*subscription),
		config:        cfg,
	}
}

// Publish sends an event to all matching subscribers.
func (b *LocalBus) Publish(ctx context.Context, evt Event) error {
	if b.closed.Load() {
		return ErrBusClosed
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subscriptions {
		if !sub.matches(evt.Type()) {
			continue
		}

		if b.config.NonBlocking {
			select {
			case sub.events <- evt:
			default:
				if b.config.OnDrop != nil {
					b.config.OnDrop(evt, sub.id)
				}
			}
			continue
		}

		select {
		case sub.events <- evt:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return nil
}

// Subscribe registers a handler for specific topics.
func (b *LocalBus) Subscribe(topics []string, handler Handler) Subscription {
	return b.subscribe(slices.Clone(topics), handler)
}

// SubscribeAll registers a handler for all topics.
func (b *LocalBus) SubscribeAll(handler Handler) Subscription {
	return b.subscribe(nil, handler)
}

func (b *LocalBus) subscribe(topics []string, handler Handler) Subscription {
	sub := &subscription{
		id:      "sub-" + strconv.FormatUint(b.nextID.Add(1), 10),
		bus:     b,
		topics:  topics,
		handler: handler,
		events:  make(chan Event, b.config.BufferSize),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}

	// Close flips closed before taking mu, so checking under mu means a
	// subscription is either seen by Close or never started.
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed.Load() {
		sub.stop()
		close(sub.stopped)
		return sub
	}
	b.subscriptions[sub.id] = sub
	b.wg.Add(1)
	go sub.process()

	return sub
}

// Close shuts down the bus. Events already queued are delivered before
// Close returns.
func (b *LocalBus) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}

	b.mu.Lock()
	subs := make([]*subscription, 0, len(b.subscriptions))
	for _, sub := range b.subscriptions {
		subs = append(subs, sub)
	}
	b.subscriptions = make(map[string]*subscription)
	b.mu.Unlock()

	for _, sub := range subs {
		sub.stop()
	}
	b.wg.Wait()
	return nil
}

func (b *LocalBus) handleError(evt Event, err error) {
	if b.config.OnError != nil {
		b.config.OnError(evt, err)
		return
	}
	if b.config.Logger != nil {
		b.config.Logger.Error("event handler failed",
			slog.String("event_id", evt.ID()),
			slog.String("event_type", evt.Type()),
			slog.Any("error", err),
		)
	}
}

// subscription implements Subscription.
type subscription struct {
	id       string
	bus      *LocalBus
	topics   []string
	handler  Handler
	events   chan Event
	done     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
}

func (s *subscription) ID() string {
	return s.id
}

func (s *subscription) Unsubscribe() error {
	s.bus.mu.Lock()
	delete(s.bus.subscriptions, s.id)
	s.bus.mu.Unlock()

	s.stop()
	<-s.stopped
	return nil
}

func (s *subscription) stop() {
	s.stopOnce.Do(func() { close(s.done) })
}

func (s *subscription) matches(topic string) bool {
	return len(s.topics) == 0 || slices.Contains(s.topics, topic)
}

func (s *subscription) process() {
	defer s.bus.wg.Done()
	defer close(s.stopped)

	for {
		select {
		case evt := <-s.events:
			s.deliver(evt)
		case <-s.done:
			s.drain()
			return
		}
	}
}

// drain delivers whatever is still queued.
func (s *subscription) drain() {
	for {
		select {
		case evt := <-s.events:
			s.deliver(evt)
		default:
			return
		}
	}
}

func (s *subscription) deliver(evt Event) {
	if err := s.handler.Handle(context.Background(), evt); err != nil {
		s.bus.handleError(evt, err)
	}
}

// Verify LocalBus implements Bus.
var _ Bus = (*LocalBus)(nil)
