// Package bus implements the in-process event bus: typed topic pub/sub
// with wildcard patterns, filtering, per-subscription FIFO ordering,
// synchronous and queued-async delivery, error isolation, a bounded
// replay window per topic, and a dead-letter queue for failed handlers.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/webitel/relay-service/internal/dlq"
	"github.com/webitel/relay-service/internal/domain/event"
	"github.com/webitel/relay-service/internal/domain/model"
	"github.com/webitel/relay-service/internal/window"
)

type topicState struct {
	seq  uint64
	ring *window.Ring[event.Event]
}

// Bus is the in-memory event bus. The subscription table is
// copy-on-write: publication iterates a snapshot lock-free while
// subscribe/unsubscribe swap the slice under a mutex.
type Bus struct {
	logger *slog.Logger
	dead   *dlq.Queue

	subMu sync.Mutex
	subs  atomic.Pointer[[]*subscription]

	topicMu sync.Mutex
	topics  map[string]*topicState

	replaySize   int
	queueDepth   int
	published    atomic.Uint64
	filterErrors atomic.Uint64
	queueDrops   atomic.Uint64
	closed       atomic.Bool
	workers      sync.WaitGroup
	now          func() time.Time
}

// Option configures the Bus.
type Option func(*Bus)

// WithReplayRingSize bounds the per-topic replay window.
func WithReplayRingSize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.replaySize = n
		}
	}
}

// WithQueueDepth sets the default bounded queue depth for queued-async
// subscriptions.
func WithQueueDepth(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.queueDepth = n
		}
	}
}

func New(logger *slog.Logger, dead *dlq.Queue, opts ...Option) *Bus {
	b := &Bus{
		logger:     logger,
		dead:       dead,
		topics:     make(map[string]*topicState),
		replaySize: 10000,
		queueDepth: 1024,
		now:        time.Now,
	}
	empty := make([]*subscription, 0)
	b.subs.Store(&empty)
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// PublishOption attaches optional metadata to a published event.
type PublishOption func(*event.Event)

func WithContentType(ct string) PublishOption {
	return func(ev *event.Event) { ev.ContentType = ct }
}

func WithCorrelationID(id string) PublishOption {
	return func(ev *event.Event) { ev.CorrelationID = id }
}

func WithTenantID(id string) PublishOption {
	return func(ev *event.Event) { ev.TenantID = id }
}

func WithHops(n int) PublishOption {
	return func(ev *event.Event) { ev.Hops = n }
}

// Publish assigns the topic's next sequence, retains the event in the
// replay window, and delivers it to every matching subscription.
// Publishing is fire-and-forget: handler failures are dead-lettered,
// never returned. A cancelled context still assigns and returns a
// sequence; only queued-async work is dropped.
func (b *Bus) Publish(ctx context.Context, topic string, payload []byte, opts ...PublishOption) (uint64, error) {
	if b.closed.Load() {
		return 0, model.ErrAlreadyStopped
	}
	if !event.ValidPattern(topic) || strings.Contains(topic, "*") {
		return 0, fmt.Errorf("publish: invalid topic %q", topic)
	}

	ev := event.Event{
		Topic:       topic,
		Payload:     payload,
		ContentType: event.ContentTypeJSON,
		OccurredAt:  b.now(),
	}
	for _, opt := range opts {
		opt(&ev)
	}

	b.topicMu.Lock()
	ts, ok := b.topics[topic]
	if !ok {
		ts = &topicState{ring: window.NewRing[event.Event](b.replaySize)}
		b.topics[topic] = ts
	}
	ts.seq++
	ev.Sequence = ts.seq
	ts.ring.Append(ev)
	b.topicMu.Unlock()

	b.published.Add(1)

	cancelled := ctx.Err() != nil
	for _, sub := range *b.subs.Load() {
		if !sub.matches(ev, func() { b.filterErrors.Add(1) }) {
			continue
		}
		switch sub.mode {
		case DeliverSync:
			b.invoke(ctx, sub, ev)
		case DeliverAsync:
			if cancelled {
				continue
			}
			if n := sub.enqueue(ev); n > 0 {
				b.queueDrops.Add(uint64(n))
			}
		}
	}
	return ev.Sequence, nil
}

// Subscribe registers a handler on a topic pattern. The returned id is
// the handle for Unsubscribe.
func (b *Bus) Subscribe(pattern string, handler Handler, opts ...SubscribeOption) (string, error) {
	if b.closed.Load() {
		return "", model.ErrAlreadyStopped
	}
	if handler == nil {
		return "", fmt.Errorf("subscribe: nil handler")
	}
	if !event.ValidPattern(pattern) {
		return "", fmt.Errorf("subscribe: invalid pattern %q", pattern)
	}

	so := subscribeOptions{mode: DeliverSync, queueDepth: b.queueDepth}
	for _, opt := range opts {
		opt(&so)
	}

	sub := &subscription{
		id:      uuid.NewString(),
		pattern: pattern,
		mode:    so.mode,
		filter:  so.filter,
		handler: handler,
		done:    make(chan struct{}),
	}
	if sub.mode == DeliverAsync {
		sub.queue = make(chan event.Event, so.queueDepth)
		b.workers.Add(1)
		go b.drain(sub)
	}

	b.subMu.Lock()
	cur := *b.subs.Load()
	next := make([]*subscription, len(cur)+1)
	copy(next, cur)
	next[len(cur)] = sub
	b.subs.Store(&next)
	b.subMu.Unlock()

	return sub.id, nil
}

// Unsubscribe makes the handler unreachable before returning. In-flight
// synchronous invocations complete; queued entries are discarded.
func (b *Bus) Unsubscribe(id string) error {
	b.subMu.Lock()
	cur := *b.subs.Load()
	var victim *subscription
	next := make([]*subscription, 0, len(cur))
	for _, s := range cur {
		if s.id == id {
			victim = s
			continue
		}
		next = append(next, s)
	}
	b.subs.Store(&next)
	b.subMu.Unlock()

	if victim == nil {
		return fmt.Errorf("unsubscribe: unknown subscription %q", id)
	}
	victim.close()
	return nil
}

// Replay returns retained events of a topic with sequence in
// [from, to]; to == 0 means "up to latest". When part of the requested
// range has already left the window, the retained intersection comes
// back together with ErrReplayTruncated.
func (b *Bus) Replay(topic string, from, to uint64) ([]event.Event, error) {
	b.topicMu.Lock()
	ts, ok := b.topics[topic]
	b.topicMu.Unlock()
	if !ok {
		return nil, model.ErrUnknownTopic
	}

	if to == 0 {
		to = ^uint64(0)
	}
	var out []event.Event
	oldest := uint64(0)
	ts.ring.Do(func(ev event.Event) bool {
		if oldest == 0 {
			oldest = ev.Sequence
		}
		if ev.Sequence > to {
			return false
		}
		if ev.Sequence >= from {
			out = append(out, ev)
		}
		return true
	})

	if oldest > from && oldest > 1 {
		return out, model.ErrReplayTruncated
	}
	return out, nil
}

// Stats reports bus health counters.
func (b *Bus) Stats() model.BusStats {
	return model.BusStats{
		Subscriptions:          len(*b.subs.Load()),
		Published:              b.published.Load(),
		FilterErrors:           b.filterErrors.Load(),
		DroppedByQueuePressure: b.queueDrops.Load(),
	}
}

// Shutdown stops the bus: no further publishes or subscribes are
// accepted, every subscription is cancelled, workers drain out.
func (b *Bus) Shutdown() {
	if !b.closed.CompareAndSwap(false, true) {
		return
	}
	b.subMu.Lock()
	cur := *b.subs.Load()
	empty := make([]*subscription, 0)
	b.subs.Store(&empty)
	b.subMu.Unlock()

	for _, s := range cur {
		s.close()
	}
	b.workers.Wait()
}

// drain is the per-subscription async worker.
func (b *Bus) drain(sub *subscription) {
	defer b.workers.Done()
	for {
		select {
		case <-sub.done:
			return
		default:
		}
		select {
		case <-sub.done:
			return
		case ev := <-sub.queue:
			b.invoke(context.Background(), sub, ev)
		}
	}
}

// invoke runs a handler with full error isolation: a panicking or
// failing handler is dead-lettered and cannot affect other
// subscriptions or the publisher.
func (b *Bus) invoke(ctx context.Context, sub *subscription, ev event.Event) {
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("handler panic: %v", r)
				b.logger.Error("bus handler panicked",
					slog.String("subscription_id", sub.id),
					slog.String("topic", ev.Topic),
					slog.String("stack", string(debug.Stack())),
				)
			}
		}()
		return sub.handler(ctx, ev)
	}()
	if err == nil {
		return
	}

	b.dead.Offer(ev, sub.id, dlq.KindHandlerError, err.Error(), 1)
	b.logger.Warn("bus delivery dead-lettered",
		slog.String("subscription_id", sub.id),
		slog.String("topic", ev.Topic),
		slog.Uint64("sequence", ev.Sequence),
		slog.Any("err", err),
	)

	// Surface the failure as an event, except for failures of bus-dlq
	// subscribers themselves, which would recurse.
	if ev.Topic != event.BusDLQ {
		b.emitDLQEvent(ev, sub.id)
	}
}

func (b *Bus) emitDLQEvent(ev event.Event, target string) {
	payload, err := json.Marshal(&event.DLQPayload{
		Target:    target,
		Topic:     ev.Topic,
		Sequence:  ev.Sequence,
		ErrorKind: string(dlq.KindHandlerError),
		Attempts:  1,
	})
	if err != nil {
		return
	}
	_, _ = b.Publish(context.Background(), event.BusDLQ, payload)
}

// SubscribeOption configures a subscription.
type SubscribeOption func(*subscribeOptions)

type subscribeOptions struct {
	mode       DeliveryMode
	filter     Filter
	queueDepth int
}

// Async switches the subscription to queued-async delivery.
func Async() SubscribeOption {
	return func(o *subscribeOptions) { o.mode = DeliverAsync }
}

// WithFilter attaches a predicate over event metadata.
func WithFilter(f Filter) SubscribeOption {
	return func(o *subscribeOptions) { o.filter = f }
}

// WithMaxQueueDepth overrides the bounded queue depth for this
// subscription.
func WithMaxQueueDepth(n int) SubscribeOption {
	return func(o *subscribeOptions) {
		if n > 0 {
			o.queueDepth = n
		}
	}
}
