package bus

import (
	"context"
	"sync"

	"github.com/webitel/relay-service/internal/domain/event"
)

// Handler consumes one event. Errors never reach the publisher; they
// are dead-lettered.
type Handler func(ctx context.Context, ev event.Event) error

// Filter is a pure predicate over event metadata. A filter that panics
// is treated as "does not match".
type Filter func(ev event.Event) bool

// DeliveryMode selects how a subscription receives events.
type DeliveryMode int

const (
	// DeliverSync invokes the handler on the publisher's call stack.
	DeliverSync DeliveryMode = iota
	// DeliverAsync appends to a bounded queue drained by a dedicated
	// worker goroutine.
	DeliverAsync
)

type subscription struct {
	id      string
	pattern string
	mode    DeliveryMode
	filter  Filter
	handler Handler

	queue     chan event.Event // async only
	done      chan struct{}
	closeOnce sync.Once
}

// matches applies pattern and filter. Filter panics count as misses.
func (s *subscription) matches(ev event.Event, onFilterErr func()) bool {
	if !event.MatchTopic(s.pattern, ev.Topic) {
		return false
	}
	if s.filter == nil {
		return true
	}
	ok, panicked := runFilter(s.filter, ev)
	if panicked {
		onFilterErr()
		return false
	}
	return ok
}

func runFilter(f Filter, ev event.Event) (ok, panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			panicked = true
		}
	}()
	return f(ev), false
}

// enqueue pushes ev onto the bounded queue, evicting oldest entries
// on overflow until the push lands. Evicted entries are not
// dead-lettered: queue pressure is an operator problem, not a delivery
// failure. Returns how many entries were evicted.
func (s *subscription) enqueue(ev event.Event) (evicted int) {
	select {
	case <-s.done:
		return 0
	default:
	}
	for {
		select {
		case s.queue <- ev:
			return evicted
		case <-s.done:
			return evicted
		default:
		}
		select {
		case <-s.queue:
			evicted++
		default:
		}
	}
}

func (s *subscription) close() {
	s.closeOnce.Do(func() { close(s.done) })
}
