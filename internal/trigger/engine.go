// Package trigger evaluates declarative rules against change events
// and routes matches to webhooks or back onto the event bus.
package trigger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/webitel/relay-service/internal/domain/event"
)

// Predicate is a pure function over the event. A panicking predicate
// disables its rule.
type Predicate func(ev event.Event) bool

// ActionKind selects what a matched rule does.
type ActionKind string

const (
	// ActionWebhook hands the event to one webhook registration.
	ActionWebhook ActionKind = "webhook"
	// ActionBus re-publishes the event under another topic.
	ActionBus ActionKind = "bus"
)

// Transform optionally rewrites the payload before a webhook hand-off.
type Transform func(payload []byte) []byte

// Rule binds an event pattern and predicate to an action.
type Rule struct {
	ID        string
	Pattern   string
	Predicate Predicate
	Action    ActionKind
	WebhookID string    // ActionWebhook
	Topic     string    // ActionBus
	Transform Transform // optional, ActionWebhook
	Enabled   bool
}

// WebhookSink is the slice of the webhook dispatcher the engine needs.
type WebhookSink interface {
	DispatchTo(ctx context.Context, regID string, ev event.Event) error
}

// Republisher is the slice of the bus the engine needs.
type Republisher interface {
	Publish(ctx context.Context, topic string, payload []byte, tenantID string, hops int) (uint64, error)
}

// Emitter surfaces rule-disabled events.
type Emitter interface {
	Emit(topic, tenantID string, payload any)
}

// Engine evaluates rules in insertion order.
type Engine struct {
	logger   *slog.Logger
	webhooks WebhookSink
	bus      Republisher
	emitter  Emitter

	maxFanOutDepth int

	mu    sync.RWMutex
	rules []*Rule

	depthExceeded atomic.Uint64
}

func NewEngine(logger *slog.Logger, webhooks WebhookSink, bus Republisher, emitter Emitter, maxFanOutDepth int) *Engine {
	if maxFanOutDepth <= 0 {
		maxFanOutDepth = 8
	}
	return &Engine{
		logger:         logger,
		webhooks:       webhooks,
		bus:            bus,
		emitter:        emitter,
		maxFanOutDepth: maxFanOutDepth,
	}
}

// InstallRule appends a rule. Rules evaluate in installation order.
func (e *Engine) InstallRule(rule Rule) error {
	if rule.ID == "" {
		return fmt.Errorf("install rule: empty id")
	}
	if !event.ValidPattern(rule.Pattern) {
		return fmt.Errorf("install rule %q: invalid pattern %q", rule.ID, rule.Pattern)
	}
	switch rule.Action {
	case ActionWebhook:
		if rule.WebhookID == "" {
			return fmt.Errorf("install rule %q: webhook action without webhook id", rule.ID)
		}
	case ActionBus:
		if rule.Topic == "" {
			return fmt.Errorf("install rule %q: bus action without topic", rule.ID)
		}
	default:
		return fmt.Errorf("install rule %q: unknown action %q", rule.ID, rule.Action)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, r := range e.rules {
		if r.ID == rule.ID {
			return fmt.Errorf("install rule: duplicate id %q", rule.ID)
		}
	}
	r := rule
	e.rules = append(e.rules, &r)
	return nil
}

// RemoveRule deletes a rule by id.
func (e *Engine) RemoveRule(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, r := range e.rules {
		if r.ID == id {
			e.rules = append(e.rules[:i], e.rules[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("remove rule: unknown id %q", id)
}

// Rules returns a copy of the installed rules in evaluation order.
func (e *Engine) Rules() []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Rule, 0, len(e.rules))
	for _, r := range e.rules {
		out = append(out, *r)
	}
	return out
}

// DepthExceeded counts events dropped by the fan-out guard.
func (e *Engine) DepthExceeded() uint64 { return e.depthExceeded.Load() }

// Ingest evaluates every enabled rule against the event, in order. An
// event whose causal chain already crossed maxFanOutDepth rules is
// dropped before evaluation.
func (e *Engine) Ingest(ctx context.Context, ev event.Event) {
	if ev.Hops > e.maxFanOutDepth {
		e.depthExceeded.Add(1)
		e.logger.Warn("fanout depth exceeded",
			slog.String("topic", ev.Topic),
			slog.Uint64("sequence", ev.Sequence),
			slog.Int("hops", ev.Hops),
		)
		return
	}

	e.mu.RLock()
	rules := make([]*Rule, len(e.rules))
	copy(rules, e.rules)
	e.mu.RUnlock()

	for _, rule := range rules {
		if !rule.Enabled || !event.MatchTopic(rule.Pattern, ev.Topic) {
			continue
		}
		matched, panicErr := evalPredicate(rule.Predicate, ev)
		if panicErr != nil {
			e.disableRule(rule, panicErr)
			continue
		}
		if !matched {
			continue
		}
		e.perform(ctx, rule, ev)
	}
}

func (e *Engine) perform(ctx context.Context, rule *Rule, ev event.Event) {
	switch rule.Action {
	case ActionWebhook:
		out := ev
		if rule.Transform != nil {
			out.Payload = rule.Transform(ev.Payload)
		}
		out.Hops = ev.Hops + 1
		if err := e.webhooks.DispatchTo(ctx, rule.WebhookID, out); err != nil {
			e.logger.Warn("rule webhook hand-off failed",
				slog.String("rule_id", rule.ID),
				slog.String("webhook_id", rule.WebhookID),
				slog.Any("err", err),
			)
		}
	case ActionBus:
		seq, err := e.bus.Publish(ctx, rule.Topic, ev.Payload, ev.TenantID, ev.Hops+1)
		if err != nil {
			e.logger.Warn("rule republish failed",
				slog.String("rule_id", rule.ID),
				slog.String("topic", rule.Topic),
				slog.Any("err", err),
			)
			return
		}
		// Derived events run the rule chain again so multi-stage routes
		// compose. The hop guard bounds the chain.
		out := ev
		out.Topic = rule.Topic
		out.Sequence = seq
		out.Hops = ev.Hops + 1
		e.Ingest(ctx, out)
	}
}

func (e *Engine) disableRule(rule *Rule, cause error) {
	e.mu.Lock()
	rule.Enabled = false
	e.mu.Unlock()

	e.logger.Error("rule disabled",
		slog.String("rule_id", rule.ID),
		slog.Any("err", cause),
	)
	e.emitter.Emit(event.RuleDisabled, "", &event.RuleDisabledPayload{
		RuleID: rule.ID,
		Error:  cause.Error(),
	})
}

func evalPredicate(p Predicate, ev event.Event) (matched bool, err error) {
	if p == nil {
		return true, nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("predicate panic: %v", r)
		}
	}()
	return p(ev), nil
}
