// Package webhook delivers events to registered HTTP endpoints with
// HMAC signing, exponential-backoff retries, a per-endpoint circuit
// breaker, and a dead-letter sink shared with the event bus.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"github.com/webitel/relay-service/internal/dlq"
	"github.com/webitel/relay-service/internal/domain/event"
	"github.com/webitel/relay-service/internal/domain/model"
	"github.com/webitel/relay-service/internal/ratelimit"
)

// RetryPolicy controls per-registration delivery retries: attempt n
// waits min(base * 2^(n-1), max) with ±jitter before retrying.
type RetryPolicy struct {
	MaxAttempts int           `json:"max_attempts"`
	BaseBackoff time.Duration `json:"base_backoff"`
	MaxBackoff  time.Duration `json:"max_backoff"`
	JitterPct   float64       `json:"jitter_pct"`
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		BaseBackoff: time.Second,
		MaxBackoff:  time.Minute,
		JitterPct:   20,
	}
}

// Registration binds an endpoint URL to a topic pattern.
type Registration struct {
	ID      string      `json:"id"`
	URL     string      `json:"url"`
	Pattern string      `json:"pattern"`
	Secret  string      `json:"-"`
	Retry   RetryPolicy `json:"retry"`
}

type registration struct {
	Registration
	circuit *breaker

	sent   atomic.Uint64
	failed atomic.Uint64
	dead   atomic.Uint64
}

// Emitter surfaces webhook-sent / webhook-failed / webhook-dlq events.
type Emitter interface {
	Emit(topic, tenantID string, payload any)
}

// Gate limits per-tenant webhook fan-out.
type Gate interface {
	Allow(tenantID string, op ratelimit.Op) bool
}

// Config tunes the dispatcher.
type Config struct {
	Timeout         time.Duration // per-attempt HTTP timeout
	OverallDeadline time.Duration // caps the whole retry loop for one delivery
	MaxConcurrent   int
	Breaker         BreakerConfig
}

func DefaultConfig() Config {
	return Config{
		Timeout:         10 * time.Second,
		OverallDeadline: 5 * time.Minute,
		MaxConcurrent:   64,
		Breaker:         DefaultBreakerConfig(),
	}
}

// Dispatcher owns webhook registrations and their circuit state.
type Dispatcher struct {
	logger  *slog.Logger
	client  *http.Client
	dead    *dlq.Queue
	emitter Emitter
	gate    Gate
	cfg     Config

	mu   sync.RWMutex
	regs map[string]*registration

	inflight sync.WaitGroup
	sem      chan struct{}
	closed   atomic.Bool
	sleep    func(ctx context.Context, d time.Duration) error
}

func NewDispatcher(logger *slog.Logger, dead *dlq.Queue, emitter Emitter, gate Gate, cfg Config) *Dispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 64
	}
	return &Dispatcher{
		logger:  logger,
		client:  &http.Client{Timeout: cfg.Timeout},
		dead:    dead,
		emitter: emitter,
		gate:    gate,
		cfg:     cfg,
		regs:    make(map[string]*registration),
		sem:     make(chan struct{}, cfg.MaxConcurrent),
		sleep:   sleepCtx,
	}
}

// Register adds an endpoint. A missing id is generated; a missing retry
// policy gets defaults.
func (d *Dispatcher) Register(reg Registration) (string, error) {
	if _, err := url.ParseRequestURI(reg.URL); err != nil {
		return "", fmt.Errorf("register webhook: invalid url: %w", err)
	}
	if !event.ValidPattern(reg.Pattern) {
		return "", fmt.Errorf("register webhook: invalid pattern %q", reg.Pattern)
	}
	if reg.ID == "" {
		reg.ID = uuid.NewString()
	}
	if reg.Retry.MaxAttempts <= 0 {
		reg.Retry = DefaultRetryPolicy()
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.regs[reg.ID]; exists {
		return "", fmt.Errorf("register webhook: duplicate id %q", reg.ID)
	}
	d.regs[reg.ID] = &registration{
		Registration: reg,
		circuit:      newBreaker(d.cfg.Breaker),
	}
	d.logger.Info("webhook registered",
		slog.String("webhook_id", reg.ID),
		slog.String("pattern", reg.Pattern),
	)
	return reg.ID, nil
}

func (d *Dispatcher) Unregister(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.regs[id]; !ok {
		return fmt.Errorf("unregister webhook: unknown id %q", id)
	}
	delete(d.regs, id)
	return nil
}

// Dispatch fans the event out to every registration whose pattern
// matches its topic. Delivery runs asynchronously; Dispatch returns
// promptly. The fanout gate is consulted only when a registration
// will actually fire, and a denial for a throttle event itself is
// dropped silently: emitting tenant-throttled for it would loop the
// event straight back here through the bus bridge.
func (d *Dispatcher) Dispatch(ctx context.Context, ev event.Event) {
	if d.closed.Load() {
		return
	}

	d.mu.RLock()
	var matched []*registration
	for _, reg := range d.regs {
		if event.MatchTopic(reg.Pattern, ev.Topic) {
			matched = append(matched, reg)
		}
	}
	d.mu.RUnlock()
	if len(matched) == 0 {
		return
	}

	if ev.TenantID != "" && d.gate != nil && !d.gate.Allow(ev.TenantID, ratelimit.OpFanout) {
		if ev.Topic != event.TenantThrottled {
			d.emitter.Emit(event.TenantThrottled, ev.TenantID, &event.ThrottledPayload{
				TenantID: ev.TenantID,
				Reason:   event.ThrottleReasonRate,
			})
		}
		return
	}

	for _, reg := range matched {
		d.submit(ctx, reg, ev)
	}
}

// DispatchTo hands an event to one specific registration. Used by the
// trigger engine.
func (d *Dispatcher) DispatchTo(ctx context.Context, regID string, ev event.Event) error {
	if d.closed.Load() {
		return model.ErrAlreadyStopped
	}
	d.mu.RLock()
	reg, ok := d.regs[regID]
	d.mu.RUnlock()
	if !ok {
		return fmt.Errorf("dispatch: unknown webhook %q", regID)
	}
	d.submit(ctx, reg, ev)
	return nil
}

func (d *Dispatcher) submit(ctx context.Context, reg *registration, ev event.Event) {
	d.inflight.Add(1)
	d.sem <- struct{}{}
	go func() {
		defer func() {
			<-d.sem
			d.inflight.Done()
		}()
		d.deliver(ctx, reg, ev)
	}()
}

// deliver runs the retry loop for one (registration, event) pair.
func (d *Dispatcher) deliver(ctx context.Context, reg *registration, ev event.Event) {
	if d.cfg.OverallDeadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), d.cfg.OverallDeadline)
		defer cancel()
	}

	body, err := json.Marshal(deliveryBody(reg.ID, ev))
	if err != nil {
		d.deadLetter(reg, ev, dlq.KindClientError, err.Error(), 0)
		return
	}

	bo := &backoff.ExponentialBackOff{
		InitialInterval:     reg.Retry.BaseBackoff,
		RandomizationFactor: reg.Retry.JitterPct / 100,
		Multiplier:          2,
		MaxInterval:         reg.Retry.MaxBackoff,
	}
	bo.Reset()

	for attempt := 1; attempt <= reg.Retry.MaxAttempts; attempt++ {
		if !reg.circuit.Allow() {
			d.deadLetter(reg, ev, dlq.KindCircuitOpen, "circuit open", attempt-1)
			return
		}

		status, err := d.attempt(ctx, reg, ev, body)
		if err == nil && status/100 == 2 {
			reg.circuit.Record(true)
			reg.sent.Add(1)
			d.emitter.Emit(event.WebhookSent, ev.TenantID, &event.WebhookOutcomePayload{
				RegistrationID: reg.ID,
				Topic:          ev.Topic,
				Sequence:       ev.Sequence,
				Attempt:        attempt,
				StatusCode:     status,
			})
			return
		}

		kind, retriable := classify(status, err)
		if kind != dlq.KindClientError {
			// 4xx says nothing about endpoint health; everything else
			// feeds the breaker.
			reg.circuit.Record(false)
		}
		reg.failed.Add(1)
		d.emitter.Emit(event.WebhookFailed, ev.TenantID, &event.WebhookOutcomePayload{
			RegistrationID: reg.ID,
			Topic:          ev.Topic,
			Sequence:       ev.Sequence,
			Attempt:        attempt,
			StatusCode:     status,
			ErrorKind:      string(kind),
		})

		if !retriable {
			d.deadLetter(reg, ev, kind, errString(status, err), attempt)
			return
		}
		if attempt == reg.Retry.MaxAttempts {
			d.deadLetter(reg, ev, dlq.KindExhausted, errString(status, err), attempt)
			return
		}
		if err := d.sleep(ctx, bo.NextBackOff()); err != nil {
			d.deadLetter(reg, ev, dlq.KindDeadlineExceeded, ctx.Err().Error(), attempt)
			return
		}
	}
}

// attempt performs one signed POST. A zero status means the request
// never produced an HTTP response.
func (d *Dispatcher) attempt(ctx context.Context, reg *registration, ev event.Event, body []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	attemptCtx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, reg.URL, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	ts := time.Now().UnixMilli()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Topic", ev.Topic)
	req.Header.Set("X-Sequence", fmt.Sprintf("%d", ev.Sequence))
	req.Header.Set("X-Delivery-Id", deliveryID(reg.ID, ev.Sequence))
	req.Header.Set("X-Signature", Sign(reg.Secret, ts, body))

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}

func (d *Dispatcher) deadLetter(reg *registration, ev event.Event, kind dlq.Kind, lastErr string, attempts int) {
	reg.dead.Add(1)
	d.dead.Offer(ev, reg.ID, kind, lastErr, attempts)
	d.emitter.Emit(event.WebhookDLQ, ev.TenantID, &event.DLQPayload{
		Target:    reg.ID,
		Topic:     ev.Topic,
		Sequence:  ev.Sequence,
		ErrorKind: string(kind),
		Attempts:  attempts,
	})
	d.logger.Warn("webhook dead-lettered",
		slog.String("webhook_id", reg.ID),
		slog.String("topic", ev.Topic),
		slog.Uint64("sequence", ev.Sequence),
		slog.String("kind", string(kind)),
		slog.Int("attempts", attempts),
	)
}

// Stats returns per-registration outcome counters, every registration
// or just one when id is non-empty.
func (d *Dispatcher) Stats(id string) []model.WebhookStats {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]model.WebhookStats, 0, len(d.regs))
	for _, reg := range d.regs {
		if id != "" && reg.ID != id {
			continue
		}
		out = append(out, model.WebhookStats{
			RegistrationID: reg.ID,
			URL:            reg.URL,
			Circuit:        reg.circuit.State().String(),
			Sent:           reg.sent.Load(),
			Failed:         reg.failed.Load(),
			DeadLettered:   reg.dead.Load(),
		})
	}
	return out
}

// Registrations lists registered endpoints (secrets omitted by the
// Registration JSON tags).
func (d *Dispatcher) Registrations() []Registration {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Registration, 0, len(d.regs))
	for _, reg := range d.regs {
		out = append(out, reg.Registration)
	}
	return out
}

// Drain waits for in-flight deliveries up to the context deadline.
func (d *Dispatcher) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown refuses new dispatches and waits for in-flight deliveries.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.closed.Store(true)
	return d.Drain(ctx)
}

type webhookBody struct {
	Sequence   uint64          `json:"sequence"`
	Topic      string          `json:"topic"`
	Payload    json.RawMessage `json:"payload"`
	Timestamp  int64           `json:"timestamp"`
	DeliveryID string          `json:"deliveryId"`
}

func deliveryBody(regID string, ev event.Event) webhookBody {
	payload := json.RawMessage(ev.Payload)
	if !json.Valid(ev.Payload) {
		quoted, _ := json.Marshal(ev.Payload) // base64 for opaque bytes
		payload = quoted
	}
	return webhookBody{
		Sequence:   ev.Sequence,
		Topic:      ev.Topic,
		Payload:    payload,
		Timestamp:  ev.OccurredAt.UnixMilli(),
		DeliveryID: deliveryID(regID, ev.Sequence),
	}
}

// deliveryID is stable for a (registration, sequence) pair so receivers
// can de-duplicate.
func deliveryID(regID string, seq uint64) string {
	return fmt.Sprintf("%s-%d", regID, seq)
}

// classify maps an attempt outcome to a DLQ kind and retriability.
// 2xx never reaches here. 4xx except 408/425/429 is the client's fault
// and final; everything else is worth retrying.
func classify(status int, err error) (dlq.Kind, bool) {
	switch {
	case err != nil && errors.Is(err, context.DeadlineExceeded):
		return dlq.KindTimeout, true
	case err != nil:
		return dlq.KindServerError, true // network failure
	case status == http.StatusRequestTimeout,
		status == http.StatusTooEarly,
		status == http.StatusTooManyRequests:
		return dlq.KindServerError, true
	case status >= 400 && status < 500:
		return dlq.KindClientError, false
	default:
		return dlq.KindServerError, true
	}
}

func errString(status int, err error) string {
	if err != nil {
		return err.Error()
	}
	return fmt.Sprintf("http status %d", status)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
