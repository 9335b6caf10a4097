// Package rest exposes the admin and observability surface: tenant
// lifecycle, webhook registrations, trigger rules, event replay, the
// metrics snapshot, and the dead-letter queue.
package rest

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/webitel/relay-service/internal/bus"
	"github.com/webitel/relay-service/internal/dlq"
	"github.com/webitel/relay-service/internal/domain/model"
	"github.com/webitel/relay-service/internal/domain/registry"
	"github.com/webitel/relay-service/internal/service"
	"github.com/webitel/relay-service/internal/telemetry"
	"github.com/webitel/relay-service/internal/trigger"
	"github.com/webitel/relay-service/internal/webhook"
)

type AdminHandler struct {
	logger       *slog.Logger
	registry     *registry.Registry
	bus          *bus.Bus
	webhooks     *webhook.Dispatcher
	triggers     *trigger.Engine
	dead         *dlq.Queue
	collector    *telemetry.Collector
	exporter     *telemetry.Exporter
	orchestrator *service.Orchestrator
}

func NewAdminHandler(
	logger *slog.Logger,
	reg *registry.Registry,
	b *bus.Bus,
	webhooks *webhook.Dispatcher,
	triggers *trigger.Engine,
	dead *dlq.Queue,
	collector *telemetry.Collector,
	exporter *telemetry.Exporter,
	orchestrator *service.Orchestrator,
) *AdminHandler {
	return &AdminHandler{
		logger:       logger,
		registry:     reg,
		bus:          b,
		webhooks:     webhooks,
		triggers:     triggers,
		dead:         dead,
		collector:    collector,
		exporter:     exporter,
		orchestrator: orchestrator,
	}
}

// Routes builds the chi router for the admin surface.
func (h *AdminHandler) Routes(wsHandler http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Handle("/ws", wsHandler)

	r.Get("/health", h.health)
	r.Handle("/metrics", h.exporter.Handler())
	r.Get("/metrics/snapshot", h.metricsSnapshot)

	r.Route("/tenants", func(r chi.Router) {
		r.Get("/", h.listTenants)
		r.Put("/{tenantID}", h.registerTenant)
		r.Delete("/{tenantID}", h.removeTenant)
		r.Get("/{tenantID}", h.tenantMetrics)
		r.Get("/{tenantID}/connections", h.tenantConnections)
	})

	r.Route("/webhooks", func(r chi.Router) {
		r.Get("/", h.listWebhooks)
		r.Post("/", h.registerWebhook)
		r.Delete("/{webhookID}", h.unregisterWebhook)
		r.Get("/{webhookID}/stats", h.webhookStats)
	})

	r.Route("/rules", func(r chi.Router) {
		r.Get("/", h.listRules)
		r.Post("/", h.installRule)
		r.Delete("/{ruleID}", h.removeRule)
	})

	r.Get("/events/{topic}/replay", h.replay)
	r.Get("/dlq", h.dlqEntries)

	return r
}

func (h *AdminHandler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      h.orchestrator.StatusString(),
		"tenants":     h.registry.TotalTenants(),
		"connections": h.registry.TotalConnections(),
	})
}

func (h *AdminHandler) metricsSnapshot(w http.ResponseWriter, r *http.Request) {
	include := r.URL.Query().Get("tenants") == "true"
	writeJSON(w, http.StatusOK, h.collector.Snapshot(include))
}

func (h *AdminHandler) listTenants(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.registry.List())
}

func (h *AdminHandler) registerTenant(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	var body struct {
		Tier model.Tier `json:"tier"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "BadRequest", "malformed body")
		return
	}
	if !body.Tier.Valid() {
		writeError(w, http.StatusBadRequest, "BadRequest", "unknown tier")
		return
	}
	if err := h.registry.Register(tenantID, body.Tier); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"tenantId": tenantID, "tier": string(body.Tier)})
}

func (h *AdminHandler) removeTenant(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.Remove(chi.URLParam(r, "tenantID")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandler) tenantMetrics(w http.ResponseWriter, r *http.Request) {
	m, err := h.registry.Metrics(chi.URLParam(r, "tenantID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *AdminHandler) tenantConnections(w http.ResponseWriter, r *http.Request) {
	conns, err := h.registry.Connections(chi.URLParam(r, "tenantID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conns)
}

func (h *AdminHandler) listWebhooks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.webhooks.Registrations())
}

func (h *AdminHandler) registerWebhook(w http.ResponseWriter, r *http.Request) {
	var body struct {
		URL     string              `json:"url"`
		Pattern string              `json:"pattern"`
		Secret  string              `json:"secret"`
		Retry   *webhook.RetryPolicy `json:"retry"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "BadRequest", "malformed body")
		return
	}
	reg := webhook.Registration{URL: body.URL, Pattern: body.Pattern, Secret: body.Secret}
	if body.Retry != nil {
		reg.Retry = *body.Retry
	}
	id, err := h.webhooks.Register(reg)
	if err != nil {
		writeError(w, http.StatusBadRequest, "BadRequest", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (h *AdminHandler) unregisterWebhook(w http.ResponseWriter, r *http.Request) {
	if err := h.webhooks.Unregister(chi.URLParam(r, "webhookID")); err != nil {
		writeError(w, http.StatusNotFound, "NotFound", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandler) webhookStats(w http.ResponseWriter, r *http.Request) {
	stats := h.webhooks.Stats(chi.URLParam(r, "webhookID"))
	if len(stats) == 0 {
		writeError(w, http.StatusNotFound, "NotFound", "unknown webhook")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// ruleBody is the REST shape of a trigger rule. The HTTP surface only
// installs pattern-based rules; programmatic predicates stay in-process.
type ruleBody struct {
	ID        string `json:"id"`
	Pattern   string `json:"pattern"`
	Action    string `json:"action"`
	WebhookID string `json:"webhookId,omitempty"`
	Topic     string `json:"topic,omitempty"`
}

func (h *AdminHandler) listRules(w http.ResponseWriter, r *http.Request) {
	rules := h.triggers.Rules()
	out := make([]map[string]any, 0, len(rules))
	for _, rule := range rules {
		out = append(out, map[string]any{
			"id":        rule.ID,
			"pattern":   rule.Pattern,
			"action":    string(rule.Action),
			"webhookId": rule.WebhookID,
			"topic":     rule.Topic,
			"enabled":   rule.Enabled,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *AdminHandler) installRule(w http.ResponseWriter, r *http.Request) {
	var body ruleBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "BadRequest", "malformed body")
		return
	}
	rule := trigger.Rule{
		ID:        body.ID,
		Pattern:   body.Pattern,
		Action:    trigger.ActionKind(body.Action),
		WebhookID: body.WebhookID,
		Topic:     body.Topic,
		Enabled:   true,
	}
	if err := h.triggers.InstallRule(rule); err != nil {
		writeError(w, http.StatusBadRequest, "BadRequest", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": rule.ID})
}

func (h *AdminHandler) removeRule(w http.ResponseWriter, r *http.Request) {
	if err := h.triggers.RemoveRule(chi.URLParam(r, "ruleID")); err != nil {
		writeError(w, http.StatusNotFound, "NotFound", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandler) replay(w http.ResponseWriter, r *http.Request) {
	topic := chi.URLParam(r, "topic")
	from, _ := strconv.ParseUint(r.URL.Query().Get("from"), 10, 64)
	to, _ := strconv.ParseUint(r.URL.Query().Get("to"), 10, 64)

	events, err := h.bus.Replay(topic, from, to)
	truncated := errors.Is(err, model.ErrReplayTruncated)
	if err != nil && !truncated {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"topic":     topic,
		"truncated": truncated,
		"events":    events,
	})
}

func (h *AdminHandler) dlqEntries(w http.ResponseWriter, r *http.Request) {
	entries := h.dead.Snapshot()
	if kind := r.URL.Query().Get("kind"); kind != "" {
		filtered := entries[:0]
		for _, e := range entries {
			if string(e.Kind) == kind {
				filtered = append(filtered, e)
			}
		}
		entries = filtered
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"byKind":  h.dead.SizeByKind(),
		"dropped": h.dead.Dropped(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]string{"code": code, "message": msg})
}

func writeDomainError(w http.ResponseWriter, err error) {
	code := model.ErrorCode(err)
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, model.ErrUnknownTenant), errors.Is(err, model.ErrUnknownTopic):
		status = http.StatusNotFound
	case errors.Is(err, model.ErrRateLimited), errors.Is(err, model.ErrCapExceeded):
		status = http.StatusTooManyRequests
	case errors.Is(err, model.ErrDraining):
		status = http.StatusServiceUnavailable
	}
	writeError(w, status, code, err.Error())
}
