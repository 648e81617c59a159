// Package policyapi exposes the policy query HTTP endpoints described in
// the enforcer's external interface: a synchronous allow/deny query per
// tenant, a hot-reload trigger, and a duplex decision event stream backed
// by the decision bus.
package policyapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Mindburn-Labs/edgepolicy/pkg/abac"
	"github.com/Mindburn-Labs/edgepolicy/pkg/decisionbus"
	"github.com/Mindburn-Labs/edgepolicy/pkg/logging"
	"github.com/Mindburn-Labs/edgepolicy/pkg/requestid"
)

// Engine is the subset of tenantregistry.Registry the API needs.
type Engine interface {
	Evaluate(ctx context.Context, tenantID string, input abac.Input) (abac.Decision, error)
	ReloadTenant(ctx context.Context, tenantID string) error
}

// Bus is the subset of decisionbus.Bus the API needs: the stream endpoint
// subscribes, and the query endpoint publishes each decision it makes.
type Bus interface {
	Subscribe(filter decisionbus.Filter) *decisionbus.Subscription
	Publish(ev abac.Event)
}

// API wires the policy query, reload, and decision-stream endpoints.
type API struct {
	engine Engine
	bus    Bus
	log    *logging.Logger
	up     websocket.Upgrader
}

// New builds an API. bus may be nil, in which case the stream endpoint
// responds 503.
func New(engine Engine, bus Bus) *API {
	return &API{
		engine: engine,
		bus:    bus,
		log:    logging.New("policyapi"),
		up:     websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096, CheckOrigin: func(*http.Request) bool { return true }},
	}
}

// Router mounts the policy query surface under a chi.Router.
func (a *API) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(requestid.Middleware)
	r.Post("/v1/data/tenants/{tenant_id}/allow", a.handleAllow)
	r.Put("/v1/tenants/{tenant_id}/reload", a.handleReload)
	r.Get("/v1/stream/decisions", a.handleStream)
	return r
}

type allowRequest struct {
	Input abac.Input `json:"input"`
}

type allowResponse struct {
	Result  abac.Decision `json:"result"`
	Metrics abac.Metrics  `json:"metrics"`
}

type errBody struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details string `json:"details,omitempty"`
}

func writeErr(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errBody{Error: msg, Code: code})
}

func (a *API) handleAllow(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenant_id")
	var req allowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	if err := req.Input.Validate(tenantID); err != nil {
		writeErr(w, http.StatusBadRequest, "VALIDATION_FAILED", err.Error())
		return
	}

	start := time.Now()
	decision, err := a.engine.Evaluate(r.Context(), tenantID, req.Input)
	if err != nil {
		a.writeEvalError(w, tenantID, err)
		return
	}

	metrics := abac.Metrics{
		EvalDurationMicros: time.Since(start).Microseconds(),
		TenantID:           tenantID,
	}
	if a.bus != nil {
		a.bus.Publish(abac.Event{
			EventID:        uuid.New().String(),
			TenantID:       tenantID,
			Timestamp:      time.Now().UTC(),
			Decision:       decision,
			SanitizedInput: abac.SanitizeInput(req.Input, decision.Redact),
			Metrics:        metrics,
		})
	}

	resp := allowResponse{Result: decision, Metrics: metrics}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (a *API) writeEvalError(w http.ResponseWriter, tenantID string, err error) {
	switch {
	case errors.Is(err, context.DeadlineExceeded) || strings.Contains(err.Error(), "evaluation timeout"):
		writeErr(w, http.StatusServiceUnavailable, "EVALUATION_TIMEOUT", "policy evaluation timed out")
	case isTenantNotFound(err):
		writeErr(w, http.StatusNotFound, "TENANT_NOT_FOUND", "tenant not found")
	default:
		a.log.Warn(logging.WithTenant(tenantID, "evaluation failed: %v"), err)
		writeErr(w, http.StatusServiceUnavailable, "ENFORCER_UNREACHABLE", err.Error())
	}
}

// isTenantNotFound avoids a hard dependency on tenantregistry's sentinel
// error, since this package depends only on the narrow Engine interface;
// it matches on the well-known message instead.
func isTenantNotFound(err error) bool {
	return strings.Contains(err.Error(), "tenant not found")
}

func (a *API) handleReload(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenant_id")
	if err := a.engine.ReloadTenant(r.Context(), tenantID); err != nil {
		writeErr(w, http.StatusUnprocessableEntity, "RELOAD_FAILED", err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "reloaded", "tenant_id": tenantID})
}

// streamFilterMsg is the client->server message used to update a
// subscription's filter mid-stream.
type streamFilterMsg struct {
	Type     string `json:"type"`
	TenantID string `json:"tenant_id,omitempty"`
	Decision string `json:"decision,omitempty"`
}

// streamOutMsg is the server->client envelope for every message on the
// stream: a one-time "connected" ack, then one "decision" per event, or a
// "lag" message with the skipped count when the subscriber fell behind.
type streamOutMsg struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// handleStream upgrades to a websocket duplex stream. Query parameters
// tenant_id/decision seed the initial filter; clients may subsequently
// send {"type":"filter",...} messages to update it.
func (a *API) handleStream(w http.ResponseWriter, r *http.Request) {
	if a.bus == nil {
		writeErr(w, http.StatusServiceUnavailable, "STREAM_UNAVAILABLE", "decision bus not configured")
		return
	}

	conn, err := a.up.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	filter := decisionbus.Filter{
		TenantID: r.URL.Query().Get("tenant_id"),
		Decision: r.URL.Query().Get("decision"),
	}
	sub := a.bus.Subscribe(filter)
	defer sub.Close()

	_ = conn.WriteJSON(streamOutMsg{Type: "connected"})

	done := make(chan struct{})
	go a.readLoop(conn, sub, done)
	a.writeLoop(conn, sub, done)
}

func (a *API) readLoop(conn *websocket.Conn, sub *decisionbus.Subscription, done chan struct{}) {
	defer close(done)
	for {
		var msg streamFilterMsg
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		if msg.Type == "filter" {
			sub.SetFilter(decisionbus.Filter{TenantID: msg.TenantID, Decision: msg.Decision})
		}
	}
}

func (a *API) writeLoop(conn *websocket.Conn, sub *decisionbus.Subscription, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case msg, ok := <-sub.Messages():
			if !ok {
				return
			}
			var out streamOutMsg
			switch {
			case msg.Event != nil:
				out = streamOutMsg{Type: "decision", Data: msg.Event}
			case msg.Lag != nil:
				out = streamOutMsg{Type: "lag", Data: msg.Lag}
			default:
				continue
			}
			if err := conn.WriteJSON(out); err != nil {
				return
			}
		}
	}
}
