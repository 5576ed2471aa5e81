package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/solvent-ai/triagekit/internal/cache"
	"github.com/solvent-ai/triagekit/internal/core/domain"
	"github.com/solvent-ai/triagekit/internal/core/ports"
	"github.com/solvent-ai/triagekit/internal/orchestrator"
)

// StatsSource is any cache exposing size and TTL stats.
type StatsSource interface {
	Stats() cache.Stats
}

// Handlers holds the service dependencies the HTTP surface needs.
type Handlers struct {
	Orchestrator *orchestrator.Orchestrator
	Aggregator   ports.ContextAggregator
	Tickets      ports.TicketStore
	Publisher    ports.EventPublisher
	Caches       map[string]StatsSource
	Logger       *slog.Logger
}

// Mount registers all routes on the router.
func (h *Handlers) Mount(r chi.Router) {
	r.Get("/healthz", h.health)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/tickets", h.ingestTicket)
		r.Post("/tickets/classify", h.classifyTicket)
		r.Post("/tickets/retrieve", h.retrieveContext)
		r.Post("/tickets/respond", h.respondTicket)
		r.Post("/tickets/orchestrate", h.orchestrateTicket)

		r.Get("/customers/{externalID}/context", h.customerContext)
		r.Get("/cache/stats", h.cacheStats)
	})
}

// CacheSource wraps a typed cache behind the stats interface so caches with
// different value types can share the stats endpoint.
func CacheSource[V any](c *cache.Cache[V]) StatsSource { return c }

type ticketRequest struct {
	ExternalID         string            `json:"external_id,omitempty"`
	CustomerExternalID string            `json:"customer_external_id"`
	Subject            string            `json:"subject"`
	Description        string            `json:"description"`
	Channel            string            `json:"channel,omitempty"`
	PriorityHint       string            `json:"priority_hint,omitempty"`
	Metadata           map[string]string `json:"metadata,omitempty"`

	// Per-run options; ignored by the ingest endpoint.
	ModelTier string `json:"model_tier,omitempty"`
	MaxDrafts int    `json:"max_drafts,omitempty"`
}

func (req *ticketRequest) toTicket() *domain.Ticket {
	return &domain.Ticket{
		ID:                 uuid.New().String(),
		ExternalID:         req.ExternalID,
		CustomerExternalID: req.CustomerExternalID,
		Subject:            req.Subject,
		Description:        req.Description,
		Channel:            domain.Channel(req.Channel),
		PriorityHint:       req.PriorityHint,
		Metadata:           req.Metadata,
		CreatedAt:          time.Now().UTC(),
	}
}

func (req *ticketRequest) runOptions(correlationID string) orchestrator.RunOptions {
	return orchestrator.RunOptions{
		CorrelationID: correlationID,
		ModelTier:     ports.ModelTier(req.ModelTier),
		MaxDrafts:     req.MaxDrafts,
	}
}

func (h *Handlers) decodeTicket(w http.ResponseWriter, r *http.Request) (*ticketRequest, bool) {
	var req ticketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, domain.ErrInvalidInput("request body must be valid JSON").WithCause(err))
		return nil, false
	}
	return &req, true
}

// POST /v1/tickets accepts a ticket into the store and emits a received
// event. It does not run the pipeline; callers follow up with orchestrate.
func (h *Handlers) ingestTicket(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeTicket(w, r)
	if !ok {
		return
	}

	ticket := req.toTicket()
	if err := ticket.Validate(); err != nil {
		h.writeError(w, r, err)
		return
	}

	if err := h.Tickets.SaveTicket(r.Context(), ticket); err != nil {
		h.writeError(w, r, err)
		return
	}
	AddLogField(r.Context(), "ticket_id", ticket.ID)

	ev := ports.Event{
		Type:          "ticket.received",
		CorrelationID: GetCorrelationID(r.Context()),
		CustomerID:    ticket.CustomerExternalID,
		TicketID:      ticket.ID,
		OccurredAt:    time.Now().UTC(),
	}
	if err := h.Publisher.Publish(r.Context(), ev); err != nil {
		h.Logger.Warn("publish ticket.received failed", slog.String("ticket_id", ticket.ID), slog.String("error", err.Error()))
	}

	h.writeJSON(w, http.StatusCreated, ticket)
}

// POST /v1/tickets/orchestrate runs the full pipeline.
func (h *Handlers) orchestrateTicket(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeTicket(w, r)
	if !ok {
		return
	}

	ticket := req.toTicket()
	opts := req.runOptions(GetCorrelationID(r.Context()))

	result, err := h.Orchestrator.Run(r.Context(), ticket, opts)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	AddLogField(r.Context(), "ticket_id", ticket.ID)
	AddLogField(r.Context(), "final_state", string(result.TerminalState()))

	h.writeJSON(w, http.StatusOK, result)
}

// POST /v1/tickets/classify runs only classification.
func (h *Handlers) classifyTicket(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeTicket(w, r)
	if !ok {
		return
	}

	result, err := h.Orchestrator.Classify(r.Context(), req.toTicket())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// POST /v1/tickets/retrieve runs classification plus retrieval and returns
// the ranked context package.
func (h *Handlers) retrieveContext(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeTicket(w, r)
	if !ok {
		return
	}

	pkg, err := h.Orchestrator.Retrieve(r.Context(), req.toTicket())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, pkg)
}

// POST /v1/tickets/respond runs the full pipeline and returns only the
// drafts.
func (h *Handlers) respondTicket(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeTicket(w, r)
	if !ok {
		return
	}

	drafts, err := h.Orchestrator.Respond(r.Context(), req.toTicket(), req.runOptions(GetCorrelationID(r.Context())))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"drafts": drafts})
}

// GET /v1/customers/{externalID}/context returns the aggregated 360 view.
func (h *Handlers) customerContext(w http.ResponseWriter, r *http.Request) {
	externalID := chi.URLParam(r, "externalID")
	if externalID == "" {
		h.writeError(w, r, domain.ErrInvalidInput("customer external id is required").WithParam("externalID"))
		return
	}

	cc, err := h.Aggregator.Build(r.Context(), externalID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, cc)
}

// GET /v1/cache/stats reports size and TTL for every named cache.
func (h *Handlers) cacheStats(w http.ResponseWriter, r *http.Request) {
	stats := make(map[string]cache.Stats, len(h.Caches))
	for name, src := range h.Caches {
		stats[name] = src.Stats()
	}
	h.writeJSON(w, http.StatusOK, stats)
}

func (h *Handlers) health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Param   string `json:"param,omitempty"`
}

// writeError maps the domain error taxonomy onto HTTP status codes.
// Unclassified errors are reported as internal without their message, which
// may carry collaborator detail.
func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	AddError(r.Context(), err)

	var derr *domain.Error
	if errors.As(err, &derr) {
		h.writeJSON(w, derr.HTTPStatusCode(), errorResponse{Error: errorBody{
			Kind:    string(derr.Kind),
			Message: derr.Message,
			Param:   derr.Param,
		}})
		return
	}

	h.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: errorBody{
		Kind:    string(domain.KindInternal),
		Message: "internal error",
	}})
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.Logger.Warn("encode response failed", slog.String("error", err.Error()))
	}
}
