package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mscottkey/fable-engine/internal/engine"
	"github.com/mscottkey/fable-engine/internal/models"
	"github.com/mscottkey/fable-engine/internal/narrative"
	"github.com/mscottkey/fable-engine/internal/pipeline"
	"github.com/mscottkey/fable-engine/internal/story"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for development
	},
}

// CampaignLister exposes the campaign listing the coordinator itself does
// not need.
type CampaignLister interface {
	ListCampaigns(ctx context.Context) ([]models.Campaign, error)
}

type Handlers struct {
	coordinator *pipeline.Coordinator
	runtime     *narrative.Runtime
	campaigns   CampaignLister
	hub         *SessionHub
	validate    *validator.Validate
	logger      *zap.Logger
}

func NewHandlers(coordinator *pipeline.Coordinator, runtime *narrative.Runtime, campaigns CampaignLister, hub *SessionHub, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		coordinator: coordinator,
		runtime:     runtime,
		campaigns:   campaigns,
		hub:         hub,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		logger:      logger,
	}
}

func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "fable-engine",
	})
}

// --- campaigns ---

func (h *Handlers) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title   string `json:"title" validate:"required"`
		Premise string `json:"premise" validate:"required"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	state, err := h.coordinator.CreateCampaign(r.Context(), req.Title, req.Premise)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, state)
}

func (h *Handlers) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	campaigns, err := h.campaigns.ListCampaigns(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"campaigns": campaigns})
}

func (h *Handlers) GetPipeline(w http.ResponseWriter, r *http.Request) {
	state, err := h.coordinator.Pipeline(r.Context(), chi.URLParam(r, "campaign_id"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, state)
}

// --- phases ---

func (h *Handlers) RunPhase(w http.ResponseWriter, r *http.Request) {
	phase, ok := parsePhase(chi.URLParam(r, "phase"))
	if !ok {
		respondJSON(w, http.StatusBadRequest, errBody("unknown phase"))
		return
	}

	var req struct {
		Operation           string             `json:"operation" validate:"required,oneof=initial regen remix"`
		Target              *story.RegenTarget `json:"target,omitempty"`
		Feedback            string             `json:"feedback,omitempty"`
		RemixBrief          string             `json:"remix_brief,omitempty"`
		PreserveProperNouns bool               `json:"preserve_proper_nouns,omitempty"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.coordinator.RunPhase(r.Context(),
		chi.URLParam(r, "campaign_id"),
		phase,
		story.Operation(req.Operation),
		pipeline.RunOptions{
			Target:              req.Target,
			Feedback:            req.Feedback,
			RemixBrief:          req.RemixBrief,
			PreserveProperNouns: req.PreserveProperNouns,
		},
	)
	if err != nil {
		h.respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"phase":      phase.String(),
		"data":       json.RawMessage(result.Raw),
		"warnings":   result.Warnings,
		"repaired":   result.Repaired,
		"latency_ms": result.LatencyMs,
		"usage":      result.Usage,
	})
}

func (h *Handlers) GetPhaseOutput(w http.ResponseWriter, r *http.Request) {
	phase, ok := parsePhase(chi.URLParam(r, "phase"))
	if !ok {
		respondJSON(w, http.StatusBadRequest, errBody("unknown phase"))
		return
	}

	raw, err := h.coordinator.Output(r.Context(), chi.URLParam(r, "campaign_id"), phase)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"phase": phase.String(),
		"data":  json.RawMessage(raw),
	})
}

// --- sessions ---

func (h *Handlers) StartSession(w http.ResponseWriter, r *http.Request) {
	view, err := h.runtime.StartSession(r.Context(), chi.URLParam(r, "campaign_id"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, view)
}

func (h *Handlers) SubmitAction(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Action  string `json:"action" validate:"required"`
		Proceed bool   `json:"proceed,omitempty"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	outcome, err := h.runtime.SubmitAction(r.Context(), chi.URLParam(r, "session_id"), req.Action, req.Proceed)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, outcome)
}

func (h *Handlers) EndSession(w http.ResponseWriter, r *http.Request) {
	if err := h.runtime.EndSession(r.Context(), chi.URLParam(r, "session_id")); err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ended"})
}

func (h *Handlers) ListEvents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	events, err := h.runtime.Events(r.Context(), chi.URLParam(r, "session_id"), limit)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"events": events})
}

// SessionFeed upgrades the connection and subscribes it to a session's
// narrative event feed.
func (h *Handlers) SessionFeed(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Conn:      conn,
		Send:      make(chan []byte, clientSendBuffer),
		Hub:       h.hub,
	}
	h.hub.register <- client
	go client.readPump()
}

// --- helpers ---

func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondJSON(w, http.StatusBadRequest, errBody("invalid request body"))
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		respondJSON(w, http.StatusBadRequest, errBody(err.Error()))
		return false
	}
	return true
}

// respondError maps domain errors onto HTTP statuses. Generation failures
// carry their kind so clients can distinguish a bad target from a flaky
// upstream.
func (h *Handlers) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pipeline.ErrCampaignNotFound),
		errors.Is(err, narrative.ErrSessionNotFound):
		respondJSON(w, http.StatusNotFound, errBody(err.Error()))
		return
	case errors.Is(err, pipeline.ErrPhaseLocked),
		errors.Is(err, pipeline.ErrPhaseNotApproved),
		errors.Is(err, pipeline.ErrPhaseAlreadyApproved):
		respondJSON(w, http.StatusConflict, errBody(err.Error()))
		return
	}

	var failure *engine.Failure
	if errors.As(err, &failure) {
		status := http.StatusInternalServerError
		switch failure.Kind {
		case engine.ErrInvalidTarget:
			status = http.StatusUnprocessableEntity
		case engine.ErrParseFailed, engine.ErrSchemaInvalid:
			status = http.StatusBadGateway
		case engine.ErrUpstreamUnavailable:
			status = http.StatusServiceUnavailable
		}
		respondJSON(w, status, map[string]any{
			"error": failure.Error(),
			"kind":  string(failure.Kind),
		})
		return
	}

	h.logger.Error("request failed", zap.Error(err))
	respondJSON(w, http.StatusInternalServerError, errBody("internal error"))
}

func parsePhase(raw string) (story.Phase, bool) {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	phase := story.Phase(n)
	return phase, phase.Valid()
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func errBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}
