package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/speedrun-hq/intentmesh/pkg/lifecycle"
	"github.com/speedrun-hq/intentmesh/pkg/logger"
	"github.com/speedrun-hq/intentmesh/pkg/models"
	"github.com/speedrun-hq/intentmesh/pkg/tokens"
)

// MaxBodyBytes bounds every request body
const MaxBodyBytes = 64 << 10

// Service is the intent lifecycle exposed over HTTP
type Service interface {
	Create(ctx context.Context, data models.CreateIntent) (*models.Intent, error)
	Get(ctx context.Context, id string) (*models.Intent, error)
	List(ctx context.Context, filter models.IntentFilter) ([]models.Intent, error)
	UserIntents(ctx context.Context, address string) ([]models.Intent, error)
	History(ctx context.Context, address string) ([]models.Intent, error)
	MatchesFor(ctx context.Context, id string) ([]models.IntentMatch, error)
	BestMatchFor(ctx context.Context, id string) (models.IntentMatch, bool, error)
	Fulfill(ctx context.Context, id, actingAddress string) (*models.Intent, error)
	ConfirmFulfillment(ctx context.Context, id, reference string) (*models.Intent, error)
	Cancel(ctx context.Context, id, actingAddress string) error
	Refresh(ctx context.Context) (*lifecycle.RefreshResult, error)
	SweepExpired(ctx context.Context) (int, error)
	StaleMatched(ctx context.Context, olderThan time.Duration) ([]models.Intent, error)
	Ping(ctx context.Context) error
}

var _ Service = (*lifecycle.Controller)(nil)

// IntentsResponse wraps a list of intents
type IntentsResponse struct {
	Intents []models.Intent `json:"intents"`
	Count   int             `json:"count"`
}

// MatchesResponse wraps a list of matches
type MatchesResponse struct {
	Matches []models.IntentMatch `json:"matches"`
	Count   int                  `json:"count"`
}

// BestMatchResponse carries the best match of an intent; Match is nil when
// the intent has none.
type BestMatchResponse struct {
	Match *models.IntentMatch `json:"match"`
}

// SweepResponse reports how many intents a sweep expired
type SweepResponse struct {
	Expired int `json:"expired"`
}

// FulfillRequest is the body of POST /intents/{id}/fulfill
type FulfillRequest struct {
	ActingAddress string `json:"actingAddress"`
}

// ConfirmRequest is the body of POST /intents/{id}/confirm
type ConfirmRequest struct {
	Reference string `json:"reference"`
}

// Handler serves the intent routes
type Handler struct {
	service    Service
	logger     logger.Logger
	staleAfter time.Duration
}

// NewHandler creates a handler. staleAfter is the default age used by
// GET /matched/stale when the request omits olderThan.
func NewHandler(service Service, l logger.Logger, staleAfter time.Duration) *Handler {
	return &Handler{
		service:    service,
		logger:     l,
		staleAfter: staleAfter,
	}
}

// Register mounts the intent routes on r
func (h *Handler) Register(r chi.Router) {
	r.Get("/intents", h.HandleList)
	r.Post("/intents", h.HandleCreate)
	r.Get("/intents/{id}", h.HandleGet)
	r.Delete("/intents/{id}", h.HandleCancel)
	r.Get("/intents/{id}/matches", h.HandleMatchesFor)
	r.Get("/intents/{id}/best-match", h.HandleBestMatch)
	r.Post("/intents/{id}/fulfill", h.HandleFulfill)
	r.Post("/intents/{id}/confirm", h.HandleConfirm)
	r.Get("/matches", h.HandleRefresh)
	r.Post("/sweep", h.HandleSweep)
	r.Get("/tokens", h.HandleTokens)
	r.Get("/addresses/{address}/intents", h.HandleUserIntents)
	r.Get("/addresses/{address}/history", h.HandleHistory)
	r.Get("/matched/stale", h.HandleStaleMatched)
}

// HandleCreate handles POST /intents
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req models.CreateIntent
	if !h.decode(w, r, &req) {
		return
	}

	intent, err := h.service.Create(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, intent)
}

// HandleList handles GET /intents with optional status, fromToken, toToken
// and creatorAddress query filters
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := models.IntentFilter{
		Status:         models.IntentStatus(q.Get("status")),
		FromToken:      q.Get("fromToken"),
		ToToken:        q.Get("toToken"),
		CreatorAddress: q.Get("creatorAddress"),
	}

	intents, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeIntents(w, intents)
}

// HandleGet handles GET /intents/{id}
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	intent, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, intent)
}

// HandleCancel handles DELETE /intents/{id}. The acting address comes from
// the actingAddress query parameter or a FulfillRequest shaped body.
func (h *Handler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	acting := r.URL.Query().Get("actingAddress")
	if acting == "" && r.ContentLength > 0 {
		var req FulfillRequest
		if !h.decode(w, r, &req) {
			return
		}
		acting = req.ActingAddress
	}

	if err := h.service.Cancel(r.Context(), chi.URLParam(r, "id"), acting); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleMatchesFor handles GET /intents/{id}/matches
func (h *Handler) HandleMatchesFor(w http.ResponseWriter, r *http.Request) {
	matches, err := h.service.MatchesFor(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeMatches(w, matches)
}

// HandleBestMatch handles GET /intents/{id}/best-match
func (h *Handler) HandleBestMatch(w http.ResponseWriter, r *http.Request) {
	match, ok, err := h.service.BestMatchFor(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := BestMatchResponse{}
	if ok {
		resp.Match = &match
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleFulfill handles POST /intents/{id}/fulfill
func (h *Handler) HandleFulfill(w http.ResponseWriter, r *http.Request) {
	var req FulfillRequest
	if !h.decode(w, r, &req) {
		return
	}

	intent, err := h.service.Fulfill(r.Context(), chi.URLParam(r, "id"), req.ActingAddress)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, intent)
}

// HandleConfirm handles POST /intents/{id}/confirm
func (h *Handler) HandleConfirm(w http.ResponseWriter, r *http.Request) {
	var req ConfirmRequest
	if !h.decode(w, r, &req) {
		return
	}

	intent, err := h.service.ConfirmFulfillment(r.Context(), chi.URLParam(r, "id"), req.Reference)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, intent)
}

// HandleRefresh handles GET /matches: sweep, then report the active pool and
// every fulfillable pair in it
func (h *Handler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.Refresh(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// HandleSweep handles POST /sweep
func (h *Handler) HandleSweep(w http.ResponseWriter, r *http.Request) {
	count, err := h.service.SweepExpired(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SweepResponse{Expired: count})
}

// HandleTokens handles GET /tokens
func (h *Handler) HandleTokens(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, tokens.All())
}

// HandleUserIntents handles GET /addresses/{address}/intents
func (h *Handler) HandleUserIntents(w http.ResponseWriter, r *http.Request) {
	intents, err := h.service.UserIntents(r.Context(), chi.URLParam(r, "address"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeIntents(w, intents)
}

// HandleHistory handles GET /addresses/{address}/history
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	intents, err := h.service.History(r.Context(), chi.URLParam(r, "address"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeIntents(w, intents)
}

// HandleStaleMatched handles GET /matched/stale?olderThan=<duration>
func (h *Handler) HandleStaleMatched(w http.ResponseWriter, r *http.Request) {
	olderThan := h.staleAfter
	if raw := r.URL.Query().Get("olderThan"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d < 0 {
			writeBadRequest(w, "olderThan must be a non-negative duration such as 15m")
			return
		}
		olderThan = d
	}

	intents, err := h.service.StaleMatched(r.Context(), olderThan)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeIntents(w, intents)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		h.logger.DebugWithComponent(logger.API, "Rejected body on %s %s: %v", r.Method, r.URL.Path, err)
		writeBadRequest(w, "invalid JSON body")
		return false
	}
	return true
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := ErrorFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.ErrorWithComponent(logger.API, "%s %s failed: %v", r.Method, r.URL.Path, err)
	} else {
		h.logger.DebugWithComponent(logger.API, "%s %s: %v", r.Method, r.URL.Path, err)
	}
	writeJSON(w, status, body)
}

func writeIntents(w http.ResponseWriter, intents []models.Intent) {
	if intents == nil {
		intents = []models.Intent{}
	}
	writeJSON(w, http.StatusOK, IntentsResponse{Intents: intents, Count: len(intents)})
}

func writeMatches(w http.ResponseWriter, matches []models.IntentMatch) {
	if matches == nil {
		matches = []models.IntentMatch{}
	}
	writeJSON(w, http.StatusOK, MatchesResponse{Matches: matches, Count: len(matches)})
}

