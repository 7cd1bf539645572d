// Package handler exposes the screening HTTP surface: dispatch, polling,
// provider callbacks and the live event stream.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/asaskevich/govalidator"
	"github.com/go-chi/chi/v5"

	"vigil/internal/screening/metrics"
	"vigil/internal/screening/models"
	"vigil/internal/stream"
	id "vigil/pkg/domain"
	dErrors "vigil/pkg/domain-errors"
	"vigil/pkg/platform/httputil"
)

// Orchestrator is the service surface the handlers need.
type Orchestrator interface {
	Dispatch(ctx context.Context, req models.SubmitRequest) (models.SubmitResponse, error)
	ReportSuccess(ctx context.Context, queryID id.QueryID, kind models.ProviderKind, payload json.RawMessage) (bool, error)
	ReportFailure(ctx context.Context, queryID id.QueryID, kind models.ProviderKind, code, message string) (bool, error)
	Snapshot(ctx context.Context, queryID id.QueryID) (models.Snapshot, error)
}

// Handler wires screening endpoints to the orchestrator and the stream hub.
type Handler struct {
	service   Orchestrator
	hub       *stream.Hub
	metrics   *metrics.Metrics
	logger    *slog.Logger
	keepalive time.Duration
}

func New(service Orchestrator, hub *stream.Hub, m *metrics.Metrics, logger *slog.Logger, keepalive time.Duration) *Handler {
	if keepalive <= 0 {
		keepalive = 25 * time.Second
	}
	return &Handler{
		service:   service,
		hub:       hub,
		metrics:   m,
		logger:    logger,
		keepalive: keepalive,
	}
}

// Register mounts the client-facing endpoints. Callback endpoints are mounted
// separately so the router can put them behind the callback secret instead of
// client auth.
func (h *Handler) Register(r chi.Router) {
	r.Post("/screenings", h.HandleSubmit)
	r.Get("/screenings/{queryID}", h.HandleGet)
	r.Get("/screenings/{queryID}/events", h.HandleEvents)
}

// RegisterCallbacks mounts the provider-facing callback endpoints.
func (h *Handler) RegisterCallbacks(r chi.Router) {
	r.Post("/providers/{kind}/results", h.HandleResults)
	r.Post("/providers/{kind}/failed", h.HandleFailed)
}

// HandleSubmit handles POST /v1/screenings. It answers 202: acceptance means
// the query is durable and dispatched, not screened.
func (h *Handler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req models.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid request body"))
		return
	}
	if err := validateSubmitRequest(req); err != nil {
		httputil.WriteError(w, err)
		return
	}

	resp, err := h.service.Dispatch(ctx, req)
	if err != nil {
		h.logger.ErrorContext(ctx, "screening dispatch failed", "error", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, resp)
}

// HandleGet handles GET /v1/screenings/{queryID}: the polling read.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	queryID, err := id.ParseQueryID(chi.URLParam(r, "queryID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	snapshot, err := h.service.Snapshot(r.Context(), queryID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, snapshot)
}

// HandleResults handles POST /v1/providers/{kind}/results. Duplicates get the
// same acknowledgment as a first delivery: a retrying provider must not be
// able to tell the difference.
func (h *Handler) HandleResults(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	kind, err := models.ParseProviderKind(chi.URLParam(r, "kind"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "unknown provider kind"))
		return
	}

	var req models.ResultsCallback
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid request body"))
		return
	}
	queryID, err := id.ParseQueryID(req.QueryID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	if _, err := h.service.ReportSuccess(ctx, queryID, kind, req.Payload); err != nil {
		h.logger.WarnContext(ctx, "results callback rejected",
			"query_id", req.QueryID,
			"provider", string(kind),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, models.CallbackResponse{Accepted: true})
}

// HandleFailed handles POST /v1/providers/{kind}/failed.
func (h *Handler) HandleFailed(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	kind, err := models.ParseProviderKind(chi.URLParam(r, "kind"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "unknown provider kind"))
		return
	}

	var req models.FailedCallback
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid request body"))
		return
	}
	queryID, err := id.ParseQueryID(req.QueryID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	if _, err := h.service.ReportFailure(ctx, queryID, kind, req.Code, req.Message); err != nil {
		h.logger.WarnContext(ctx, "failure callback rejected",
			"query_id", req.QueryID,
			"provider", string(kind),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, models.CallbackResponse{Accepted: true})
}

func validateSubmitRequest(req models.SubmitRequest) error {
	if !govalidator.StringLength(req.Subject.FullName, "1", "500") {
		return dErrors.New(dErrors.CodeInvalidInput, "subject full_name is required and must be at most 500 characters")
	}
	if req.Subject.BirthDate != "" && !govalidator.IsTime(req.Subject.BirthDate, "2006-01-02") {
		return dErrors.New(dErrors.CodeInvalidInput, "subject birth_date must be YYYY-MM-DD")
	}
	if req.Subject.Country != "" && !govalidator.IsISO3166Alpha2(strings.ToUpper(req.Subject.Country)) {
		return dErrors.New(dErrors.CodeInvalidInput, "subject country must be an ISO 3166-1 alpha-2 code")
	}
	if len(req.Subject.Aliases) > 20 {
		return dErrors.New(dErrors.CodeInvalidInput, "at most 20 aliases are allowed")
	}
	for _, alias := range req.Subject.Aliases {
		if !govalidator.StringLength(alias, "1", "500") {
			return dErrors.New(dErrors.CodeInvalidInput, "aliases must be non-empty and at most 500 characters")
		}
	}
	return nil
}
