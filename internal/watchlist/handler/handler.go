// Package handler exposes the watchlist import endpoints.
package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/asaskevich/govalidator"
	"github.com/go-chi/chi/v5"

	"vigil/internal/watchlist/models"
	dErrors "vigil/pkg/domain-errors"
	"vigil/pkg/platform/httputil"
)

// maxImportBytes bounds one CSV upload.
const maxImportBytes = 64 << 20

// Importer is the service surface the handlers need.
type Importer interface {
	ImportCSV(ctx context.Context, source string, r io.Reader) (*models.Dataset, error)
	Status(ctx context.Context, source string) (*models.Dataset, int, error)
}

type Handler struct {
	service Importer
	logger  *slog.Logger
}

func New(service Importer, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/watchlists/{source}/import", h.HandleImport)
	r.Get("/watchlists/{source}", h.HandleStatus)
}

// StatusResponse reports the latest import run and the live entry count.
type StatusResponse struct {
	Dataset     *models.Dataset `json:"dataset"`
	LiveEntries int             `json:"live_entries"`
}

// HandleImport handles POST /v1/watchlists/{source}/import with a CSV body.
func (h *Handler) HandleImport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	source := chi.URLParam(r, "source")
	if !govalidator.StringLength(source, "1", "100") {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "source must be 1 to 100 characters"))
		return
	}

	dataset, err := h.service.ImportCSV(ctx, source, http.MaxBytesReader(w, r.Body, maxImportBytes))
	if err != nil {
		h.logger.WarnContext(ctx, "watchlist import rejected", "source", source, "error", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, dataset)
}

// HandleStatus handles GET /v1/watchlists/{source}.
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	dataset, live, err := h.service.Status(r.Context(), chi.URLParam(r, "source"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, StatusResponse{Dataset: dataset, LiveEntries: live})
}
