package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"vigil/internal/screening/models"
	"vigil/internal/screening/service"
	"vigil/internal/stream"
	id "vigil/pkg/domain"
	dErrors "vigil/pkg/domain-errors"
	"vigil/pkg/platform/httputil"
)

// HandleEvents handles GET /v1/screenings/{queryID}/events, an SSE stream of
// aggregate snapshots for one query.
//
// The contract is live-only: the stream opens with the current snapshot, then
// carries every subsequent change. The server closes the stream after the
// terminal event; a client that reconnects after a gap starts from the
// snapshot again, so it never needs replay.
func (h *Handler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	queryID, err := id.ParseQueryID(chi.URLParam(r, "queryID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnavailable, "streaming is not supported by this connection"))
		return
	}

	// Subscribe before the snapshot read. The other order loses transitions
	// that land between the read and the subscription; this order at worst
	// delivers an event older than the snapshot, which the revision check
	// below discards.
	sub := h.hub.Subscribe(queryID.String())
	defer h.hub.Unsubscribe(sub.ID)

	snapshot, err := h.service.Snapshot(ctx, queryID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	if h.metrics != nil {
		h.metrics.LiveSubscribers.Inc()
		defer h.metrics.LiveSubscribers.Dec()
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	_ = stream.WriteSSEComment(w, "connected")
	if err := stream.WriteSSE(w, stream.Event{
		Type:     service.EventScreeningUpdate,
		Query:    snapshot.QueryID,
		Terminal: snapshot.Status.Terminal(),
		Payload:  snapshot,
	}); err != nil {
		return
	}
	flusher.Flush()
	if snapshot.Status.Terminal() {
		return
	}

	lastRevision := snapshot.Revision
	keepalive := time.NewTicker(h.keepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-keepalive.C:
			if err := stream.WriteSSEComment(w, "keepalive"); err != nil {
				return
			}
			flusher.Flush()
		case event, ok := <-sub.Events:
			if !ok {
				// Pruned by the hub: the client reconnects and resumes from a
				// fresh snapshot.
				return
			}
			if rev, ok := eventRevision(event); ok && rev <= lastRevision {
				continue
			} else if ok {
				lastRevision = rev
			}
			if err := stream.WriteSSE(w, event); err != nil {
				return
			}
			flusher.Flush()
			if event.Terminal {
				return
			}
		}
	}
}

// eventRevision extracts the snapshot revision from an event payload. Local
// publishes carry models.Snapshot; events re-published by the Redis relay
// arrive as decoded JSON.
func eventRevision(event stream.Event) (uint64, bool) {
	switch payload := event.Payload.(type) {
	case models.Snapshot:
		return payload.Revision, true
	case map[string]any:
		if rev, ok := payload["revision"].(float64); ok {
			return uint64(rev), true
		}
	}
	return 0, false
}
