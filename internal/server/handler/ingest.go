package handler

import (
	"log/slog"
	"net/http"
	"time"
)

// IngestHandler lets operators request an immediate ingestion run.
type IngestHandler struct {
	logger    *slog.Logger
	triggerCh chan<- struct{} // when non-nil, sending triggers one ingestion run
}

// NewIngestHandler creates an IngestHandler. A nil trigger channel means
// ingestion does not run in this process.
func NewIngestHandler(triggerCh chan<- struct{}, logger *slog.Logger) *IngestHandler {
	return &IngestHandler{triggerCh: triggerCh, logger: logger}
}

// Trigger enqueues one ingestion run with a non-blocking send.
// POST /api/ingest/trigger
func (h *IngestHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	if h.triggerCh == nil {
		writeError(w, http.StatusServiceUnavailable, "ingestion is not running in this process")
		return
	}
	h.logger.InfoContext(r.Context(), "handler: ingest trigger requested")
	select {
	case h.triggerCh <- struct{}{}:
	default:
		// already triggered and not yet consumed
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":       "accepted",
		"requested_at": time.Now().UTC().Format(time.RFC3339),
	})
}
