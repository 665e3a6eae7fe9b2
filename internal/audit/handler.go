package audit

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
)

type Handler struct {
	aggregator *Aggregator
	snapshots  *SnapshotStore
	logger     *slog.Logger
}

// NewHandler builds the audit HTTP handler. snapshots may be nil when no
// database is configured; the history endpoint then reports 404.
func NewHandler(aggregator *Aggregator, snapshots *SnapshotStore) *Handler {
	return &Handler{
		aggregator: aggregator,
		snapshots:  snapshots,
		logger:     slog.Default().With("component", "audit-handler"),
	}
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, h.aggregator.Stats())
}

// History serves persisted snapshots, newest first.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	if h.snapshots == nil {
		http.Error(w, `{"error":"snapshot history not configured"}`, http.StatusNotFound)
		return
	}
	limit := 24
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	snapshots, err := h.snapshots.ListSnapshots(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list audit snapshots", "error", err)
		http.Error(w, `{"error":"snapshot history unavailable"}`, http.StatusServiceUnavailable)
		return
	}
	h.writeJSON(w, map[string]any{"snapshots": snapshots})
}

func (h *Handler) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to write audit response", "error", err)
	}
}
