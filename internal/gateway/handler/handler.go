// Package handler implements the external-facing HTTP surface: batch
// submission (JSON and CSV upload), outcome polling, dashboard summaries, and
// the per-record administrative operations. It translates internal error
// kinds into HTTP status codes and performs no business logic of its own.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/medisight/healthdata-platform/internal/ingest"
	"github.com/medisight/healthdata-platform/internal/record"
	"github.com/medisight/healthdata-platform/internal/store"
	"github.com/medisight/healthdata-platform/internal/summary"
	"github.com/medisight/healthdata-platform/internal/validate"
	apperrors "github.com/medisight/healthdata-platform/pkg/errors"
	"github.com/medisight/healthdata-platform/pkg/logger"
)

// Summarizer produces dashboard views; satisfied by both the raw engine and
// its caching wrapper.
type Summarizer interface {
	Summarize(ctx context.Context, opts summary.Options) (*summary.View, error)
}

// Config bounds batch submissions.
type Config struct {
	MaxRows      int
	BatchTimeout time.Duration
	// MaxUploadBytes caps the size of one CSV upload body.
	MaxUploadBytes int64
}

// Handler serves the gateway routes.
type Handler struct {
	cfg         Config
	coordinator *ingest.Coordinator
	outcomes    ingest.OutcomeStore
	summarizer  Summarizer
	store       store.Store
	logger      *slog.Logger
}

func New(cfg Config, c *ingest.Coordinator, outcomes ingest.OutcomeStore, s Summarizer, st store.Store) *Handler {
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = 50000
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 10 << 20
	}
	return &Handler{
		cfg:         cfg,
		coordinator: c,
		outcomes:    outcomes,
		summarizer:  s,
		store:       st,
		logger:      slog.Default().With("component", "gateway-handler"),
	}
}

// batchRequest is the JSON body accepted by the batch submission endpoint.
type batchRequest struct {
	Rows []map[string]any `json:"rows"`
}

// SubmitBatch handles POST /api/v1/batches/{kind}.
func (h *Handler) SubmitBatch(w http.ResponseWriter, r *http.Request) {
	kind, ok := h.pathKind(w, r)
	if !ok {
		return
	}

	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	var req batchRequest
	if err := dec.Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.Rows) == 0 {
		h.writeError(w, http.StatusBadRequest, "rows must not be empty")
		return
	}
	if len(req.Rows) > h.cfg.MaxRows {
		h.writeError(w, http.StatusRequestEntityTooLarge,
			"batch exceeds the maximum of "+strconv.Itoa(h.cfg.MaxRows)+" rows")
		return
	}

	h.runBatch(w, r, kind, ingest.RowsFromJSON(req.Rows))
}

// UploadCSV handles POST /api/v1/uploads/{kind} with a multipart CSV file.
func (h *Handler) UploadCSV(w http.ResponseWriter, r *http.Request) {
	kind, ok := h.pathKind(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxUploadBytes)
	file, _, err := r.FormFile("file")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "missing file upload field")
		return
	}
	defer file.Close()

	rows, err := ingest.ReadCSV(file)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid CSV: "+err.Error())
		return
	}
	if len(rows) == 0 {
		h.writeError(w, http.StatusBadRequest, "file contains no data rows")
		return
	}
	if len(rows) > h.cfg.MaxRows {
		h.writeError(w, http.StatusRequestEntityTooLarge,
			"file exceeds the maximum of "+strconv.Itoa(h.cfg.MaxRows)+" rows")
		return
	}

	h.runBatch(w, r, kind, rows)
}

// runBatch executes one ingestion under the configured batch timeout. The
// outcome is always returned, including when the batch terminated early —
// callers must inspect the per-row rejections, never a lone success flag.
func (h *Handler) runBatch(w http.ResponseWriter, r *http.Request, kind record.Kind, rows []validate.RawRow) {
	ctx := r.Context()
	if h.cfg.BatchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.cfg.BatchTimeout)
		defer cancel()
	}

	outcome, err := h.coordinator.Ingest(ctx, kind, rows)
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}

	status := http.StatusOK
	if outcome.Terminated {
		// Committed rows stay committed; the response still reports them.
		status = http.StatusServiceUnavailable
	}
	h.writeJSON(w, status, outcome)
}

// GetOutcome handles GET /api/v1/outcomes/{id}.
func (h *Handler) GetOutcome(w http.ResponseWriter, r *http.Request) {
	if h.outcomes == nil {
		h.writeError(w, http.StatusNotFound, "outcome retention is disabled")
		return
	}
	outcome, err := h.outcomes.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, outcome)
}

// Dashboard handles GET /api/v1/dashboard with optional from/to bounds
// (YYYY-MM-DD or RFC 3339).
func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	var opts summary.Options
	var err error
	if opts.From, err = parseTime(r.URL.Query().Get("from")); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid from: "+err.Error())
		return
	}
	if opts.To, err = parseTime(r.URL.Query().Get("to")); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid to: "+err.Error())
		return
	}

	view, err := h.summarizer.Summarize(r.Context(), opts)
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, view)
}

// CreateRecord returns the single-record creation handler for a kind: the
// record runs through the exact same pipeline as a batch of one.
func (h *Handler) CreateRecord(kind record.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dec := json.NewDecoder(r.Body)
		dec.UseNumber()
		var obj map[string]any
		if err := dec.Decode(&obj); err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}

		rows := ingest.RowsFromJSON([]map[string]any{obj})
		outcome, err := h.coordinator.IngestOne(r.Context(), kind, rows[0])
		if err != nil {
			h.writeAppError(w, r, err)
			return
		}
		h.writeJSON(w, http.StatusCreated, outcome)
	}
}

// ListRecords returns the listing handler for a kind.
func (h *Handler) ListRecords(kind record.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 100
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				h.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
				return
			}
			if n < limit {
				limit = n
			}
		}

		items := make([]record.Entity, 0, limit)
		err := h.store.Scan(r.Context(), kind, func(e record.Entity) error {
			if len(items) >= limit {
				return errScanDone
			}
			items = append(items, e)
			return nil
		})
		if err != nil && !errors.Is(err, errScanDone) {
			h.writeAppError(w, r, err)
			return
		}
		h.writeJSON(w, http.StatusOK, map[string]any{
			"count": len(items),
			"items": items,
		})
	}
}

// GetRecord returns the fetch-one handler for a kind.
func (h *Handler) GetRecord(kind record.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		e, err := h.store.Get(r.Context(), kind, r.PathValue("id"))
		if err != nil {
			h.writeAppError(w, r, err)
			return
		}
		h.writeJSON(w, http.StatusOK, e)
	}
}

// DeleteRecord returns the administrative delete handler for a kind. Deletes
// are refused while dependent records exist.
func (h *Handler) DeleteRecord(kind record.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := h.store.Delete(r.Context(), kind, r.PathValue("id")); err != nil {
			h.writeAppError(w, r, err)
			return
		}
		h.coordinator.RefreshStoredRecords(r.Context(), kind)
		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// errScanDone stops a listing scan once the limit is reached.
var errScanDone = errors.New("scan limit reached")

func (h *Handler) pathKind(w http.ResponseWriter, r *http.Request) (record.Kind, bool) {
	kind, err := record.ParseKind(r.PathValue("kind"))
	if err != nil {
		h.writeError(w, http.StatusNotFound, err.Error())
		return "", false
	}
	return kind, true
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, errors.New("expected YYYY-MM-DD or RFC 3339")
	}
	return t.UTC(), nil
}

func (h *Handler) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatusCode(err)
	log := logger.FromContext(r.Context())
	if status >= 500 {
		log.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	} else {
		log.Debug("request rejected", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}
	h.writeError(w, status, reasonText(err))
}

// reasonText prefers the AppError message over the sentinel-prefixed chain.
func reasonText(err error) string {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
