// Package ingest implements batch ingestion: rows are validated, resolved
// against the store, and committed one at a time in submission order. A batch
// is never atomic — partial success with an exact per-row report is the
// designed behaviour. Order matters: a patient accepted earlier in a batch is
// visible to a visit later in the same batch that references it.
package ingest

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/medisight/healthdata-platform/internal/record"
	"github.com/medisight/healthdata-platform/internal/resolve"
	"github.com/medisight/healthdata-platform/internal/store"
	"github.com/medisight/healthdata-platform/internal/validate"
	apperrors "github.com/medisight/healthdata-platform/pkg/errors"
	"github.com/medisight/healthdata-platform/pkg/metrics"
)

// OutcomePublisher receives completed batch outcomes for downstream
// consumers (audit trail, processing pipelines). Publish failures must not
// fail the batch.
type OutcomePublisher interface {
	PublishOutcome(ctx context.Context, outcome *BatchOutcome) error
}

// Coordinator orchestrates one batch submission end to end.
type Coordinator struct {
	store     store.Store
	resolver  *resolve.Resolver
	outcomes  OutcomeStore
	publisher OutcomePublisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// New creates a Coordinator. outcomes, publisher, and m may be nil; the
// corresponding side effects are skipped.
func New(s store.Store, r *resolve.Resolver, outcomes OutcomeStore, publisher OutcomePublisher, m *metrics.Metrics) *Coordinator {
	return &Coordinator{
		store:     s,
		resolver:  r,
		outcomes:  outcomes,
		publisher: publisher,
		metrics:   m,
		logger:    slog.Default().With("component", "ingest-coordinator"),
	}
}

// Ingest processes rows strictly in submission order. Each row runs through
// schema validation, reference resolution against current store state, and a
// store commit; failures at any stage reject that row and move on. Store
// unavailability is the one batch-fatal condition: rows not yet attempted are
// reported with CodeUnavailable and the batch terminates. A context deadline
// on the whole call behaves the same way — rows already committed keep their
// recorded outcome.
func (c *Coordinator) Ingest(ctx context.Context, kind record.Kind, rows []validate.RawRow) (*BatchOutcome, error) {
	if _, err := record.ParseKind(string(kind)); err != nil {
		return nil, apperrors.New(apperrors.ErrInvalidInput, 400, err.Error())
	}

	out := &BatchOutcome{
		OutcomeID:  newOutcomeID(),
		Kind:       kind,
		Total:      len(rows),
		Rejections: make([]Rejection, 0),
		StartedAt:  time.Now().UTC(),
	}

	for i, row := range rows {
		if err := ctx.Err(); err != nil {
			c.terminate(out, i, len(rows), err)
			break
		}

		entity, err := validate.Row(kind, row)
		if err != nil {
			c.reject(out, i, CodeValidation, err.Error())
			continue
		}
		stamp(entity, time.Now().UTC())

		if err := c.resolver.Check(ctx, entity); err != nil {
			if errors.Is(err, apperrors.ErrStoreUnavailable) {
				c.terminate(out, i, len(rows), err)
				break
			}
			code := CodeReference
			if errors.Is(err, apperrors.ErrRefMismatch) {
				code = CodeRefMismatch
			}
			c.reject(out, i, code, reasonText(err))
			continue
		}

		if err := c.store.Put(ctx, entity); err != nil {
			if errors.Is(err, apperrors.ErrStoreUnavailable) {
				c.terminate(out, i, len(rows), err)
				break
			}
			if errors.Is(err, apperrors.ErrConflict) {
				c.reject(out, i, CodeConflict, reasonText(err))
				continue
			}
			c.terminate(out, i, len(rows), err)
			break
		}

		out.Accepted++
		if c.metrics != nil {
			c.metrics.RowsIngestedTotal.WithLabelValues(string(kind), "accepted").Inc()
		}
	}

	out.CompletedAt = time.Now().UTC()
	out.Duration = out.CompletedAt.Sub(out.StartedAt)
	c.finish(ctx, out)
	return out, nil
}

// IngestOne runs a single record through the full pipeline as a batch of one
// and returns the row error, if any. Used by the record-entry endpoints.
func (c *Coordinator) IngestOne(ctx context.Context, kind record.Kind, row validate.RawRow) (*BatchOutcome, error) {
	out, err := c.Ingest(ctx, kind, []validate.RawRow{row})
	if err != nil {
		return nil, err
	}
	if out.Accepted == 1 {
		return out, nil
	}
	rej := out.Rejections[0]
	switch rej.Code {
	case CodeValidation:
		return out, apperrors.New(apperrors.ErrValidation, 400, rej.Reason)
	case CodeReference:
		return out, apperrors.New(apperrors.ErrUnknownReference, 422, rej.Reason)
	case CodeRefMismatch:
		return out, apperrors.New(apperrors.ErrRefMismatch, 422, rej.Reason)
	case CodeConflict:
		return out, apperrors.New(apperrors.ErrConflict, 409, rej.Reason)
	default:
		return out, apperrors.New(apperrors.ErrStoreUnavailable, 503, rej.Reason)
	}
}

func (c *Coordinator) reject(out *BatchOutcome, index int, code RejectionCode, reason string) {
	out.Rejected++
	out.Rejections = append(out.Rejections, Rejection{Index: index, Code: code, Reason: reason})
	if c.metrics != nil {
		c.metrics.RowsIngestedTotal.WithLabelValues(string(out.Kind), "rejected").Inc()
		c.metrics.RejectionsTotal.WithLabelValues(string(out.Kind), string(code)).Inc()
	}
}

// terminate marks every row from index onward as unattempted and flags the
// outcome. Rows before index keep whatever outcome they already earned.
func (c *Coordinator) terminate(out *BatchOutcome, from, total int, cause error) {
	out.Terminated = true
	for i := from; i < total; i++ {
		c.reject(out, i, CodeUnavailable, "batch terminated before row was attempted: "+cause.Error())
	}
	c.logger.Error("batch terminated early",
		"outcome_id", out.OutcomeID,
		"kind", out.Kind,
		"attempted", from,
		"total", total,
		"error", cause,
	)
}

// finishTimeout bounds outcome retention and publication after the batch
// itself is done.
const finishTimeout = 5 * time.Second

func (c *Coordinator) finish(ctx context.Context, out *BatchOutcome) {
	if c.metrics != nil {
		c.metrics.BatchDuration.WithLabelValues(string(out.Kind)).Observe(out.Duration.Seconds())
		status := "completed"
		if out.Terminated {
			status = "terminated"
		}
		c.metrics.BatchesTotal.WithLabelValues(string(out.Kind), status).Inc()
	}
	// A batch that terminated on timeout or cancellation still has to leave
	// its outcome behind for polling and the audit trail, so the side
	// effects get a context that survives the batch's own.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
	defer cancel()
	if c.outcomes != nil {
		if err := c.outcomes.Save(ctx, out); err != nil {
			c.logger.Warn("failed to retain batch outcome", "outcome_id", out.OutcomeID, "error", err)
		}
	}
	if c.publisher != nil {
		if err := c.publisher.PublishOutcome(ctx, out); err != nil {
			c.logger.Error("failed to publish batch outcome", "outcome_id", out.OutcomeID, "error", err)
		}
	}
	c.RefreshStoredRecords(ctx, out.Kind)
	c.logger.Info("batch processed",
		"outcome_id", out.OutcomeID,
		"kind", out.Kind,
		"total", out.Total,
		"accepted", out.Accepted,
		"rejected", out.Rejected,
		"terminated", out.Terminated,
		"duration_ms", out.Duration.Milliseconds(),
	)
}

// RefreshStoredRecords re-reads the store count for kind into the
// store_records gauge. Runs after every batch; the delete endpoint calls it
// too since deletes bypass ingestion.
func (c *Coordinator) RefreshStoredRecords(ctx context.Context, kind record.Kind) {
	if c.metrics == nil {
		return
	}
	n, err := c.store.Count(ctx, kind)
	if err != nil {
		c.logger.Warn("could not refresh stored-records gauge", "kind", kind, "error", err)
		return
	}
	c.metrics.StoredRecords.WithLabelValues(string(kind)).Set(float64(n))
}

// stamp sets the creation timestamp on a freshly validated entity. The
// validator itself stays clock-free.
func stamp(e record.Entity, now time.Time) {
	switch r := e.(type) {
	case *record.Patient:
		r.CreatedAt = now
	case *record.Visit:
		r.CreatedAt = now
	case *record.Prescription:
		r.CreatedAt = now
	}
}

// reasonText strips the sentinel prefix from AppError messages so outcome
// reasons read cleanly; other errors pass through as-is.
func reasonText(err error) string {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}
