package audit

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/medisight/healthdata-platform/internal/ingest"
	"github.com/medisight/healthdata-platform/internal/record"
)

func outcomeEvent(t *testing.T, out *ingest.BatchOutcome) []byte {
	t.Helper()
	data, err := json.Marshal(ingest.OutcomeEvent{BatchOutcome: out})
	if err != nil {
		t.Fatalf("marshaling event: %v", err)
	}
	return data
}

func TestAggregatorRecordsOutcomes(t *testing.T) {
	agg := NewAggregator()
	handle := HandleEvent(agg)
	ctx := context.Background()

	err := handle(ctx, []byte("patients"), outcomeEvent(t, &ingest.BatchOutcome{
		OutcomeID: "o1",
		Kind:      record.KindPatient,
		Total:     10,
		Accepted:  8,
		Rejected:  2,
		Rejections: []ingest.Rejection{
			{Index: 0, Code: ingest.CodeValidation, Reason: "age: not numeric"},
			{Index: 5, Code: ingest.CodeValidation, Reason: "gender: required field is missing"},
		},
		CompletedAt: time.Now().UTC(),
	}))
	if err != nil {
		t.Fatalf("handler failed: %v", err)
	}

	err = handle(ctx, []byte("visits"), outcomeEvent(t, &ingest.BatchOutcome{
		OutcomeID:  "o2",
		Kind:       record.KindVisit,
		Total:      4,
		Accepted:   2,
		Rejected:   2,
		Terminated: true,
		Rejections: []ingest.Rejection{
			{Index: 2, Code: ingest.CodeUnavailable, Reason: "batch terminated"},
			{Index: 3, Code: ingest.CodeUnavailable, Reason: "batch terminated"},
		},
		CompletedAt: time.Now().UTC(),
	}))
	if err != nil {
		t.Fatalf("handler failed: %v", err)
	}

	stats := agg.Stats()
	pat := stats.ByKind[record.KindPatient]
	if pat.Batches != 1 || pat.RowsTotal != 10 || pat.RowsAccepted != 8 || pat.RowsRejected != 2 {
		t.Errorf("unexpected patient stats: %+v", pat)
	}
	vis := stats.ByKind[record.KindVisit]
	if vis.Terminated != 1 {
		t.Errorf("expected 1 terminated visit batch, got %+v", vis)
	}

	// Reasons are sorted by count descending.
	if len(stats.RejectionReasons) != 2 {
		t.Fatalf("expected 2 reason codes, got %v", stats.RejectionReasons)
	}
	if stats.RejectionReasons[0].Count < stats.RejectionReasons[1].Count {
		t.Errorf("reasons not sorted by count: %v", stats.RejectionReasons)
	}
}

func TestHandleEventSkipsBadMessages(t *testing.T) {
	agg := NewAggregator()
	handle := HandleEvent(agg)

	// A bad message is logged and skipped, never an error that would wedge
	// the consumer group.
	if err := handle(context.Background(), nil, []byte("{not json")); err != nil {
		t.Errorf("expected nil error for undecodable message, got %v", err)
	}
	if err := handle(context.Background(), nil, []byte(`{"outcome":null}`)); err != nil {
		t.Errorf("expected nil error for empty event, got %v", err)
	}

	if len(agg.Stats().ByKind) != 0 {
		t.Errorf("bad messages must not be recorded")
	}
}

func TestStatsHandler(t *testing.T) {
	agg := NewAggregator()
	handle := HandleEvent(agg)
	_ = handle(context.Background(), nil, outcomeEvent(t, &ingest.BatchOutcome{
		OutcomeID: "o1",
		Kind:      record.KindPatient,
		Total:     1,
		Accepted:  1,
	}))

	h := NewHandler(agg, nil)
	rec := httptest.NewRecorder()
	h.Stats(rec, httptest.NewRequest("GET", "/api/v1/audit/stats", nil))

	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var stats Stats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if stats.ByKind[record.KindPatient].RowsAccepted != 1 {
		t.Errorf("unexpected stats payload: %+v", stats)
	}
}

func TestHistoryHandlerWithoutStore(t *testing.T) {
	h := NewHandler(NewAggregator(), nil)
	rec := httptest.NewRecorder()
	h.History(rec, httptest.NewRequest("GET", "/api/v1/audit/history", nil))
	if rec.Code != 404 {
		t.Errorf("expected 404 when history is not configured, got %d", rec.Code)
	}
}

func TestRestoreSeedsCounters(t *testing.T) {
	agg := NewAggregator()
	agg.Restore(Stats{
		ByKind: map[record.Kind]KindStats{
			record.KindPatient: {Batches: 3, RowsTotal: 30, RowsAccepted: 28, RowsRejected: 2},
		},
		RejectionReasons: []ReasonCount{{Code: string(ingest.CodeValidation), Count: 2}},
	})

	// New outcomes accumulate on top of the restored baseline.
	handle := HandleEvent(agg)
	err := handle(context.Background(), []byte("patients"), outcomeEvent(t, &ingest.BatchOutcome{
		OutcomeID: "o9",
		Kind:      record.KindPatient,
		Total:     5,
		Accepted:  4,
		Rejected:  1,
		Rejections: []ingest.Rejection{
			{Index: 1, Code: ingest.CodeValidation, Reason: "age: not numeric"},
		},
		CompletedAt: time.Now().UTC(),
	}))
	if err != nil {
		t.Fatalf("handler failed: %v", err)
	}

	stats := agg.Stats()
	ks := stats.ByKind[record.KindPatient]
	if ks.Batches != 4 || ks.RowsTotal != 35 || ks.RowsAccepted != 32 || ks.RowsRejected != 3 {
		t.Fatalf("unexpected restored stats: %+v", ks)
	}
	if len(stats.RejectionReasons) != 1 || stats.RejectionReasons[0].Count != 3 {
		t.Fatalf("unexpected rejection reasons: %+v", stats.RejectionReasons)
	}
}
