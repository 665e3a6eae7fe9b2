package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/medisight/healthdata-platform/internal/record"
	apperrors "github.com/medisight/healthdata-platform/pkg/errors"
)

func testOutcome(id string) *BatchOutcome {
	return &BatchOutcome{
		OutcomeID:  id,
		Kind:       record.KindPatient,
		Total:      3,
		Accepted:   2,
		Rejected:   1,
		Rejections: []Rejection{{Index: 0, Code: CodeValidation, Reason: "age: not numeric"}},
	}
}

func TestMemoryOutcomesRoundTrip(t *testing.T) {
	m := NewMemoryOutcomes(time.Minute)
	ctx := context.Background()

	if err := m.Save(ctx, testOutcome("abc123")); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	got, err := m.Get(ctx, "abc123")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Accepted != 2 || got.Rejected != 1 {
		t.Errorf("outcome mismatch: %+v", got)
	}

	if _, err := m.Get(ctx, "missing"); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryOutcomesExpiry(t *testing.T) {
	m := NewMemoryOutcomes(time.Millisecond)
	ctx := context.Background()

	if err := m.Save(ctx, testOutcome("short-lived")); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	if _, err := m.Get(ctx, "short-lived"); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("expected expired outcome to be gone, got %v", err)
	}
}

func TestNewOutcomeIDUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := newOutcomeID()
		if len(id) != 32 {
			t.Fatalf("expected 32 hex chars, got %q", id)
		}
		if seen[id] {
			t.Fatalf("duplicate outcome id %q", id)
		}
		seen[id] = true
	}
}
