package summary

import (
	"context"
	"testing"
	"time"

	"github.com/medisight/healthdata-platform/internal/record"
	"github.com/medisight/healthdata-platform/internal/store"
)

func TestCachedServesFreshView(t *testing.T) {
	s := store.NewMemory()
	seedPatient(t, s, "P001", 40, "Male")

	c := NewCached(NewEngine(s, 0, nil), nil, time.Minute, nil)
	ctx := context.Background()

	first, err := c.Summarize(ctx, Options{})
	if err != nil {
		t.Fatalf("summarize failed: %v", err)
	}
	if first.Summary.TotalPatients != 1 {
		t.Fatalf("expected 1 patient, got %d", first.Summary.TotalPatients)
	}

	// Within the TTL the cached view is served, even after new writes.
	seedPatient(t, s, "P002", 50, "Female")
	second, err := c.Summarize(ctx, Options{})
	if err != nil {
		t.Fatalf("summarize failed: %v", err)
	}
	if second.Summary.TotalPatients != 1 {
		t.Errorf("expected cached view with 1 patient, got %d", second.Summary.TotalPatients)
	}
}

func TestCachedExpires(t *testing.T) {
	s := store.NewMemory()
	seedPatient(t, s, "P001", 40, "Male")

	c := NewCached(NewEngine(s, 0, nil), nil, time.Millisecond, nil)
	ctx := context.Background()

	if _, err := c.Summarize(ctx, Options{}); err != nil {
		t.Fatalf("summarize failed: %v", err)
	}
	seedPatient(t, s, "P002", 50, "Female")
	time.Sleep(5 * time.Millisecond)

	view, err := c.Summarize(ctx, Options{})
	if err != nil {
		t.Fatalf("summarize failed: %v", err)
	}
	if view.Summary.TotalPatients != 2 {
		t.Errorf("expected recomputed view with 2 patients, got %d", view.Summary.TotalPatients)
	}
}

func TestCachedInvalidate(t *testing.T) {
	s := store.NewMemory()
	seedPatient(t, s, "P001", 40, "Male")

	c := NewCached(NewEngine(s, 0, nil), nil, time.Minute, nil)
	ctx := context.Background()

	if _, err := c.Summarize(ctx, Options{}); err != nil {
		t.Fatalf("summarize failed: %v", err)
	}
	seedPatient(t, s, "P002", 50, "Female")
	c.Invalidate(ctx)

	view, err := c.Summarize(ctx, Options{})
	if err != nil {
		t.Fatalf("summarize failed: %v", err)
	}
	if view.Summary.TotalPatients != 2 {
		t.Errorf("expected recomputed view after invalidation, got %d", view.Summary.TotalPatients)
	}
}

// TestCachedRangedViewsBypass: bounded views always recompute; caching only
// applies to the default dashboard.
func TestCachedRangedViewsBypass(t *testing.T) {
	s := store.NewMemory()
	seedPatient(t, s, "P001", 40, "Male")
	put(t, s, &record.Visit{
		VisitID: "V001", PatientID: "P001", DiagnosisCode: "X00",
		VisitDate: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
	})

	c := NewCached(NewEngine(s, 0, nil), nil, time.Minute, nil)
	ctx := context.Background()

	if _, err := c.Summarize(ctx, Options{}); err != nil {
		t.Fatalf("summarize failed: %v", err)
	}
	put(t, s, &record.Visit{
		VisitID: "V002", PatientID: "P001", DiagnosisCode: "X00",
		VisitDate: time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC),
	})

	ranged, err := c.Summarize(ctx, Options{From: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)})
	if err != nil {
		t.Fatalf("summarize failed: %v", err)
	}
	if ranged.Summary.TotalVisits != 2 {
		t.Errorf("ranged view must bypass the cache, got %d visits", ranged.Summary.TotalVisits)
	}
}
