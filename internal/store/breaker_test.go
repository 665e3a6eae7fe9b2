package store

import (
	"context"
	"errors"
	"testing"

	"github.com/medisight/healthdata-platform/internal/record"
	apperrors "github.com/medisight/healthdata-platform/pkg/errors"
	"github.com/medisight/healthdata-platform/pkg/resilience"
)

// failingStore wraps Memory and fails Put with ErrStoreUnavailable once
// tripped.
type failingStore struct {
	*Memory
	failing bool
}

func (f *failingStore) Put(ctx context.Context, e record.Entity) error {
	if f.failing {
		return apperrors.ErrStoreUnavailable
	}
	return f.Memory.Put(ctx, e)
}

func newTestBreaker(inner Store, threshold int) *Breaker {
	cb := resilience.NewCircuitBreaker("test-store", resilience.CircuitBreakerConfig{
		FailureThreshold: threshold,
	})
	return WithBreaker(inner, cb)
}

func TestBreakerPassesThroughRowLocalErrors(t *testing.T) {
	b := newTestBreaker(NewMemory(), 2)
	ctx := context.Background()

	mustPut(t, b, newPatient("P001"))

	// Conflicts and not-founds are row outcomes, not backend failures; they
	// must never trip the circuit.
	for i := 0; i < 10; i++ {
		if err := b.Put(ctx, newPatient("P001")); !errors.Is(err, apperrors.ErrConflict) {
			t.Fatalf("expected ErrConflict, got %v", err)
		}
		if _, err := b.Get(ctx, record.KindPatient, "P999"); !errors.Is(err, apperrors.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	}

	if err := b.Put(ctx, newPatient("P002")); err != nil {
		t.Errorf("circuit should still be closed: %v", err)
	}
}

func TestBreakerTripsOnUnavailability(t *testing.T) {
	inner := &failingStore{Memory: NewMemory(), failing: true}
	b := newTestBreaker(inner, 2)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := b.Put(ctx, newPatient("P001")); !errors.Is(err, apperrors.ErrStoreUnavailable) {
			t.Fatalf("expected ErrStoreUnavailable, got %v", err)
		}
	}

	// Threshold reached: the circuit is open and calls fail fast, still
	// surfacing store unavailability to the caller.
	err := b.Put(ctx, newPatient("P001"))
	if !errors.Is(err, apperrors.ErrStoreUnavailable) {
		t.Errorf("expected ErrStoreUnavailable from open circuit, got %v", err)
	}

	// Reads short-circuit too while the backend is considered down.
	inner.failing = false
	if _, err := b.Get(ctx, record.KindPatient, "P001"); !errors.Is(err, apperrors.ErrStoreUnavailable) {
		t.Errorf("expected fast failure while open, got %v", err)
	}
}
