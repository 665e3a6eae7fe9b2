// Package resolve checks the referential constraints between the record
// kinds against the store's latest committed state: a visit must reference an
// existing patient, and a prescription must reference an existing visit whose
// patient matches the prescription's own patient reference. "Referenced
// record missing" and "references disagree" are distinct error kinds — the
// first is usually an upload-ordering problem the caller can fix by
// submitting the referenced file first, the second indicates corrupt input.
package resolve

import (
	"context"
	"errors"
	"fmt"

	"github.com/medisight/healthdata-platform/internal/record"
	"github.com/medisight/healthdata-platform/internal/store"
	apperrors "github.com/medisight/healthdata-platform/pkg/errors"
)

// Resolver validates cross-kind references. It holds no state beyond the
// store handle and is safe for concurrent use.
type Resolver struct {
	store store.Store
}

func New(s store.Store) *Resolver {
	return &Resolver{store: s}
}

// Check verifies every reference the entity declares. Patients declare none.
// The store is consulted at call time, so rows committed earlier in the same
// batch are visible.
func (r *Resolver) Check(ctx context.Context, e record.Entity) error {
	switch rec := e.(type) {
	case *record.Patient:
		return nil
	case *record.Visit:
		return r.checkVisit(ctx, rec)
	case *record.Prescription:
		return r.checkPrescription(ctx, rec)
	default:
		return apperrors.Newf(apperrors.ErrInvalidInput, 400, "unsupported entity type %T", e)
	}
}

func (r *Resolver) checkVisit(ctx context.Context, v *record.Visit) error {
	if _, err := r.store.Get(ctx, record.KindPatient, v.PatientID); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return apperrors.Newf(apperrors.ErrUnknownReference, 422,
				"unknown patient reference %q", v.PatientID)
		}
		return fmt.Errorf("resolving patient %q: %w", v.PatientID, err)
	}
	return nil
}

func (r *Resolver) checkPrescription(ctx context.Context, p *record.Prescription) error {
	e, err := r.store.Get(ctx, record.KindVisit, p.VisitID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return apperrors.Newf(apperrors.ErrUnknownReference, 422,
				"unknown visit reference %q", p.VisitID)
		}
		return fmt.Errorf("resolving visit %q: %w", p.VisitID, err)
	}
	visit, ok := e.(*record.Visit)
	if !ok {
		return apperrors.Newf(apperrors.ErrInternal, 500, "visit %q has unexpected type %T", p.VisitID, e)
	}
	// Two-hop consistency: the visit's stored patient must equal the
	// prescription's declared patient.
	if visit.PatientID != p.PatientID {
		return apperrors.Newf(apperrors.ErrRefMismatch, 422,
			"visit %q belongs to patient %q, not %q", p.VisitID, visit.PatientID, p.PatientID)
	}
	if _, err := r.store.Get(ctx, record.KindPatient, p.PatientID); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return apperrors.Newf(apperrors.ErrUnknownReference, 422,
				"unknown patient reference %q", p.PatientID)
		}
		return fmt.Errorf("resolving patient %q: %w", p.PatientID, err)
	}
	return nil
}
