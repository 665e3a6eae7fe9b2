package resolve

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/medisight/healthdata-platform/internal/record"
	"github.com/medisight/healthdata-platform/internal/store"
	apperrors "github.com/medisight/healthdata-platform/pkg/errors"
)

func seedStore(t *testing.T) *store.Memory {
	t.Helper()
	m := store.NewMemory()
	ctx := context.Background()
	patient := &record.Patient{PatientID: "P001", Age: 50, Gender: "Male", Location: "Springfield"}
	visit := &record.Visit{VisitID: "V001", PatientID: "P001", VisitDate: time.Now(), DiagnosisCode: "E11"}
	if err := m.Put(ctx, patient); err != nil {
		t.Fatalf("seeding patient: %v", err)
	}
	if err := m.Put(ctx, visit); err != nil {
		t.Fatalf("seeding visit: %v", err)
	}
	return m
}

func TestCheckPatientHasNoReferences(t *testing.T) {
	r := New(store.NewMemory())
	err := r.Check(context.Background(), &record.Patient{PatientID: "P001"})
	if err != nil {
		t.Errorf("patients declare no references, got %v", err)
	}
}

func TestCheckVisit(t *testing.T) {
	r := New(seedStore(t))
	ctx := context.Background()

	ok := &record.Visit{VisitID: "V002", PatientID: "P001"}
	if err := r.Check(ctx, ok); err != nil {
		t.Errorf("expected valid reference, got %v", err)
	}

	missing := &record.Visit{VisitID: "V003", PatientID: "P999"}
	err := r.Check(ctx, missing)
	if !errors.Is(err, apperrors.ErrUnknownReference) {
		t.Errorf("expected ErrUnknownReference, got %v", err)
	}
}

func TestCheckPrescription(t *testing.T) {
	r := New(seedStore(t))
	ctx := context.Background()

	tests := []struct {
		name     string
		rx       *record.Prescription
		sentinel error
	}{
		{
			name: "valid two-hop reference",
			rx:   &record.Prescription{PrescriptionID: "RX1", VisitID: "V001", PatientID: "P001", DrugName: "Metformin"},
		},
		{
			name:     "unknown visit",
			rx:       &record.Prescription{PrescriptionID: "RX2", VisitID: "V999", PatientID: "P001", DrugName: "Metformin"},
			sentinel: apperrors.ErrUnknownReference,
		},
		{
			name:     "visit belongs to another patient",
			rx:       &record.Prescription{PrescriptionID: "RX3", VisitID: "V001", PatientID: "P999", DrugName: "Metformin"},
			sentinel: apperrors.ErrRefMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.Check(ctx, tt.rx)
			if tt.sentinel == nil {
				if err != nil {
					t.Errorf("expected success, got %v", err)
				}
				return
			}
			if !errors.Is(err, tt.sentinel) {
				t.Errorf("expected %v, got %v", tt.sentinel, err)
			}
		})
	}
}

// TestCheckMismatchBeforeMissingPatient: when the visit disagrees with the
// declared patient, mismatch wins even if the declared patient also does not
// exist — corrupt input should be reported as corrupt, not as out-of-order.
func TestCheckMismatchBeforeMissingPatient(t *testing.T) {
	r := New(seedStore(t))
	rx := &record.Prescription{PrescriptionID: "RX4", VisitID: "V001", PatientID: "P404", DrugName: "Metformin"}
	err := r.Check(context.Background(), rx)
	if !errors.Is(err, apperrors.ErrRefMismatch) {
		t.Errorf("expected ErrRefMismatch, got %v", err)
	}
}
