package validate

import (
	"errors"
	"testing"
	"time"

	"github.com/medisight/healthdata-platform/internal/record"
	apperrors "github.com/medisight/healthdata-platform/pkg/errors"
)

func validPatientRow() RawRow {
	return RawRow{
		"patient_id": "P001",
		"age":        "34",
		"gender":     "Female",
		"location":   "Springfield",
	}
}

func TestPatientRowValid(t *testing.T) {
	row := validPatientRow()
	row["bmi"] = "27.5"
	row["smoker_status"] = "Former"
	row["registration_date"] = "2024-06-15"

	e, err := Row(record.KindPatient, row)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p, ok := e.(*record.Patient)
	if !ok {
		t.Fatalf("expected *record.Patient, got %T", e)
	}
	if p.PatientID != "P001" || p.Age != 34 || p.Gender != "Female" {
		t.Errorf("fields not assigned: %+v", p)
	}
	if p.BMI == nil || *p.BMI != 27.5 {
		t.Errorf("expected bmi 27.5, got %v", p.BMI)
	}
	if p.RegistrationDate == nil || !p.RegistrationDate.Equal(time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("expected registration date 2024-06-15, got %v", p.RegistrationDate)
	}
}

func TestPatientRowErrors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(RawRow)
		field   string
		message string
	}{
		{
			name:    "non-numeric age",
			mutate:  func(r RawRow) { r["age"] = "abc" },
			field:   "age",
			message: "not numeric",
		},
		{
			name:    "age out of bounds",
			mutate:  func(r RawRow) { r["age"] = "151" },
			field:   "age",
			message: "must be between 0 and 150",
		},
		{
			name:    "missing required field",
			mutate:  func(r RawRow) { delete(r, "gender") },
			field:   "gender",
			message: "required field is missing",
		},
		{
			name:    "unknown enum value",
			mutate:  func(r RawRow) { r["gender"] = "Unknown" },
			field:   "gender",
			message: "must be one of Male, Female, Other",
		},
		{
			name:    "bad optional date",
			mutate:  func(r RawRow) { r["registration_date"] = "15/06/2024" },
			field:   "registration_date",
			message: "not a valid date",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			row := validPatientRow()
			tt.mutate(row)

			_, err := Row(record.KindPatient, row)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !errors.Is(err, apperrors.ErrValidation) {
				t.Errorf("expected ErrValidation, got %v", err)
			}
			var errs Errors
			if !errors.As(err, &errs) {
				t.Fatalf("expected validate.Errors, got %T", err)
			}
			if len(errs) != 1 {
				t.Fatalf("expected 1 field error, got %d: %v", len(errs), errs)
			}
			if errs[0].Field != tt.field || errs[0].Message != tt.message {
				t.Errorf("expected %s: %s, got %s: %s", tt.field, tt.message, errs[0].Field, errs[0].Message)
			}
		})
	}
}

func TestRowErrorsAccumulate(t *testing.T) {
	_, err := Row(record.KindPatient, RawRow{"age": "abc"})
	if err == nil {
		t.Fatal("expected validation error")
	}
	var errs Errors
	if !errors.As(err, &errs) {
		t.Fatalf("expected validate.Errors, got %T", err)
	}
	// patient_id, age, gender, location all fail; order follows the rule
	// table so the message text is deterministic.
	if len(errs) != 4 {
		t.Fatalf("expected 4 field errors, got %d: %v", len(errs), errs)
	}
	want := "patient_id: required field is missing; age: not numeric; " +
		"gender: required field is missing; location: required field is missing"
	if errs.Error() != want {
		t.Errorf("unexpected message:\n got %q\nwant %q", errs.Error(), want)
	}
}

func TestVisitRow(t *testing.T) {
	row := RawRow{
		"visit_id":                  "V001",
		"patient_id":                "P001",
		"visit_date":                "2024-03-02",
		"diagnosis_code":            "J45",
		"severity_score":            "7",
		"readmitted_within_30_days": "Yes",
	}
	e, err := Row(record.KindVisit, row)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v := e.(*record.Visit)
	if v.SeverityScore == nil || *v.SeverityScore != 7 {
		t.Errorf("expected severity 7, got %v", v.SeverityScore)
	}
	if v.Readmitted30Days == nil || !*v.Readmitted30Days {
		t.Errorf("expected readmitted=true, got %v", v.Readmitted30Days)
	}

	row["severity_score"] = "11"
	if _, err := Row(record.KindVisit, row); err == nil {
		t.Error("expected severity bound error")
	}
	row["severity_score"] = "7"
	row["readmitted_within_30_days"] = "maybe"
	_, err = Row(record.KindVisit, row)
	var errs Errors
	if !errors.As(err, &errs) || errs[0].Message != "must be Yes or No" {
		t.Errorf("expected yes/no error, got %v", err)
	}
}

func TestPrescriptionRow(t *testing.T) {
	row := RawRow{
		"prescription_id": "RX001",
		"visit_id":        "V001",
		"patient_id":      "P001",
		"drug_name":       "Amoxicillin",
		"drug_category":   "Antibiotic",
		"refill_count":    "2",
	}
	e, err := Row(record.KindPrescription, row)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p := e.(*record.Prescription)
	if p.DrugCategory != "Antibiotic" {
		t.Errorf("expected Antibiotic, got %q", p.DrugCategory)
	}
	if p.RefillCount == nil || *p.RefillCount != 2 {
		t.Errorf("expected refill count 2, got %v", p.RefillCount)
	}
}

// TestRowIdempotent verifies that validating the same raw row twice yields
// identical results — validation reads no clock and no store.
func TestRowIdempotent(t *testing.T) {
	row := validPatientRow()
	first, err1 := Row(record.KindPatient, row)
	second, err2 := Row(record.KindPatient, row)
	if err1 != nil || err2 != nil {
		t.Fatalf("unexpected errors: %v, %v", err1, err2)
	}
	p1, p2 := first.(*record.Patient), second.(*record.Patient)
	if *p1 != *p2 {
		t.Errorf("validation not deterministic:\n%+v\n%+v", p1, p2)
	}
}

func TestRowWhitespaceTrimmed(t *testing.T) {
	row := RawRow{
		"patient_id": "  P001  ",
		"age":        " 34 ",
		"gender":     "Female",
		"location":   "Springfield",
	}
	e, err := Row(record.KindPatient, row)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p := e.(*record.Patient)
	if p.PatientID != "P001" || p.Age != 34 {
		t.Errorf("whitespace not trimmed: %+v", p)
	}
}

func TestRowUnknownKind(t *testing.T) {
	_, err := Row(record.Kind("diagnoses"), RawRow{})
	if !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}
