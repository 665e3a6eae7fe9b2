// Package validate implements per-row schema validation for the three record
// kinds. Each kind has a table of field rules covering required-ness, type
// coercion, inclusive numeric bounds, and enumeration membership. Coercion
// fails closed: a malformed number or date is a field error, never a zeroed
// value. Validation is pure — no clock, no store, safe to call concurrently.
package validate

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/medisight/healthdata-platform/internal/record"
	apperrors "github.com/medisight/healthdata-platform/pkg/errors"
)

// RawRow is one unparsed submission row: CSV cells or stringified JSON
// scalars keyed by column name.
type RawRow map[string]string

// FieldError describes a single failed field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Errors is the ordered list of field errors for one row. Order follows the
// rule table, so messages are deterministic for a given row.
type Errors []FieldError

func (e Errors) Error() string {
	parts := make([]string, 0, len(e))
	for _, fe := range e {
		parts = append(parts, fmt.Sprintf("%s: %s", fe.Field, fe.Message))
	}
	return strings.Join(parts, "; ")
}

// Unwrap lets callers classify the whole list with errors.Is.
func (e Errors) Unwrap() error { return apperrors.ErrValidation }

type coerce int

const (
	text coerce = iota
	integer
	decimal
	date
	enum
	yesNo
)

// value holds the coerced form of one field. Exactly one of the typed
// members is meaningful, as selected by the rule's coerce kind.
type value struct {
	s string
	i int
	f float64
	t time.Time
	b bool
}

type rule[T any] struct {
	field    string
	required bool
	kind     coerce
	min, max float64
	bounded  bool
	allowed  []string
	assign   func(dst T, v value)
}

var patientRules = []rule[*record.Patient]{
	{field: "patient_id", required: true, kind: text,
		assign: func(p *record.Patient, v value) { p.PatientID = v.s }},
	{field: "age", required: true, kind: integer, min: 0, max: 150, bounded: true,
		assign: func(p *record.Patient, v value) { p.Age = v.i }},
	{field: "gender", required: true, kind: enum, allowed: record.Genders,
		assign: func(p *record.Patient, v value) { p.Gender = v.s }},
	{field: "location", required: true, kind: text,
		assign: func(p *record.Patient, v value) { p.Location = v.s }},
	{field: "bmi", kind: decimal, min: 5, max: 100, bounded: true,
		assign: func(p *record.Patient, v value) { f := v.f; p.BMI = &f }},
	{field: "smoker_status", kind: enum, allowed: record.SmokerStatuses,
		assign: func(p *record.Patient, v value) { p.SmokerStatus = v.s }},
	{field: "alcohol_use", kind: enum, allowed: record.AlcoholUses,
		assign: func(p *record.Patient, v value) { p.AlcoholUse = v.s }},
	{field: "physical_activity_level", kind: enum, allowed: record.ActivityLevels,
		assign: func(p *record.Patient, v value) { p.ActivityLevel = v.s }},
	{field: "insurance_type", kind: enum, allowed: record.InsuranceTypes,
		assign: func(p *record.Patient, v value) { p.InsuranceType = v.s }},
	{field: "chronic_conditions", kind: text,
		assign: func(p *record.Patient, v value) { p.ChronicConditions = v.s }},
	{field: "registration_date", kind: date,
		assign: func(p *record.Patient, v value) { t := v.t; p.RegistrationDate = &t }},
}

var visitRules = []rule[*record.Visit]{
	{field: "visit_id", required: true, kind: text,
		assign: func(vi *record.Visit, v value) { vi.VisitID = v.s }},
	{field: "patient_id", required: true, kind: text,
		assign: func(vi *record.Visit, v value) { vi.PatientID = v.s }},
	{field: "visit_date", required: true, kind: date,
		assign: func(vi *record.Visit, v value) { vi.VisitDate = v.t }},
	{field: "diagnosis_code", required: true, kind: text,
		assign: func(vi *record.Visit, v value) { vi.DiagnosisCode = v.s }},
	{field: "diagnosis_description", kind: text,
		assign: func(vi *record.Visit, v value) { vi.DiagnosisDescription = v.s }},
	{field: "severity_score", kind: integer, min: 0, max: 10, bounded: true,
		assign: func(vi *record.Visit, v value) { n := v.i; vi.SeverityScore = &n }},
	{field: "blood_pressure", kind: text,
		assign: func(vi *record.Visit, v value) { vi.BloodPressure = v.s }},
	{field: "glucose_level", kind: decimal, min: 0, max: 1000, bounded: true,
		assign: func(vi *record.Visit, v value) { f := v.f; vi.GlucoseLevel = &f }},
	{field: "heart_rate", kind: integer, min: 0, max: 400, bounded: true,
		assign: func(vi *record.Visit, v value) { n := v.i; vi.HeartRate = &n }},
	{field: "length_of_stay", kind: integer, min: 0, max: 3650, bounded: true,
		assign: func(vi *record.Visit, v value) { n := v.i; vi.LengthOfStay = &n }},
	{field: "previous_visit_gap_days", kind: integer, min: 0, max: 36500, bounded: true,
		assign: func(vi *record.Visit, v value) { n := v.i; vi.PreviousVisitGapDays = &n }},
	{field: "readmitted_within_30_days", kind: yesNo,
		assign: func(vi *record.Visit, v value) { b := v.b; vi.Readmitted30Days = &b }},
}

var prescriptionRules = []rule[*record.Prescription]{
	{field: "prescription_id", required: true, kind: text,
		assign: func(p *record.Prescription, v value) { p.PrescriptionID = v.s }},
	{field: "visit_id", required: true, kind: text,
		assign: func(p *record.Prescription, v value) { p.VisitID = v.s }},
	{field: "patient_id", required: true, kind: text,
		assign: func(p *record.Prescription, v value) { p.PatientID = v.s }},
	{field: "drug_name", required: true, kind: text,
		assign: func(p *record.Prescription, v value) { p.DrugName = v.s }},
	{field: "drug_category", kind: enum, allowed: record.DrugCategories,
		assign: func(p *record.Prescription, v value) { p.DrugCategory = v.s }},
	{field: "dosage", kind: text,
		assign: func(p *record.Prescription, v value) { p.Dosage = v.s }},
	{field: "quantity", kind: integer, min: 0, max: 10000, bounded: true,
		assign: func(p *record.Prescription, v value) { n := v.i; p.Quantity = &n }},
	{field: "days_supply", kind: integer, min: 0, max: 3650, bounded: true,
		assign: func(p *record.Prescription, v value) { n := v.i; p.DaysSupply = &n }},
	{field: "prescribed_date", kind: date,
		assign: func(p *record.Prescription, v value) { t := v.t; p.PrescribedDate = &t }},
	{field: "refill_count", kind: integer, min: 0, max: 100, bounded: true,
		assign: func(p *record.Prescription, v value) { n := v.i; p.RefillCount = &n }},
}

// Row validates and normalizes one raw row of the given kind. On success it
// returns the fully-typed entity; downstream stages never re-parse raw text.
// On failure it returns the ordered field errors.
func Row(kind record.Kind, row RawRow) (record.Entity, error) {
	switch kind {
	case record.KindPatient:
		p := &record.Patient{}
		if errs := apply(patientRules, row, p); len(errs) > 0 {
			return nil, errs
		}
		return p, nil
	case record.KindVisit:
		v := &record.Visit{}
		if errs := apply(visitRules, row, v); len(errs) > 0 {
			return nil, errs
		}
		return v, nil
	case record.KindPrescription:
		p := &record.Prescription{}
		if errs := apply(prescriptionRules, row, p); len(errs) > 0 {
			return nil, errs
		}
		return p, nil
	default:
		return nil, apperrors.Newf(apperrors.ErrInvalidInput, 400, "unknown entity kind %q", kind)
	}
}

func apply[T any](rules []rule[T], row RawRow, dst T) Errors {
	var errs Errors
	for _, r := range rules {
		raw := strings.TrimSpace(row[r.field])
		if raw == "" {
			if r.required {
				errs = append(errs, FieldError{r.field, "required field is missing"})
			}
			continue
		}
		v, msg := coerceField(r, raw)
		if msg != "" {
			errs = append(errs, FieldError{r.field, msg})
			continue
		}
		r.assign(dst, v)
	}
	return errs
}

// dateLayouts are the accepted date formats, tried in order.
var dateLayouts = []string{"2006-01-02", time.RFC3339}

func coerceField[T any](r rule[T], raw string) (value, string) {
	switch r.kind {
	case text:
		return value{s: raw}, ""
	case integer:
		n, err := strconv.Atoi(raw)
		if err != nil {
			return value{}, "not numeric"
		}
		if r.bounded && (float64(n) < r.min || float64(n) > r.max) {
			return value{}, fmt.Sprintf("must be between %s and %s", formatBound(r.min), formatBound(r.max))
		}
		return value{i: n}, ""
	case decimal:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return value{}, "not numeric"
		}
		if r.bounded && (f < r.min || f > r.max) {
			return value{}, fmt.Sprintf("must be between %s and %s", formatBound(r.min), formatBound(r.max))
		}
		return value{f: f}, ""
	case date:
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, raw); err == nil {
				return value{t: t.UTC()}, ""
			}
		}
		return value{}, "not a valid date"
	case enum:
		for _, allowed := range r.allowed {
			if raw == allowed {
				return value{s: raw}, ""
			}
		}
		return value{}, fmt.Sprintf("must be one of %s", strings.Join(r.allowed, ", "))
	case yesNo:
		switch raw {
		case "Yes":
			return value{b: true}, ""
		case "No":
			return value{b: false}, ""
		}
		return value{}, "must be Yes or No"
	}
	return value{}, "unsupported field rule"
}

func formatBound(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
