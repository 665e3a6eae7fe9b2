// Package record defines the three entity kinds handled by the platform —
// patients, visits, and prescriptions — together with the enumerations their
// categorical fields are validated against. The three kinds form a closed set:
// code that dispatches on Kind can (and should) be exhaustive.
package record

import (
	"fmt"
	"time"
)

// Kind identifies one of the three entity kinds.
type Kind string

const (
	KindPatient      Kind = "patients"
	KindVisit        Kind = "visits"
	KindPrescription Kind = "prescriptions"
)

// Kinds lists every valid Kind in dependency order: patients before visits
// before prescriptions.
var Kinds = []Kind{KindPatient, KindVisit, KindPrescription}

// ParseKind converts a path or form value into a Kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindPatient, KindVisit, KindPrescription:
		return Kind(s), nil
	}
	return "", fmt.Errorf("unknown entity kind %q", s)
}

func (k Kind) String() string { return string(k) }

// Allowed values for categorical fields, taken from the data-entry contract.
var (
	Genders        = []string{"Male", "Female", "Other"}
	SmokerStatuses = []string{"Never", "Former", "Current"}
	AlcoholUses    = []string{"None", "Moderate", "Heavy"}
	ActivityLevels = []string{"Sedentary", "Low", "Moderate", "High"}
	InsuranceTypes = []string{"Private", "Government", "None"}
	DrugCategories = []string{"Antibiotic", "Analgesic", "Antihypertensive", "Antidiabetic", "Other"}
	YesNo          = []string{"Yes", "No"}
)

// Entity is implemented by all three record types. ID returns the
// caller-supplied identifier, which is unique per kind and immutable.
type Entity interface {
	Kind() Kind
	ID() string
}

// Patient is a registered subject. Age is bounded to [0,150]; categorical
// fields hold one of the allowed values above or are empty when optional.
type Patient struct {
	PatientID         string     `json:"patient_id"`
	Age               int        `json:"age"`
	Gender            string     `json:"gender"`
	Location          string     `json:"location"`
	BMI               *float64   `json:"bmi,omitempty"`
	SmokerStatus      string     `json:"smoker_status,omitempty"`
	AlcoholUse        string     `json:"alcohol_use,omitempty"`
	ActivityLevel     string     `json:"physical_activity_level,omitempty"`
	InsuranceType     string     `json:"insurance_type,omitempty"`
	ChronicConditions string     `json:"chronic_conditions,omitempty"`
	RegistrationDate  *time.Time `json:"registration_date,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

func (p *Patient) Kind() Kind { return KindPatient }
func (p *Patient) ID() string { return p.PatientID }

// Visit is a timestamped clinical encounter referencing exactly one patient.
// SeverityScore, when present, is bounded to [0,10].
type Visit struct {
	VisitID              string    `json:"visit_id"`
	PatientID            string    `json:"patient_id"`
	VisitDate            time.Time `json:"visit_date"`
	DiagnosisCode        string    `json:"diagnosis_code"`
	DiagnosisDescription string    `json:"diagnosis_description,omitempty"`
	SeverityScore        *int      `json:"severity_score,omitempty"`
	BloodPressure        string    `json:"blood_pressure,omitempty"`
	GlucoseLevel         *float64  `json:"glucose_level,omitempty"`
	HeartRate            *int      `json:"heart_rate,omitempty"`
	LengthOfStay         *int      `json:"length_of_stay,omitempty"`
	PreviousVisitGapDays *int      `json:"previous_visit_gap_days,omitempty"`
	Readmitted30Days     *bool     `json:"readmitted_within_30_days,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
}

func (v *Visit) Kind() Kind { return KindVisit }
func (v *Visit) ID() string { return v.VisitID }

// Prescription is a dispensed item tied to one visit. It carries both the
// visit reference and the patient reference; the two must agree with the
// stored visit's own patient reference.
type Prescription struct {
	PrescriptionID string     `json:"prescription_id"`
	VisitID        string     `json:"visit_id"`
	PatientID      string     `json:"patient_id"`
	DrugName       string     `json:"drug_name"`
	DrugCategory   string     `json:"drug_category,omitempty"`
	Dosage         string     `json:"dosage,omitempty"`
	Quantity       *int       `json:"quantity,omitempty"`
	DaysSupply     *int       `json:"days_supply,omitempty"`
	PrescribedDate *time.Time `json:"prescribed_date,omitempty"`
	RefillCount    *int       `json:"refill_count,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

func (p *Prescription) Kind() Kind { return KindPrescription }
func (p *Prescription) ID() string { return p.PrescriptionID }
