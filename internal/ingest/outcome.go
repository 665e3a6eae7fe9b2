package ingest

import (
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/medisight/healthdata-platform/internal/record"
)

// RejectionCode classifies why a row was rejected.
type RejectionCode string

const (
	CodeValidation  RejectionCode = "validation"
	CodeReference   RejectionCode = "reference"
	CodeRefMismatch RejectionCode = "reference_mismatch"
	CodeConflict    RejectionCode = "conflict"
	CodeUnavailable RejectionCode = "store_unavailable"
)

// Rejection records one rejected row: its zero-based index in the submitted
// batch, the classification, and a human-readable reason.
type Rejection struct {
	Index  int           `json:"index"`
	Code   RejectionCode `json:"code"`
	Reason string        `json:"reason"`
}

// BatchOutcome is the per-submission report. Accepted+Rejected always equals
// Total — rows skipped after a store failure are reported as rejections with
// CodeUnavailable, never silently dropped. Outcomes are retained only
// transiently for polling; the caller owns retry of rejected rows.
type BatchOutcome struct {
	OutcomeID   string        `json:"outcome_id"`
	Kind        record.Kind   `json:"kind"`
	Total       int           `json:"total"`
	Accepted    int           `json:"accepted"`
	Rejected    int           `json:"rejected"`
	Rejections  []Rejection   `json:"rejections"`
	Terminated  bool          `json:"terminated"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
	Duration    time.Duration `json:"duration_ns"`
}

func newOutcomeID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand does not fail on supported platforms
		panic(err)
	}
	return hex.EncodeToString(b[:])
}
