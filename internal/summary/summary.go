// Package summary computes the derived dashboard statistics from the record
// store. Every view is recomputable at any time from store contents: the
// engine holds no state of its own and a view produced mid-ingestion is a
// valid snapshot as of its scans, not a live-updating feed. Callers wanting
// fresher numbers call Summarize again.
package summary

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/medisight/healthdata-platform/internal/record"
	"github.com/medisight/healthdata-platform/internal/store"
	"github.com/medisight/healthdata-platform/pkg/metrics"
)

// ageBuckets and their upper bounds (inclusive), oldest bucket open-ended.
var ageBuckets = []struct {
	label string
	max   int
}{
	{"0-18", 18},
	{"19-35", 35},
	{"36-50", 50},
	{"51-65", 65},
	{"65+", int(^uint(0) >> 1)},
}

const topDiseases = 5

// Totals are the headline dashboard counters.
type Totals struct {
	TotalPatients      int64 `json:"totalPatients"`
	TotalVisits        int64 `json:"totalVisits"`
	TotalPrescriptions int64 `json:"totalPrescriptions"`
	ActiveCases        int64 `json:"activeCases"`
}

type AgeBucket struct {
	AgeGroup string `json:"ageGroup"`
	Count    int64  `json:"count"`
}

type MonthCount struct {
	Month  string `json:"month"`
	Visits int64  `json:"visits"`
}

type DiseaseCount struct {
	Disease string `json:"disease"`
	Count   int64  `json:"count"`
}

type GenderCount struct {
	Gender string `json:"gender"`
	Value  int64  `json:"value"`
}

// CategoryBreakdown joins prescriptions to their patient's age group: one
// entry per drug category with the per-age-group split.
type CategoryBreakdown struct {
	Category   string           `json:"category"`
	Count      int64            `json:"count"`
	ByAgeGroup map[string]int64 `json:"byAgeGroup"`
}

// View is the full dashboard payload.
type View struct {
	Summary             Totals              `json:"summary"`
	AgeDistribution     []AgeBucket         `json:"ageDistribution"`
	VisitTrends         []MonthCount        `json:"visitTrends"`
	DiseaseDistribution []DiseaseCount      `json:"diseaseDistribution"`
	GenderDistribution  []GenderCount       `json:"genderDistribution"`
	DrugCategories      []CategoryBreakdown `json:"drugCategoryDistribution"`
	GeneratedAt         time.Time           `json:"generatedAt"`
}

// Options narrow a view to a time range. Zero values mean unbounded. The
// range applies to visit dates and prescribed dates; patients are always
// included in their distributions.
type Options struct {
	From time.Time
	To   time.Time
}

func (o Options) contains(t time.Time) bool {
	if !o.From.IsZero() && t.Before(o.From) {
		return false
	}
	if !o.To.IsZero() && t.After(o.To) {
		return false
	}
	return true
}

// Engine computes views by scanning the store.
type Engine struct {
	store        store.Store
	activeWindow time.Duration
	metrics      *metrics.Metrics
	logger       *slog.Logger
}

// NewEngine creates an Engine. activeWindow controls the "active cases"
// counter: visits whose date falls inside the trailing window count as
// active. m may be nil.
func NewEngine(s store.Store, activeWindow time.Duration, m *metrics.Metrics) *Engine {
	if activeWindow <= 0 {
		activeWindow = 30 * 24 * time.Hour
	}
	return &Engine{
		store:        s,
		activeWindow: activeWindow,
		metrics:      m,
		logger:       slog.Default().With("component", "summary-engine"),
	}
}

// Summarize scans the three kinds concurrently and combines the partial
// aggregates into one View. Each kind's scan sees a consistent snapshot;
// rows committed after a scan begins may or may not appear, which is the
// documented eventual-consistency contract.
func (e *Engine) Summarize(ctx context.Context, opts Options) (*View, error) {
	start := time.Now()

	var (
		pats  patientAgg
		viss  visitAgg
		press prescriptionAgg
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.scanPatients(gctx, &pats) })
	g.Go(func() error { return e.scanVisits(gctx, opts, &viss) })
	g.Go(func() error { return e.scanPrescriptions(gctx, opts, &press) })
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("aggregating records: %w", err)
	}

	view := &View{
		Summary: Totals{
			TotalPatients:      pats.total,
			TotalVisits:        viss.total,
			TotalPrescriptions: press.total,
			ActiveCases:        viss.active,
		},
		AgeDistribution:     pats.ageDistribution(),
		VisitTrends:         viss.trends(),
		DiseaseDistribution: viss.topDiseases(),
		GenderDistribution:  pats.genderDistribution(),
		DrugCategories:      press.categories(pats.ageGroupByID),
		GeneratedAt:         time.Now().UTC(),
	}

	if e.metrics != nil {
		e.metrics.SummaryDuration.Observe(time.Since(start).Seconds())
	}
	e.logger.Debug("summary computed",
		"patients", view.Summary.TotalPatients,
		"visits", view.Summary.TotalVisits,
		"prescriptions", view.Summary.TotalPrescriptions,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return view, nil
}

type patientAgg struct {
	total        int64
	byAgeGroup   map[string]int64
	byGender     map[string]int64
	ageGroupByID map[string]string
}

func (e *Engine) scanPatients(ctx context.Context, agg *patientAgg) error {
	agg.byAgeGroup = make(map[string]int64)
	agg.byGender = make(map[string]int64)
	agg.ageGroupByID = make(map[string]string)
	return e.store.Scan(ctx, record.KindPatient, func(ent record.Entity) error {
		p, ok := ent.(*record.Patient)
		if !ok {
			return fmt.Errorf("unexpected entity type %T in patients scan", ent)
		}
		agg.total++
		group := ageGroup(p.Age)
		agg.byAgeGroup[group]++
		agg.byGender[p.Gender]++
		agg.ageGroupByID[p.PatientID] = group
		return nil
	})
}

func (agg *patientAgg) ageDistribution() []AgeBucket {
	out := make([]AgeBucket, 0, len(ageBuckets))
	for _, b := range ageBuckets {
		out = append(out, AgeBucket{AgeGroup: b.label, Count: agg.byAgeGroup[b.label]})
	}
	return out
}

func (agg *patientAgg) genderDistribution() []GenderCount {
	out := make([]GenderCount, 0, len(record.Genders))
	for _, g := range record.Genders {
		out = append(out, GenderCount{Gender: g, Value: agg.byGender[g]})
	}
	return out
}

type visitAgg struct {
	total     int64
	active    int64
	byMonth   map[string]int64
	byDisease map[string]int64
}

func (e *Engine) scanVisits(ctx context.Context, opts Options, agg *visitAgg) error {
	agg.byMonth = make(map[string]int64)
	agg.byDisease = make(map[string]int64)
	activeSince := time.Now().UTC().Add(-e.activeWindow)
	return e.store.Scan(ctx, record.KindVisit, func(ent record.Entity) error {
		v, ok := ent.(*record.Visit)
		if !ok {
			return fmt.Errorf("unexpected entity type %T in visits scan", ent)
		}
		if !opts.contains(v.VisitDate) {
			return nil
		}
		agg.total++
		agg.byMonth[v.VisitDate.Format("2006-01")]++
		disease := v.DiagnosisDescription
		if disease == "" {
			disease = v.DiagnosisCode
		}
		agg.byDisease[disease]++
		if v.VisitDate.After(activeSince) {
			agg.active++
		}
		return nil
	})
}

func (agg *visitAgg) trends() []MonthCount {
	out := make([]MonthCount, 0, len(agg.byMonth))
	for month, n := range agg.byMonth {
		out = append(out, MonthCount{Month: month, Visits: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Month < out[j].Month })
	return out
}

func (agg *visitAgg) topDiseases() []DiseaseCount {
	out := make([]DiseaseCount, 0, len(agg.byDisease))
	for disease, n := range agg.byDisease {
		out = append(out, DiseaseCount{Disease: disease, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Disease < out[j].Disease
	})
	if len(out) > topDiseases {
		out = out[:topDiseases]
	}
	return out
}

type prescriptionAgg struct {
	total      int64
	byCategory map[string]int64
	pairs      []categoryPatient
}

type categoryPatient struct {
	category  string
	patientID string
}

func (e *Engine) scanPrescriptions(ctx context.Context, opts Options, agg *prescriptionAgg) error {
	agg.byCategory = make(map[string]int64)
	return e.store.Scan(ctx, record.KindPrescription, func(ent record.Entity) error {
		p, ok := ent.(*record.Prescription)
		if !ok {
			return fmt.Errorf("unexpected entity type %T in prescriptions scan", ent)
		}
		if p.PrescribedDate != nil && !opts.contains(*p.PrescribedDate) {
			return nil
		}
		agg.total++
		category := p.DrugCategory
		if category == "" {
			category = "Other"
		}
		agg.byCategory[category]++
		agg.pairs = append(agg.pairs, categoryPatient{category: category, patientID: p.PatientID})
		return nil
	})
}

// categories joins each prescription to its patient's age group. Patients
// missing from the map (deleted between scans, or a ranged view) land in the
// "unknown" bucket rather than skewing a real one.
func (agg *prescriptionAgg) categories(ageGroupByID map[string]string) []CategoryBreakdown {
	byGroup := make(map[string]map[string]int64)
	for _, pair := range agg.pairs {
		group, ok := ageGroupByID[pair.patientID]
		if !ok {
			group = "unknown"
		}
		if byGroup[pair.category] == nil {
			byGroup[pair.category] = make(map[string]int64)
		}
		byGroup[pair.category][group]++
	}

	out := make([]CategoryBreakdown, 0, len(agg.byCategory))
	for _, category := range record.DrugCategories {
		n, ok := agg.byCategory[category]
		if !ok {
			continue
		}
		out = append(out, CategoryBreakdown{
			Category:   category,
			Count:      n,
			ByAgeGroup: byGroup[category],
		})
	}
	return out
}

func ageGroup(age int) string {
	for _, b := range ageBuckets {
		if age <= b.max {
			return b.label
		}
	}
	return ageBuckets[len(ageBuckets)-1].label
}
