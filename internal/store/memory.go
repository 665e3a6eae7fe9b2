package store

import (
	"context"
	"sync"

	"github.com/medisight/healthdata-platform/internal/record"
	apperrors "github.com/medisight/healthdata-platform/pkg/errors"
)

// Memory is an in-process Store. A single RWMutex guards the maps; Scan
// copies the kind's records under a read lock and iterates outside it, so a
// slow scan callback never holds up writers. Dependency counts are kept as
// secondary indexes so Delete's dependent check is O(1).
type Memory struct {
	mu      sync.RWMutex
	records map[record.Kind]map[string]record.Entity
	byPat   map[string]int // visits + prescriptions referencing a patient
	byVisit map[string]int // prescriptions referencing a visit
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	records := make(map[record.Kind]map[string]record.Entity, len(record.Kinds))
	for _, k := range record.Kinds {
		records[k] = make(map[string]record.Entity)
	}
	return &Memory{
		records: records,
		byPat:   make(map[string]int),
		byVisit: make(map[string]int),
	}
}

func (m *Memory) Put(ctx context.Context, e record.Entity) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	kind := e.Kind()
	if _, exists := m.records[kind][e.ID()]; exists {
		return apperrors.Newf(apperrors.ErrConflict, 409, "%s %q already exists", kind, e.ID())
	}
	m.records[kind][e.ID()] = e

	switch r := e.(type) {
	case *record.Visit:
		m.byPat[r.PatientID]++
	case *record.Prescription:
		m.byPat[r.PatientID]++
		m.byVisit[r.VisitID]++
	}
	return nil
}

func (m *Memory) Get(ctx context.Context, kind record.Kind, id string) (record.Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.records[kind][id]
	if !ok {
		return nil, apperrors.Newf(apperrors.ErrNotFound, 404, "%s %q not found", kind, id)
	}
	return e, nil
}

func (m *Memory) Delete(ctx context.Context, kind record.Kind, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.records[kind][id]
	if !ok {
		return apperrors.Newf(apperrors.ErrNotFound, 404, "%s %q not found", kind, id)
	}

	switch r := e.(type) {
	case *record.Patient:
		if m.byPat[r.PatientID] > 0 {
			return apperrors.Newf(apperrors.ErrHasDependents, 409,
				"patient %q has dependent visits or prescriptions", id)
		}
	case *record.Visit:
		if m.byVisit[r.VisitID] > 0 {
			return apperrors.Newf(apperrors.ErrHasDependents, 409,
				"visit %q has dependent prescriptions", id)
		}
		m.byPat[r.PatientID]--
	case *record.Prescription:
		m.byPat[r.PatientID]--
		m.byVisit[r.VisitID]--
	}

	delete(m.records[kind], id)
	return nil
}

func (m *Memory) Scan(ctx context.Context, kind record.Kind, fn func(record.Entity) error) error {
	m.mu.RLock()
	snapshot := make([]record.Entity, 0, len(m.records[kind]))
	for _, e := range m.records[kind] {
		snapshot = append(snapshot, e)
	}
	m.mu.RUnlock()

	for _, e := range snapshot {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) Count(ctx context.Context, kind record.Kind) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.records[kind])), nil
}

func (m *Memory) Ping(ctx context.Context) error { return nil }
