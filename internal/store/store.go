// Package store defines the Record Store contract and its two
// implementations: an in-memory store for tests and single-node development,
// and a PostgreSQL store for production. The store is the single authority
// for existence checks — reference resolution always reads latest committed
// state through it.
package store

import (
	"context"

	"github.com/medisight/healthdata-platform/internal/record"
)

// Store is durable keyed storage for the three record kinds.
//
// Put creates a record and returns pkg/errors.ErrConflict when the identifier
// already exists for that kind; it never overwrites. Get returns ErrNotFound
// for absent identifiers. Delete refuses to remove a record that dependent
// records still reference (ErrHasDependents) — there is no cascade. Scan
// visits every record of a kind; each call starts a fresh, finite iteration
// over a consistent snapshot, so long scans do not block writers.
//
// Implementations must provide read-after-write visibility: a Put that has
// returned is visible to every subsequent Get and Scan, including later rows
// of the same ingestion batch. Backend failures are reported as (wrapped)
// ErrStoreUnavailable.
type Store interface {
	Put(ctx context.Context, e record.Entity) error
	Get(ctx context.Context, kind record.Kind, id string) (record.Entity, error)
	Delete(ctx context.Context, kind record.Kind, id string) error
	Scan(ctx context.Context, kind record.Kind, fn func(record.Entity) error) error
	Count(ctx context.Context, kind record.Kind) (int64, error)
	Ping(ctx context.Context) error
}
