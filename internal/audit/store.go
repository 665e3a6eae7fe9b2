package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/medisight/healthdata-platform/pkg/postgres"
)

// Snapshot is one persisted point-in-time copy of the audit counters.
type Snapshot struct {
	Stats      Stats     `json:"stats"`
	CapturedAt time.Time `json:"captured_at"`
}

// SnapshotStore keeps audit-stats snapshots in the audit_snapshots table
// (JSONB data plus captured_at) so ingestion history survives auditor
// restarts and Kafka topic retention.
type SnapshotStore struct {
	db     *postgres.Client
	logger *slog.Logger
}

func NewSnapshotStore(db *postgres.Client) *SnapshotStore {
	return &SnapshotStore{
		db:     db,
		logger: slog.Default().With("component", "audit-store"),
	}
}

// SaveSnapshot persists the current counters.
func (s *SnapshotStore) SaveSnapshot(ctx context.Context, stats Stats) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("marshaling audit stats: %w", err)
	}
	const q = `INSERT INTO audit_snapshots (data, captured_at) VALUES ($1, $2)`
	if _, err := s.db.DB.ExecContext(ctx, q, data, time.Now().UTC()); err != nil {
		return fmt.Errorf("saving audit snapshot: %w", err)
	}
	s.logger.Info("audit snapshot saved", "kinds", len(stats.ByKind))
	return nil
}

// LatestSnapshot returns the most recent snapshot, or nil, nil when the
// table is empty.
func (s *SnapshotStore) LatestSnapshot(ctx context.Context) (*Snapshot, error) {
	const q = `SELECT data, captured_at FROM audit_snapshots ORDER BY captured_at DESC LIMIT 1`
	var (
		data []byte
		snap Snapshot
	)
	err := s.db.DB.QueryRowContext(ctx, q).Scan(&data, &snap.CapturedAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("querying latest audit snapshot: %w", err)
	}
	if err := json.Unmarshal(data, &snap.Stats); err != nil {
		return nil, fmt.Errorf("unmarshaling audit snapshot: %w", err)
	}
	return &snap, nil
}

// ListSnapshots returns up to limit snapshots, newest first. Rows whose
// payload no longer unmarshals are logged and skipped rather than failing
// the whole listing.
func (s *SnapshotStore) ListSnapshots(ctx context.Context, limit int) ([]Snapshot, error) {
	const q = `SELECT data, captured_at FROM audit_snapshots ORDER BY captured_at DESC LIMIT $1`
	rows, err := s.db.DB.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("listing audit snapshots: %w", err)
	}
	defer rows.Close()

	var out []Snapshot
	for rows.Next() {
		var (
			data []byte
			snap Snapshot
		)
		if err := rows.Scan(&data, &snap.CapturedAt); err != nil {
			return nil, fmt.Errorf("scanning audit snapshot row: %w", err)
		}
		if err := json.Unmarshal(data, &snap.Stats); err != nil {
			s.logger.Warn("skipping corrupt audit snapshot", "captured_at", snap.CapturedAt, "error", err)
			continue
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

// StartPeriodicSave snapshots the aggregator on a fixed interval in a
// background goroutine and takes a final snapshot when ctx is cancelled.
func (s *SnapshotStore) StartPeriodicSave(ctx context.Context, agg *Aggregator, interval time.Duration) {
	go s.saveLoop(ctx, agg, interval)
	s.logger.Info("periodic audit snapshots started", "interval", interval)
}

func (s *SnapshotStore) saveLoop(ctx context.Context, agg *Aggregator, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := s.SaveSnapshot(ctx, agg.Stats()); err != nil {
				s.logger.Error("periodic audit snapshot failed", "error", err)
			}
		case <-ctx.Done():
			// One last snapshot so a clean shutdown loses nothing.
			saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := s.SaveSnapshot(saveCtx, agg.Stats()); err != nil {
				s.logger.Error("final audit snapshot failed", "error", err)
			}
			cancel()
			return
		}
	}
}
