// Package audit consumes batch-outcome events from Kafka and maintains
// running ingestion statistics: batches and rows per kind, rejection reasons,
// and early terminations. The numbers are operational telemetry, seeded from
// the last persisted snapshot on restart; the record store stays the only
// source of truth.
package audit

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/medisight/healthdata-platform/internal/ingest"
	"github.com/medisight/healthdata-platform/internal/record"
	"github.com/medisight/healthdata-platform/pkg/kafka"
)

// KindStats aggregates ingestion activity for one entity kind.
type KindStats struct {
	Batches      int64 `json:"batches"`
	RowsTotal    int64 `json:"rows_total"`
	RowsAccepted int64 `json:"rows_accepted"`
	RowsRejected int64 `json:"rows_rejected"`
	Terminated   int64 `json:"terminated_batches"`
}

// ReasonCount is one rejection classification with its occurrence count.
type ReasonCount struct {
	Code  string `json:"code"`
	Count int64  `json:"count"`
}

// Stats is the aggregated audit report.
type Stats struct {
	ByKind           map[record.Kind]KindStats `json:"by_kind"`
	RejectionReasons []ReasonCount             `json:"rejection_reasons"`
	BatchesPerMinute float64                   `json:"batches_per_minute"`
	LastOutcomeAt    time.Time                 `json:"last_outcome_at"`
}

// Aggregator tallies outcome events.
type Aggregator struct {
	mu            sync.RWMutex
	byKind        map[record.Kind]KindStats
	byReason      map[ingest.RejectionCode]int64
	lastOutcomeAt time.Time
	startTime     time.Time

	consumer *kafka.Consumer
	logger   *slog.Logger
}

func NewAggregator() *Aggregator {
	return &Aggregator{
		byKind:    make(map[record.Kind]KindStats),
		byReason:  make(map[ingest.RejectionCode]int64),
		startTime: time.Now(),
		logger:    slog.Default().With("component", "audit-aggregator"),
	}
}

// Attach binds the aggregator to its Kafka consumer. Kept separate from the
// constructor so the consumer can be built around HandleEvent.
func (a *Aggregator) Attach(consumer *kafka.Consumer) {
	a.consumer = consumer
}

// Restore seeds the counters from a persisted snapshot. Call before Start;
// it overwrites, not merges, so restoring twice keeps only the last call.
func (a *Aggregator) Restore(stats Stats) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.byKind = make(map[record.Kind]KindStats, len(stats.ByKind))
	for kind, ks := range stats.ByKind {
		a.byKind[kind] = ks
	}
	a.byReason = make(map[ingest.RejectionCode]int64, len(stats.RejectionReasons))
	for _, rc := range stats.RejectionReasons {
		a.byReason[ingest.RejectionCode(rc.Code)] = rc.Count
	}
	a.lastOutcomeAt = stats.LastOutcomeAt
}

// Start enters the consume loop until ctx is cancelled.
func (a *Aggregator) Start(ctx context.Context) error {
	a.logger.Info("audit aggregator starting")
	return a.consumer.Start(ctx)
}

// HandleEvent returns the kafka message handler feeding the aggregator.
// Undecodable events are logged and skipped — one bad message must not wedge
// the consumer group.
func HandleEvent(agg *Aggregator) kafka.MessageHandler {
	return func(ctx context.Context, key []byte, value []byte) error {
		event, err := kafka.DecodeJSON[ingest.OutcomeEvent](value)
		if err != nil || event.BatchOutcome == nil {
			agg.logger.Error("failed to decode outcome event", "error", err)
			return nil
		}
		agg.record(event.BatchOutcome)
		return nil
	}
}

func (a *Aggregator) record(out *ingest.BatchOutcome) {
	a.mu.Lock()
	defer a.mu.Unlock()

	stats := a.byKind[out.Kind]
	stats.Batches++
	stats.RowsTotal += int64(out.Total)
	stats.RowsAccepted += int64(out.Accepted)
	stats.RowsRejected += int64(out.Rejected)
	if out.Terminated {
		stats.Terminated++
	}
	a.byKind[out.Kind] = stats

	for _, rej := range out.Rejections {
		a.byReason[rej.Code]++
	}
	if out.CompletedAt.After(a.lastOutcomeAt) {
		a.lastOutcomeAt = out.CompletedAt
	}
}

// Stats returns a snapshot of the aggregated counters.
func (a *Aggregator) Stats() Stats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	stats := Stats{
		ByKind:        make(map[record.Kind]KindStats, len(a.byKind)),
		LastOutcomeAt: a.lastOutcomeAt,
	}
	var batches int64
	for kind, ks := range a.byKind {
		stats.ByKind[kind] = ks
		batches += ks.Batches
	}

	stats.RejectionReasons = make([]ReasonCount, 0, len(a.byReason))
	for code, n := range a.byReason {
		stats.RejectionReasons = append(stats.RejectionReasons, ReasonCount{Code: string(code), Count: n})
	}
	sort.Slice(stats.RejectionReasons, func(i, j int) bool {
		if stats.RejectionReasons[i].Count != stats.RejectionReasons[j].Count {
			return stats.RejectionReasons[i].Count > stats.RejectionReasons[j].Count
		}
		return stats.RejectionReasons[i].Code < stats.RejectionReasons[j].Code
	})

	elapsed := time.Since(a.startTime).Minutes()
	if elapsed > 0 {
		stats.BatchesPerMinute = float64(batches) / elapsed
	}
	return stats
}
