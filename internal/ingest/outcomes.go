package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	apperrors "github.com/medisight/healthdata-platform/pkg/errors"
	"github.com/medisight/healthdata-platform/pkg/redis"
)

// OutcomeStore retains batch outcomes transiently so callers can poll them
// after an upload. Retention is TTL-bounded; an expired outcome is simply
// gone, since outcomes are never a source of truth.
type OutcomeStore interface {
	Save(ctx context.Context, outcome *BatchOutcome) error
	Get(ctx context.Context, id string) (*BatchOutcome, error)
}

// MemoryOutcomes keeps outcomes in a TTL map. Suitable for a single node;
// expired entries are evicted lazily on read and on every save.
type MemoryOutcomes struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]memoryOutcomeEntry
}

type memoryOutcomeEntry struct {
	outcome   *BatchOutcome
	expiresAt time.Time
}

func NewMemoryOutcomes(ttl time.Duration) *MemoryOutcomes {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &MemoryOutcomes{
		ttl:     ttl,
		entries: make(map[string]memoryOutcomeEntry),
	}
}

func (m *MemoryOutcomes) Save(ctx context.Context, outcome *BatchOutcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for id, e := range m.entries {
		if now.After(e.expiresAt) {
			delete(m.entries, id)
		}
	}
	m.entries[outcome.OutcomeID] = memoryOutcomeEntry{
		outcome:   outcome,
		expiresAt: now.Add(m.ttl),
	}
	return nil
}

func (m *MemoryOutcomes) Get(ctx context.Context, id string) (*BatchOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok || time.Now().After(e.expiresAt) {
		delete(m.entries, id)
		return nil, apperrors.Newf(apperrors.ErrNotFound, 404, "outcome %q not found", id)
	}
	return e.outcome, nil
}

// RedisOutcomes retains outcomes in Redis with a TTL, which makes them
// pollable across gateway replicas.
type RedisOutcomes struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisOutcomes(client *redis.Client, ttl time.Duration) *RedisOutcomes {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &RedisOutcomes{client: client, ttl: ttl}
}

func outcomeKey(id string) string { return "outcome:" + id }

func (r *RedisOutcomes) Save(ctx context.Context, outcome *BatchOutcome) error {
	data, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("marshaling outcome: %w", err)
	}
	if err := r.client.Set(ctx, outcomeKey(outcome.OutcomeID), data, r.ttl); err != nil {
		return fmt.Errorf("storing outcome: %w", err)
	}
	return nil
}

func (r *RedisOutcomes) Get(ctx context.Context, id string) (*BatchOutcome, error) {
	data, err := r.client.Get(ctx, outcomeKey(id))
	if err != nil {
		if redis.IsNilError(err) {
			return nil, apperrors.Newf(apperrors.ErrNotFound, 404, "outcome %q not found", id)
		}
		return nil, fmt.Errorf("reading outcome: %w", err)
	}
	var out BatchOutcome
	if err := json.Unmarshal([]byte(data), &out); err != nil {
		return nil, fmt.Errorf("decoding outcome: %w", err)
	}
	return &out, nil
}
