package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/medisight/healthdata-platform/internal/record"
	apperrors "github.com/medisight/healthdata-platform/pkg/errors"
	"github.com/medisight/healthdata-platform/pkg/resilience"
)

// Breaker wraps a Store with a circuit breaker so a dead backend fails fast
// instead of stalling every row of every in-flight batch. Only backend
// unavailability trips the breaker; row-local outcomes (conflict, not-found,
// dependents) pass through and count as successes.
type Breaker struct {
	inner Store
	cb    *resilience.CircuitBreaker
}

// WithBreaker guards every operation of inner with cb.
func WithBreaker(inner Store, cb *resilience.CircuitBreaker) *Breaker {
	return &Breaker{inner: inner, cb: cb}
}

func (b *Breaker) do(op func() error) error {
	var opErr error
	err := b.cb.Execute(func() error {
		opErr = op()
		if errors.Is(opErr, apperrors.ErrStoreUnavailable) {
			return opErr
		}
		return nil
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return fmt.Errorf("%w: %v", apperrors.ErrStoreUnavailable, err)
	}
	return opErr
}

func (b *Breaker) Put(ctx context.Context, e record.Entity) error {
	return b.do(func() error { return b.inner.Put(ctx, e) })
}

func (b *Breaker) Get(ctx context.Context, kind record.Kind, id string) (record.Entity, error) {
	var e record.Entity
	err := b.do(func() error {
		var opErr error
		e, opErr = b.inner.Get(ctx, kind, id)
		return opErr
	})
	return e, err
}

func (b *Breaker) Delete(ctx context.Context, kind record.Kind, id string) error {
	return b.do(func() error { return b.inner.Delete(ctx, kind, id) })
}

func (b *Breaker) Scan(ctx context.Context, kind record.Kind, fn func(record.Entity) error) error {
	return b.do(func() error { return b.inner.Scan(ctx, kind, fn) })
}

func (b *Breaker) Count(ctx context.Context, kind record.Kind) (int64, error) {
	var n int64
	err := b.do(func() error {
		var opErr error
		n, opErr = b.inner.Count(ctx, kind)
		return opErr
	})
	return n, err
}

func (b *Breaker) Ping(ctx context.Context) error {
	return b.do(func() error { return b.inner.Ping(ctx) })
}
