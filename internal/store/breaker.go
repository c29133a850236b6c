// Package store wraps the durable row store with failure-isolation
// plumbing shared by every backend implementation.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pulsegram/pulsegram/internal/domain"
	"github.com/pulsegram/pulsegram/internal/metrics"
	"github.com/sony/gobreaker"
)

// BreakerStore adds circuit breaker protection to a RowStore. When the
// backend fails repeatedly the breaker opens and calls fail fast with
// ErrStoreUnavailable instead of piling up timeouts; duplicate-key
// results never count as failures because the mutation they report is
// already applied.
type BreakerStore struct {
	inner domain.RowStore
	cb    *gobreaker.CircuitBreaker
}

var _ domain.RowStore = (*BreakerStore)(nil)

func NewBreakerStore(inner domain.RowStore) *BreakerStore {
	settings := gobreaker.Settings{
		Name:        "rowstore",
		MaxRequests: 1,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 5 && float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, domain.ErrDuplicateKey)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("Circuit breaker state changed",
				"component", name,
				"from", from.String(),
				"to", to.String(),
			)
			metrics.BreakerStateChanges.WithLabelValues(to.String()).Inc()
			metrics.BreakerState.Set(stateToFloat(to))
		},
	}
	return &BreakerStore{inner: inner, cb: gobreaker.NewCircuitBreaker(settings)}
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

func (s *BreakerStore) InsertRow(ctx context.Context, table domain.Table, row domain.InteractionRow) error {
	_, err := s.cb.Execute(func() (any, error) {
		return nil, s.inner.InsertRow(ctx, table, row)
	})
	return s.mapErr(err)
}

func (s *BreakerStore) DeleteRow(ctx context.Context, table domain.Table, row domain.InteractionRow) error {
	_, err := s.cb.Execute(func() (any, error) {
		return nil, s.inner.DeleteRow(ctx, table, row)
	})
	return s.mapErr(err)
}

func (s *BreakerStore) FetchCounters(ctx context.Context, viewerID string, key domain.ContentKey) (domain.Counters, error) {
	res, err := s.cb.Execute(func() (any, error) {
		return s.inner.FetchCounters(ctx, viewerID, key)
	})
	if err != nil {
		return domain.Counters{}, s.mapErr(err)
	}
	return res.(domain.Counters), nil
}

// mapErr translates breaker rejections into the store-unavailable
// sentinel so callers treat an open circuit like any other outage.
func (s *BreakerStore) mapErr(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("circuit breaker open: %w", domain.ErrStoreUnavailable)
	}
	return err
}
