package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/pulsegram/pulsegram/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flakyStore struct {
	mu        sync.Mutex
	insertErr error
	fetchErr  error
	counters  domain.Counters
	calls     int
}

func (f *flakyStore) InsertRow(context.Context, domain.Table, domain.InteractionRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.insertErr
}

func (f *flakyStore) DeleteRow(context.Context, domain.Table, domain.InteractionRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.insertErr
}

func (f *flakyStore) FetchCounters(context.Context, string, domain.ContentKey) (domain.Counters, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.counters, f.fetchErr
}

func (f *flakyStore) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

var breakerKey = domain.ContentKey{Type: domain.ContentPost, ID: "p1"}

func TestBreakerStore_PassesThroughSuccess(t *testing.T) {
	inner := &flakyStore{counters: domain.Counters{Likes: 3}}
	s := NewBreakerStore(inner)

	require.NoError(t, s.InsertRow(context.Background(), domain.TableLikes, domain.InteractionRow{}))
	require.NoError(t, s.DeleteRow(context.Background(), domain.TableLikes, domain.InteractionRow{ViewerID: "v1", Key: breakerKey}))

	counters, err := s.FetchCounters(context.Background(), "v1", breakerKey)
	require.NoError(t, err)
	assert.Equal(t, int64(3), counters.Likes)
}

func TestBreakerStore_PassesThroughErrors(t *testing.T) {
	inner := &flakyStore{insertErr: fmt.Errorf("insert: %w", domain.ErrDuplicateKey)}
	s := NewBreakerStore(inner)

	err := s.InsertRow(context.Background(), domain.TableLikes, domain.InteractionRow{})
	assert.ErrorIs(t, err, domain.ErrDuplicateKey)
}

func TestBreakerStore_OpensAfterRepeatedFailures(t *testing.T) {
	inner := &flakyStore{insertErr: errors.New("connection refused")}
	s := NewBreakerStore(inner)

	for range 5 {
		_ = s.InsertRow(context.Background(), domain.TableLikes, domain.InteractionRow{})
	}

	before := inner.callCount()
	err := s.InsertRow(context.Background(), domain.TableLikes, domain.InteractionRow{})
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
	assert.Equal(t, before, inner.callCount(), "open breaker must fail fast without reaching the backend")
}

func TestBreakerStore_DuplicateKeyNeverTrips(t *testing.T) {
	inner := &flakyStore{insertErr: fmt.Errorf("insert: %w", domain.ErrDuplicateKey)}
	s := NewBreakerStore(inner)

	for range 20 {
		err := s.InsertRow(context.Background(), domain.TableLikes, domain.InteractionRow{})
		assert.ErrorIs(t, err, domain.ErrDuplicateKey)
	}
	assert.Equal(t, 20, inner.callCount())
}

func TestBreakerStore_FetchFailureOpensToo(t *testing.T) {
	inner := &flakyStore{fetchErr: errors.New("connection refused")}
	s := NewBreakerStore(inner)

	for range 5 {
		_, _ = s.FetchCounters(context.Background(), "v1", breakerKey)
	}

	_, err := s.FetchCounters(context.Background(), "v1", breakerKey)
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
}
