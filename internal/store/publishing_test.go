package store

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/pulsegram/pulsegram/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu      sync.Mutex
	changes []domain.Change
	err     error
}

func (p *recordingPublisher) PublishChange(_ context.Context, ch domain.Change) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.changes = append(p.changes, ch)
	return p.err
}

func (p *recordingPublisher) published() []domain.Change {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := make([]domain.Change, len(p.changes))
	copy(cp, p.changes)
	return cp
}

func TestPublishingStore_InsertEmitsChange(t *testing.T) {
	inner := &flakyStore{}
	pub := &recordingPublisher{}
	s := NewPublishingStore(inner, pub)

	opID := uuid.New()
	err := s.InsertRow(context.Background(), domain.TableLikes, domain.InteractionRow{
		OpID:     opID,
		ViewerID: "viewer-1",
		Key:      breakerKey,
	})
	require.NoError(t, err)

	changes := pub.published()
	require.Len(t, changes, 1)
	assert.Equal(t, domain.ChangeInsert, changes[0].Kind)
	assert.Equal(t, domain.TableLikes, changes[0].Table)
	assert.Equal(t, "viewer-1", changes[0].Row.ActorID)
	assert.Equal(t, opID, changes[0].Row.OpID)
	assert.Equal(t, breakerKey, changes[0].Key())
}

func TestPublishingStore_DeleteEmitsChangeWithOpID(t *testing.T) {
	inner := &flakyStore{}
	pub := &recordingPublisher{}
	s := NewPublishingStore(inner, pub)

	opID := uuid.New()
	err := s.DeleteRow(context.Background(), domain.TableLikes, domain.InteractionRow{
		OpID:     opID,
		ViewerID: "viewer-1",
		Key:      breakerKey,
	})
	require.NoError(t, err)

	changes := pub.published()
	require.Len(t, changes, 1)
	assert.Equal(t, domain.ChangeDelete, changes[0].Kind)
	assert.Equal(t, "viewer-1", changes[0].Row.ActorID)
	assert.Equal(t, opID, changes[0].Row.OpID)
}

func TestPublishingStore_FailedWriteEmitsNothing(t *testing.T) {
	inner := &flakyStore{insertErr: errors.New("connection refused")}
	pub := &recordingPublisher{}
	s := NewPublishingStore(inner, pub)

	err := s.InsertRow(context.Background(), domain.TableLikes, domain.InteractionRow{ViewerID: "v"})
	require.Error(t, err)
	assert.Empty(t, pub.published())
}

func TestPublishingStore_PublishFailureDoesNotFailWrite(t *testing.T) {
	inner := &flakyStore{}
	pub := &recordingPublisher{err: errors.New("redis down")}
	s := NewPublishingStore(inner, pub)

	err := s.InsertRow(context.Background(), domain.TableLikes, domain.InteractionRow{ViewerID: "v", Key: breakerKey})
	assert.NoError(t, err)
}

func TestPublishingStore_FetchPassesThrough(t *testing.T) {
	inner := &flakyStore{counters: domain.Counters{Likes: 4}}
	pub := &recordingPublisher{}
	s := NewPublishingStore(inner, pub)

	counters, err := s.FetchCounters(context.Background(), "v", breakerKey)
	require.NoError(t, err)
	assert.Equal(t, int64(4), counters.Likes)
	assert.Empty(t, pub.published())
}
