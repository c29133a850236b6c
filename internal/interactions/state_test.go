package interactions

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pulsegram/pulsegram/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestContentState_StartsLoading(t *testing.T) {
	st := newContentState(domain.ContentKey{Type: domain.ContentPost, ID: "p1"})

	assert.Equal(t, domain.PhaseLoading, st.snap.Phase)
	assert.False(t, st.optimisticInFlight())
}

func TestContentState_RefreshTracksInFlight(t *testing.T) {
	st := newContentState(domain.ContentKey{Type: domain.ContentPost, ID: "p1"})
	st.snap.Phase = domain.PhaseSynced

	st.pending = &pendingMutation{id: uuid.New(), kind: mutateLike}
	st.refresh()
	assert.True(t, st.snap.OptimisticInFlight)
	assert.Equal(t, domain.PhaseToggling, st.snap.Phase)

	st.pending = nil
	st.refresh()
	assert.False(t, st.snap.OptimisticInFlight)
	assert.Equal(t, domain.PhaseSynced, st.snap.Phase)
}

func TestContentState_RefreshKeepsLoadingPhase(t *testing.T) {
	st := newContentState(domain.ContentKey{Type: domain.ContentPost, ID: "p1"})

	st.inflight = 1
	st.refresh()

	// A content item that was never synced stays in loading regardless of
	// local mutations against it.
	assert.Equal(t, domain.PhaseLoading, st.snap.Phase)
	assert.True(t, st.snap.OptimisticInFlight)
}

func TestContentState_AddLikesClampsAtZero(t *testing.T) {
	st := newContentState(domain.ContentKey{Type: domain.ContentPost, ID: "p1"})
	st.snap.LikesCount = 1

	assert.False(t, st.addLikes(-1))
	assert.Equal(t, int64(0), st.snap.LikesCount)

	assert.True(t, st.addLikes(-1))
	assert.Equal(t, int64(0), st.snap.LikesCount)
}

func TestContentState_ApplyCounterColumns(t *testing.T) {
	st := newContentState(domain.ContentKey{Type: domain.ContentPost, ID: "p1"})
	st.snap.IsLikedByViewer = true
	now := time.Now()

	st.applyCounterColumns(domain.CounterColumns{Likes: 7, Comments: 3, Shares: -2}, now)

	assert.Equal(t, int64(7), st.snap.LikesCount)
	assert.Equal(t, int64(3), st.snap.CommentsCount)
	assert.Equal(t, int64(0), st.snap.SharesCount, "negative authoritative counters clamp to zero")
	assert.True(t, st.snap.IsLikedByViewer, "content rows carry no viewer membership")
	assert.Equal(t, now, st.snap.LastReconciledAt)
}

func TestContentState_ApplyCountersLeavesLoading(t *testing.T) {
	st := newContentState(domain.ContentKey{Type: domain.ContentPost, ID: "p1"})
	now := time.Now()

	st.applyCounters(domain.Counters{Likes: 10, LikedByViewer: true}, now)

	assert.Equal(t, domain.PhaseSynced, st.snap.Phase)
	assert.Equal(t, int64(10), st.snap.LikesCount)
	assert.True(t, st.snap.IsLikedByViewer)
}

func TestOpLedger_RecordAndPrune(t *testing.T) {
	led := newOpLedger()
	now := time.Now()

	a, b := uuid.New(), uuid.New()
	led.record(a, now.Add(-issuedOpTTL-time.Second))
	led.record(b, now)

	assert.True(t, led.contains(a))
	assert.True(t, led.contains(b))

	led.prune(now, issuedOpTTL)
	assert.False(t, led.contains(a), "expired entries drop on prune")
	assert.True(t, led.contains(b))
	assert.Equal(t, 1, led.size())
}
