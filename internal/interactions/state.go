package interactions

import (
	"time"

	"github.com/pulsegram/pulsegram/internal/domain"
	"github.com/pulsegram/pulsegram/internal/realtime"
)

// mutationKind is the kind of a single optimistic mutation.
type mutationKind int

const (
	mutateLike mutationKind = iota
	mutateUnlike
	mutateComment
	mutateShare
)

func (k mutationKind) String() string {
	switch k {
	case mutateLike:
		return "like"
	case mutateUnlike:
		return "unlike"
	case mutateComment:
		return "comment"
	case mutateShare:
		return "share"
	default:
		return "unknown"
	}
}

// contentState is the per-content record owned by the engine actor.
// Only the actor goroutine touches it.
type contentState struct {
	snap domain.InteractionSnapshot

	// pending is the single live like/unlike mutation, superseded by any
	// newer toggle. Comments and shares are not revertible toward a prior
	// boolean and are tracked only by the inflight counter.
	pending  *pendingMutation
	inflight int

	// held is an authoritative counter update deferred while a local
	// mutation is unresolved, to avoid visibly reverting the viewer's own
	// just-made change mid-flight.
	held *domain.CounterColumns

	// lastLocal records when the last local apply of each kind happened,
	// for the time-window echo fallback when an event carries no op id.
	lastLocal map[mutationKind]time.Time

	views          int
	handles        []*realtime.Handle
	resyncInFlight bool
}

func newContentState(key domain.ContentKey) *contentState {
	return &contentState{
		snap: domain.InteractionSnapshot{
			Key:   key,
			Phase: domain.PhaseLoading,
		},
		lastLocal: make(map[mutationKind]time.Time),
	}
}

// optimisticInFlight reports whether any local mutation's durable write is
// still unresolved.
func (st *contentState) optimisticInFlight() bool {
	return st.pending != nil || st.inflight > 0
}

// refresh recomputes the derived snapshot fields. Called after every apply.
func (st *contentState) refresh() {
	st.snap.OptimisticInFlight = st.optimisticInFlight()
	if st.snap.Phase != domain.PhaseLoading {
		if st.snap.OptimisticInFlight {
			st.snap.Phase = domain.PhaseToggling
		} else {
			st.snap.Phase = domain.PhaseSynced
		}
	}
}

// addLikes adjusts the like counter, clamping at zero. It reports whether
// the clamp fired, which callers treat as an inconsistency to correct via a
// full resync.
func (st *contentState) addLikes(delta int64) bool {
	st.snap.LikesCount += delta
	if st.snap.LikesCount < 0 {
		st.snap.LikesCount = 0
		return true
	}
	return false
}

func (st *contentState) addComments(delta int64) bool {
	st.snap.CommentsCount += delta
	if st.snap.CommentsCount < 0 {
		st.snap.CommentsCount = 0
		return true
	}
	return false
}

func (st *contentState) addShares(delta int64) bool {
	st.snap.SharesCount += delta
	if st.snap.SharesCount < 0 {
		st.snap.SharesCount = 0
		return true
	}
	return false
}

// applyCounterColumns replaces the local counts with an authoritative
// denormalized counter row. Viewer like membership is not part of a content
// row and stays untouched.
func (st *contentState) applyCounterColumns(c domain.CounterColumns, now time.Time) {
	st.snap.LikesCount = max(c.Likes, 0)
	st.snap.CommentsCount = max(c.Comments, 0)
	st.snap.SharesCount = max(c.Shares, 0)
	st.snap.LastReconciledAt = now
}

// applyCounters replaces the full authoritative state from a durable fetch,
// including the viewer's like membership.
func (st *contentState) applyCounters(c domain.Counters, now time.Time) {
	st.applyCounterColumns(domain.CounterColumns{
		Likes:    c.Likes,
		Comments: c.Comments,
		Shares:   c.Shares,
	}, now)
	st.snap.IsLikedByViewer = c.LikedByViewer
	if st.snap.Phase == domain.PhaseLoading {
		st.snap.Phase = domain.PhaseSynced
	}
}
