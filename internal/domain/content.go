package domain

import "time"

// ContentType identifies the kind of content item an interaction targets.
type ContentType string

const (
	ContentPost  ContentType = "post"
	ContentStory ContentType = "story"
	ContentReel  ContentType = "reel"
)

// Valid reports whether t is one of the known content types.
func (t ContentType) Valid() bool {
	switch t {
	case ContentPost, ContentStory, ContentReel:
		return true
	}
	return false
}

// ContentKey uniquely identifies a content item.
type ContentKey struct {
	Type ContentType
	ID   string
}

func (k ContentKey) String() string {
	return string(k.Type) + ":" + k.ID
}

// Phase describes where a viewer's interaction state sits in its lifecycle.
// There is no reverting phase: a failed write is rolled back in the same
// actor turn that observes the failure, so state lands straight in
// PhaseSynced.
type Phase string

const (
	// PhaseLoading means the initial authoritative fetch has not completed.
	PhaseLoading Phase = "loading"
	// PhaseSynced means local state agrees with the last known durable state.
	PhaseSynced Phase = "synced"
	// PhaseToggling means an optimistic mutation's durable write is unresolved.
	PhaseToggling Phase = "toggling"
)

// InteractionSnapshot is the immutable per-content view the UI renders.
// Counts never go negative; IsLikedByViewer always reflects the viewer's
// membership in the like set as last known to this client.
type InteractionSnapshot struct {
	Key                ContentKey `json:"key"`
	LikesCount         int64      `json:"likes_count"`
	CommentsCount      int64      `json:"comments_count"`
	SharesCount        int64      `json:"shares_count"`
	IsLikedByViewer    bool       `json:"is_liked_by_viewer"`
	OptimisticInFlight bool       `json:"optimistic_in_flight"`
	Phase              Phase      `json:"phase"`
	LastReconciledAt   time.Time  `json:"last_reconciled_at"`
}

// Counters is the authoritative counter set fetched from the durable store.
type Counters struct {
	Likes         int64
	Comments      int64
	Shares        int64
	LikedByViewer bool
}

// CounterColumns carries the denormalized counter columns of a content row,
// as delivered by an Update push event. It says nothing about the viewer's
// like membership.
type CounterColumns struct {
	Likes    int64
	Comments int64
	Shares   int64
}
