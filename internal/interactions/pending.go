package interactions

import (
	"time"

	"github.com/google/uuid"
	"github.com/pulsegram/pulsegram/internal/domain"
)

// pendingMutation is the at-most-one live like/unlike mutation for a
// content item. A new toggle supersedes it: interest in the old result is
// cancelled but the outbound write, if already dispatched, is left to
// complete and its result discarded.
type pendingMutation struct {
	id         uuid.UUID
	kind       mutationKind
	issuedAt   time.Time
	dispatched bool

	// prev holds the pre-toggle like fields for the revert path.
	prevLikes   int64
	prevIsLiked bool
}

func newPendingMutation(kind mutationKind, snap domain.InteractionSnapshot, now time.Time) *pendingMutation {
	return &pendingMutation{
		id:          uuid.New(),
		kind:        kind,
		issuedAt:    now,
		prevLikes:   snap.LikesCount,
		prevIsLiked: snap.IsLikedByViewer,
	}
}

// opLedger remembers the operation ids of every dispatched durable write so
// the reconciler can recognize their push-event echoes. Entries survive
// until pruned rather than being consumed on first match, because
// at-least-once delivery may replay the same echo.
type opLedger struct {
	ops map[uuid.UUID]time.Time
}

func newOpLedger() *opLedger {
	return &opLedger{ops: make(map[uuid.UUID]time.Time)}
}

func (l *opLedger) record(id uuid.UUID, now time.Time) {
	l.ops[id] = now
}

func (l *opLedger) contains(id uuid.UUID) bool {
	_, ok := l.ops[id]
	return ok
}

func (l *opLedger) prune(now time.Time, maxAge time.Duration) {
	for id, at := range l.ops {
		if now.Sub(at) > maxAge {
			delete(l.ops, id)
		}
	}
}

func (l *opLedger) size() int {
	return len(l.ops)
}
