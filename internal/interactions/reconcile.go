package interactions

import (
	"log/slog"

	"github.com/google/uuid"
	"github.com/pulsegram/pulsegram/internal/domain"
	"github.com/pulsegram/pulsegram/internal/metrics"
)

// handleChange merges one push event into local state. Delivery is
// at-least-once: events may be duplicated, delayed, or reordered, so every
// branch here must stay idempotent-enough to converge.
func (e *Engine) handleChange(ch domain.Change) {
	if err := ch.Validate(); err != nil {
		metrics.MalformedEvents.Inc()
		slog.Debug("Discarding malformed push payload", "table", string(ch.Table), "kind", ch.Kind.String())
		return
	}

	key := ch.Key()
	st, ok := e.items[key]
	if !ok {
		// No mounted view for this item; nothing to reconcile into.
		return
	}

	e.pruneLedger()

	// Primary echo filter: the op id we embedded in the written row. The
	// ledger entry stays until TTL pruning so a duplicated echo delivery
	// is swallowed too.
	if ch.Row.OpID != uuid.Nil {
		if e.issued.contains(ch.Row.OpID) {
			metrics.EchoSuppressed.WithLabelValues("op_id").Inc()
			return
		}
	} else if e.isWindowEcho(st, ch) {
		metrics.EchoSuppressed.WithLabelValues("window").Inc()
		return
	}

	now := e.clock.Now()
	clamped := false

	switch ch.Table {
	case domain.TableContent:
		if ch.Kind != domain.ChangeUpdate {
			// Content inserts/deletes carry nothing for the counters.
			return
		}
		if st.optimisticInFlight() {
			// Authoritative counters are held while the viewer's own
			// mutation is unresolved, then applied on resolution.
			held := *ch.Row.Counters
			st.held = &held
			metrics.HeldCounterUpdates.Inc()
			return
		}
		st.applyCounterColumns(*ch.Row.Counters, now)

	case domain.TableLikes:
		switch ch.Kind {
		case domain.ChangeInsert:
			st.addLikes(1)
			if ch.Row.ActorID == e.viewerID {
				st.snap.IsLikedByViewer = true
			}
		case domain.ChangeDelete:
			clamped = st.addLikes(-1)
			if ch.Row.ActorID == e.viewerID {
				st.snap.IsLikedByViewer = false
			}
		case domain.ChangeUpdate:
			return
		}
		st.snap.LastReconciledAt = now

	case domain.TableComments:
		switch ch.Kind {
		case domain.ChangeInsert:
			st.addComments(1)
		case domain.ChangeDelete:
			clamped = st.addComments(-1)
		case domain.ChangeUpdate:
			return
		}
		st.snap.LastReconciledAt = now

	case domain.TableShares:
		switch ch.Kind {
		case domain.ChangeInsert:
			st.addShares(1)
		case domain.ChangeDelete:
			clamped = st.addShares(-1)
		case domain.ChangeUpdate:
			return
		}
		st.snap.LastReconciledAt = now
	}

	metrics.RemoteApplied.WithLabelValues(string(ch.Table), ch.Kind.String()).Inc()
	st.refresh()
	e.publish(st)

	if clamped {
		// A decrement below zero means we missed something; fetch the
		// authoritative counters to correct it.
		slog.Warn("Counter clamped at zero, scheduling resync", "content", key)
		e.requestResync(key)
	}
}

// isWindowEcho is the fallback self-echo filter for events whose payload
// carries no op id: the viewer's own insert/delete arriving shortly after a
// matching local apply is presumed to be its echo. Probabilistic by
// construction; the op-id ledger is the reliable path.
func (e *Engine) isWindowEcho(st *contentState, ch domain.Change) bool {
	if ch.Row.ActorID != e.viewerID {
		return false
	}
	kind, ok := echoKind(ch)
	if !ok {
		return false
	}
	last, ok := st.lastLocal[kind]
	if !ok {
		return false
	}
	return e.clock.Now().Sub(last) <= echoSuppressionWindow
}

// echoKind maps a push event to the local mutation kind whose echo it
// could be.
func echoKind(ch domain.Change) (mutationKind, bool) {
	switch ch.Table {
	case domain.TableLikes:
		switch ch.Kind {
		case domain.ChangeInsert:
			return mutateLike, true
		case domain.ChangeDelete:
			return mutateUnlike, true
		}
	case domain.TableComments:
		if ch.Kind == domain.ChangeInsert {
			return mutateComment, true
		}
	case domain.TableShares:
		if ch.Kind == domain.ChangeInsert {
			return mutateShare, true
		}
	}
	return 0, false
}

func (e *Engine) pruneLedger() {
	if e.issued.size() >= ledgerPruneSize {
		e.issued.prune(e.clock.Now(), issuedOpTTL)
	}
}
