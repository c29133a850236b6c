package interactions

import (
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pulsegram/pulsegram/internal/domain"
)

// ActionKind classifies a user action for debounce and dedup purposes.
type ActionKind string

const (
	ActionLike    ActionKind = "like"
	ActionComment ActionKind = "comment"
	ActionShare   ActionKind = "share"
	ActionFollow  ActionKind = "follow"
)

const (
	likeDebounceWindow   = 300 * time.Millisecond
	followDebounceWindow = 500 * time.Millisecond
	duplicateWindow      = 2 * time.Second
)

type gateKey struct {
	action ActionKind
	key    domain.ContentKey
}

type recentValue struct {
	value string
	at    time.Time
}

// dropReason says why the gate swallowed an action.
type dropReason string

const (
	dropNone     dropReason = ""
	dropValue    dropReason = "value"
	dropSequence dropReason = "sequence"
)

// gate collapses bursts of identical rapid actions into a single outbound
// mutation and suppresses redundant submissions. All methods are called
// from the engine actor goroutine; timer callbacks run elsewhere and must
// only hand work back to the actor.
type gate struct {
	clock   clockwork.Clock
	timers  map[gateKey]clockwork.Timer
	recent  map[gateKey]recentValue
	lastSeq map[gateKey]uint64
}

func newGate(clock clockwork.Clock) *gate {
	return &gate{
		clock:   clock,
		timers:  make(map[gateKey]clockwork.Timer),
		recent:  make(map[gateKey]recentValue),
		lastSeq: make(map[gateKey]uint64),
	}
}

func debounceWindow(action ActionKind) time.Duration {
	if action == ActionFollow {
		return followDebounceWindow
	}
	return likeDebounceWindow
}

// allow decides whether a user action goes through. An action whose value
// equals the most recent one for the same (action, content) within the
// duplicate window is a no-op: the desired state is already satisfied. A
// sequence number at or below the last applied one is rejected outright as
// a stale replay; seq zero means the caller tracks no sequence.
func (g *gate) allow(action ActionKind, key domain.ContentKey, value string, seq uint64) dropReason {
	gk := gateKey{action: action, key: key}
	now := g.clock.Now()

	if seq > 0 {
		if last, ok := g.lastSeq[gk]; ok && seq <= last {
			return dropSequence
		}
		g.lastSeq[gk] = seq
	}

	if prev, ok := g.recent[gk]; ok && prev.value == value && now.Sub(prev.at) < duplicateWindow {
		return dropValue
	}
	g.recent[gk] = recentValue{value: value, at: now}
	return dropNone
}

// schedule arms (or re-arms) the trailing-edge debounce timer for one
// (action, content) pair. While the timer is armed, newer desired states
// supersede older ones without their own network call; fire runs once the
// burst goes quiet. Returns true when an armed timer was coalesced into.
func (g *gate) schedule(action ActionKind, key domain.ContentKey, fire func()) bool {
	gk := gateKey{action: action, key: key}
	window := debounceWindow(action)

	if timer, ok := g.timers[gk]; ok {
		timer.Reset(window)
		return true
	}

	g.timers[gk] = g.clock.AfterFunc(window, fire)
	return false
}

// clear forgets the armed timer after it fired.
func (g *gate) clear(action ActionKind, key domain.ContentKey) {
	delete(g.timers, gateKey{action: action, key: key})
}

// forget drops all gate state for a content item on view teardown.
func (g *gate) forget(key domain.ContentKey) {
	for gk, timer := range g.timers {
		if gk.key == key {
			timer.Stop()
			delete(g.timers, gk)
		}
	}
	for gk := range g.recent {
		if gk.key == key {
			delete(g.recent, gk)
		}
	}
	for gk := range g.lastSeq {
		if gk.key == key {
			delete(g.lastSeq, gk)
		}
	}
}
