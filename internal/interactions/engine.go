package interactions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/pulsegram/pulsegram/internal/domain"
	"github.com/pulsegram/pulsegram/internal/metrics"
	"github.com/pulsegram/pulsegram/internal/platform/retry"
	"github.com/pulsegram/pulsegram/internal/realtime"
)

const (
	// echoSuppressionWindow is the fallback window for classifying a push
	// event without an op id as the echo of the viewer's own local apply.
	echoSuppressionWindow = 500 * time.Millisecond

	issuedOpTTL     = 5 * time.Minute
	ledgerPruneSize = 1024
	writeTimeout    = 5 * time.Second
	cmdBuffer       = 512
)

// --- Command types ---

type engineCmd interface{ engineCmd() }

type cmdOpenView struct {
	key     domain.ContentKey
	replyCh chan openResult
}

func (cmdOpenView) engineCmd() {}

type openResult struct {
	first bool
}

type cmdAttachHandles struct {
	key     domain.ContentKey
	handles []*realtime.Handle
}

func (cmdAttachHandles) engineCmd() {}

type cmdCloseView struct {
	key     domain.ContentKey
	replyCh chan struct{}
}

func (cmdCloseView) engineCmd() {}

type cmdSetLike struct {
	key     domain.ContentKey
	desired bool
	seq     uint64
	replyCh chan mutateResult
}

func (cmdSetLike) engineCmd() {}

type cmdAddComment struct {
	key     domain.ContentKey
	body    string
	seq     uint64
	replyCh chan mutateResult
}

func (cmdAddComment) engineCmd() {}

type cmdRecordShare struct {
	key     domain.ContentKey
	seq     uint64
	replyCh chan mutateResult
}

func (cmdRecordShare) engineCmd() {}

type mutateResult struct {
	snap domain.InteractionSnapshot
	err  error
}

type cmdDebounceFire struct {
	key domain.ContentKey
}

func (cmdDebounceFire) engineCmd() {}

type cmdWriteResult struct {
	key  domain.ContentKey
	opID uuid.UUID
	kind mutationKind
	err  error
}

func (cmdWriteResult) engineCmd() {}

type cmdChange struct {
	change domain.Change
}

func (cmdChange) engineCmd() {}

type cmdResync struct {
	key domain.ContentKey
}

func (cmdResync) engineCmd() {}

type cmdResyncResult struct {
	key      domain.ContentKey
	counters domain.Counters
	err      error
}

func (cmdResyncResult) engineCmd() {}

type cmdSnapshot struct {
	key     domain.ContentKey
	replyCh chan mutateResult
}

func (cmdSnapshot) engineCmd() {}

type cmdSetBroadcaster struct {
	b domain.SnapshotBroadcaster
}

func (cmdSetBroadcaster) engineCmd() {}

type cmdStop struct {
	doneCh chan struct{}
}

func (cmdStop) engineCmd() {}

// --- Engine ---

// Engine owns every ContentInteractionState for one viewer. All mutation
// flows through its actor goroutine.
type Engine struct {
	cmdCh    chan engineCmd
	viewerID string
	store    domain.RowStore
	registry *realtime.Registry
	clock    clockwork.Clock
	gate     *gate

	// suppressor, when set, is the cross-instance double-submission guard
	// consulted in the dispatch goroutine before an outbound write.
	suppressor domain.Suppressor

	// notify surfaces non-fatal failures to the hosting UI. Never nil.
	notify func(domain.ContentKey, error)

	broadcaster domain.SnapshotBroadcaster
	items       map[domain.ContentKey]*contentState
	issued      *opLedger
	stopCh      chan struct{}
}

// Option configures optional engine collaborators.
type Option func(*Engine)

// WithSuppressor installs a cross-instance duplicate-submission guard.
func WithSuppressor(s domain.Suppressor) Option {
	return func(e *Engine) { e.suppressor = s }
}

// WithNotify installs a callback for transient, non-fatal failures.
func WithNotify(fn func(domain.ContentKey, error)) Option {
	return func(e *Engine) { e.notify = fn }
}

func NewEngine(viewerID string, store domain.RowStore, registry *realtime.Registry, clock clockwork.Clock, opts ...Option) *Engine {
	e := &Engine{
		cmdCh:    make(chan engineCmd, cmdBuffer),
		viewerID: viewerID,
		store:    store,
		registry: registry,
		clock:    clock,
		gate:     newGate(clock),
		notify:   func(domain.ContentKey, error) {},
		items:    make(map[domain.ContentKey]*contentState),
		issued:   newOpLedger(),
		stopCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetBroadcaster sets the snapshot fan-out target. Used to resolve the
// circular dependency between the engine and the websocket hub. Must be
// called before any mutation traffic.
func (e *Engine) SetBroadcaster(b domain.SnapshotBroadcaster) {
	_ = e.send(cmdSetBroadcaster{b: b})
}

// Start begins the engine's actor goroutine.
func (e *Engine) Start() {
	go e.run()
}

// Stop drains the actor and returns once it has exited. Idempotent.
func (e *Engine) Stop() {
	select {
	case <-e.stopCh:
		return
	default:
	}

	doneCh := make(chan struct{})
	e.cmdCh <- cmdStop{doneCh: doneCh}
	select {
	case <-doneCh:
	case <-e.stopCh:
	}
}

// send enqueues a command unless the actor has exited. The command channel
// is never closed, so a plain send after Stop would park forever.
func (e *Engine) send(cmd engineCmd) error {
	select {
	case <-e.stopCh:
		return domain.ErrEngineStopped
	default:
	}
	select {
	case e.cmdCh <- cmd:
		return nil
	case <-e.stopCh:
		return domain.ErrEngineStopped
	}
}

// request is the blocking command round trip. Replies are buffered, so a
// command the actor handled just before stopping still wins over the stop
// signal.
func request[T any](e *Engine, cmd engineCmd, replyCh chan T) (T, error) {
	var zero T
	if err := e.send(cmd); err != nil {
		return zero, err
	}
	select {
	case res := <-replyCh:
		return res, nil
	case <-e.stopCh:
		select {
		case res := <-replyCh:
			return res, nil
		default:
			return zero, domain.ErrEngineStopped
		}
	}
}

func (e *Engine) run() {
	for cmd := range e.cmdCh {
		switch c := cmd.(type) {
		case cmdSetBroadcaster:
			e.broadcaster = c.b

		case cmdOpenView:
			c.replyCh <- e.handleOpenView(c.key)

		case cmdAttachHandles:
			e.handleAttachHandles(c.key, c.handles)

		case cmdCloseView:
			e.handleCloseView(c.key)
			c.replyCh <- struct{}{}

		case cmdSetLike:
			c.replyCh <- e.handleSetLike(c.key, c.desired, c.seq)

		case cmdAddComment:
			c.replyCh <- e.handleIncrement(c.key, mutateComment, c.body, c.seq)

		case cmdRecordShare:
			c.replyCh <- e.handleIncrement(c.key, mutateShare, "", c.seq)

		case cmdDebounceFire:
			e.handleDebounceFire(c.key)

		case cmdWriteResult:
			e.handleWriteResult(c)

		case cmdChange:
			e.handleChange(c.change)

		case cmdResync:
			e.requestResync(c.key)

		case cmdResyncResult:
			e.handleResyncResult(c)

		case cmdSnapshot:
			if st, ok := e.items[c.key]; ok {
				c.replyCh <- mutateResult{snap: st.snap}
			} else {
				c.replyCh <- mutateResult{err: domain.ErrViewNotOpen}
			}

		case cmdStop:
			close(e.stopCh)
			close(c.doneCh)
			return
		}
	}
}

// --- View lifecycle ---

func (e *Engine) handleOpenView(key domain.ContentKey) openResult {
	st, ok := e.items[key]
	if !ok {
		st = newContentState(key)
		e.items[key] = st
	}
	st.views++
	return openResult{first: st.views == 1}
}

func (e *Engine) handleAttachHandles(key domain.ContentKey, handles []*realtime.Handle) {
	st, ok := e.items[key]
	if !ok {
		// View closed before the subscriptions landed; release them.
		go e.releaseHandles(handles)
		return
	}
	st.handles = append(st.handles, handles...)
}

func (e *Engine) handleCloseView(key domain.ContentKey) {
	st, ok := e.items[key]
	if !ok {
		return
	}
	st.views--
	if st.views > 0 {
		return
	}

	// Last view gone: tear down subscriptions, forget gate timers, and
	// discard the derived state. Any still-in-flight write result finds no
	// state and is ignored.
	handles := st.handles
	st.handles = nil
	delete(e.items, key)
	e.gate.forget(key)
	if len(handles) > 0 {
		go e.releaseHandles(handles)
	}
}

func (e *Engine) releaseHandles(handles []*realtime.Handle) {
	for _, h := range handles {
		if err := e.registry.Unsubscribe(h); err != nil {
			slog.Warn("Failed to unsubscribe push channel", "error", err)
		}
	}
}

// --- Optimistic mutations ---

func (e *Engine) handleSetLike(key domain.ContentKey, desired bool, seq uint64) mutateResult {
	st, ok := e.items[key]
	if !ok {
		return mutateResult{err: domain.ErrViewNotOpen}
	}

	if reason := e.gate.allow(ActionLike, key, strconv.FormatBool(desired), seq); reason != dropNone {
		metrics.DuplicateDropped.WithLabelValues(string(reason)).Inc()
		return mutateResult{snap: st.snap}
	}

	if desired == st.snap.IsLikedByViewer {
		// Already satisfied; nothing to mutate or dispatch.
		return mutateResult{snap: st.snap}
	}

	now := e.clock.Now()
	kind := mutateUnlike
	delta := int64(-1)
	if desired {
		kind = mutateLike
		delta = 1
	}

	// isLikedByViewer and likesCount always move together.
	pending := newPendingMutation(kind, st.snap, now)
	st.snap.IsLikedByViewer = desired
	st.addLikes(delta)
	st.lastLocal[kind] = now
	st.pending = pending
	st.refresh()

	metrics.OptimisticApplies.WithLabelValues(kind.String()).Inc()

	if e.gate.schedule(ActionLike, key, func() { _ = e.send(cmdDebounceFire{key: key}) }) {
		metrics.DebounceCoalesced.Inc()
	}

	e.publish(st)
	return mutateResult{snap: st.snap}
}

func (e *Engine) handleIncrement(key domain.ContentKey, kind mutationKind, body string, seq uint64) mutateResult {
	st, ok := e.items[key]
	if !ok {
		return mutateResult{err: domain.ErrViewNotOpen}
	}

	action, value := ActionComment, body
	if kind == mutateShare {
		action, value = ActionShare, "share"
	}
	if reason := e.gate.allow(action, key, value, seq); reason != dropNone {
		metrics.DuplicateDropped.WithLabelValues(string(reason)).Inc()
		return mutateResult{snap: st.snap}
	}

	now := e.clock.Now()
	if kind == mutateComment {
		st.addComments(1)
	} else {
		st.addShares(1)
	}
	st.lastLocal[kind] = now
	st.inflight++
	st.refresh()

	metrics.OptimisticApplies.WithLabelValues(kind.String()).Inc()

	opID := uuid.New()
	e.issued.record(opID, now)
	go e.dispatchIncrement(key, kind, opID, body)

	e.publish(st)
	return mutateResult{snap: st.snap}
}

func (e *Engine) handleDebounceFire(key domain.ContentKey) {
	e.gate.clear(ActionLike, key)

	st, ok := e.items[key]
	if !ok || st.pending == nil || st.pending.dispatched {
		return
	}

	st.pending.dispatched = true
	e.issued.record(st.pending.id, e.clock.Now())
	go e.dispatchLike(key, st.pending.kind, st.pending.id)
}

func (e *Engine) dispatchLike(key domain.ContentKey, kind mutationKind, opID uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if !e.allowDispatch(ctx, key, kind) {
		_ = e.send(cmdWriteResult{key: key, opID: opID, kind: kind})
		return
	}

	var err error
	switch kind {
	case mutateLike:
		err = e.store.InsertRow(ctx, domain.TableLikes, domain.InteractionRow{
			OpID:     opID,
			ViewerID: e.viewerID,
			Key:      key,
		})
	case mutateUnlike:
		err = e.store.DeleteRow(ctx, domain.TableLikes, domain.InteractionRow{
			OpID:     opID,
			ViewerID: e.viewerID,
			Key:      key,
		})
	}

	_ = e.send(cmdWriteResult{key: key, opID: opID, kind: kind, err: err})
}

func (e *Engine) dispatchIncrement(key domain.ContentKey, kind mutationKind, opID uuid.UUID, body string) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	table := domain.TableComments
	if kind == mutateShare {
		table = domain.TableShares
	}
	err := e.store.InsertRow(ctx, table, domain.InteractionRow{
		OpID:     opID,
		ViewerID: e.viewerID,
		Key:      key,
		Body:     body,
	})

	_ = e.send(cmdWriteResult{key: key, opID: opID, kind: kind, err: err})
}

// allowDispatch consults the cross-instance suppressor. A veto means an
// identical submission just happened in another tab or instance, so the
// write is already satisfied. Suppressor errors never block the write.
func (e *Engine) allowDispatch(ctx context.Context, key domain.ContentKey, kind mutationKind) bool {
	if e.suppressor == nil {
		return true
	}
	allowed, err := e.suppressor.Allow(ctx, "toggle:"+e.viewerID+":"+key.String()+":"+kind.String())
	if err != nil {
		slog.Warn("Suppressor check failed, dispatching anyway", "error", err)
		return true
	}
	if !allowed {
		metrics.DuplicateDropped.WithLabelValues("cross_instance").Inc()
	}
	return allowed
}

func (e *Engine) handleWriteResult(c cmdWriteResult) {
	st, ok := e.items[c.key]
	if !ok {
		// The owning view unmounted while the write was in flight. The
		// write itself stands; only the local bookkeeping is gone.
		slog.Debug("Write resolved after view teardown", "content", c.key, "kind", c.kind.String())
		return
	}

	switch c.kind {
	case mutateLike, mutateUnlike:
		e.resolveToggle(st, c)
	case mutateComment, mutateShare:
		e.resolveIncrement(st, c)
	}

	if !st.optimisticInFlight() && st.held != nil {
		st.applyCounterColumns(*st.held, e.clock.Now())
		st.held = nil
		st.refresh()
	}

	e.publish(st)
}

func (e *Engine) resolveToggle(st *contentState, c cmdWriteResult) {
	if st.pending == nil || st.pending.id != c.opID {
		// Superseded by a newer toggle; discard the stale result.
		return
	}

	pending := st.pending
	st.pending = nil

	if c.err == nil || errors.Is(c.err, domain.ErrDuplicateKey) {
		// Duplicate rows mean the mutation was already applied; that is
		// success, not failure.
		st.refresh()
		return
	}

	metrics.WriteFailures.WithLabelValues(writeClass(c.err)).Inc()
	metrics.Reverts.WithLabelValues(pending.kind.String()).Inc()

	// Revert by inverse delta so remote mutations accepted mid-flight
	// survive the rollback.
	if pending.kind == mutateLike {
		st.addLikes(-1)
	} else {
		st.addLikes(1)
	}
	st.snap.IsLikedByViewer = pending.prevIsLiked
	st.refresh()

	slog.Warn("Durable write failed, optimistic state reverted",
		"content", c.key, "kind", pending.kind.String(), "error", c.err)
	e.notify(c.key, fmt.Errorf("%s not saved: %w", pending.kind.String(), c.err))
}

func (e *Engine) resolveIncrement(st *contentState, c cmdWriteResult) {
	st.inflight--

	if c.err == nil || errors.Is(c.err, domain.ErrDuplicateKey) {
		st.refresh()
		return
	}

	metrics.WriteFailures.WithLabelValues(writeClass(c.err)).Inc()
	metrics.Reverts.WithLabelValues(c.kind.String()).Inc()

	if c.kind == mutateComment {
		st.addComments(-1)
	} else {
		st.addShares(-1)
	}
	st.refresh()

	slog.Warn("Durable write failed, increment rolled back",
		"content", c.key, "kind", c.kind.String(), "error", c.err)
	e.notify(c.key, fmt.Errorf("%s not saved: %w", c.kind.String(), c.err))
}

func writeClass(err error) string {
	if errors.Is(err, domain.ErrStoreUnavailable) {
		return "unavailable"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return "other"
}

// --- Resync ---

func (e *Engine) requestResync(key domain.ContentKey) {
	st, ok := e.items[key]
	if !ok || st.resyncInFlight {
		return
	}
	st.resyncInFlight = true

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()

		policy := retry.Policy{MaxAttempts: 3, InitialBackoff: 100 * time.Millisecond}
		counters, err := retry.Do(ctx, policy, classifyStoreErr, func() (domain.Counters, error) {
			return e.store.FetchCounters(ctx, e.viewerID, key)
		})
		_ = e.send(cmdResyncResult{key: key, counters: counters, err: err})
	}()
}

func classifyStoreErr(err error) retry.Action {
	if errors.Is(err, domain.ErrStoreUnavailable) {
		return retry.Retry
	}
	return retry.Stop
}

func (e *Engine) handleResyncResult(c cmdResyncResult) {
	st, ok := e.items[c.key]
	if !ok {
		return
	}
	st.resyncInFlight = false

	if c.err != nil {
		slog.Warn("Authoritative fetch failed", "content", c.key, "error", c.err)
		e.notify(c.key, fmt.Errorf("could not load interactions: %w", c.err))
		return
	}

	if st.optimisticInFlight() {
		// Hold the counters; the viewer's own unresolved change must not
		// visibly bounce.
		st.held = &domain.CounterColumns{
			Likes:    c.counters.Likes,
			Comments: c.counters.Comments,
			Shares:   c.counters.Shares,
		}
		metrics.HeldCounterUpdates.Inc()
		return
	}

	st.applyCounters(c.counters, e.clock.Now())
	st.refresh()
	e.publish(st)
}

// --- Publishing ---

func (e *Engine) publish(st *contentState) {
	if e.broadcaster != nil {
		e.broadcaster.BroadcastSnapshot(st.snap)
	}
}

// --- Public API ---

// OpenView registers a mounted content view. The first view of an item
// establishes the push subscriptions and kicks off the authoritative fetch;
// the returned snapshot starts in PhaseLoading until that fetch lands.
func (e *Engine) OpenView(ctx context.Context, key domain.ContentKey) (*View, error) {
	if key.ID == "" || !key.Type.Valid() {
		return nil, fmt.Errorf("invalid content key %q", key.String())
	}

	replyCh := make(chan openResult, 1)
	res, err := request(e, cmdOpenView{key: key, replyCh: replyCh}, replyCh)
	if err != nil {
		return nil, err
	}

	if res.first {
		handles, err := e.subscribeTopics(ctx, key)
		if err != nil {
			e.closeView(key)
			return nil, err
		}
		if err := e.send(cmdAttachHandles{key: key, handles: handles}); err != nil {
			e.releaseHandles(handles)
			return nil, err
		}
		_ = e.send(cmdResync{key: key})
	}

	return &View{engine: e, key: key}, nil
}

// closeView runs the close round trip. After Stop it is a no-op: the
// subscriptions die with the engine.
func (e *Engine) closeView(key domain.ContentKey) {
	replyCh := make(chan struct{}, 1)
	_, _ = request(e, cmdCloseView{key: key, replyCh: replyCh}, replyCh)
}

// subscribeTopics opens the three push channels for a content item: like
// membership, the comment stream, and the denormalized counter columns.
func (e *Engine) subscribeTopics(ctx context.Context, key domain.ContentKey) ([]*realtime.Handle, error) {
	tables := []domain.Table{domain.TableLikes, domain.TableComments, domain.TableContent}
	onEvent := func(ch domain.Change) { _ = e.send(cmdChange{change: ch}) }

	policy := retry.Policy{MaxAttempts: 3, InitialBackoff: 200 * time.Millisecond}

	handles := make([]*realtime.Handle, 0, len(tables))
	for _, table := range tables {
		topic := domain.Topic{Table: table, Key: key}
		h, err := retry.Do(ctx, policy, func(error) retry.Action { return retry.Retry }, func() (*realtime.Handle, error) {
			return e.registry.Subscribe(ctx, topic, onEvent)
		})
		if err != nil {
			e.releaseHandles(handles)
			return nil, fmt.Errorf("subscribe %s: %w", topic.String(), err)
		}
		handles = append(handles, h)
	}
	return handles, nil
}

// SetLike drives the viewer's like relationship toward desired, applying
// the optimistic flip immediately and debouncing the durable write.
func (e *Engine) SetLike(key domain.ContentKey, desired bool, seq uint64) (domain.InteractionSnapshot, error) {
	replyCh := make(chan mutateResult, 1)
	res, err := request(e, cmdSetLike{key: key, desired: desired, seq: seq, replyCh: replyCh}, replyCh)
	if err != nil {
		return domain.InteractionSnapshot{}, err
	}
	return res.snap, res.err
}

// ToggleLike flips the viewer's like relationship.
func (e *Engine) ToggleLike(key domain.ContentKey, seq uint64) (domain.InteractionSnapshot, error) {
	snap, err := e.Snapshot(key)
	if err != nil {
		return snap, err
	}
	return e.SetLike(key, !snap.IsLikedByViewer, seq)
}

// AddComment optimistically increments the comment counter and writes the
// comment row.
func (e *Engine) AddComment(key domain.ContentKey, body string, seq uint64) (domain.InteractionSnapshot, error) {
	replyCh := make(chan mutateResult, 1)
	res, err := request(e, cmdAddComment{key: key, body: body, seq: seq, replyCh: replyCh}, replyCh)
	if err != nil {
		return domain.InteractionSnapshot{}, err
	}
	return res.snap, res.err
}

// RecordShare optimistically increments the share counter and writes the
// share row.
func (e *Engine) RecordShare(key domain.ContentKey, seq uint64) (domain.InteractionSnapshot, error) {
	replyCh := make(chan mutateResult, 1)
	res, err := request(e, cmdRecordShare{key: key, seq: seq, replyCh: replyCh}, replyCh)
	if err != nil {
		return domain.InteractionSnapshot{}, err
	}
	return res.snap, res.err
}

// Snapshot returns the current immutable state for an open content view.
func (e *Engine) Snapshot(key domain.ContentKey) (domain.InteractionSnapshot, error) {
	replyCh := make(chan mutateResult, 1)
	res, err := request(e, cmdSnapshot{key: key, replyCh: replyCh}, replyCh)
	if err != nil {
		return domain.InteractionSnapshot{}, err
	}
	return res.snap, res.err
}

// Resync schedules a fresh authoritative fetch for an open content view.
func (e *Engine) Resync(key domain.ContentKey) {
	_ = e.send(cmdResync{key: key})
}
