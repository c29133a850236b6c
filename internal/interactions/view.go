package interactions

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/pulsegram/pulsegram/internal/domain"
	"github.com/pulsegram/pulsegram/internal/realtime"
)

// View is one mounted content view. It owns the lifetime of the item's
// push subscriptions: every OpenView is paired with exactly one Close, and
// after Close no result of a still-in-flight write touches shared state
// for an unmounted view.
type View struct {
	engine *Engine
	key    domain.ContentKey

	closeOnce sync.Once
	closed    atomic.Bool

	typingMu     sync.Mutex
	typingHandle *realtime.Handle
}

// Key returns the content item this view displays.
func (v *View) Key() domain.ContentKey {
	return v.key
}

// Snapshot returns the current state for rendering.
func (v *View) Snapshot() (domain.InteractionSnapshot, error) {
	if v.closed.Load() {
		return domain.InteractionSnapshot{}, domain.ErrViewClosed
	}
	return v.engine.Snapshot(v.key)
}

// ToggleLike flips the viewer's like relationship for this content item.
func (v *View) ToggleLike(seq uint64) (domain.InteractionSnapshot, error) {
	if v.closed.Load() {
		return domain.InteractionSnapshot{}, domain.ErrViewClosed
	}
	return v.engine.ToggleLike(v.key, seq)
}

// SetLike drives the like relationship toward a desired value.
func (v *View) SetLike(desired bool, seq uint64) (domain.InteractionSnapshot, error) {
	if v.closed.Load() {
		return domain.InteractionSnapshot{}, domain.ErrViewClosed
	}
	return v.engine.SetLike(v.key, desired, seq)
}

// AddComment posts a comment optimistically.
func (v *View) AddComment(body string, seq uint64) (domain.InteractionSnapshot, error) {
	if v.closed.Load() {
		return domain.InteractionSnapshot{}, domain.ErrViewClosed
	}
	return v.engine.AddComment(v.key, body, seq)
}

// RecordShare records a share optimistically.
func (v *View) RecordShare(seq uint64) (domain.InteractionSnapshot, error) {
	if v.closed.Load() {
		return domain.InteractionSnapshot{}, domain.ErrViewClosed
	}
	return v.engine.RecordShare(v.key, seq)
}

// typingSignal is the ephemeral, display-only payload on the typing
// channel. It is never folded into counters.
type typingSignal struct {
	ActorID string `json:"actor_id"`
}

func typingChannel(key domain.ContentKey) string {
	return "typing:" + key.String()
}

// OnTyping subscribes to the ephemeral typing channel for this content
// item. The handler receives the actor id of each typing peer; signals
// from this viewer are filtered out.
func (v *View) OnTyping(ctx context.Context, fn func(actorID string)) error {
	if v.closed.Load() {
		return domain.ErrViewClosed
	}

	handle, err := v.engine.registry.SubscribeBroadcast(ctx, typingChannel(v.key), func(payload []byte) {
		var sig typingSignal
		if err := json.Unmarshal(payload, &sig); err != nil {
			slog.Debug("Discarding malformed typing signal", "content", v.key)
			return
		}
		if sig.ActorID == v.engine.viewerID {
			return
		}
		fn(sig.ActorID)
	})
	if err != nil {
		return fmt.Errorf("subscribe typing channel: %w", err)
	}

	v.typingMu.Lock()
	old := v.typingHandle
	v.typingHandle = handle
	v.typingMu.Unlock()
	if old != nil {
		_ = v.engine.registry.Unsubscribe(old)
	}
	return nil
}

// SendTyping broadcasts an ephemeral typing signal for this viewer.
func (v *View) SendTyping(ctx context.Context) error {
	if v.closed.Load() {
		return domain.ErrViewClosed
	}
	payload, err := json.Marshal(typingSignal{ActorID: v.engine.viewerID})
	if err != nil {
		return fmt.Errorf("marshal typing signal: %w", err)
	}
	return v.engine.registry.Broadcast(ctx, typingChannel(v.key), payload)
}

// Close releases the view. Idempotent; the last close of a content item
// tears down its subscriptions and discards the derived state.
func (v *View) Close() {
	v.closeOnce.Do(func() {
		v.closed.Store(true)

		v.typingMu.Lock()
		typing := v.typingHandle
		v.typingHandle = nil
		v.typingMu.Unlock()
		if typing != nil {
			_ = v.engine.registry.Unsubscribe(typing)
		}

		v.engine.closeView(v.key)
	})
}
