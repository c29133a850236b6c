// Package realtime owns the lifecycle of push-channel subscriptions: one
// active handle per topic, idempotent unsubscribe, no leaked listeners on
// repeated mount/remount of the same content view.
package realtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/pulsegram/pulsegram/internal/domain"
	"github.com/pulsegram/pulsegram/internal/metrics"
)

const broadcastPrefix = "broadcast/"

// Handle is one active subscription owned by the registry.
type Handle struct {
	key   string
	inner domain.TransportHandle

	// closed is guarded by the owning registry's mutex.
	closed bool
}

// Topic returns the registry key this handle is subscribed under.
func (h *Handle) Topic() string {
	return h.key
}

// Registry tracks active subscriptions over a Transport. Subscribing to a
// topic that already has an active handle first unsubscribes the old one,
// so remounting a content view can never accumulate duplicate listeners.
// The registry never auto-expires or auto-resubscribes handles; every
// Subscribe is paired with exactly one Unsubscribe by the owner.
type Registry struct {
	transport domain.Transport

	mu     sync.Mutex
	active map[string]*Handle
}

func New(transport domain.Transport) *Registry {
	return &Registry{
		transport: transport,
		active:    make(map[string]*Handle),
	}
}

// Subscribe opens a push channel for a row-change topic.
func (r *Registry) Subscribe(ctx context.Context, topic domain.Topic, onEvent func(domain.Change)) (*Handle, error) {
	return r.subscribe(topic.String(), func() (domain.TransportHandle, error) {
		return r.transport.Subscribe(ctx, topic, onEvent)
	})
}

// SubscribeBroadcast opens an ephemeral broadcast channel. Broadcast
// payloads are display-only signals and never reach the reconciler.
func (r *Registry) SubscribeBroadcast(ctx context.Context, channel string, onPayload func([]byte)) (*Handle, error) {
	return r.subscribe(broadcastPrefix+channel, func() (domain.TransportHandle, error) {
		return r.transport.OnBroadcast(ctx, channel, onPayload)
	})
}

func (r *Registry) subscribe(key string, open func() (domain.TransportHandle, error)) (*Handle, error) {
	// Displace any active handle for this topic before opening the new
	// channel, so there is never a moment with two live listeners.
	r.mu.Lock()
	old := r.active[key]
	if old != nil {
		old.closed = true
		delete(r.active, key)
	}
	r.mu.Unlock()

	if old != nil {
		metrics.SubscriptionReplacements.Inc()
		metrics.SubscriptionsActive.Dec()
		if err := old.inner.Unsubscribe(); err != nil {
			return nil, fmt.Errorf("unsubscribe displaced handle for %s: %w", key, err)
		}
	}

	inner, err := open()
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", key, err)
	}

	h := &Handle{key: key, inner: inner}
	r.mu.Lock()
	r.active[key] = h
	r.mu.Unlock()
	metrics.SubscriptionsActive.Inc()
	return h, nil
}

// Unsubscribe tears down a handle. Idempotent: closing an already-closed
// or displaced handle is a no-op.
func (r *Registry) Unsubscribe(h *Handle) error {
	if h == nil {
		return nil
	}

	r.mu.Lock()
	if h.closed {
		r.mu.Unlock()
		return nil
	}
	h.closed = true
	if r.active[h.key] == h {
		delete(r.active, h.key)
	}
	r.mu.Unlock()

	metrics.SubscriptionsActive.Dec()
	if err := h.inner.Unsubscribe(); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", h.key, err)
	}
	return nil
}

// Broadcast publishes an ephemeral payload through the transport.
func (r *Registry) Broadcast(ctx context.Context, channel string, payload []byte) error {
	return r.transport.Broadcast(ctx, channel, payload)
}

// ActiveCount returns the number of live handles, for tests and
// diagnostics.
func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}
