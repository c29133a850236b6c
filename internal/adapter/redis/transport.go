package redis

import (
	"context"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"
	"github.com/pulsegram/pulsegram/internal/domain"
	"github.com/pulsegram/pulsegram/internal/metrics"
)

func changeChannel(topic domain.Topic) string {
	return "changes:" + topic.String()
}

func broadcastChannel(name string) string {
	return "broadcast:" + name
}

// Transport delivers row-change push events and ephemeral broadcasts over
// Redis Pub/Sub. Pub/Sub gives at-least-once-at-best semantics with no
// replay, which is exactly the delivery model callers are built for.
type Transport struct {
	rdb *goredis.Client
}

var _ domain.Transport = (*Transport)(nil)

func NewTransport(client *Client) *Transport {
	return &Transport{rdb: client.rdb}
}

// Subscribe opens the change channel for one topic. Malformed payloads
// are dropped here; subscribers only ever see decodable changes.
func (t *Transport) Subscribe(ctx context.Context, topic domain.Topic, onEvent func(domain.Change)) (domain.TransportHandle, error) {
	return t.open(ctx, changeChannel(topic), func(payload []byte) {
		ch, err := decodeChange(payload)
		if err != nil {
			metrics.MalformedEvents.Inc()
			slog.Debug("Discarding undecodable push payload", "topic", topic.String(), "error", err)
			return
		}
		onEvent(ch)
	})
}

// Broadcast publishes an ephemeral payload. Nothing delivered this way is
// ever folded into counters.
func (t *Transport) Broadcast(ctx context.Context, channel string, payload []byte) error {
	if err := t.rdb.Publish(ctx, broadcastChannel(channel), payload).Err(); err != nil {
		return fmt.Errorf("publish broadcast %s: %w", channel, err)
	}
	return nil
}

// OnBroadcast subscribes to an ephemeral channel.
func (t *Transport) OnBroadcast(ctx context.Context, channel string, onPayload func([]byte)) (domain.TransportHandle, error) {
	return t.open(ctx, broadcastChannel(channel), onPayload)
}

func (t *Transport) open(ctx context.Context, channel string, onPayload func([]byte)) (domain.TransportHandle, error) {
	sub := t.rdb.Subscribe(ctx, channel)

	// Force the subscription handshake so a dead Redis surfaces here
	// instead of as a silently empty channel.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}

	go func() {
		for msg := range sub.Channel() {
			onPayload([]byte(msg.Payload))
		}
	}()

	return &subscription{sub: sub}, nil
}

// PublishChange broadcasts one row change to the topic channel for its
// content item.
func (t *Transport) PublishChange(ctx context.Context, ch domain.Change) error {
	payload, err := encodeChange(ch)
	if err != nil {
		return fmt.Errorf("encode change: %w", err)
	}
	topic := domain.Topic{Table: ch.Table, Key: ch.Key()}
	if err := t.rdb.Publish(ctx, changeChannel(topic), payload).Err(); err != nil {
		return fmt.Errorf("publish change %s: %w", topic.String(), err)
	}
	return nil
}

type subscription struct {
	sub *goredis.PubSub
}

// Unsubscribe closes the underlying Pub/Sub connection; the reader
// goroutine exits when its channel drains.
func (s *subscription) Unsubscribe() error {
	return s.sub.Close()
}
